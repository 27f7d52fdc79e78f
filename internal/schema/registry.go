package schema

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is an immutable snapshot of all loaded source configurations.
type Registry struct {
	sources map[string]*Source
	names   []string
}

// LoadDir reads every *.yaml document in dir, one source per file, named
// after the file stem. Non-YAML files are skipped with a log line.
func LoadDir(dir string, logger *slog.Logger) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read sources dir: %w", err)
	}

	r := &Registry{sources: make(map[string]*Source)}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".yaml") {
			logger.Warn("skipped config file", slog.String("file", entry.Name()))
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		src, err := loadFile(filepath.Join(dir, entry.Name()), name)
		if err != nil {
			return nil, err
		}
		r.sources[name] = src
		r.names = append(r.names, name)
		logger.Info("loaded source", slog.String("source", name))
	}

	sort.Strings(r.names)
	return r, nil
}

func loadFile(path, name string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("schema: validate %s: %w", path, err)
	}

	src, err := doc.compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", path, err)
	}
	return src, nil
}

// Get returns the configuration for a source name.
func (r *Registry) Get(name string) (*Source, bool) {
	src, ok := r.sources[name]
	return src, ok
}

// Names returns all loaded source names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of loaded sources.
func (r *Registry) Len() int {
	return len(r.sources)
}
