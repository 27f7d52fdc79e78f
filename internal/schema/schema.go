// Package schema holds the per-source declarative configuration: the field
// descriptors a source accepts, its submission policy, and the view
// specification used for aggregation. Documents are loaded once at startup
// and compiled into strongly typed descriptors; the registry is immutable
// for the process lifetime (changing a document requires a restart).
package schema

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// FieldType enumerates the accepted submitted value types.
type FieldType int

const (
	FieldString FieldType = iota
	FieldBoolean
	FieldInteger
)

// String returns the configuration spelling of the type.
func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldBoolean:
		return "boolean"
	case FieldInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// ItemType enumerates the view item kinds.
type ItemType int

const (
	ItemBreakdown ItemType = iota
	ItemSummary
)

// String returns the configuration spelling of the item type.
func (t ItemType) String() string {
	if t == ItemSummary {
		return "summary"
	}
	return "breakdown"
}

// TransformKind enumerates the value-rewriting step kinds.
type TransformKind int

const (
	TransformMap TransformKind = iota
	TransformRegex
)

// Field is one compiled field descriptor.
type Field struct {
	Name      string
	Type      FieldType
	Optional  bool
	NullValue *string
	AllowOnly []string
}

// Allowed reports whether v passes the allow_only restriction.
// An empty restriction allows everything.
func (f *Field) Allowed(v string) bool {
	if len(f.AllowOnly) == 0 {
		return true
	}
	for _, a := range f.AllowOnly {
		if a == v {
			return true
		}
	}
	return false
}

// Transform is one compiled value-rewriting step.
type Transform struct {
	Kind    TransformKind
	Map     map[string]string
	Pattern *regexp.Regexp
}

// Item is one compiled view entry: a breakdown or summary over a field.
type Item struct {
	Field      string
	Title      string
	Type       ItemType
	Transforms []Transform
	Limit      int // 0 means unlimited
}

// Source is the compiled configuration for one source name.
type Source struct {
	Name             string
	Fields           []Field
	FrequencyMinutes int
	ExpireMinutes    int
	Title            string
	Items            []Item
}

// raw YAML document shapes, validated before compilation.

type document struct {
	Input inputSection `yaml:"input"`
	Show  showSection  `yaml:"show"`
}

type inputSection struct {
	Fields           []fieldSpec `yaml:"fields"`
	FrequencyMinutes int         `yaml:"frequency_minutes"`
	ExpireMinutes    int         `yaml:"expire_minutes"`
}

type fieldSpec struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Optional  bool     `yaml:"optional"`
	NullValue *string  `yaml:"null_value"`
	AllowOnly []string `yaml:"allow_only"`
}

type showSection struct {
	Title string     `yaml:"title"`
	Items []itemSpec `yaml:"items"`
}

type itemSpec struct {
	Field     string          `yaml:"field"`
	Title     string          `yaml:"title"`
	Type      string          `yaml:"type"`
	Transform []transformSpec `yaml:"transform"`
	Limit     int             `yaml:"limit"`
}

type transformSpec struct {
	Type    string            `yaml:"type"`
	Map     map[string]string `yaml:"map"`
	Pattern string            `yaml:"pattern"`
}

func (d *document) Validate() error {
	if err := d.Input.Validate(); err != nil {
		return err
	}
	return d.Show.Validate()
}

func (s *inputSection) Validate() error {
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Fields, validation.Required),
		validation.Field(&s.FrequencyMinutes, validation.Required, validation.Min(1)),
		validation.Field(&s.ExpireMinutes, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	for i := range s.Fields {
		if err := s.Fields[i].Validate(); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

func (f *fieldSpec) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Type, validation.Required, validation.In("string", "boolean", "integer")),
	)
}

func (s *showSection) Validate() error {
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Title, validation.Required),
	); err != nil {
		return err
	}
	for i := range s.Items {
		if err := s.Items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (it *itemSpec) Validate() error {
	if err := validation.ValidateStruct(it,
		validation.Field(&it.Field, validation.Required),
		validation.Field(&it.Title, validation.Required),
		validation.Field(&it.Type, validation.In("", "breakdown", "summary")),
		validation.Field(&it.Limit, validation.Min(0)),
	); err != nil {
		return err
	}
	for i := range it.Transform {
		if err := it.Transform[i].Validate(); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return nil
}

func (t *transformSpec) Validate() error {
	if err := validation.ValidateStruct(t,
		validation.Field(&t.Type, validation.Required, validation.In("map", "regex")),
	); err != nil {
		return err
	}
	switch t.Type {
	case "map":
		if len(t.Map) == 0 {
			return fmt.Errorf("map transform requires a non-empty map")
		}
	case "regex":
		if t.Pattern == "" {
			return fmt.Errorf("regex transform requires a pattern")
		}
	}
	return nil
}

// compile resolves the validated document into typed descriptors. Regex
// patterns are compiled here so configuration errors never reach the
// request path.
func (d *document) compile(name string) (*Source, error) {
	src := &Source{
		Name:             name,
		FrequencyMinutes: d.Input.FrequencyMinutes,
		ExpireMinutes:    d.Input.ExpireMinutes,
		Title:            d.Show.Title,
	}

	for _, f := range d.Input.Fields {
		var ft FieldType
		switch f.Type {
		case "string":
			ft = FieldString
		case "boolean":
			ft = FieldBoolean
		case "integer":
			ft = FieldInteger
		default:
			return nil, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		src.Fields = append(src.Fields, Field{
			Name:      f.Name,
			Type:      ft,
			Optional:  f.Optional,
			NullValue: f.NullValue,
			AllowOnly: f.AllowOnly,
		})
	}

	for _, it := range d.Show.Items {
		item := Item{
			Field: it.Field,
			Title: it.Title,
			Limit: it.Limit,
		}
		switch it.Type {
		case "", "breakdown":
			item.Type = ItemBreakdown
		case "summary":
			item.Type = ItemSummary
		default:
			return nil, fmt.Errorf("item %q: unknown type %q", it.Title, it.Type)
		}
		for _, tr := range it.Transform {
			switch tr.Type {
			case "map":
				item.Transforms = append(item.Transforms, Transform{Kind: TransformMap, Map: tr.Map})
			case "regex":
				re, err := regexp.Compile(tr.Pattern)
				if err != nil {
					return nil, fmt.Errorf("item %q: compile pattern %q: %w", it.Title, tr.Pattern, err)
				}
				item.Transforms = append(item.Transforms, Transform{Kind: TransformRegex, Pattern: re})
			default:
				return nil, fmt.Errorf("item %q: unknown transform type %q", it.Title, tr.Type)
			}
		}
		src.Items = append(src.Items, item)
	}

	return src, nil
}
