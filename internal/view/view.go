// Package view computes aggregated breakdowns and summaries over the
// latest-value store, in a shape suitable for template rendering or JSON
// serialization.
package view

import (
	"fmt"
	"math"
	"sort"

	"github.com/Derkades/metrics/internal/apperr"
	"github.com/Derkades/metrics/internal/schema"
	"github.com/Derkades/metrics/internal/store"
)

// barColors are the distribution bar segment colors, cycled by rank.
// Entries outside the first seven, or at 1.5% and below, share the
// indistinct "other" color.
var barColors = []string{"4f90c9", "fad98c", "ed6484", "7ef2d4", "ba7ef2", "e09472", "e079ad"}

const barOtherColor = "777"

// Value is one entry of a breakdown distribution.
type Value struct {
	Value      string `json:"value"`
	Count      int    `json:"count"`
	Percentage string `json:"percentage"`
	Color      string `json:"color,omitempty"`
}

// Bar is one colored segment of a breakdown's proportional bar.
type Bar struct {
	Width float64 `json:"width"`
	Color string  `json:"color"`
	Index int     `json:"index"`
}

// Item is one rendered view entry.
type Item struct {
	Title         string   `json:"title"`
	Type          string   `json:"type"`
	Values        []Value  `json:"values,omitempty"`
	Bars          []Bar    `json:"bars,omitempty"`
	BarOtherColor string   `json:"bar_other_color,omitempty"`
	Skipped       *int     `json:"skipped,omitempty"`
	Sum           *float64 `json:"sum,omitempty"`
	Mean          *float64 `json:"mean,omitempty"`
}

// Result is a fully rendered source view.
type Result struct {
	Title        string `json:"title"`
	CountClients int    `json:"count_clients"`
	Items        []Item `json:"items"`
}

// Engine renders source views from the registry and store.
type Engine struct {
	registry *schema.Registry
	db       *store.DB
}

// NewEngine creates a new aggregation engine.
func NewEngine(registry *schema.Registry, db *store.DB) *Engine {
	return &Engine{registry: registry, db: db}
}

// Render computes the configured view for a source. Each item is computed
// independently; a store failure on any item fails the whole render.
func (e *Engine) Render(source string) (*Result, error) {
	src, ok := e.registry.Get(source)
	if !ok {
		return nil, apperr.ErrUnknownSource
	}

	count, err := e.db.CountClients(source)
	if err != nil {
		return nil, err
	}

	res := &Result{Title: src.Title, CountClients: count, Items: make([]Item, 0, len(src.Items))}
	for i := range src.Items {
		it := &src.Items[i]
		item, err := e.renderItem(source, it)
		if err != nil {
			return nil, fmt.Errorf("view: item %q: %w", it.Title, err)
		}
		res.Items = append(res.Items, *item)
	}
	return res, nil
}

func (e *Engine) renderItem(source string, it *schema.Item) (*Item, error) {
	out := &Item{Title: it.Title, Type: it.Type.String()}
	switch it.Type {
	case schema.ItemBreakdown:
		if err := e.renderBreakdown(source, it, out); err != nil {
			return nil, err
		}
	case schema.ItemSummary:
		if err := e.renderSummary(source, it, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) renderBreakdown(source string, it *schema.Item, out *Item) error {
	raw, err := e.db.ValueCounts(source, it.Field)
	if err != nil {
		return err
	}

	merged := mergeTransformed(raw, it.Transforms)

	out.Values = make([]Value, 0, len(merged))
	out.Bars = make([]Bar, 0)
	out.BarOtherColor = barOtherColor

	total := 0
	for _, vc := range merged {
		total += vc.Count
	}

	for i, vc := range merged {
		if it.Limit > 0 && i >= it.Limit {
			skipped := len(merged) - it.Limit
			out.Skipped = &skipped
			break
		}
		perc := float64(vc.Count) / float64(total) * 100
		v := Value{Value: vc.Value, Count: vc.Count, Percentage: fmt.Sprintf("%.1f", perc)}
		if i < len(barColors) && perc > 1.5 {
			v.Color = barColors[i]
			out.Bars = append(out.Bars, Bar{
				Width: math.Floor(perc*100) / 100,
				Color: barColors[i],
				Index: i + 1,
			})
		}
		out.Values = append(out.Values, v)
	}
	return nil
}

func (e *Engine) renderSummary(source string, it *schema.Item, out *Item) error {
	sum, mean, err := e.db.Summarize(source, it.Field)
	if err != nil {
		return err
	}
	if sum.Valid {
		out.Sum = &sum.Float64
	}
	if mean.Valid {
		out.Mean = &mean.Float64
	}
	return nil
}

// mergeTransformed runs the transform chain over each raw value, drops
// values eliminated by a regex step, merges counts for equal final values
// in first-seen order, then stable-sorts by merged count descending.
func mergeTransformed(raw []store.ValueCount, transforms []schema.Transform) []store.ValueCount {
	index := make(map[string]int, len(raw))
	merged := make([]store.ValueCount, 0, len(raw))
	for _, vc := range raw {
		value, ok := applyTransforms(vc.Value, transforms)
		if !ok {
			continue
		}
		if i, seen := index[value]; seen {
			merged[i].Count += vc.Count
		} else {
			index[value] = len(merged)
			merged = append(merged, store.ValueCount{Value: value, Count: vc.Count})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Count > merged[j].Count })
	return merged
}

// applyTransforms rewrites one value through the chain. The second return
// is false when a regex step does not match, or matches with no non-empty
// capture group; such values are excluded from the breakdown entirely.
func applyTransforms(value string, transforms []schema.Transform) (string, bool) {
	for i := range transforms {
		t := &transforms[i]
		switch t.Kind {
		case schema.TransformMap:
			if to, ok := t.Map[value]; ok {
				value = to
			}
		case schema.TransformRegex:
			m := t.Pattern.FindStringSubmatch(value)
			if m == nil {
				return "", false
			}
			found := false
			for _, group := range m[1:] {
				if group != "" {
					value = group
					found = true
					break
				}
			}
			if !found {
				return "", false
			}
		}
	}
	return value, true
}
