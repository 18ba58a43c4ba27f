package metadata

import (
	"sort"
	"strings"
)

// Result is one source's answer, tagged for merging.
type Result struct {
	Book     *Book
	Source   string
	Priority int
}

// PriorityMerger merges results field by field. Results are ordered by
// priority (lower wins) and each blank field takes the first non-empty value.
// Categories are unioned across all results.
type PriorityMerger struct{}

// NewPriorityMerger creates a new PriorityMerger.
func NewPriorityMerger() *PriorityMerger {
	return &PriorityMerger{}
}

// Merge returns nil when no result carries a book.
func (m *PriorityMerger) Merge(results []Result) *Book {
	sorted := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Book != nil {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	merged := sorted[0].Book.Clone()
	var sources []string
	categories := splitList(merged.Categories)
	for _, r := range sorted {
		sources = append(sources, r.Source)
		if r.Book != sorted[0].Book {
			merged.Fill(r.Book)
			categories = mergeStringSlices(categories, splitList(r.Book.Categories))
		}
	}
	merged.Categories = strings.Join(categories, ", ")
	merged.Source = strings.Join(sources, "+")
	return merged
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeStringSlices merges two string slices, removing case-insensitive
// duplicates and keeping first-seen order.
func mergeStringSlices(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			key := strings.ToLower(s)
			if !seen[key] {
				seen[key] = true
				result = append(result, s)
			}
		}
	}
	return result
}
