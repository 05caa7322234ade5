// Package entities turns raw NER output into a canonical, redaction-ready
// entity list.
package entities

import (
	"sort"
	"strings"

	"github.com/raaihank/persondata/internal/ner"
)

// DefaultMinScore is the confidence an entity must exceed to be kept.
const DefaultMinScore = 0.7

// Canonical labels
const (
	LabelPerson       = "person"
	LabelLocation     = "location"
	LabelOrganization = "organization"
)

// SourceNER marks entities produced by the recognizer.
const SourceNER = "ner"

// Entity is a detected span in byte offsets, End exclusive.
type Entity struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

var canonical = map[string]string{
	"PER":          LabelPerson,
	"PERSON":       LabelPerson,
	"LOC":          LabelLocation,
	"LOCATION":     LabelLocation,
	"GPE":          LabelLocation,
	"ORG":          LabelOrganization,
	"ORGANIZATION": LabelOrganization,
	"ORGANISATION": LabelOrganization,
}

// CanonicalLabel maps a model label (with or without a B-/I- prefix) to
// person, location or organization. Other labels are returned unchanged.
func CanonicalLabel(label string) string {
	upper := strings.ToUpper(strings.TrimSpace(label))
	if len(upper) > 2 && (upper[:2] == "B-" || upper[:2] == "I-") {
		upper = upper[2:]
	}
	if c, ok := canonical[upper]; ok {
		return c
	}
	return label
}

// Normalize filters, canonicalizes and orders raw entities for a text of
// textLen bytes.
//
// Entities with score <= minScore or a span outside [0, textLen] are dropped.
// Overlaps are resolved left to right: at each start the widest span wins and
// an entity that starts before the end of the last kept one is dropped, so a
// nested span loses to its container and of two partially overlapping spans
// the later one is dropped. The result is sorted by start descending, ties by
// larger end first, and no two entities overlap.
func Normalize(raw []ner.Entity, textLen int, minScore float64) []Entity {
	candidates := make([]Entity, 0, len(raw))
	for _, r := range raw {
		if r.Score <= minScore {
			continue
		}
		if r.Start < 0 || r.Start >= r.End || r.End > textLen {
			continue
		}
		candidates = append(candidates, Entity{
			Start:  r.Start,
			End:    r.End,
			Label:  CanonicalLabel(r.EntityGroup),
			Score:  r.Score,
			Source: SourceNER,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	kept := make([]Entity, 0, len(candidates))
	lastEnd := 0
	for _, e := range candidates {
		if len(kept) > 0 && e.Start < lastEnd {
			continue
		}
		kept = append(kept, e)
		lastEnd = e.End
	}

	// rightmost first
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// Labels returns the distinct labels of entities in first-seen order.
func Labels(list []Entity) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, e := range list {
		if !seen[e.Label] {
			seen[e.Label] = true
			out = append(out, e.Label)
		}
	}
	return out
}
