// Package redact replaces entity spans with category placeholders.
package redact

import (
	"fmt"

	"github.com/raaihank/persondata/internal/entities"
)

// Placeholders by canonical label.
const (
	TokenPerson       = "[NAVN]"
	TokenLocation     = "[STED]"
	TokenOrganization = "[ORGANISATION]"
	TokenUnknown      = "[INFORMATION]"
)

// Placeholder returns the token that replaces an entity of the given label.
func Placeholder(label string) string {
	switch label {
	case entities.LabelPerson:
		return TokenPerson
	case entities.LabelLocation:
		return TokenLocation
	case entities.LabelOrganization:
		return TokenOrganization
	default:
		return TokenUnknown
	}
}

// ApplyEntities replaces every entity span in text with its placeholder.
//
// list must be ordered rightmost first without overlaps, as produced by
// entities.Normalize. Replacing from the right keeps the offsets of the
// entities still to be processed valid. A list that breaks the order, overlaps
// or points outside text is rejected and text is left untouched.
func ApplyEntities(text string, list []entities.Entity) (string, error) {
	if len(list) == 0 {
		return text, nil
	}

	limit := len(text)
	for i, e := range list {
		if e.Start < 0 || e.Start >= e.End || e.End > len(text) {
			return "", fmt.Errorf("entity %d span [%d,%d) outside text of %d bytes", i, e.Start, e.End, len(text))
		}
		if e.End > limit {
			return "", fmt.Errorf("entity %d span [%d,%d) overlaps or follows entity %d", i, e.Start, e.End, i-1)
		}
		limit = e.Start
	}

	out := text
	for _, e := range list {
		out = out[:e.Start] + Placeholder(e.Label) + out[e.End:]
	}
	return out, nil
}
