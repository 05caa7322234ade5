package patterns

import "regexp"

// Rule is a single labeled matcher and the token that replaces its matches.
type Rule struct {
	ID          string
	Pattern     *regexp.Regexp
	Replacement string
}

// Finding summarizes the matches one rule produced during a pass.
type Finding struct {
	Category string `json:"category"`
	Token    string `json:"token"`
	Count    int    `json:"count"`
}

// ProcessResult contains the result of running text through the rule set
type ProcessResult struct {
	MaskedText string    `json:"maskedText"`
	Findings   []Finding `json:"findings"`
}

// Categories reports the rule ids that produced at least one replacement, in table order.
func (r ProcessResult) Categories() []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Category)
	}
	return out
}
