package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/errs"
	"go.uber.org/zap"
)

// RuleSet applies an ordered table of rules to text. It is immutable after
// construction and safe for concurrent use.
type RuleSet struct {
	rules     []Rule
	stopwords map[string]struct{}
	logger    *zap.Logger
}

// NewRuleSet creates a rule set from an explicit, ordered rule table.
func NewRuleSet(rules []Rule, stopwords []string, logger *zap.Logger) *RuleSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	rs := &RuleSet{
		rules:     append([]Rule(nil), rules...),
		stopwords: make(map[string]struct{}, len(stopwords)),
		logger:    logger,
	}
	for _, w := range stopwords {
		rs.stopwords[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return rs
}

// Default returns the built-in Danish rule set with the default stoplist.
func Default() *RuleSet {
	return NewRuleSet(DefaultRules(), DefaultStopwords, nil)
}

// New builds a rule set from configuration: the default table minus disabled
// rules, with custom rules spliced in and extra stopwords appended.
func New(cfg config.PatternsConfig, log *zap.Logger) (*RuleSet, error) {
	if log == nil {
		log = zap.NewNop()
	}

	rules, err := configureRules(DefaultRules(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure rules: %w", err)
	}

	stopwords := append(append([]string(nil), DefaultStopwords...), cfg.Stopwords...)
	rs := NewRuleSet(rules, stopwords, log)

	log.Info("Pattern rule set initialized",
		zap.Int("total_rules", len(rs.rules)),
		zap.Strings("order", rs.IDs()),
		zap.Int("stopwords", len(rs.stopwords)),
	)

	return rs, nil
}

// configureRules removes disabled rules and inserts custom ones.
func configureRules(rules []Rule, cfg config.PatternsConfig) ([]Rule, error) {
	known := make(map[string]bool, len(rules))
	for _, r := range rules {
		known[r.ID] = true
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, id := range cfg.Disabled {
		if !known[id] {
			return nil, fmt.Errorf("unknown rule: %s", id)
		}
		disabled[id] = true
	}

	kept := make([]Rule, 0, len(rules)+len(cfg.Custom))
	for _, r := range rules {
		if !disabled[r.ID] {
			kept = append(kept, r)
		}
	}

	for _, c := range cfg.Custom {
		if c.ID == "" || c.Replacement == "" {
			return nil, fmt.Errorf("%w: custom rule needs id and replacement", errs.ErrPatternApplication)
		}
		if known[c.ID] {
			return nil, fmt.Errorf("%w: custom rule %q shadows a built-in rule", errs.ErrPatternApplication, c.ID)
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: custom rule %q: %v", errs.ErrPatternApplication, c.ID, err)
		}
		rule := Rule{ID: c.ID, Pattern: re, Replacement: c.Replacement}

		pos := len(kept)
		if c.Before != "" {
			pos = -1
			for i, r := range kept {
				if r.ID == c.Before {
					pos = i
					break
				}
			}
			if pos < 0 {
				return nil, fmt.Errorf("custom rule %q: unknown anchor rule %q", c.ID, c.Before)
			}
		}
		kept = append(kept[:pos], append([]Rule{rule}, kept[pos:]...)...)
		known[c.ID] = true
	}

	return kept, nil
}

// Apply replaces every match of every rule, in table order, with the rule's
// token. Each rule sees the output of the rules before it.
func (rs *RuleSet) Apply(text string) (string, error) {
	result, err := rs.Process(text)
	if err != nil {
		return "", err
	}
	return result.MaskedText, nil
}

// Process is Apply that also reports how many replacements each rule made.
func (rs *RuleSet) Process(text string) (ProcessResult, error) {
	masked := text
	findings := make([]Finding, 0)

	for i, rule := range rs.rules {
		if err := rule.validate(); err != nil {
			return ProcessResult{}, fmt.Errorf("%w: rule %d (%s): %v", errs.ErrPatternApplication, i, rule.ID, err)
		}

		var count int
		masked, count = rs.replace(rule, masked)

		if count > 0 {
			findings = append(findings, Finding{
				Category: rule.ID,
				Token:    rule.Replacement,
				Count:    count,
			})

			rs.logger.Debug("PII masked",
				zap.String("entity_type", rule.ID),
				zap.Int("count", count),
				zap.String("replacement", rule.Replacement),
			)
		}
	}

	return ProcessResult{MaskedText: masked, Findings: findings}, nil
}

// Detect reports, in table order, the categories with at least one match in
// text. It runs every matcher against the original text and never mutates it.
func (rs *RuleSet) Detect(text string) []string {
	detected := make([]string, 0)
	for _, rule := range rs.rules {
		if rule.validate() != nil {
			continue
		}
		if rs.hasMatch(rule, text) {
			detected = append(detected, rule.ID)
		}
	}
	return detected
}

// Contains reports whether any rule matches text.
func (rs *RuleSet) Contains(text string) bool {
	for _, rule := range rs.rules {
		if rule.validate() == nil && rs.hasMatch(rule, text) {
			return true
		}
	}
	return false
}

// IDs returns the rule ids in application order.
func (rs *RuleSet) IDs() []string {
	ids := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		ids[i] = r.ID
	}
	return ids
}

// Rules returns a copy of the rule table in application order.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// replace swaps every non-stoplisted match for the rule token. Text captured by
// groups named lead or trail stays in place.
func (rs *RuleSet) replace(rule Rule, text string) (string, int) {
	matches := rule.Pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	b.Grow(len(text))
	last, count := 0, 0
	for _, m := range matches {
		start, end := coreBounds(rule.Pattern, m)
		if rs.isStopword(text[start:end]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(rule.Replacement)
		last = end
		count++
	}
	b.WriteString(text[last:])
	return b.String(), count
}

func (rs *RuleSet) hasMatch(rule Rule, text string) bool {
	for _, m := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := coreBounds(rule.Pattern, m)
		if !rs.isStopword(text[start:end]) {
			return true
		}
	}
	return false
}

// coreBounds trims the lead and trail groups off a submatch index.
func coreBounds(re *regexp.Regexp, m []int) (int, int) {
	start, end := m[0], m[1]
	if i := re.SubexpIndex("lead"); i > 0 && m[2*i] >= 0 {
		start = m[2*i+1]
	}
	if i := re.SubexpIndex("trail"); i > 0 && m[2*i] >= 0 {
		end = m[2*i]
	}
	return start, end
}

func (rs *RuleSet) isStopword(match string) bool {
	_, ok := rs.stopwords[strings.ToLower(match)]
	return ok
}

func (r Rule) validate() error {
	if r.Pattern == nil {
		return fmt.Errorf("nil matcher")
	}
	if r.Replacement == "" {
		return fmt.Errorf("empty replacement token")
	}
	return nil
}
