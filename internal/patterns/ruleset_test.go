package patterns

import (
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/errs"
	"go.uber.org/zap"
)

// corpus holds one input per default category together with the exact output
// of a full pass.
var corpus = []struct {
	name     string
	input    string
	expected string
}{
	{"email", "Kontakt jens@example.com", "Kontakt [EMAIL]"},
	{"email with dots", "Skriv til jens.hansen@firma.dk i dag", "Skriv til [EMAIL] i dag"},
	{"cpr", "Min CPR er 010203-1234", "Min CPR er [CPR-NUMMER]"},
	{"credit card", "Kort: 1234 5678 9012 3456", "Kort: [BETALINGSKORT]"},
	{"bank account", "Konto 1234-1234567890", "Konto [KONTONUMMER]"},
	{"cvr", "Firmaets CVR-nr. 12345678", "Firmaets [CVR-NUMMER]"},
	{"phone", "Ring til 12345678", "Ring til [TELEFONNUMMER]"},
	{"phone with country code", "Ring på +45 12 34 56 78", "Ring på [TELEFONNUMMER]"},
	{"address", "Jeg bor på Vestergade 12, 8000 Aarhus C", "Jeg bor på [ADRESSE]"},
	{"postal code", "Vi ses i 8000 Aarhus", "Vi ses i [POSTNUMMER OG BY]"},
	{"date in words", "Født 1. januar 1990", "Født [DATO]"},
	{"numeric date", "Mødet er 24.12.2023", "Mødet er [DATO]"},
	{"age", "Hun er 42 år gammel", "Hun er [ALDER]"},
	{"money", "Prisen er 1.500,00 kr.", "Prisen er [BELØB]"},
	{"pin", "Pinkode: 1234", "[PIN-KODE]"},
	{"age before punctuation", "Han er 30 år.", "Han er [ALDER]."},
	{"name", "Peter Hansen bor i København", "[NAVN] bor i København"},
	{"date then name", "12/03/2024 Jens Jensen", "[DATO] [NAVN]"},
	{"date, name and postal code", "12/03/2024 Jens Jensen 2800 Lyngby", "[DATO] [NAVN] [POSTNUMMER OG BY]"},
	{"date in words then name", "Født 1. januar 1990 Peter", "Født [DATO] Peter"},
	{"name with Ø", "Øjvind Hansen ringede", "[NAVN] ringede"},
	{"address with Ø", "Øjvind Hansen bor på Østergade 12, 2100 København Ø", "[NAVN] bor på [ADRESSE]"},
	{"names with Å and Æ", "Åse Ærø og Ida Berg", "[NAVN] og [NAVN]"},
	{"postal code with district", "Send det til 2100 København Ø", "Send det til [POSTNUMMER OG BY]"},
	{"nothing to redact", "det regner i dag", "det regner i dag"},
}

func TestApply(t *testing.T) {
	rs := Default()

	for _, tt := range corpus {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rs.Apply(tt.input)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Apply(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestApplyIsFixedPoint(t *testing.T) {
	rs := Default()

	for _, tt := range corpus {
		once, err := rs.Apply(tt.input)
		if err != nil {
			t.Fatalf("first pass: %v", err)
		}
		twice, err := rs.Apply(once)
		if err != nil {
			t.Fatalf("second pass: %v", err)
		}
		if once != twice {
			t.Errorf("second pass changed %q into %q", once, twice)
		}
	}

	// no token may satisfy any matcher
	for _, rule := range DefaultRules() {
		for _, other := range DefaultRules() {
			if other.Pattern.MatchString(rule.Replacement) {
				t.Errorf("token %s of %s matches rule %s", rule.Replacement, rule.ID, other.ID)
			}
		}
	}
}

func TestRuleOrder(t *testing.T) {
	want := []string{
		CategoryEmail, CategoryCPR, CategoryCreditCard, CategoryBankAccount,
		CategoryCVR, CategoryPhone, CategoryAddress, CategoryDate,
		CategoryAge, CategoryMoney, CategoryPostalCode, CategoryPIN, CategoryName,
	}
	if got := Default().IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("rule order = %v, want %v", got, want)
	}

	t.Run("card before phone", func(t *testing.T) {
		res, err := Default().Process("1234 5678 9012 3456")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(res.Categories(), []string{CategoryCreditCard}) {
			t.Errorf("categories = %v", res.Categories())
		}
	})

	t.Run("date before postal code", func(t *testing.T) {
		res, err := Default().Process("12/03/2024 Jens")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(res.Categories(), []string{CategoryDate}) {
			t.Errorf("categories = %v, masked = %q", res.Categories(), res.MaskedText)
		}
	})

	t.Run("later rules see earlier output", func(t *testing.T) {
		// the phone rule alone splits a card number into two phone numbers
		phoneOnly := NewRuleSet(DefaultRules()[5:6], nil, nil)
		got, err := phoneOnly.Apply("1234 5678 9012 3456")
		if err != nil {
			t.Fatal(err)
		}
		if got != "[TELEFONNUMMER] [TELEFONNUMMER]" {
			t.Errorf("got %q", got)
		}
	})
}

func TestProcessFindings(t *testing.T) {
	res, err := Default().Process("Ring til 12345678 eller 87654321, eller skriv til jens@example.com")
	if err != nil {
		t.Fatal(err)
	}

	want := []Finding{
		{Category: CategoryEmail, Token: "[EMAIL]", Count: 1},
		{Category: CategoryPhone, Token: "[TELEFONNUMMER]", Count: 2},
	}
	if !reflect.DeepEqual(res.Findings, want) {
		t.Errorf("findings = %+v, want %+v", res.Findings, want)
	}
	if res.MaskedText != "Ring til [TELEFONNUMMER] eller [TELEFONNUMMER], eller skriv til [EMAIL]" {
		t.Errorf("masked = %q", res.MaskedText)
	}
}

func TestDetect(t *testing.T) {
	rs := Default()

	t.Run("empty", func(t *testing.T) {
		if got := rs.Detect(""); len(got) != 0 {
			t.Errorf("Detect(\"\") = %v", got)
		}
	})

	t.Run("email and phone", func(t *testing.T) {
		got := rs.Detect("Ring til 12345678 eller skriv til jens@example.com")
		want := []string{CategoryEmail, CategoryPhone}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Detect = %v, want %v", got, want)
		}
	})

	t.Run("read only", func(t *testing.T) {
		// Apply stops at the card rule; Detect sees the untouched text and
		// reports every rule that matches it.
		got := rs.Detect("1234 5678 9012 3456")
		want := []string{CategoryCreditCard, CategoryPhone, CategoryPIN}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Detect = %v, want %v", got, want)
		}
	})

	t.Run("contains", func(t *testing.T) {
		if !rs.Contains("Min CPR er 010203-1234") {
			t.Error("expected personal information")
		}
		if rs.Contains("det regner i dag") {
			t.Error("expected no personal information")
		}
	})
}

func TestStopwords(t *testing.T) {
	rs := NewRuleSet([]Rule{{
		ID:          "word",
		Pattern:     regexp.MustCompile(`(?i)\b[a-z]{2,3}\b`),
		Replacement: "[ORD]",
	}}, []string{"og", "Jeg"}, zap.NewNop())

	got, err := rs.Apply("Jeg og Bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Jeg og [ORD]" {
		t.Errorf("got %q", got)
	}

	if detected := rs.Detect("JEG OG"); len(detected) != 0 {
		t.Errorf("stopwords should not be detected, got %v", detected)
	}
}

func TestWordBoundaries(t *testing.T) {
	rs := Default()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no match inside a word", "xØjvind Hansen", "xØjvind Hansen"},
		{"lead character kept", "(Åse Ærø)", "([NAVN])"},
		{"adjacent names", "Ida Berg,Åse Ærø", "[NAVN],[NAVN]"},
		{"trailing character kept", "30 år, 40 år", "[ALDER], [ALDER]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rs.Apply(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.expected {
				t.Errorf("Apply(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	if got := rs.Detect("Åse Ærø"); !reflect.DeepEqual(got, []string{CategoryName}) {
		t.Errorf("Detect = %v", got)
	}
}

func TestDefaultStopwordsGuardCustomRules(t *testing.T) {
	rs, err := New(config.PatternsConfig{Custom: []config.CustomRule{{
		ID:          "capitalized",
		Pattern:     `\b[A-Z][a-z]+\b`,
		Replacement: "[ORD]",
	}}}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	got, err := rs.Apply("Hej, Bob. Med venlig hilsen")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hej, [ORD]. Med venlig hilsen" {
		t.Errorf("got %q", got)
	}

	// the default table never matches a lone stopword; a capitalized run is a name
	got, _ = Default().Apply("Hej Med Dig")
	if got != "[NAVN]" {
		t.Errorf("got %q", got)
	}
}

func TestMalformedRule(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"nil matcher", Rule{ID: "broken", Replacement: "[X]"}},
		{"empty token", Rule{ID: "broken", Pattern: regexp.MustCompile(`x`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := NewRuleSet([]Rule{tt.rule}, nil, nil)
			_, err := rs.Apply("x")
			if !errors.Is(err, errs.ErrPatternApplication) {
				t.Errorf("expected ErrPatternApplication, got %v", err)
			}
			// detection skips the broken rule instead of failing
			if got := rs.Detect("x"); len(got) != 0 {
				t.Errorf("Detect = %v", got)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	logger := zap.NewNop()

	t.Run("defaults", func(t *testing.T) {
		rs, err := New(config.PatternsConfig{}, logger)
		if err != nil {
			t.Fatal(err)
		}
		if rs.Len() != len(DefaultRules()) {
			t.Errorf("Len = %d", rs.Len())
		}
	})

	t.Run("disabled rule", func(t *testing.T) {
		rs, err := New(config.PatternsConfig{Disabled: []string{CategoryPIN}}, logger)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := rs.Apply("Pinkode: 1234")
		if got != "Pinkode: 1234" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("custom rule before phone", func(t *testing.T) {
		rs, err := New(config.PatternsConfig{Custom: []config.CustomRule{{
			ID:          "licensePlate",
			Pattern:     `\b[A-Z]{2} ?\d{2} ?\d{3}\b`,
			Replacement: "[NUMMERPLADE]",
			Before:      CategoryPhone,
		}}}, logger)
		if err != nil {
			t.Fatal(err)
		}

		ids := rs.IDs()
		if ids[5] != "licensePlate" || ids[6] != CategoryPhone {
			t.Errorf("order = %v", ids)
		}

		got, _ := rs.Apply("Bilen har nummerplade AB 12 345")
		if got != "Bilen har nummerplade [NUMMERPLADE]" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("extra stopwords", func(t *testing.T) {
		rs, err := New(config.PatternsConfig{Stopwords: []string{"Hans Christian"}}, logger)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := rs.Apply("Hans Christian")
		if got != "Hans Christian" {
			t.Errorf("got %q", got)
		}
	})

	errCases := []struct {
		name    string
		cfg     config.PatternsConfig
		pattern bool
	}{
		{"unknown disabled rule", config.PatternsConfig{Disabled: []string{"nope"}}, false},
		{"unknown anchor", config.PatternsConfig{Custom: []config.CustomRule{{ID: "a", Pattern: "a", Replacement: "[A]", Before: "nope"}}}, false},
		{"shadows built-in", config.PatternsConfig{Custom: []config.CustomRule{{ID: CategoryEmail, Pattern: "a", Replacement: "[A]"}}}, true},
		{"invalid regex", config.PatternsConfig{Custom: []config.CustomRule{{ID: "a", Pattern: "(", Replacement: "[A]"}}}, true},
		{"missing token", config.PatternsConfig{Custom: []config.CustomRule{{ID: "a", Pattern: "a"}}}, true},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, logger)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.pattern != errors.Is(err, errs.ErrPatternApplication) {
				t.Errorf("errors.Is(ErrPatternApplication) = %v for %v", !tt.pattern, err)
			}
		})
	}
}

func TestDisplayLabel(t *testing.T) {
	if got := DisplayLabel(CategoryCPR); got != "CPR-nummer" {
		t.Errorf("got %q", got)
	}
	if got := DisplayLabel("person"); got != "Person" {
		t.Errorf("got %q", got)
	}
	if got := DisplayLabel("MISC"); got != "MISC" {
		t.Errorf("unknown categories pass through, got %q", got)
	}

	labels := DisplayLabels()
	labels[CategoryCPR] = "changed"
	if DisplayLabel(CategoryCPR) != "CPR-nummer" {
		t.Error("DisplayLabels must return a copy")
	}
}
