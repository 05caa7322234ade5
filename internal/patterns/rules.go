package patterns

import "regexp"

// Category ids produced by the default rule table.
const (
	CategoryEmail       = "email"
	CategoryCPR         = "cpr"
	CategoryCreditCard  = "creditCard"
	CategoryBankAccount = "bankAccount"
	CategoryCVR         = "cvr"
	CategoryPhone       = "phone"
	CategoryAddress     = "address"
	CategoryPostalCode  = "postalCode"
	CategoryDate        = "date"
	CategoryAge         = "age"
	CategoryMoney       = "money"
	CategoryPIN         = "pin"
	CategoryName        = "name"
)

// wordStart and wordEnd stand in for \b on letters outside ASCII. The named
// groups are kept verbatim by the rule set; only the text between them is
// replaced.
const (
	wordStart = `(?P<lead>^|[^\p{L}\p{N}_])`
	wordEnd   = `(?P<trail>$|[^\p{L}\p{N}_])`
)

// DefaultRules returns the built-in Danish rule table.
//
// The table is applied top to bottom and every rule scans the output of the rules
// above it. More specific rules come first: card and account numbers before phone
// numbers (a phone rule would eat the first eight digits of a card), prefixed CVR
// numbers before phone numbers, addresses, dates, ages and amounts before postal
// codes (a postal match would take the year of "12/03/2024 Jens"), and the
// catch-all 4-digit PIN and capitalized-name rules last. None of the replacement
// tokens can satisfy any matcher, so a second pass over the output is a no-op.
//
// RE2's \b is ASCII only and never fires next to æ, ø or å. Rules that start
// with a capital letter use a lead group instead, and words ending in a
// lowercase run need no trailing boundary because the run is greedy.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          CategoryEmail,
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Replacement: "[EMAIL]",
		},
		{
			// DDMMYY-XXXX
			ID:          CategoryCPR,
			Pattern:     regexp.MustCompile(`\b\d{6}-\d{4}\b`),
			Replacement: "[CPR-NUMMER]",
		},
		{
			ID:          CategoryCreditCard,
			Pattern:     regexp.MustCompile(`\b\d{4}(?:[\s-]?\d{4}){3}\b`),
			Replacement: "[BETALINGSKORT]",
		},
		{
			// reg.nr. + kontonummer
			ID:          CategoryBankAccount,
			Pattern:     regexp.MustCompile(`\b\d{4}[\s-]?\d{6,10}\b`),
			Replacement: "[KONTONUMMER]",
		},
		{
			// Bare 8-digit numbers are phone numbers; only prefixed ones are CVR.
			ID:          CategoryCVR,
			Pattern:     regexp.MustCompile(`\bCVR(?:-?nr\.?)?[:\s-]+\d{8}\b`),
			Replacement: "[CVR-NUMMER]",
		},
		{
			ID:          CategoryPhone,
			Pattern:     regexp.MustCompile(`(?:\+45[ ]?)?\b(?:\d{2}[ ]?\d{2}[ ]?\d{2}[ ]?\d{2}|\d{8})\b`),
			Replacement: "[TELEFONNUMMER]",
		},
		{
			// Street, number, optional floor/side, postal code and city.
			ID: CategoryAddress,
			Pattern: regexp.MustCompile(
				wordStart+`[A-ZÆØÅ][a-zæøå]+(?:[ -][A-ZÆØÅ][a-zæøå]+)*[ ]\d{1,4}[A-Za-z]?` +
					`(?:,?[ ](?:st|kl|[1-9]{1,2})\.?(?:[ ]?(?:tv|th|mf))?)?` +
					`[ ]?,[ ]?\d{4}[ ][A-ZÆØÅ][a-zæøå]*(?:[ ][A-ZÆØÅ][a-zæøå]*)*`),
			Replacement: "[ADRESSE]",
		},
		{
			ID: CategoryDate,
			Pattern: regexp.MustCompile(
				`(?i)\b\d{1,2}\.?\s*(?:januar|februar|marts|april|maj|juni|juli|august|september|oktober|november|december)\s+\d{4}\b` +
					`|\b\d{1,2}[./-]\d{1,2}[./-]\d{4}\b`),
			Replacement: "[DATO]",
		},
		{
			ID:          CategoryAge,
			Pattern:     regexp.MustCompile(`(?i)\b\d{1,3}\s*år(?:\sgammel)?` + wordEnd),
			Replacement: "[ALDER]",
		},
		{
			ID:          CategoryMoney,
			Pattern:     regexp.MustCompile(`(?i)\b\d+(?:\.\d{3})*(?:,\d{2})?\s*(?:kr\b\.?|dkk\b)`),
			Replacement: "[BELØB]",
		},
		{
			ID:          CategoryPostalCode,
			Pattern:     regexp.MustCompile(`\b\d{4}[ ]?[A-ZÆØÅ][a-zæøå]+(?:[ ][A-ZÆØÅ][a-zæøå]*)*`),
			Replacement: "[POSTNUMMER OG BY]",
		},
		{
			ID:          CategoryPIN,
			Pattern:     regexp.MustCompile(`(?i)\b(?:pinkode:?\s*)?\d{4}\b`),
			Replacement: "[PIN-KODE]",
		},
		{
			ID:          CategoryName,
			Pattern:     regexp.MustCompile(wordStart + `[A-ZÆØÅ][a-zæøå]+(?:[ ][A-ZÆØÅ][a-zæøå]+){1,2}`),
			Replacement: "[NAVN]",
		},
	}
}

// DefaultStopwords are common Danish function words that are never redacted even
// when a rule matches them exactly. No default rule can match one of them on its
// own; the list guards custom single-word rules added through configuration.
var DefaultStopwords = []string{
	"af", "alle", "at", "da", "de", "den", "der", "det", "din", "du", "efter",
	"eller", "en", "er", "et", "for", "fra", "har", "hej", "hun", "han", "her",
	"hvis", "i", "ikke", "jeg", "kan", "med", "men", "min", "mit", "nej", "når",
	"og", "om", "op", "over", "på", "sig", "sin", "skal", "som", "til", "ud",
	"under", "var", "vi", "vil", "ja",
}

// displayLabels maps a category to the label shown on badges. Cosmetic only.
var displayLabels = map[string]string{
	CategoryCPR:         "CPR-nummer",
	CategoryPhone:       "Telefonnummer",
	CategoryAddress:     "Adresse",
	CategoryName:        "Navn",
	CategoryEmail:       "Email",
	CategoryCreditCard:  "Betalingskort",
	CategoryBankAccount: "Kontonummer",
	CategoryCVR:         "CVR-nummer",
	CategoryPostalCode:  "Postnummer og by",
	CategoryDate:        "Dato",
	CategoryAge:         "Alder",
	CategoryPIN:         "PIN-kode",
	CategoryMoney:       "Beløb",
	"person":            "Person",
	"location":          "Sted",
	"organization":      "Organisation",
}

// DisplayLabel returns the badge label for a category, or the category itself.
func DisplayLabel(category string) string {
	if label, ok := displayLabels[category]; ok {
		return label
	}
	return category
}

// DisplayLabels returns a copy of the category to badge label table.
func DisplayLabels() map[string]string {
	out := make(map[string]string, len(displayLabels))
	for k, v := range displayLabels {
		out[k] = v
	}
	return out
}
