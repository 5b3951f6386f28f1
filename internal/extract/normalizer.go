package extract

import (
	"fmt"
	"strconv"
	"strings"

	"taxpilot/internal/logging"
	"taxpilot/internal/schema"
)

// Normalizer validates candidates against the slip catalog and the
// deployment's supported tax-year range.
type Normalizer struct {
	reg        *schema.Registry
	minYear    int
	maxYear    int
	activeYear int
}

// NewNormalizer creates a normalizer bound to a registry and year range.
func NewNormalizer(reg *schema.Registry, minYear, maxYear, activeYear int) *Normalizer {
	return &Normalizer{reg: reg, minYear: minYear, maxYear: maxYear, activeYear: activeYear}
}

// Normalize validates one candidate into a SlipEntry. On recoverable
// validation failure the returned error is a *NeedsClarification carrying
// the reason and, where known, the plausible candidates for re-prompting.
func (n *Normalizer) Normalize(c Candidate) (SlipEntry, error) {
	st, err := n.resolveSlipType(c.SlipTypeText)
	if err != nil {
		return SlipEntry{}, err
	}

	box, err := n.resolveBox(st, c.BoxText)
	if err != nil {
		return SlipEntry{}, err
	}

	amount, err := n.parseAmount(st, box, c.AmountText)
	if err != nil {
		return SlipEntry{}, err
	}

	year, err := n.parseTaxYear(c.TaxYearText)
	if err != nil {
		return SlipEntry{}, err
	}

	entry := SlipEntry{
		SlipType:     st,
		Box:          box,
		Amount:       amount,
		TaxYear:      year,
		Issuer:       strings.TrimSpace(c.IssuerText),
		UtteranceRef: c.UtteranceRef,
	}
	logging.ExtractDebug("normalized %s box %s = %s (year %d)", st, box, amount, year)
	return entry, nil
}

// resolveSlipType resolves slip text by exact code, then case-insensitive
// alias containment. Multiple equally-likely matches are surfaced for
// clarification, never guessed.
func (n *Normalizer) resolveSlipType(text string) (schema.SlipType, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &NeedsClarification{
			Reason:     ReasonUnknownSlipType,
			Field:      "slip_type",
			Message:    "no slip type given",
			Candidates: slipTypeStrings(n.reg.SlipTypes()),
		}
	}

	// Exact code match first.
	upper := schema.SlipType(strings.ToUpper(trimmed))
	if _, err := n.reg.Def(upper); err == nil {
		return upper, nil
	}

	matches := n.reg.MatchAliases(trimmed)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", &NeedsClarification{
			Reason:     ReasonUnknownSlipType,
			Field:      "slip_type",
			Message:    fmt.Sprintf("%q does not match a supported slip type", trimmed),
			Candidates: slipTypeStrings(n.reg.SlipTypes()),
		}
	default:
		return "", &NeedsClarification{
			Reason:     ReasonAmbiguousSlipType,
			Field:      "slip_type",
			Message:    fmt.Sprintf("%q matches more than one slip type", trimmed),
			Candidates: slipTypeStrings(matches),
		}
	}
}

// resolveBox resolves box text within the slip type's legal set: exact code,
// then numeric equality ignoring leading zeros, then edit distance <= 1 when
// a unique nearest match exists.
func (n *Normalizer) resolveBox(st schema.SlipType, text string) (string, error) {
	code := canonicalBoxText(text)
	if code == "" {
		legal, _ := n.reg.LegalBoxes(st)
		return "", &NeedsClarification{
			Reason:     ReasonUnknownBoxNumber,
			Field:      "box",
			Message:    fmt.Sprintf("no box number given for %s", st),
			Candidates: legal,
		}
	}

	legal, err := n.reg.LegalBoxes(st)
	if err != nil {
		return "", &NeedsClarification{
			Reason:  ReasonUnknownSlipType,
			Field:   "slip_type",
			Message: err.Error(),
		}
	}

	// Exact, then zero-stripped numeric equality ("16" matches T4A "016").
	for _, l := range legal {
		if code == l {
			return l, nil
		}
	}
	for _, l := range legal {
		if numericEqual(code, l) {
			return l, nil
		}
	}

	// Fuzzy correction, bounded to this slip type's legal set so a near-miss
	// can never land on a box that is only legal for another slip type.
	var nearest []string
	for _, l := range legal {
		if editDistance(code, l) <= 1 {
			nearest = append(nearest, l)
		}
	}
	switch len(nearest) {
	case 1:
		logging.ExtractDebug("fuzzy box correction on %s: %q -> %q", st, code, nearest[0])
		return nearest[0], nil
	case 0:
		return "", &NeedsClarification{
			Reason:     ReasonUnknownBoxNumber,
			Field:      "box",
			Message:    fmt.Sprintf("box %q is not legal on a %s", code, st),
			Candidates: legal,
		}
	default:
		return "", &NeedsClarification{
			Reason:     ReasonAmbiguousBoxNumber,
			Field:      "box",
			Message:    fmt.Sprintf("box %q is ambiguous on a %s", code, st),
			Candidates: nearest,
		}
	}
}

func (n *Normalizer) parseAmount(st schema.SlipType, box, text string) (Cents, error) {
	amount, err := ParseAmount(text)
	if err != nil {
		return 0, &NeedsClarification{
			Reason:  ReasonInvalidAmount,
			Field:   "amount",
			Message: err.Error(),
		}
	}
	if amount < 0 {
		allowed, err := n.reg.AllowsNegative(st, box)
		if err != nil || !allowed {
			return 0, &NeedsClarification{
				Reason:  ReasonInvalidAmount,
				Field:   "amount",
				Message: fmt.Sprintf("%s box %s does not accept a negative amount", st, box),
			}
		}
	}
	return amount, nil
}

func (n *Normalizer) parseTaxYear(text string) (int, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		// Single active year per deployment, pinned at session start.
		return n.activeYear, nil
	}
	year, err := strconv.Atoi(trimmed)
	if err != nil || len(trimmed) != 4 {
		return 0, &NeedsClarification{
			Reason:  ReasonUnsupportedTaxYear,
			Field:   "tax_year",
			Message: fmt.Sprintf("%q is not a 4-digit tax year", trimmed),
		}
	}
	if year < n.minYear || year > n.maxYear {
		return 0, &NeedsClarification{
			Reason:  ReasonUnsupportedTaxYear,
			Field:   "tax_year",
			Message: fmt.Sprintf("tax year %d outside supported range [%d, %d]", year, n.minYear, n.maxYear),
		}
	}
	return year, nil
}

// canonicalBoxText strips a leading "box" word and surrounding noise.
func canonicalBoxText(text string) string {
	s := strings.TrimSpace(strings.ToUpper(text))
	s = strings.TrimPrefix(s, "BOX")
	s = strings.Trim(s, " .:#")
	return s
}

func numericEqual(a, b string) bool {
	if !allDigits(a) || !allDigits(b) {
		return false
	}
	return strings.TrimLeft(a, "0") == strings.TrimLeft(b, "0")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// editDistance is the Levenshtein distance between two short box codes.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func slipTypeStrings(types []schema.SlipType) []string {
	out := make([]string, len(types))
	for i, st := range types {
		out[i] = string(st)
	}
	return out
}
