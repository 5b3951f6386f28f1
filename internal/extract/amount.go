package extract

import (
	"fmt"
	"strings"
)

// ParseAmount parses a currency amount string into cents. Accepts an
// optional leading $, thousands separators, up to two fractional digits,
// and a leading minus or accounting parentheses for negatives.
func ParseAmount(text string) (Cents, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("no digits in amount %q", text)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two fractional digits", text)
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not numeric", text)
		}
		d := int64(r - '0')
		if cents > (1<<62)/10 {
			return 0, fmt.Errorf("amount %q overflows", text)
		}
		cents = cents*10 + d
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not numeric", text)
		}
		cents = cents*10 + int64(r-'0')
	}

	if negative {
		cents = -cents
	}
	return Cents(cents), nil
}
