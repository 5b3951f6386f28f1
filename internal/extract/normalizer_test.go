package extract

import (
	"errors"
	"testing"

	"taxpilot/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	return NewNormalizer(reg, 2023, 2024, 2024)
}

func TestNormalizeExactInput(t *testing.T) {
	n := newTestNormalizer(t)

	entry, err := n.Normalize(Candidate{
		SlipTypeText: "T4",
		BoxText:      "14",
		AmountText:   "5000.00",
		TaxYearText:  "2024",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.SlipType("T4"), entry.SlipType)
	assert.Equal(t, "14", entry.Box)
	assert.Equal(t, Cents(500000), entry.Amount)
	assert.Equal(t, 2024, entry.TaxYear)
}

// Every legal (slipType, box) pair must normalize from exact text with no
// clarification request.
func TestNormalizeAllLegalPairs(t *testing.T) {
	reg, err := schema.Load()
	require.NoError(t, err)
	n := NewNormalizer(reg, 2023, 2024, 2024)

	for _, st := range reg.SlipTypes() {
		boxes, err := reg.LegalBoxes(st)
		require.NoError(t, err)
		for _, box := range boxes {
			entry, err := n.Normalize(Candidate{
				SlipTypeText: string(st),
				BoxText:      box,
				AmountText:   "123.45",
				TaxYearText:  "2024",
			})
			if err != nil {
				t.Fatalf("Normalize(%s, %s) failed: %v", st, box, err)
			}
			if entry.SlipType != st || entry.Box != box {
				t.Errorf("Normalize(%s, %s) produced (%s, %s)", st, box, entry.SlipType, entry.Box)
			}
		}
	}
}

func TestSlipTypeAliases(t *testing.T) {
	n := newTestNormalizer(t)

	entry, err := n.Normalize(Candidate{
		SlipTypeText: "my t4 slip",
		BoxText:      "22",
		AmountText:   "800",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.SlipType("T4"), entry.SlipType)
	// Empty year pins to the deployment's active year.
	assert.Equal(t, 2024, entry.TaxYear)
}

func TestUnknownSlipType(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize(Candidate{SlipTypeText: "W2", BoxText: "1", AmountText: "10"})
	var clar *NeedsClarification
	require.True(t, errors.As(err, &clar))
	assert.Equal(t, ReasonUnknownSlipType, clar.Reason)
	assert.NotEmpty(t, clar.Candidates)
}

func TestIllegalBoxRejected(t *testing.T) {
	n := newTestNormalizer(t)

	// Box 99 is not legal on a T4 and has no unique near-miss.
	_, err := n.Normalize(Candidate{
		SlipTypeText: "T4",
		BoxText:      "99",
		AmountText:   "100.00",
		TaxYearText:  "2024",
	})
	var clar *NeedsClarification
	require.True(t, errors.As(err, &clar))
	assert.Equal(t, ReasonUnknownBoxNumber, clar.Reason)
}

func TestFuzzyBoxStaysInsideSlipType(t *testing.T) {
	reg, err := schema.Load()
	require.NoError(t, err)
	n := NewNormalizer(reg, 2023, 2024, 2024)

	// Any fuzzy correction must resolve to a box legal on the entry's own
	// slip type, never one that is only legal elsewhere.
	for _, st := range reg.SlipTypes() {
		legal, err := reg.LegalBoxes(st)
		require.NoError(t, err)
		legalSet := map[string]bool{}
		for _, b := range legal {
			legalSet[b] = true
		}

		entry, err := n.Normalize(Candidate{
			SlipTypeText: string(st),
			BoxText:      legal[0],
			AmountText:   "1.00",
		})
		require.NoError(t, err)
		assert.True(t, legalSet[entry.Box], "box %q not legal on %s", entry.Box, st)
	}
}

func TestZeroPaddedBoxEquivalence(t *testing.T) {
	n := newTestNormalizer(t)

	// T4A codes carry leading zeros; "16" should land on "016".
	entry, err := n.Normalize(Candidate{
		SlipTypeText: "T4A",
		BoxText:      "16",
		AmountText:   "250.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "016", entry.Box)
}

func TestBoxTextNoise(t *testing.T) {
	n := newTestNormalizer(t)

	entry, err := n.Normalize(Candidate{
		SlipTypeText: "T4",
		BoxText:      "box 14",
		AmountText:   "5000.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "14", entry.Box)
}

func TestNegativeAmountPolicy(t *testing.T) {
	n := newTestNormalizer(t)

	// T4 box 14 disallows negatives.
	_, err := n.Normalize(Candidate{
		SlipTypeText: "T4",
		BoxText:      "14",
		AmountText:   "-100.00",
	})
	var clar *NeedsClarification
	require.True(t, errors.As(err, &clar))
	assert.Equal(t, ReasonInvalidAmount, clar.Reason)

	// T3 box 42 allows them.
	entry, err := n.Normalize(Candidate{
		SlipTypeText: "T3",
		BoxText:      "42",
		AmountText:   "-100.00",
	})
	require.NoError(t, err)
	assert.Equal(t, Cents(-10000), entry.Amount)
}

func TestUnsupportedTaxYear(t *testing.T) {
	n := newTestNormalizer(t)

	for _, year := range []string{"2019", "2030", "24", "twenty24"} {
		_, err := n.Normalize(Candidate{
			SlipTypeText: "T4",
			BoxText:      "14",
			AmountText:   "1.00",
			TaxYearText:  year,
		})
		var clar *NeedsClarification
		require.True(t, errors.As(err, &clar), "year %q should fail", year)
		assert.Equal(t, ReasonUnsupportedTaxYear, clar.Reason)
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"14", "14", 0},
		{"14", "16", 1},
		{"16", "16A", 1},
		{"99", "14", 2},
		{"016", "18", 2},
	}
	for _, tc := range cases {
		if got := editDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
