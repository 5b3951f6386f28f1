// Package extract turns candidate slip data produced by the
// language-understanding front end into validated SlipEntry records. It is a
// pure function over the slip catalog and its input: nothing is persisted and
// nothing touches the browser.
package extract

import (
	"fmt"

	"taxpilot/internal/schema"
)

// Cents is a currency amount in integer cents. Slip amounts carry exactly
// two fractional digits, so cents avoid float drift entirely.
type Cents int64

// String formats as a plain decimal, e.g. 500000 -> "5000.00".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Abs returns the absolute value.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// SlipEntry is one validated user-asserted fact: this box on this slip holds
// this amount for this tax year. Immutable once created; corrections produce
// a new entry, never a mutation, so the audit trail stays intact.
type SlipEntry struct {
	SlipType     schema.SlipType `json:"slip_type"`
	Box          string          `json:"box"`
	Amount       Cents           `json:"amount_cents"`
	TaxYear      int             `json:"tax_year"`
	Issuer       string          `json:"issuer,omitempty"`
	UtteranceRef string          `json:"utterance_ref,omitempty"`
}

// Key identifies the slip position an entry fills. Latest-wins reads group
// by this key.
func (e SlipEntry) Key() string {
	return fmt.Sprintf("%s/%s", e.SlipType, e.Box)
}

// Candidate is the unvalidated structured output of the upstream
// language-understanding step for one user turn.
type Candidate struct {
	SlipTypeText string `json:"slip_type_text"`
	BoxText      string `json:"box_text"`
	AmountText   string `json:"amount_text"`
	TaxYearText  string `json:"tax_year_text"`
	IssuerText   string `json:"issuer_text"`
	UtteranceRef string `json:"utterance_ref"`
}

// Clarification reasons.
const (
	ReasonAmbiguousSlipType  = "ambiguous_slip_type"
	ReasonUnknownSlipType    = "unknown_slip_type"
	ReasonAmbiguousBoxNumber = "ambiguous_box_number"
	ReasonUnknownBoxNumber   = "unknown_box_number"
	ReasonInvalidAmount      = "invalid_amount"
	ReasonUnsupportedTaxYear = "unsupported_tax_year"
)

// NeedsClarification is returned when the candidate cannot be validated
// without asking the user. It is recoverable by re-prompting, never fatal.
type NeedsClarification struct {
	Reason     string   `json:"reason"`
	Field      string   `json:"field"`
	Message    string   `json:"message"`
	Candidates []string `json:"candidates,omitempty"`
}

func (e *NeedsClarification) Error() string {
	return fmt.Sprintf("needs clarification (%s): %s", e.Reason, e.Message)
}
