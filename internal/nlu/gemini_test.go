package nlu

import (
	"context"
	"testing"

	"taxpilot/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeminiExtractorWithoutKey(t *testing.T) {
	reg, err := schema.Load()
	require.NoError(t, err)

	_, err = NewGeminiExtractor(context.Background(), "", "gemini-2.0-flash", reg)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestDecodeCandidate(t *testing.T) {
	cand, err := decodeCandidate(`{"slip_type": "T4", "box": "14", "amount": "$5,000.00", "tax_year": "2024", "issuer": "Acme"}`)
	require.NoError(t, err)
	assert.Equal(t, "T4", cand.SlipTypeText)
	assert.Equal(t, "14", cand.BoxText)
	assert.Equal(t, "$5,000.00", cand.AmountText)
	assert.Equal(t, "2024", cand.TaxYearText)
	assert.Equal(t, "Acme", cand.IssuerText)
}

func TestDecodeCandidateFenced(t *testing.T) {
	cand, err := decodeCandidate("```json\n{\"slip_type\": \"T5\", \"box\": \"10\", \"amount\": \"125.50\", \"tax_year\": \"\", \"issuer\": \"\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "T5", cand.SlipTypeText)
	assert.Empty(t, cand.TaxYearText)
}

func TestDecodeCandidateGarbage(t *testing.T) {
	_, err := decodeCandidate("the user has a T4")
	require.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
