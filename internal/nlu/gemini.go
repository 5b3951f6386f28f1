// Package nlu turns free-text user turns into candidate slip data using the
// Gemini API. The model only transcribes what the user said into fields; all
// validation happens downstream in the extraction normalizer, so a model
// hallucination can never reach the browser.
package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taxpilot/internal/extract"
	"taxpilot/internal/logging"
	"taxpilot/internal/schema"

	"google.golang.org/genai"
)

// ErrDisabled is returned when no API key is configured. Callers fall back
// to structured input.
var ErrDisabled = errors.New("language extraction disabled: no API key")

// Extractor produces one unvalidated candidate per user turn.
type Extractor interface {
	ExtractCandidate(ctx context.Context, utterance string) (extract.Candidate, error)
}

// GeminiExtractor implements Extractor over the Gemini API in JSON mode.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	reg    *schema.Registry
}

// NewGeminiExtractor creates the extractor, or ErrDisabled without a key.
func NewGeminiExtractor(ctx context.Context, apiKey, model string, reg *schema.Registry) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, ErrDisabled
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiExtractor{client: client, model: model, reg: reg}, nil
}

// candidatePayload is the JSON shape the model is asked to emit.
type candidatePayload struct {
	SlipType string `json:"slip_type"`
	Box      string `json:"box"`
	Amount   string `json:"amount"`
	TaxYear  string `json:"tax_year"`
	Issuer   string `json:"issuer"`
}

// ExtractCandidate asks the model to transcribe the utterance into fields.
// Fields the user did not state come back empty, never guessed.
func (g *GeminiExtractor) ExtractCandidate(ctx context.Context, utterance string) (extract.Candidate, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return extract.Candidate{}, errors.New("empty utterance")
	}

	prompt := g.buildPrompt(utterance)
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return extract.Candidate{}, fmt.Errorf("GenAI extract failed: %w", err)
	}

	text := result.Text()
	logging.NLU("model response: %s", text)

	cand, err := decodeCandidate(text)
	if err != nil {
		return extract.Candidate{}, err
	}
	cand.UtteranceRef = utterance
	return cand, nil
}

func (g *GeminiExtractor) buildPrompt(utterance string) string {
	var types []string
	for _, st := range g.reg.SlipTypes() {
		types = append(types, string(st))
	}

	var b strings.Builder
	b.WriteString("You transcribe a Canadian tax filer's statement into JSON. ")
	b.WriteString("Known slip types: " + strings.Join(types, ", ") + ".\n")
	b.WriteString(`Return exactly one JSON object: {"slip_type": "", "box": "", "amount": "", "tax_year": "", "issuer": ""}.` + "\n")
	b.WriteString("Copy each field verbatim from the statement. Leave a field empty if the user did not state it. Never infer or invent values.\n\n")
	b.WriteString("Statement: " + utterance)
	return b.String()
}

// decodeCandidate parses the model's JSON, tolerating code fences.
func decodeCandidate(text string) (extract.Candidate, error) {
	text = stripFences(text)
	var p candidatePayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return extract.Candidate{}, fmt.Errorf("unparseable model response: %w", err)
	}
	return extract.Candidate{
		SlipTypeText: strings.TrimSpace(p.SlipType),
		BoxText:      strings.TrimSpace(p.Box),
		AmountText:   strings.TrimSpace(p.Amount),
		TaxYearText:  strings.TrimSpace(p.TaxYear),
		IssuerText:   strings.TrimSpace(p.Issuer),
	}, nil
}

// stripFences removes a ```json ... ``` wrapper when present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
