package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/pdfpages"
)

// VisionModel sends a prompt plus one inline document to a multimodal model
// and returns the text it produced.
type VisionModel interface {
	Generate(ctx context.Context, prompt, mimeType string, data []byte) (string, error)
}

// Transcriber turns scanned pages into text.
type Transcriber struct {
	model  VisionModel
	prompt string
	opts   CallOptions
}

// NewTranscriber creates a transcriber using the prompt for lang.
func NewTranscriber(m VisionModel, lang prompts.Language, opts CallOptions) (*Transcriber, error) {
	prompt, err := prompts.BuildOCRPrompt(lang)
	if err != nil {
		return nil, fmt.Errorf("build OCR prompt: %w", err)
	}
	return &Transcriber{model: m, prompt: prompt, opts: opts}, nil
}

// Transcribe transcribes a single page.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, mimeType string) (model.OCRResult, error) {
	ctx, cancel, err := t.opts.begin(ctx)
	if err != nil {
		return model.OCRResult{}, fmt.Errorf("%w: %w", ErrOCRProvider, err)
	}
	defer cancel()

	raw, err := t.model.Generate(ctx, t.prompt, mimeType, data)
	if err != nil {
		return model.OCRResult{}, fmt.Errorf("%w: %w", ErrOCRProvider, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.OCRResult{}, fmt.Errorf("%w: empty response", ErrOCRProvider)
	}

	return parseTranscription(raw), nil
}

// TranscribePages transcribes pages one after another, in input order.
func (t *Transcriber) TranscribePages(ctx context.Context, pages []pdfpages.Page) ([]model.OCRResult, error) {
	results := make([]model.OCRResult, 0, len(pages))
	for _, p := range pages {
		r, err := t.Transcribe(ctx, p.Data, pdfpages.MIMEType)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p.Number, err)
		}
		r.PageNumber = p.Number
		results = append(results, r)
	}
	return results, nil
}

type transcriptionResponse struct {
	Text       string `json:"text"`
	Confidence string `json:"confidence"`
}

// parseTranscription decodes the model's JSON reply. A reply that is not a
// JSON object is kept as plain text with medium confidence.
func parseTranscription(raw string) model.OCRResult {
	var resp *transcriptionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp == nil {
		return model.OCRResult{Text: raw, Confidence: model.ConfidenceMedium}
	}

	conf, ok := model.ParseConfidence(resp.Confidence)
	if !ok {
		conf = model.ConfidenceMedium
	}
	return model.OCRResult{Text: resp.Text, Confidence: conf}
}
