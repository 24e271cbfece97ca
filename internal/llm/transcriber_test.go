package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/pdfpages"
)

// fakeVision replays scripted responses and records each call.
type fakeVision struct {
	responses []string
	err       error
	delay     time.Duration
	prompts   []string
	data      [][]byte
	mimeTypes []string
}

func (f *fakeVision) Generate(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.data = append(f.data, data)
	f.mimeTypes = append(f.mimeTypes, mimeType)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func newTestTranscriber(t *testing.T, v *fakeVision, opts CallOptions) *Transcriber {
	t.Helper()
	tr, err := NewTranscriber(v, prompts.LangNorwegian, opts)
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}
	return tr
}

func TestParseTranscription(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantConf model.Confidence
	}{
		{"structured", `{"text": "$f(x) = x^2$", "confidence": "high"}`, "$f(x) = x^2$", model.ConfidenceHigh},
		{"low confidence", `{"text": "[uleselig]", "confidence": "low"}`, "[uleselig]", model.ConfidenceLow},
		{"unknown confidence", `{"text": "x = 1", "confidence": "sure"}`, "x = 1", model.ConfidenceMedium},
		{"missing confidence", `{"text": "x = 1"}`, "x = 1", model.ConfidenceMedium},
		{"missing text", `{"confidence": "high"}`, "", model.ConfidenceHigh},
		{"not JSON", "raw OCR text without JSON", "raw OCR text without JSON", model.ConfidenceMedium},
		{"JSON string, not object", `"just a string"`, `"just a string"`, model.ConfidenceMedium},
		{"JSON null", "null", "null", model.ConfidenceMedium},
		{"JSON array", `["x = 1"]`, `["x = 1"]`, model.ConfidenceMedium},
		{"truncated JSON", `{"text": "x = `, `{"text": "x = `, model.ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTranscription(tt.raw)
			if got.Text != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text, tt.wantText)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("confidence = %q, want %q", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestTranscribeStructured(t *testing.T) {
	v := &fakeVision{responses: []string{`{"text": "$f(x) = x^2$", "confidence": "high"}`}}
	tr := newTestTranscriber(t, v, CallOptions{})

	got, err := tr.Transcribe(context.Background(), []byte("%PDF"), pdfpages.MIMEType)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "$f(x) = x^2$" || got.Confidence != model.ConfidenceHigh {
		t.Errorf("unexpected result %+v", got)
	}
	if v.mimeTypes[0] != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", v.mimeTypes[0])
	}
	if !strings.Contains(v.prompts[0], prompts.MarkIllegible) {
		t.Error("prompt should include the illegible marker")
	}
}

func TestTranscribeFallback(t *testing.T) {
	v := &fakeVision{responses: []string{"raw OCR text without JSON"}}
	tr := newTestTranscriber(t, v, CallOptions{})

	got, err := tr.Transcribe(context.Background(), []byte("%PDF"), pdfpages.MIMEType)
	if err != nil {
		t.Fatalf("Transcribe should not fail on non-JSON output: %v", err)
	}
	if got.Text != "raw OCR text without JSON" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Confidence != model.ConfidenceMedium {
		t.Errorf("confidence = %q, want medium", got.Confidence)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name string
		v    *fakeVision
		opts CallOptions
	}{
		{"transport error", &fakeVision{err: errors.New("connection refused")}, CallOptions{}},
		{"empty response", &fakeVision{responses: []string{""}}, CallOptions{}},
		{"whitespace response", &fakeVision{responses: []string{"  \n\t "}}, CallOptions{}},
		{"timeout", &fakeVision{responses: []string{"late"}, delay: time.Second}, CallOptions{Timeout: 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTranscriber(t, tt.v, tt.opts)
			_, err := tr.Transcribe(context.Background(), []byte("%PDF"), pdfpages.MIMEType)
			if !errors.Is(err, ErrOCRProvider) {
				t.Errorf("expected ErrOCRProvider, got %v", err)
			}
		})
	}
}

func TestTranscribePagesOrder(t *testing.T) {
	v := &fakeVision{responses: []string{
		`{"text": "side 1", "confidence": "high"}`,
		`{"text": "side 2", "confidence": "low"}`,
		"side 3 uten JSON",
	}}
	tr := newTestTranscriber(t, v, CallOptions{})

	pages := []pdfpages.Page{
		{Number: 3, Data: []byte("p3")},
		{Number: 4, Data: []byte("p4")},
		{Number: 5, Data: []byte("p5")},
	}
	results, err := tr.TranscribePages(context.Background(), pages)
	if err != nil {
		t.Fatalf("TranscribePages: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantText := []string{"side 1", "side 2", "side 3 uten JSON"}
	for i, r := range results {
		if r.PageNumber != pages[i].Number {
			t.Errorf("result %d: page number %d, want %d", i, r.PageNumber, pages[i].Number)
		}
		if r.Text != wantText[i] {
			t.Errorf("result %d: text %q, want %q", i, r.Text, wantText[i])
		}
		if string(v.data[i]) != string(pages[i].Data) {
			t.Errorf("call %d sent %q, want %q", i, v.data[i], pages[i].Data)
		}
	}
}

func TestTranscribePagesStopsOnError(t *testing.T) {
	v := &fakeVision{responses: []string{`{"text": "side 1", "confidence": "high"}`}}
	tr := newTestTranscriber(t, v, CallOptions{})

	pages := []pdfpages.Page{{Number: 1, Data: []byte("a")}, {Number: 2, Data: []byte("b")}}
	_, err := tr.TranscribePages(context.Background(), pages)
	if !errors.Is(err, ErrOCRProvider) {
		t.Fatalf("expected ErrOCRProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "page 2") {
		t.Errorf("error should name the failing page, got %q", err)
	}
}
