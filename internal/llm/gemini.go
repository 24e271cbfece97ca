package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiModel is a VisionModel backed by the Gemini generateContent API.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini client. An empty baseURL uses the public endpoint.
func NewGemini(ctx context.Context, apiKey, modelName, baseURL string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: modelName}, nil
}

// Generate sends the prompt and the page as inline data.
func (g *GeminiModel) Generate(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  2000,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generateContent: %w", err)
	}
	return resp.Text(), nil
}
