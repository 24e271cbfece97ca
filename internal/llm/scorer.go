package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Scorer grades one transcribed answer against a question's rubric using an
// OpenAI-compatible chat completion API.
type Scorer struct {
	api   *openai.Client
	model string
	lang  prompts.Language
	opts  CallOptions
}

// NewScorer creates a scorer. An empty baseURL uses the OpenAI endpoint.
func NewScorer(baseURL, apiKey, modelName string, lang prompts.Language, opts CallOptions) *Scorer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Scorer{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		lang:  lang,
		opts:  opts,
	}
}

// Ping checks that the endpoint answers.
func (s *Scorer) Ping(ctx context.Context) error {
	if _, err := s.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Score grades text as the answer to q.
func (s *Scorer) Score(ctx context.Context, q model.Question, text string) (model.ScoreResult, error) {
	system, user, err := prompts.BuildScoringPrompts(s.lang, q, text)
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("%w: build prompt: %w", ErrScoring, err)
	}

	ctx, cancel, err := s.opts.begin(ctx)
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("%w: %w", ErrScoring, err)
	}
	defer cancel()

	resp, err := s.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
		MaxTokens:   800,
	})
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("%w: LLM API call: %w", ErrScoring, err)
	}
	if len(resp.Choices) == 0 {
		return model.ScoreResult{}, fmt.Errorf("%w: LLM returned no choices", ErrScoring)
	}

	return parseScore(resp.Choices[0].Message.Content)
}

// scoreResponse mirrors the JSON contract. Pointers distinguish a missing
// field from a zero value.
type scoreResponse struct {
	ScorePercent  *float64               `json:"score_percent" validate:"required,gte=0,lte=100"`
	Confidence    *float64               `json:"confidence" validate:"required,gte=0,lte=100"`
	ErrorAnalysis *errorAnalysisResponse `json:"error_analysis" validate:"required"`
	Feedback      *string                `json:"feedback" validate:"required"`
}

type errorAnalysisResponse struct {
	SignError        *bool   `json:"fortegnsfeil" validate:"required"`
	ConceptError     *bool   `json:"konseptfeil" validate:"required"`
	ComputationError *bool   `json:"regnefeil" validate:"required"`
	MissingStep      *bool   `json:"manglende_steg" validate:"required"`
	Details          *string `json:"details" validate:"required"`
}

// parseScore decodes and validates a scoring reply. There is no fallback:
// an answer whose score cannot be validated must not be stored.
func parseScore(raw string) (model.ScoreResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.ScoreResult{}, fmt.Errorf("%w: empty response", ErrScoring)
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return model.ScoreResult{}, fmt.Errorf("%w: parse response: %w (raw: %s)", ErrScoring, err, raw)
	}
	if err := validate.Struct(resp); err != nil {
		return model.ScoreResult{}, fmt.Errorf("%w: invalid response: %w", ErrScoring, err)
	}

	ea := resp.ErrorAnalysis
	return model.ScoreResult{
		ScorePercent:    *resp.ScorePercent,
		ConfidenceScore: *resp.Confidence,
		ErrorAnalysis: model.ErrorAnalysis{
			SignError:        *ea.SignError,
			ConceptError:     *ea.ConceptError,
			ComputationError: *ea.ComputationError,
			MissingStep:      *ea.MissingStep,
			Details:          *ea.Details,
		},
		Feedback: *resp.Feedback,
	}, nil
}
