// Package genai provides the vision-backed skin photo analysis using the
// OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// completionService is the minimal slice of the OpenAI client used here,
// extracted so tests can substitute a mock.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

const systemPrompt = `You are a dermatology intake assistant reviewing a patient-submitted skin photo before a consultation.
Respond with a single JSON object and nothing else, using exactly these keys:
  "condition": one plain-language sentence describing what the photo most resembles
  "severity": one of "low", "moderate", "high", or "unknown"
  "recommendations": an array of 1-3 short, practical suggestions safe to give before a clinician visit
Never give a diagnosis, never name medications, and never tell the patient not to see a clinician.`

// Client analyzes uploaded skin photos through the OpenAI chat completions
// API with image input.
type Client struct {
	chat       completionService
	model      openai.ChatModel
	styleGuide string
}

// Option configures a Client.
type Option func(*opts)

type opts struct {
	apiKey     string
	model      openai.ChatModel
	styleGuide string
}

// WithAPIKey sets the OpenAI API key, falling back to the OPENAI_API_KEY
// environment variable.
func WithAPIKey(key string) Option {
	return func(o *opts) { o.apiKey = key }
}

// WithModel overrides the model used for analysis.
func WithModel(model openai.ChatModel) Option {
	return func(o *opts) { o.model = model }
}

// WithStyleGuide appends tone guidance to the analysis prompt.
func WithStyleGuide(guide string) Option {
	return func(o *opts) { o.styleGuide = guide }
}

// NewClient initializes the analysis client.
func NewClient(options ...Option) (*Client, error) {
	var cfg opts
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.model == "" {
		cfg.model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.apiKey))
	slog.Debug("genai.NewClient: client initialized", "model", cfg.model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.model, styleGuide: cfg.styleGuide}, nil
}

// AnalyzeImage sends a base64-encoded photo for review and returns the
// structured result. The caller bounds the call with its context; timeouts
// and API failures surface as errors so the flow layer can fall back.
func (c *Client) AnalyzeImage(ctx context.Context, imageB64 string) (*models.AnalysisResult, error) {
	if imageB64 == "" {
		return nil, fmt.Errorf("empty image payload")
	}
	prompt := systemPrompt
	if c.styleGuide != "" {
		prompt += "\n\nTone guidance:\n" + c.styleGuide
	}
	dataURL := "data:image/jpeg;base64," + imageB64

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Please review this skin photo."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		slog.Error("Client.AnalyzeImage: completion request failed", "error", err)
		return nil, fmt.Errorf("image analysis request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("image analysis returned no choices")
	}
	result, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Error("Client.AnalyzeImage: failed to parse analysis", "error", err)
		return nil, err
	}
	slog.Debug("Client.AnalyzeImage: analysis complete", "severity", result.Severity)
	return result, nil
}

// parseAnalysis decodes the model's JSON reply into an AnalysisResult,
// tolerating markdown code fences and normalizing the severity scale. The
// disclaimer is always ours, never the model's.
func parseAnalysis(content string) (*models.AnalysisResult, error) {
	trimmed := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = after
	} else if after, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = after
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	var raw struct {
		Condition       string   `json:"condition"`
		Severity        string   `json:"severity"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}
	if raw.Condition == "" {
		return nil, fmt.Errorf("analysis response missing condition")
	}
	severity := strings.ToLower(strings.TrimSpace(raw.Severity))
	switch severity {
	case "low", "moderate", "high":
	default:
		severity = "unknown"
	}
	return &models.AnalysisResult{
		Condition:       raw.Condition,
		Severity:        severity,
		Recommendations: raw.Recommendations,
		Disclaimer:      models.AnalysisDisclaimer,
	}, nil
}
