package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures an [OpenAIClient].
type OpenAIConfig struct {
	// BaseURL points at any OpenAI-compatible server. Empty uses the
	// SDK default (api.openai.com, or OPENAI_BASE_URL).
	BaseURL string

	APIKey string

	// MaxRetries is passed to the SDK, which retries rate limits and
	// server errors itself.
	MaxRetries int

	// HTTPClient overrides the SDK's HTTP client. Optional.
	HTTPClient *http.Client
}

// OpenAIClient generates text through the legacy completions endpoint,
// which takes a raw prompt, unlike chat completions.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible server.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

// Generate sends a completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(req.Model),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}

	c.logger.Log(ctx, LevelTrace, "openai request", "model", req.Model, "prompt", req.Prompt)

	start := time.Now()
	completion, err := c.client.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{
				Provider:   "openai",
				StatusCode: apiErr.StatusCode,
				Body:       apiErr.Message,
			}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion %s returned no choices", completion.ID)
	}

	text := completion.Choices[0].Text
	c.logger.Log(ctx, LevelTrace, "openai response", "model", completion.Model, "text", text)

	return &GenerateResponse{
		Model:         completion.Model,
		CreatedAt:     time.Unix(completion.Created, 0),
		Text:          text,
		Done:          true,
		InputTokens:   int(completion.Usage.PromptTokens),
		OutputTokens:  int(completion.Usage.CompletionTokens),
		TotalDuration: time.Since(start),
	}, nil
}

// Ping checks the server by listing models.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// ListModels returns the model IDs the server exposes.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, len(page.Data))
	for i, m := range page.Data {
		names[i] = m.ID
	}
	return names, nil
}
