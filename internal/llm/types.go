// Package llm provides text-generation backend clients.
package llm

import (
	"fmt"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// GenerateRequest is a single raw-prompt completion request. The prompt
// is sent as-is; no chat template is applied by the backend.
type GenerateRequest struct {
	Model  string
	Prompt string

	// Stop lists sequences at which the backend must stop generating.
	Stop []string

	// MaxTokens caps the number of generated tokens. Zero leaves the
	// backend default in place.
	MaxTokens int
}

// GenerateResponse is the unified response from any provider. Wire
// format conversion happens at provider boundaries (ollama.go,
// openai.go).
type GenerateResponse struct {
	Model     string
	CreatedAt time.Time
	Text      string
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// APIError is returned when a backend answers with a non-success status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}
