// Package conversation implements a single-model dialogue node. A Node
// keeps a bounded rolling history of turns, renders that history plus a
// new input into one raw prompt, and records the exchange once the
// backend answers.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nugget/reverie/internal/llm"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Prompt delimiters. Every segment is rendered as
// HeaderStart + role + HeaderEnd + content + EndOfTurn.
const (
	HeaderStart = "<|start_header_id|>"
	HeaderEnd   = "<|end_header_id|>"
	EndOfTurn   = "<|eot_id|>"
)

// StopSequences stops generation at the next role marker.
var StopSequences = []string{HeaderStart, HeaderEnd, EndOfTurn}

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultMaxHistory = 10
	DefaultMaxTokens  = 8192
)

// Turn is one entry in the node's history.
type Turn struct {
	Role    Role
	Content string
}

// ResultKind classifies the outcome of [Node.Generate].
type ResultKind int

const (
	// ResultOK means the backend answered; Text holds the trimmed output.
	ResultOK ResultKind = iota

	// ResultTransportError means the backend could not be reached or
	// answered with a non-success status.
	ResultTransportError

	// ResultTimeout means the call ran past its deadline.
	ResultTimeout
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultTransportError:
		return "transport_error"
	case ResultTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is what [Node.Generate] returns. For failures Text is a
// human-readable description suitable for showing the operator and Err
// is the underlying error.
type Result struct {
	Kind ResultKind
	Text string
	Err  error

	// Model, token counts and Elapsed describe a successful call.
	Model        string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Kind == ResultOK }

// Config configures a Node.
type Config struct {
	// Model is the backend model identifier.
	Model string

	// Name is a display name used in logs.
	Name string

	// Definition is the persona text placed in the system segment.
	Definition string

	// MaxHistory caps the number of retained turns. Each successful
	// exchange adds two.
	MaxHistory int

	// MaxTokens is used when Generate is called with maxTokens <= 0.
	MaxTokens int

	// Timeout bounds each backend call. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

// Node is a stateful conversation with one model. It is not safe for
// concurrent use.
type Node struct {
	client  llm.Client
	cfg     Config
	history []Turn
	logger  *slog.Logger
}

// New creates a node. Panics if client is nil.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Node {
	if client == nil {
		panic("conversation: nil llm.Client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	logger.Debug("conversation node created",
		"node", cfg.Name,
		"model", cfg.Model,
		"max_history", cfg.MaxHistory,
		"max_tokens", cfg.MaxTokens,
	)
	return &Node{
		client: client,
		cfg:    cfg,
		logger: logger.With("node", cfg.Name),
	}
}

// Name returns the node's display name.
func (n *Node) Name() string { return n.cfg.Name }

// Model returns the backend model identifier.
func (n *Node) Model() string { return n.cfg.Model }

// Generate sends input, framed by the persona and history, to the
// backend. On success the user input and the trimmed output are
// appended to history. On failure history is left untouched and the
// failure is described in the returned Result; Generate never returns
// a Go error for backend trouble.
func (n *Node) Generate(ctx context.Context, input string, maxTokens int) Result {
	if maxTokens <= 0 {
		maxTokens = n.cfg.MaxTokens
	}
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	prompt := n.Prompt(input)
	n.logger.Debug("generating",
		"model", n.cfg.Model,
		"input_len", len(input),
		"history", len(n.history),
	)
	n.logger.Log(ctx, llm.LevelTrace, "node input", "input", input)

	start := time.Now()
	resp, err := n.client.Generate(ctx, &llm.GenerateRequest{
		Model:     n.cfg.Model,
		Prompt:    prompt,
		Stop:      StopSequences,
		MaxTokens: maxTokens,
	})
	if err != nil {
		res := classify(err)
		n.logger.Warn("generation failed",
			"model", n.cfg.Model,
			"kind", res.Kind.String(),
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err,
		)
		return res
	}

	output := strings.TrimSpace(resp.Text)
	n.history = append(n.history,
		Turn{Role: RoleUser, Content: input},
		Turn{Role: RoleAssistant, Content: output},
	)
	n.evict()

	n.logger.Debug("generation complete",
		"model", resp.Model,
		"output_len", len(output),
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	n.logger.Log(ctx, llm.LevelTrace, "node output", "output", output)

	model := resp.Model
	if model == "" {
		model = n.cfg.Model
	}
	return Result{
		Kind:         ResultOK,
		Text:         output,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Elapsed:      time.Since(start),
	}
}

// classify turns a backend error into a failure Result.
func classify(err error) Result {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Result{
			Kind: ResultTimeout,
			Text: fmt.Sprintf("Error in processing: backend timed out: %v", err),
			Err:  err,
		}
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return Result{
			Kind: ResultTransportError,
			Text: fmt.Sprintf("Error in %s API call: %d - %s", apiErr.Provider, apiErr.StatusCode, apiErr.Body),
			Err:  err,
		}
	}

	return Result{
		Kind: ResultTransportError,
		Text: fmt.Sprintf("Error in processing: %v", err),
		Err:  err,
	}
}

// evict drops the oldest turns past the cap.
func (n *Node) evict() {
	over := len(n.history) - n.cfg.MaxHistory
	if over <= 0 {
		return
	}
	kept := make([]Turn, n.cfg.MaxHistory)
	copy(kept, n.history[over:])
	n.history = kept
}

// Prompt renders the system segment, every history turn, the new user
// input and an open assistant header, one segment per line.
func (n *Node) Prompt(input string) string {
	var b strings.Builder
	writeSegment(&b, RoleSystem, n.cfg.Definition)
	for _, t := range n.history {
		b.WriteByte('\n')
		writeSegment(&b, t.Role, t.Content)
	}
	b.WriteByte('\n')
	writeSegment(&b, RoleUser, input)
	b.WriteByte('\n')
	b.WriteString(HeaderStart)
	b.WriteString(string(RoleAssistant))
	b.WriteString(HeaderEnd)
	return b.String()
}

func writeSegment(b *strings.Builder, role Role, content string) {
	b.WriteString(HeaderStart)
	b.WriteString(string(role))
	b.WriteString(HeaderEnd)
	b.WriteString(content)
	b.WriteString(EndOfTurn)
}

// History returns a copy of the retained turns, oldest first.
func (n *Node) History() []Turn {
	out := make([]Turn, len(n.history))
	copy(out, n.history)
	return out
}

// ClearContext empties the history.
func (n *Node) ClearContext() {
	n.history = nil
	n.logger.Info("context cleared")
}
