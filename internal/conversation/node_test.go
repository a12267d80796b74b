package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nugget/reverie/internal/llm"
)

// mockLLM returns queued responses in order and records requests.
type mockLLM struct {
	responses []string
	errs      []error
	requests  []*llm.GenerateRequest
	block     bool
}

func (m *mockLLM) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.requests = append(m.requests, req)
	if m.block {
		<-ctx.Done()
		return nil, fmt.Errorf("request failed: %w", ctx.Err())
	}
	i := len(m.requests) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &llm.GenerateResponse{Model: req.Model, Text: text, Done: true}, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func newNode(client llm.Client, maxHistory int) *Node {
	return New(client, Config{
		Model:      "test-model",
		Name:       "test",
		Definition: "You ponder.",
		MaxHistory: maxHistory,
	}, nil)
}

func TestGenerate_AppendsHistoryOnSuccess(t *testing.T) {
	mock := &mockLLM{responses: []string{"  <say>hi</say>\n"}}
	n := newNode(mock, 10)

	res := n.Generate(context.Background(), "hello", 256)
	if !res.OK() {
		t.Fatalf("Generate() kind = %v, want ok (err %v)", res.Kind, res.Err)
	}
	if res.Text != "<say>hi</say>" {
		t.Errorf("Text = %q, want trimmed output", res.Text)
	}

	want := []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "<say>hi</say>"},
	}
	if got := n.History(); !slices.Equal(got, want) {
		t.Errorf("History() = %v, want %v", got, want)
	}

	req := mock.requests[0]
	if req.Model != "test-model" {
		t.Errorf("request model = %q", req.Model)
	}
	if req.MaxTokens != 256 {
		t.Errorf("request MaxTokens = %d, want 256", req.MaxTokens)
	}
	if !slices.Equal(req.Stop, StopSequences) {
		t.Errorf("request Stop = %v, want %v", req.Stop, StopSequences)
	}
}

func TestGenerate_DefaultMaxTokens(t *testing.T) {
	mock := &mockLLM{}
	n := New(mock, Config{Model: "m", MaxTokens: 1234}, nil)
	n.Generate(context.Background(), "x", 0)
	if got := mock.requests[0].MaxTokens; got != 1234 {
		t.Errorf("MaxTokens = %d, want configured 1234", got)
	}
}

func TestGenerate_TransportFailureLeavesHistory(t *testing.T) {
	mock := &mockLLM{
		responses: []string{"first"},
		errs:      []error{nil, errors.New("request failed: dial tcp: connection refused")},
	}
	n := newNode(mock, 10)
	n.Generate(context.Background(), "one", 0)
	before := n.History()

	res := n.Generate(context.Background(), "two", 0)
	if res.Kind != ResultTransportError {
		t.Fatalf("kind = %v, want transport_error", res.Kind)
	}
	if res.Text == "" || !strings.Contains(res.Text, "connection refused") {
		t.Errorf("Text = %q, want a description of the failure", res.Text)
	}
	if res.Err == nil {
		t.Error("Err should carry the underlying error")
	}
	if got := n.History(); !slices.Equal(got, before) {
		t.Errorf("history changed on failure: %v -> %v", before, got)
	}
}

func TestGenerate_APIError(t *testing.T) {
	mock := &mockLLM{errs: []error{&llm.APIError{Provider: "ollama", StatusCode: 500, Body: "boom"}}}
	n := newNode(mock, 10)

	res := n.Generate(context.Background(), "x", 0)
	if res.Kind != ResultTransportError {
		t.Fatalf("kind = %v, want transport_error", res.Kind)
	}
	if want := "Error in ollama API call: 500 - boom"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if len(n.History()) != 0 {
		t.Error("history should stay empty after API error")
	}
}

func TestGenerate_Timeout(t *testing.T) {
	mock := &mockLLM{block: true}
	n := New(mock, Config{Model: "m", Timeout: 10 * time.Millisecond}, nil)

	res := n.Generate(context.Background(), "slow", 0)
	if res.Kind != ResultTimeout {
		t.Fatalf("kind = %v, want timeout", res.Kind)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want DeadlineExceeded", res.Err)
	}
	if len(n.History()) != 0 {
		t.Error("history should stay empty after timeout")
	}
}

func TestGenerate_HistoryCap(t *testing.T) {
	mock := &mockLLM{}
	for i := 0; i < 20; i++ {
		mock.responses = append(mock.responses, fmt.Sprintf("out-%d", i))
	}
	n := newNode(mock, 4)

	for i := 0; i < 20; i++ {
		n.Generate(context.Background(), fmt.Sprintf("in-%d", i), 0)
		if got := len(n.History()); got > 4 {
			t.Fatalf("after %d calls history len = %d, want <= 4", i+1, got)
		}
	}

	want := []Turn{
		{Role: RoleUser, Content: "in-18"},
		{Role: RoleAssistant, Content: "out-18"},
		{Role: RoleUser, Content: "in-19"},
		{Role: RoleAssistant, Content: "out-19"},
	}
	if got := n.History(); !slices.Equal(got, want) {
		t.Errorf("History() = %v, want newest turns %v", got, want)
	}
}

func TestGenerate_OddCapEvictsSingleTurns(t *testing.T) {
	mock := &mockLLM{responses: []string{"a", "b"}}
	n := newNode(mock, 3)
	n.Generate(context.Background(), "1", 0)
	n.Generate(context.Background(), "2", 0)

	want := []Turn{
		{Role: RoleAssistant, Content: "a"},
		{Role: RoleUser, Content: "2"},
		{Role: RoleAssistant, Content: "b"},
	}
	if got := n.History(); !slices.Equal(got, want) {
		t.Errorf("History() = %v, want %v", got, want)
	}
}

func TestPrompt_Format(t *testing.T) {
	mock := &mockLLM{responses: []string{"answer"}}
	n := newNode(mock, 10)

	empty := n.Prompt("first")
	wantEmpty := "<|start_header_id|>system<|end_header_id|>You ponder.<|eot_id|>\n" +
		"<|start_header_id|>user<|end_header_id|>first<|eot_id|>\n" +
		"<|start_header_id|>assistant<|end_header_id|>"
	if empty != wantEmpty {
		t.Errorf("Prompt() without history =\n%q\nwant\n%q", empty, wantEmpty)
	}

	n.Generate(context.Background(), "first", 0)
	got := mock.requests[0].Prompt
	if got != wantEmpty {
		t.Errorf("sent prompt = %q, want %q", got, wantEmpty)
	}

	withHistory := n.Prompt("second")
	wantHistory := "<|start_header_id|>system<|end_header_id|>You ponder.<|eot_id|>\n" +
		"<|start_header_id|>user<|end_header_id|>first<|eot_id|>\n" +
		"<|start_header_id|>assistant<|end_header_id|>answer<|eot_id|>\n" +
		"<|start_header_id|>user<|end_header_id|>second<|eot_id|>\n" +
		"<|start_header_id|>assistant<|end_header_id|>"
	if withHistory != wantHistory {
		t.Errorf("Prompt() with history =\n%q\nwant\n%q", withHistory, wantHistory)
	}
}

func TestGenerate_EmptyInputAccepted(t *testing.T) {
	mock := &mockLLM{responses: []string{"<thought>alone</thought>"}}
	n := newNode(mock, 10)
	if res := n.Generate(context.Background(), "", 0); !res.OK() {
		t.Fatalf("empty input should be accepted, got %v", res.Kind)
	}
}

func TestClearContext(t *testing.T) {
	mock := &mockLLM{responses: []string{"a"}}
	n := newNode(mock, 10)
	n.Generate(context.Background(), "x", 0)
	n.ClearContext()
	if got := len(n.History()); got != 0 {
		t.Errorf("History() len after ClearContext = %d, want 0", got)
	}
}

func TestNew_PanicsOnNilClient(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(nil) should panic")
		}
	}()
	New(nil, Config{}, nil)
}

func TestResultKind_String(t *testing.T) {
	for kind, want := range map[ResultKind]string{
		ResultOK:             "ok",
		ResultTransportError: "transport_error",
		ResultTimeout:        "timeout",
		ResultKind(9):        "ResultKind(9)",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(kind), got, want)
		}
	}
}

// countingLLM reports fixed token usage and no model name.
type countingLLM struct{}

func (countingLLM) Generate(context.Context, *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return &llm.GenerateResponse{Text: " hi ", InputTokens: 12, OutputTokens: 3, Done: true}, nil
}

func (countingLLM) Ping(context.Context) error { return nil }

func TestGenerate_ReportsUsage(t *testing.T) {
	n := newNode(countingLLM{}, 10)
	res := n.Generate(context.Background(), "hello", 0)
	if !res.OK() {
		t.Fatalf("Generate failed: %s", res.Text)
	}
	if res.InputTokens != 12 || res.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d, want 12/3", res.InputTokens, res.OutputTokens)
	}
	if res.Model != "test-model" {
		t.Errorf("Model = %q, want the configured model when the backend omits it", res.Model)
	}
	if res.Text != "hi" {
		t.Errorf("Text = %q, want trimmed output", res.Text)
	}
}
