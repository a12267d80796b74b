// Package agent implements the contemplation loop: each turn builds a
// topic-, memory- and mood-aware prompt, sends it through a conversation
// node, and folds the tagged reply back into memory and emotion state.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/reverie/internal/conversation"
	"github.com/nugget/reverie/internal/emotion"
	"github.com/nugget/reverie/internal/events"
	"github.com/nugget/reverie/internal/memory"
	"github.com/nugget/reverie/internal/prompts"
	"github.com/nugget/reverie/internal/tags"
	"github.com/nugget/reverie/internal/usage"
)

// DefaultRecentMemories is how many memory entries are replayed into
// each prompt.
const DefaultRecentMemories = 5

// Output line prefixes.
const (
	prefixSaid    = "💬 "
	prefixAsked   = "❓ "
	prefixShifted = "🔄 I've shifted my focus to: "
	prefixStarted = "🎯 I've started contemplating: "
	prefixMood    = "😊 Current emotional state: "
)

// Generator produces one model reply per call. *conversation.Node
// implements it.
type Generator interface {
	Generate(ctx context.Context, input string, maxTokens int) conversation.Result
}

// RandSource picks the initial topic. *rand.Rand from math/rand/v2
// satisfies it.
type RandSource interface {
	IntN(n int) int
}

// entropy draws from the auto-seeded top-level math/rand/v2 source.
type entropy struct{}

func (entropy) IntN(n int) int { return rand.IntN(n) }

// NewSeededRand returns a deterministic source for reproducible runs.
func NewSeededRand(seed uint64) RandSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Option configures an Agent.
type Option func(*Agent)

// WithRand sets the random source used for initial topic selection.
func WithRand(r RandSource) Option {
	return func(a *Agent) { a.rand = r }
}

// WithTopics replaces the candidate topic list.
func WithTopics(topics []string) Option {
	return func(a *Agent) { a.topics = topics }
}

// WithMemoryLimit sets the maximum number of memory entries kept.
func WithMemoryLimit(n int) Option {
	return func(a *Agent) { a.memory = memory.NewStore(n) }
}

// WithRecentMemories sets how many memory entries each prompt replays.
func WithRecentMemories(n int) Option {
	return func(a *Agent) { a.recent = n }
}

// WithEvents publishes turn events to bus.
func WithEvents(bus *events.Bus) Option {
	return func(a *Agent) { a.events = bus }
}

// WithUsage records token usage of every successful turn in l.
func WithUsage(l *usage.Ledger) Option {
	return func(a *Agent) { a.usage = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// Agent owns all mutable state of one contemplating mind: its topic,
// memory and emotions. Turns must be processed one at a time; an Agent
// is not safe for concurrent use.
type Agent struct {
	node     Generator
	memory   *memory.Store
	emotions *emotion.Tracker
	topic    string
	topics   []string
	recent   int
	rand     RandSource
	events   *events.Bus
	usage    *usage.Ledger
	logger   *slog.Logger
}

// New creates an agent with an empty topic, empty memory and every
// emotion at zero. Panics if node is nil.
func New(node Generator, opts ...Option) *Agent {
	if node == nil {
		panic("agent: nil Generator")
	}
	a := &Agent{
		node:     node,
		memory:   memory.NewStore(memory.DefaultLimit),
		emotions: emotion.NewTracker(),
		topics:   prompts.Topics(),
		recent:   DefaultRecentMemories,
		rand:     entropy{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Topic returns the current topic, empty until the first turn completes.
func (a *Agent) Topic() string { return a.topic }

// Memory returns a copy of the memory log, oldest first.
func (a *Agent) Memory() []string { return a.memory.Entries() }

// Emotions exposes the emotion tracker for inspection.
func (a *Agent) Emotions() *emotion.Tracker { return a.emotions }

// Prompt builds the prompt for a turn without running it.
func (a *Agent) Prompt(input string) string {
	return prompts.ContemplationPrompt(a.topic, a.memory.Recent(a.recent), a.emotions.Summary(), input)
}

// Think runs one turn with the operator's input, which may be empty,
// and returns the text to display. Backend failures are not errors:
// they come back as the display text and leave all state untouched.
// The only error is a caller context that is already done.
func (a *Agent) Think(ctx context.Context, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("think: %w", err)
	}

	turnID := uuid.NewString()
	log := a.logger.With("turn_id", turnID)
	start := time.Now()

	a.events.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindTurnStart,
		Data:   map[string]any{"turn_id": turnID, "topic": a.topic, "input_len": len(input)},
	})

	prompt := a.Prompt(input)
	a.events.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindBackendCall,
		Data:   map[string]any{"turn_id": turnID, "prompt_len": len(prompt)},
	})

	res := a.node.Generate(ctx, prompt, 0)
	if !res.OK() {
		log.Warn("turn failed", "kind", res.Kind.String(), "error", res.Err)
		a.events.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindBackendError,
			Data:   map[string]any{"turn_id": turnID, "kind": res.Kind.String(), "error": res.Text},
		})
		return res.Text, nil
	}

	a.usage.Record(usage.Record{
		TurnID:       turnID,
		Model:        res.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Elapsed:      res.Elapsed,
	})

	segs := tags.Parse(res.Text)
	out := a.apply(turnID, segs)

	name, intensity := a.emotions.Dominant()
	log.Info("turn complete",
		"topic", a.topic,
		"thoughts", len(segs.Thoughts),
		"sayings", len(segs.Sayings),
		"questions", len(segs.Questions),
		"memory_len", a.memory.Len(),
		"mood", name,
		"intensity", intensity,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	a.events.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindTurnComplete,
		Data: map[string]any{
			"turn_id":          turnID,
			"thoughts":         len(segs.Thoughts),
			"sayings":          len(segs.Sayings),
			"questions":        len(segs.Questions),
			"memory_len":       a.memory.Len(),
			"dominant_emotion": name,
			"elapsed_ms":       time.Since(start).Milliseconds(),
		},
	})

	return out, nil
}

// apply folds parsed segments into state and renders the display text.
func (a *Agent) apply(turnID string, segs tags.Segments) string {
	var lines []string

	for _, thought := range segs.Thoughts {
		a.memory.Add(memory.LabelThought, strings.TrimSpace(thought))
		a.emotions.UpdateAll(thought)
	}

	for _, saying := range segs.Sayings {
		s := strings.TrimSpace(saying)
		a.memory.Add(memory.LabelSaid, s)
		lines = append(lines, prefixSaid+s)
	}

	for _, question := range segs.Questions {
		q := strings.TrimSpace(question)
		a.memory.Add(memory.LabelAsked, q)
		lines = append(lines, prefixAsked+q)
	}

	for _, topic := range segs.NewTopics {
		a.setTopic(turnID, strings.TrimSpace(topic), false)
		a.memory.Add(memory.LabelNewTopic, a.topic)
		lines = append(lines, prefixShifted+a.topic)
	}

	if a.topic == "" && len(segs.NewTopics) == 0 && len(a.topics) > 0 {
		a.setTopic(turnID, a.topics[a.rand.IntN(len(a.topics))], true)
		a.memory.Add(memory.LabelInitialTopic, a.topic)
		lines = append(lines, prefixStarted+a.topic)
	}

	if dropped := a.memory.Trim(); dropped > 0 {
		a.logger.Debug("memory trimmed", "turn_id", turnID, "dropped", dropped)
	}

	lines = append(lines, prefixMood+a.emotions.Summary())
	return strings.Join(lines, "\n")
}

func (a *Agent) setTopic(turnID, topic string, initial bool) {
	a.topic = topic
	a.events.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindTopicChange,
		Data:   map[string]any{"turn_id": turnID, "topic": topic, "initial": initial},
	})
}
