// Package memory provides the agent's short-term memory: a bounded,
// ordered log of labeled entries such as "Thought: ..." or "Said: ...".
package memory

import "fmt"

// DefaultLimit is the number of entries kept when no limit is given.
const DefaultLimit = 100

// Labels prefix every entry so the model can tell entries apart when
// recent memory is replayed into its prompt.
const (
	LabelThought      = "Thought"
	LabelSaid         = "Said"
	LabelAsked        = "Asked"
	LabelNewTopic     = "New topic"
	LabelInitialTopic = "Initial topic"
)

// Store is an in-memory FIFO log. Entries are kept oldest first; once
// the log grows past its limit, [Store.Trim] drops the oldest.
// Nothing is persisted. A Store is not safe for concurrent use.
type Store struct {
	entries []string
	limit   int
}

// NewStore creates a store that keeps at most limit entries. A
// non-positive limit selects [DefaultLimit].
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit}
}

// Add appends "label: text" to the log. The log may briefly exceed its
// limit until the next Trim.
func (s *Store) Add(label, text string) {
	s.entries = append(s.entries, fmt.Sprintf("%s: %s", label, text))
}

// Trim drops the oldest entries until the log is within its limit and
// returns how many were dropped.
func (s *Store) Trim() int {
	over := len(s.entries) - s.limit
	if over <= 0 {
		return 0
	}
	kept := make([]string, s.limit)
	copy(kept, s.entries[over:])
	s.entries = kept
	return over
}

// Recent returns up to n of the newest entries, oldest first.
func (s *Store) Recent(n int) []string {
	if n <= 0 {
		return nil
	}
	start := max(0, len(s.entries)-n)
	out := make([]string, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// Entries returns a copy of the whole log, oldest first.
func (s *Store) Entries() []string {
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	return len(s.entries)
}

// Limit returns the configured maximum number of entries.
func (s *Store) Limit() int {
	return s.limit
}
