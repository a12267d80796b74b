// Package usage tallies token usage for the current session. Records
// are append-only and kept in memory; nothing outlives the process.
package usage

import (
	"sort"
	"sync"
	"time"
)

// Record is one backend call's token usage.
type Record struct {
	Timestamp    time.Time
	TurnID       string
	Model        string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// Summary holds aggregated totals.
type Summary struct {
	Calls        int           `json:"calls"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	Elapsed      time.Duration `json:"elapsed"`
}

func (s *Summary) add(r Record) {
	s.Calls++
	s.InputTokens += int64(r.InputTokens)
	s.OutputTokens += int64(r.OutputTokens)
	s.Elapsed += r.Elapsed
}

// Ledger is safe for concurrent use. A nil *Ledger discards records.
type Ledger struct {
	mu      sync.Mutex
	records []Record
}

// New returns an empty ledger.
func New() *Ledger { return &Ledger{} }

// Record appends rec, stamping Timestamp if it is zero.
func (l *Ledger) Record(rec Record) {
	if l == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
}

// Records returns a copy of all records in insertion order.
func (l *Ledger) Records() []Record {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Summary totals every record.
func (l *Ledger) Summary() Summary {
	var s Summary
	for _, r := range l.Records() {
		s.add(r)
	}
	return s
}

// SummaryByModel totals records per model.
func (l *Ledger) SummaryByModel() map[string]Summary {
	out := make(map[string]Summary)
	for _, r := range l.Records() {
		s := out[r.Model]
		s.add(r)
		out[r.Model] = s
	}
	return out
}

// Models returns the distinct model names seen, sorted.
func (l *Ledger) Models() []string {
	by := l.SummaryByModel()
	names := make([]string, 0, len(by))
	for m := range by {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}
