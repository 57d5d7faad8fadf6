package sagaflow

import (
	"context"
	"sync"
)

// PersistenceSink receives transaction log entries for durable storage.
// Delivery is fire and forget: the engine swallows sink errors after a local
// warning, so implementations must not rely on retries from the caller.
type PersistenceSink interface {
	AppendLog(ctx context.Context, entry LogEntry) error
}

// MemorySink is an in-memory PersistenceSink for testing or scenarios where
// durability is not required.
type MemorySink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// AppendLog stores the entry in memory.
func (s *MemorySink) AppendLog(_ context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemorySink) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
