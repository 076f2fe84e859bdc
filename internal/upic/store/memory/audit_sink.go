package memory

import (
	"context"
	"sync"

	"github.com/upic/reader/internal/upic/types"
)

// AuditSink is an in-memory append-only log of access decisions.
// It is intended for use in tests and dev environments.
type AuditSink struct {
	mu      sync.Mutex
	entries []types.AuditEntry
	err     error
}

func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

func (s *AuditSink) Append(_ context.Context, entry types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

// FailWith makes every subsequent Append return err (nil restores normal
// behaviour).  Test-only helper.
func (s *AuditSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Entries returns a copy of all recorded entries.  Test-only helper.
func (s *AuditSink) Entries() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
