package store

import (
	"context"
	"errors"
	"time"

	"github.com/upic/reader/internal/upic/types"
)

// AuditSink persists access decisions as an append-only log. A failed
// append must never hold up the access decision itself; callers log the
// error and move on.
type AuditSink interface {
	Append(ctx context.Context, entry types.AuditEntry) error
}

// AuditPruner is implemented by sinks that support retention.
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MultiSink appends every entry to all of its sinks in order. Every sink
// is attempted even when an earlier one fails; the errors are joined.
type MultiSink []AuditSink

func (m MultiSink) Append(ctx context.Context, entry types.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
