package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/upic/reader/internal/db"
	"github.com/upic/reader/internal/upic/types"
)

// AuditStore mirrors the access log into SQLite so it can be queried by
// day and pruned. Writes go through the single-writer worker.
type AuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(db *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{db: db, writer: writer}
}

func (s *AuditStore) Append(ctx context.Context, e types.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.EventID == "" {
		return fmt.Errorf("Append: entry has no event id")
	}

	var granted int
	if e.Granted {
		granted = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_entries(
  event_id, day, logged_at_ms, credential_id, full_name, organization,
  department, expiration_date, decision_granted, status, reason
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			e.EventID, e.Day(), e.Timestamp.UnixMilli(), e.CredentialID, e.FullName,
			e.Organization, e.Department, e.ExpirationDate, granted, e.Status, e.Reason,
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		return nil
	})
}

// ListDay returns the entries of one calendar day (YYYY-MM-DD) in the
// order they were logged.
func (s *AuditStore) ListDay(ctx context.Context, day string) ([]types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, logged_at_ms, credential_id, full_name, organization,
       department, expiration_date, decision_granted, status, reason
FROM audit_entries
WHERE day = ?
ORDER BY logged_at_ms, rowid;
`, day)
	if err != nil {
		return nil, fmt.Errorf("ListDay query: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var (
			e        types.AuditEntry
			loggedMs int64
			granted  int
		)
		if err := rows.Scan(&e.EventID, &loggedMs, &e.CredentialID, &e.FullName,
			&e.Organization, &e.Department, &e.ExpirationDate, &granted, &e.Status, &e.Reason,
		); err != nil {
			return nil, fmt.Errorf("ListDay scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(loggedMs)
		e.Granted = granted == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes entries logged before cutoff and returns the
// number of rows removed.
func (s *AuditStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM audit_entries
WHERE logged_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
