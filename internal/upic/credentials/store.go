// Package credentials holds the reader's in-memory credential directory,
// loaded from the flat file the issuing tool writes and refreshed in place
// while the reader runs.
package credentials

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/upic/reader/internal/clock"
	"github.com/upic/reader/internal/upic/types"
)

// DefaultReloadInterval is how often the caller should check the backing
// file for changes.
const DefaultReloadInterval = 30 * time.Second

// reloadNoticeInterval rate-limits the "reloaded" info line.
const reloadNoticeInterval = 10 * time.Second

var ErrSourceNotFound = errors.New("credential file not found")

type Options struct {
	// ReloadInterval defaults to DefaultReloadInterval.
	ReloadInterval time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Store is a hot-reloadable credential directory. Lookups and reloads may
// run from different goroutines: the map is swapped whole under a write
// lock and never mutated in place, and reloads are serialized.
type Store struct {
	path     string
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	reloadMu sync.Mutex

	mu          sync.RWMutex
	records     map[string]types.CredentialRecord
	version     int64 // backing file mtime, UnixNano
	fingerprint string
	lastReload  time.Time
	lastCheck   time.Time
	lastNotice  time.Time
}

// Open loads the credential file at path. A missing file is reported as
// ErrSourceNotFound; the caller treats it as fatal. Any other load failure
// is logged and the store starts empty.
func Open(path string, opts Options) (*Store, error) {
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = DefaultReloadInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Store{
		path:     path,
		interval: opts.ReloadInterval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		records:  make(map[string]types.CredentialRecord),
	}

	if _, err := s.reload(); err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			return nil, err
		}
		// The file exists but cannot be loaded yet; the next reload
		// check retries.
		s.logger.Warn("credential file unreadable, starting with an empty directory",
			"path", path, "error", err)
	}
	return s, nil
}

// Reload re-reads the backing file if its modification time has strictly
// advanced since the last successful load. It returns true only when the
// directory was replaced. Failures are logged and leave the current
// directory in place.
func (s *Store) Reload() bool {
	changed, err := s.reload()
	if err != nil {
		s.logger.Warn("credential reload failed, keeping previous directory",
			"path", s.path, "error", err)
		return false
	}
	return changed
}

func (s *Store) reload() (bool, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	s.lastCheck = now
	current := s.version
	s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("%w: %s", ErrSourceNotFound, s.path)
	}
	if err != nil {
		return false, fmt.Errorf("stat credential file: %w", err)
	}

	version := info.ModTime().UnixNano()
	if version <= current {
		return false, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read credential file: %w", err)
	}

	results, err := Parse(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	records := s.index(results)
	sum := blake3.Sum256(data)

	s.mu.Lock()
	s.records = records
	s.version = version
	s.fingerprint = hex.EncodeToString(sum[:])
	s.lastReload = now
	notify := now.Sub(s.lastNotice) > reloadNoticeInterval
	if notify {
		s.lastNotice = now
	}
	s.mu.Unlock()

	if notify {
		s.logger.Info("credential directory reloaded",
			"path", s.path, "records", len(records), "fingerprint", s.Fingerprint()[:16])
	}
	return true, nil
}

// index builds the lookup map from parse results, logging every dropped
// record. Later duplicates replace earlier ones.
func (s *Store) index(results []ParseResult) map[string]types.CredentialRecord {
	records := make(map[string]types.CredentialRecord, len(results))
	for _, res := range results {
		if res.Err != nil {
			s.logger.Warn("credential record dropped", "path", s.path, "error", res.Err)
			continue
		}
		for _, w := range res.Warnings {
			s.logger.Warn("credential record", "id", res.Record.ID, "line", res.Line, "warning", w)
		}
		if _, dup := records[res.Record.ID]; dup {
			s.logger.Warn("duplicate credential id, later record wins",
				"id", res.Record.ID, "line", res.Line)
		}
		records[res.Record.ID] = res.Record
	}
	return records
}

// Lookup returns the record with the given id.
func (s *Store) Lookup(id string) (types.CredentialRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Size returns the number of records in the directory.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ShouldReload reports whether more than the reload interval has passed
// since the backing file was last checked. The store never schedules
// reloads itself.
func (s *Store) ShouldReload(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastCheck) > s.interval
}

// ReloadIn returns the time left until ShouldReload turns true.
func (s *Store) ReloadIn(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	left := s.interval - now.Sub(s.lastCheck)
	if left < 0 {
		return 0
	}
	return left
}

// LastReloadTime is the wall time of the last successful swap.
func (s *Store) LastReloadTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReload
}

// Fingerprint is the hex BLAKE3 digest of the file content currently
// loaded.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Expired lists records whose expiration date is before now's calendar
// date, sorted by id.
func (s *Store) Expired(now time.Time) []types.CredentialRecord {
	today := types.DateOf(now)

	s.mu.RLock()
	var out []types.CredentialRecord
	for _, rec := range s.records {
		if rec.ExpirationDate != nil && rec.ExpirationDate.Before(today) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
