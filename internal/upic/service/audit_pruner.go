package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/upic/reader/internal/clock"
	"github.com/upic/reader/internal/upic/store"
)

// AuditPruner periodically deletes audit mirror rows older than a
// configurable retention period.  It runs as a background goroutine and
// is safe to stop via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type AuditPruner struct {
	store     store.AuditPruner
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewAuditPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of audit history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs.  Defaults to 6.
	IntervalHours int

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// NewAuditPruner creates a pruner but does not start it.
// Call Start to begin the background loop.
func NewAuditPruner(s store.AuditPruner, cfg PrunerConfig, logger *slog.Logger) *AuditPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &AuditPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     clk,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins the background pruning loop.  It runs an immediate prune
// on startup, then repeats on the configured interval.  The loop exits
// when ctx is cancelled or Stop is called.
func (p *AuditPruner) Start(ctx context.Context) {
	if p.retention <= 0 || p.store == nil {
		p.logger.Info("audit pruner disabled", "retention_days", 0)
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Info("audit pruner started",
		"retention_days", int(p.retention.Hours()/24),
		"interval_hours", int(p.interval.Hours()))
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *AuditPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *AuditPruner) loop(ctx context.Context) {
	defer close(p.done)

	// Run immediately on startup to clean up any backlog.
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
			p.prune(ctx)
		}
	}
}

func (p *AuditPruner) prune(ctx context.Context) {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("audit prune failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("audit prune", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
