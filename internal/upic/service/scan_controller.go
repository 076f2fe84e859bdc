package service

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upic/reader/internal/camera"
	"github.com/upic/reader/internal/clock"
	"github.com/upic/reader/internal/upic/store"
	"github.com/upic/reader/internal/upic/types"
)

const (
	// DefaultCooldown is how long a decision stays on screen.
	DefaultCooldown = 5 * time.Second
	// DefaultTimeout is how long the reader ignores badges after that.
	DefaultTimeout = 10 * time.Second
)

// ErrNoFrameSource is returned by Run when no camera opener is configured.
var ErrNoFrameSource = errors.New("no frame source configured")

// Decoder extracts an identifier from a frame. An empty string with a nil
// error means nothing was found.
type Decoder interface {
	Decode(frame image.Image) (string, error)
}

// CredentialLookup is the part of the credential store the controller
// needs.
type CredentialLookup interface {
	Lookup(id string) (types.CredentialRecord, bool)
	ShouldReload(now time.Time) bool
	Reload() bool
	Size() int
	ReloadIn(now time.Time) time.Duration
}

// Presenter receives a snapshot after every loop iteration. Present runs
// on the scan loop and must not block.
type Presenter interface {
	Present(snap types.Snapshot)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(types.Snapshot)

func (f PresenterFunc) Present(snap types.Snapshot) { f(snap) }

// ScanConfig holds the state machine timings.
type ScanConfig struct {
	// Cooldown is the PROCESSING duration. Defaults to DefaultCooldown.
	Cooldown time.Duration
	// Timeout is the COOLDOWN duration. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// ScanDependencies wires the controller's collaborators. Store and Decoder
// are required; everything else has a usable zero value.
type ScanDependencies struct {
	Store     CredentialLookup
	Decoder   Decoder
	Policy    AccessPolicy
	Audit     store.AuditSink
	Presenter Presenter
	Camera    camera.Recovery
	Clock     clock.Clock
	Logger    *slog.Logger
}

// ScanController drives the READY → PROCESSING → COOLDOWN cycle. It is
// single-threaded: Step and Run must not be called concurrently.
type ScanController struct {
	lookup    CredentialLookup
	decoder   Decoder
	policy    AccessPolicy
	audit     store.AuditSink
	presenter Presenter
	camera    camera.Recovery
	clock     clock.Clock
	logger    *slog.Logger

	cooldown time.Duration
	timeout  time.Duration

	session      types.ScanSession
	cameraIndex  int
	cameraOnline bool
}

func NewScanController(deps ScanDependencies, cfg ScanConfig) *ScanController {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Presenter == nil {
		deps.Presenter = PresenterFunc(func(types.Snapshot) {})
	}
	if deps.Camera.Clock == nil {
		deps.Camera.Clock = deps.Clock
	}
	if deps.Camera.Logger == nil {
		deps.Camera.Logger = deps.Logger
	}
	if len(deps.Camera.Indices) == 0 {
		deps.Camera.Indices = camera.DefaultIndices
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &ScanController{
		lookup:      deps.Store,
		decoder:     deps.Decoder,
		policy:      deps.Policy,
		audit:       deps.Audit,
		presenter:   deps.Presenter,
		camera:      deps.Camera,
		clock:       deps.Clock,
		logger:      deps.Logger,
		cooldown:    cfg.Cooldown,
		timeout:     cfg.Timeout,
		session:     types.ScanSession{State: types.StateReady, StateEnteredAt: deps.Clock.Now()},
		cameraIndex: -1,
	}
}

// Run opens the first working camera and feeds frames to Step until ctx
// is cancelled. A failed read triggers one release/backoff/reopen
// recovery; if that finds no device Run returns an error wrapping
// camera.ErrNoCamera. Cancellation returns nil. The device is released
// on every exit path.
func (c *ScanController) Run(ctx context.Context) error {
	if c.camera.Open == nil {
		return ErrNoFrameSource
	}

	src, idx, err := camera.OpenFirst(ctx, c.camera.Open, c.camera.Indices, c.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if src != nil {
			_ = src.Close()
		}
	}()
	c.setCamera(idx, true)

	for {
		frame, err := src.NextFrame(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn("camera read failed, reconnecting", "index", idx, "error", err)
			c.setCamera(idx, false)
			c.presenter.Present(c.snapshot(c.clock.Now()))

			src, idx, err = c.camera.Recover(ctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("camera recovery failed", "error", err)
				return err
			}
			c.setCamera(idx, true)
			continue
		}

		c.Step(ctx, frame)
	}
}

// Step runs one loop iteration on frame and publishes the resulting
// snapshot. The store is checked for changes on every call whatever the
// state; the frame is decoded only in READY.
func (c *ScanController) Step(ctx context.Context, frame image.Image) types.Snapshot {
	now := c.clock.Now()

	if c.lookup.ShouldReload(now) {
		c.lookup.Reload()
	}

	elapsed := now.Sub(c.session.StateEnteredAt)
	switch c.session.State {
	case types.StateReady:
		if id := c.decode(frame); id != "" {
			c.admit(ctx, id, now)
		}

	case types.StateProcessing:
		if elapsed >= c.cooldown {
			c.session.State = types.StateCooldown
			c.session.StateEnteredAt = now
		}

	case types.StateCooldown:
		if elapsed >= c.timeout {
			c.session = types.ScanSession{State: types.StateReady, StateEnteredAt: now}
			c.logger.Debug("ready to scan")
		}
	}

	snap := c.snapshot(now)
	c.presenter.Present(snap)
	return snap
}

// Session returns a copy of the current scan session.
func (c *ScanController) Session() types.ScanSession {
	return c.session
}

func (c *ScanController) decode(frame image.Image) string {
	if frame == nil {
		return ""
	}
	id, err := c.decoder.Decode(frame)
	if err != nil {
		c.logger.Debug("decode failed", "error", err)
		return ""
	}
	return strings.TrimSpace(id)
}

// admit resolves id, decides and records the outcome, then enters
// PROCESSING. This is the only place an audit entry is produced.
func (c *ScanController) admit(ctx context.Context, id string, now time.Time) {
	var rec *types.CredentialRecord
	if r, ok := c.lookup.Lookup(id); ok {
		rec = &r
	}
	d := c.policy.Decide(rec, now)

	c.session = types.ScanSession{
		State:          types.StateProcessing,
		ScannedID:      id,
		Record:         rec,
		Decision:       &d,
		StateEnteredAt: now,
	}

	attrs := []any{"credential_id", id, "granted", d.Granted}
	if d.Reason != "" {
		attrs = append(attrs, "reason", d.Reason)
	}
	if d.Advisory != "" {
		attrs = append(attrs, "advisory", d.Advisory)
	}
	switch {
	case d.FailOpen:
		c.logger.Warn("access granted with unverifiable expiration", attrs...)
	case d.Granted:
		c.logger.Info("access granted", attrs...)
	default:
		c.logger.Info("access denied", attrs...)
	}

	c.recordEvent(ctx, types.NewAuditEntry(uuid.NewString(), now, rec, d))
}

// recordEvent is best-effort: a failed write is logged and the scan cycle
// carries on.
func (c *ScanController) recordEvent(ctx context.Context, entry types.AuditEntry) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Append(ctx, entry); err != nil {
		c.logger.Error("failed to record access event",
			"event_id", entry.EventID, "credential_id", entry.CredentialID, "error", err)
	}
}

func (c *ScanController) setCamera(idx int, online bool) {
	c.cameraIndex = idx
	c.cameraOnline = online
}

func (c *ScanController) snapshot(now time.Time) types.Snapshot {
	s := types.Snapshot{
		At:           now,
		State:        c.session.State,
		ScannedID:    c.session.ScannedID,
		Record:       c.session.Record,
		Decision:     c.session.Decision,
		ReloadIn:     c.lookup.ReloadIn(now),
		Records:      c.lookup.Size(),
		CameraIndex:  c.cameraIndex,
		CameraOnline: c.cameraOnline,
	}

	elapsed := now.Sub(c.session.StateEnteredAt)
	switch c.session.State {
	case types.StateProcessing:
		s.Remaining = max(0, c.cooldown-elapsed)
	case types.StateCooldown:
		s.Remaining = max(0, c.timeout-elapsed)
	}
	return s
}
