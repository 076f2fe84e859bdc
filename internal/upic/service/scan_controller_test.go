package service_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/upic/reader/internal/camera"
	"github.com/upic/reader/internal/clock"
	"github.com/upic/reader/internal/upic/credentials"
	"github.com/upic/reader/internal/upic/service"
	"github.com/upic/reader/internal/upic/store/memory"
	"github.com/upic/reader/internal/upic/types"
)

var start = time.Date(2026, 6, 15, 9, 0, 0, 0, time.Local)

// badgeFrame is a frame carrying the identifier the fake decoder reports.
type badgeFrame struct {
	*image.Gray
	id string
}

func badge(id string) image.Image {
	return badgeFrame{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), id: id}
}

func blank() image.Image {
	return image.NewGray(image.Rect(0, 0, 1, 1))
}

type fakeDecoder struct {
	calls int
	err   error
}

func (d *fakeDecoder) Decode(frame image.Image) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	if b, ok := frame.(badgeFrame); ok {
		return b.id, nil
	}
	return "", nil
}

// fakeLookup is an in-memory CredentialLookup that counts reload checks.
type fakeLookup struct {
	records      map[string]types.CredentialRecord
	checks       int
	reloads      int
	reloadWanted bool
}

func (f *fakeLookup) Lookup(id string) (types.CredentialRecord, bool) {
	r, ok := f.records[id]
	return r, ok
}
func (f *fakeLookup) ShouldReload(time.Time) bool { f.checks++; return f.reloadWanted }
func (f *fakeLookup) Reload() bool                { f.reloads++; return false }
func (f *fakeLookup) Size() int                   { return len(f.records) }
func (f *fakeLookup) ReloadIn(time.Time) time.Duration {
	return time.Second
}

func openCredentials(t *testing.T, clk clock.Clock, content string) *credentials.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data_user.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	st, err := credentials.Open(path, credentials.Options{Clock: clk, Logger: silentLogger()})
	if err != nil {
		t.Fatalf("credentials.Open: %v", err)
	}
	return st
}

type harness struct {
	ctl     *service.ScanController
	clk     *clock.FakeClock
	audit   *memory.AuditSink
	decoder *fakeDecoder
}

func newHarness(t *testing.T, lookup service.CredentialLookup) *harness {
	t.Helper()
	clk := clock.Fake(start)
	h := &harness{clk: clk, audit: memory.NewAuditSink(), decoder: &fakeDecoder{}}
	if lookup == nil {
		lookup = openCredentials(t, clk, "---\nID: ABC123\nfull_name: Test User\nexpiration_date: 2099-01-01\n")
	}
	h.ctl = service.NewScanController(service.ScanDependencies{
		Store:   lookup,
		Decoder: h.decoder,
		Audit:   h.audit,
		Clock:   clk,
		Logger:  silentLogger(),
	}, service.ScanConfig{})
	return h
}

// ── End-to-end scenarios ────────────────────────────────────────────

func TestScan_ValidCredentialGranted(t *testing.T) {
	h := newHarness(t, nil)

	snap := h.ctl.Step(context.Background(), badge("ABC123"))

	if snap.State != types.StateProcessing {
		t.Fatalf("expected PROCESSING, got %s", snap.State)
	}
	if snap.Decision == nil || !snap.Decision.Granted || snap.Decision.Reason != "" {
		t.Fatalf("expected grant with empty reason, got %+v", snap.Decision)
	}
	if snap.Record == nil || snap.Record.FullName != "Test User" {
		t.Errorf("expected resolved record, got %+v", snap.Record)
	}

	entries := h.audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != types.StatusGranted || e.CredentialID != "ABC123" || e.FullName != "Test User" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.EventID == "" || !e.Timestamp.Equal(start) {
		t.Errorf("expected event id and scan timestamp, got %+v", e)
	}
}

func TestScan_ExpiredCredentialDenied(t *testing.T) {
	clk := clock.Fake(start)
	st := openCredentials(t, clk, "---\nID: ABC123\nfull_name: Test User\nexpiration_date: 2020-01-01\n")
	h := newHarness(t, st)

	snap := h.ctl.Step(context.Background(), badge("ABC123"))

	if snap.Decision == nil || snap.Decision.Granted {
		t.Fatalf("expected deny, got %+v", snap.Decision)
	}
	if snap.Decision.Reason != types.ReasonExpiredCredential {
		t.Errorf("expected reason %q, got %q", types.ReasonExpiredCredential, snap.Decision.Reason)
	}
	entries := h.audit.Entries()
	if len(entries) != 1 || entries[0].Status != types.StatusDenied {
		t.Fatalf("expected one ACCESS DENIED entry, got %+v", entries)
	}
	if entries[0].ExpirationDate != "2020-01-01" {
		t.Errorf("expected expiration in audit, got %q", entries[0].ExpirationDate)
	}
}

func TestScan_UnknownCredentialDenied(t *testing.T) {
	h := newHarness(t, nil)

	snap := h.ctl.Step(context.Background(), badge("ZZZ999"))

	if snap.Decision == nil || snap.Decision.Granted || snap.Decision.Reason != types.ReasonUnknownCredential {
		t.Fatalf("expected deny/unknown credential, got %+v", snap.Decision)
	}
	if snap.ScannedID != "ZZZ999" || snap.Record != nil {
		t.Errorf("expected scanned id without record, got id=%q record=%+v", snap.ScannedID, snap.Record)
	}

	entries := h.audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.CredentialID != types.UnknownMarker || e.FullName != types.UnknownMarker || e.Organization != types.UnknownMarker {
		t.Errorf("expected unknown markers, got %+v", e)
	}
	if e.Reason != types.ReasonUnknownCredential {
		t.Errorf("expected reason %q, got %q", types.ReasonUnknownCredential, e.Reason)
	}
}

// ── State machine ───────────────────────────────────────────────────

func TestScan_ReadyWithoutBadgeStaysReady(t *testing.T) {
	h := newHarness(t, nil)

	for range 3 {
		snap := h.ctl.Step(context.Background(), blank())
		if snap.State != types.StateReady {
			t.Fatalf("expected READY, got %s", snap.State)
		}
		h.clk.Advance(time.Second)
	}
	if n := len(h.audit.Entries()); n != 0 {
		t.Errorf("expected no audit entries, got %d", n)
	}
}

func TestScan_OneAuditEntryPerCycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.ctl.Step(ctx, badge("ABC123"))
	// Keep presenting the badge through PROCESSING and COOLDOWN.
	for range 14 {
		h.clk.Advance(time.Second)
		h.ctl.Step(ctx, badge("ABC123"))
	}

	if n := len(h.audit.Entries()); n != 1 {
		t.Fatalf("expected exactly 1 audit entry, got %d", n)
	}
	if h.decoder.calls != 1 {
		t.Errorf("expected decode only in READY (1 call), got %d", h.decoder.calls)
	}
}

func TestScan_FullCycleTimings(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.ctl.Step(ctx, badge("ABC123"))

	h.clk.Advance(4 * time.Second)
	snap := h.ctl.Step(ctx, blank())
	if snap.State != types.StateProcessing || snap.Remaining != time.Second {
		t.Fatalf("expected PROCESSING with 1s left, got %s/%v", snap.State, snap.Remaining)
	}

	h.clk.Advance(time.Second)
	snap = h.ctl.Step(ctx, blank())
	if snap.State != types.StateCooldown || snap.Remaining != 10*time.Second {
		t.Fatalf("expected COOLDOWN with 10s left, got %s/%v", snap.State, snap.Remaining)
	}
	if snap.ScannedID != "ABC123" || snap.Decision == nil {
		t.Error("expected decision to persist through COOLDOWN")
	}

	h.clk.Advance(9 * time.Second)
	if snap = h.ctl.Step(ctx, blank()); snap.State != types.StateCooldown {
		t.Fatalf("expected still COOLDOWN, got %s", snap.State)
	}

	h.clk.Advance(time.Second)
	snap = h.ctl.Step(ctx, blank())
	if snap.State != types.StateReady {
		t.Fatalf("expected READY, got %s", snap.State)
	}
	if snap.ScannedID != "" || snap.Decision != nil || snap.Record != nil {
		t.Errorf("expected cleared session, got %+v", snap)
	}
	if sess := h.ctl.Session(); sess.ScannedID != "" || sess.Decision != nil {
		t.Errorf("expected cleared session, got %+v", sess)
	}

	// A fresh cycle audits again.
	h.ctl.Step(ctx, badge("ZZZ999"))
	if n := len(h.audit.Entries()); n != 2 {
		t.Errorf("expected 2 audit entries after second scan, got %d", n)
	}
}

func TestScan_CustomTimings(t *testing.T) {
	clk := clock.Fake(start)
	lookup := &fakeLookup{records: map[string]types.CredentialRecord{"A": {ID: "A"}}}
	ctl := service.NewScanController(service.ScanDependencies{
		Store:   lookup,
		Decoder: &fakeDecoder{},
		Clock:   clk,
	}, service.ScanConfig{Cooldown: time.Second, Timeout: 2 * time.Second})
	ctx := context.Background()

	ctl.Step(ctx, badge("A"))
	clk.Advance(time.Second)
	if s := ctl.Step(ctx, blank()); s.State != types.StateCooldown {
		t.Fatalf("expected COOLDOWN after 1s, got %s", s.State)
	}
	clk.Advance(2 * time.Second)
	if s := ctl.Step(ctx, blank()); s.State != types.StateReady {
		t.Fatalf("expected READY after 2s more, got %s", s.State)
	}
}

func TestScan_DecodeErrorIsSwallowed(t *testing.T) {
	h := newHarness(t, nil)
	h.decoder.err = errors.New("corrupt frame")

	snap := h.ctl.Step(context.Background(), badge("ABC123"))
	if snap.State != types.StateReady {
		t.Fatalf("expected READY after decode error, got %s", snap.State)
	}
	if n := len(h.audit.Entries()); n != 0 {
		t.Errorf("expected no audit entries, got %d", n)
	}
}

func TestScan_AuditFailureDoesNotBlockTransition(t *testing.T) {
	h := newHarness(t, nil)
	h.audit.FailWith(errors.New("workbook locked"))

	snap := h.ctl.Step(context.Background(), badge("ABC123"))
	if snap.State != types.StateProcessing || snap.Decision == nil || !snap.Decision.Granted {
		t.Fatalf("expected granted PROCESSING despite audit failure, got %+v", snap)
	}
}

func TestScan_ReloadCheckedEveryIteration(t *testing.T) {
	lookup := &fakeLookup{records: map[string]types.CredentialRecord{"A": {ID: "A"}}, reloadWanted: true}
	h := newHarness(t, lookup)
	ctx := context.Background()

	h.ctl.Step(ctx, blank())
	h.ctl.Step(ctx, badge("A"))
	h.clk.Advance(time.Second)
	h.ctl.Step(ctx, badge("A"))

	if lookup.checks != 3 || lookup.reloads != 3 {
		t.Errorf("expected 3 checks and reloads in READY and PROCESSING, got %d/%d",
			lookup.checks, lookup.reloads)
	}
}

func TestScan_SnapshotCarriesStoreStatus(t *testing.T) {
	lookup := &fakeLookup{records: map[string]types.CredentialRecord{"A": {ID: "A"}, "B": {ID: "B"}}}
	h := newHarness(t, lookup)

	snap := h.ctl.Step(context.Background(), blank())
	if snap.Records != 2 || snap.ReloadIn != time.Second {
		t.Errorf("expected records=2 reloadIn=1s, got %d/%v", snap.Records, snap.ReloadIn)
	}
	if !snap.At.Equal(start) {
		t.Errorf("expected snapshot time %v, got %v", start, snap.At)
	}
}

// ── Run loop and camera recovery ────────────────────────────────────

// sequenceOpener hands out prepared sources in order; once exhausted
// every open fails.
type sequenceOpener struct {
	mu      sync.Mutex
	sources []camera.FrameSource
	opened  []camera.FrameSource
}

func (o *sequenceOpener) open(int) (camera.FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sources) == 0 {
		return nil, errors.New("no such device")
	}
	src := o.sources[0]
	o.sources = o.sources[1:]
	o.opened = append(o.opened, src)
	return src, nil
}

func runController(t *testing.T, opener *sequenceOpener, presenter service.Presenter) (*memory.AuditSink, error) {
	t.Helper()
	audit := memory.NewAuditSink()
	lookup := &fakeLookup{records: map[string]types.CredentialRecord{"ABC123": {ID: "ABC123"}}}
	ctl := service.NewScanController(service.ScanDependencies{
		Store:     lookup,
		Decoder:   &fakeDecoder{},
		Audit:     audit,
		Presenter: presenter,
		Camera: camera.Recovery{
			Open:    opener.open,
			Indices: []int{0},
			Backoff: time.Millisecond,
			Clock:   clock.Real(),
		},
		Logger: silentLogger(),
	}, service.ScanConfig{})
	return audit, ctl.Run(contextFor(t, presenter))
}

// cancelOn is a presenter that cancels the run once cond holds.
type cancelOn struct {
	cond   func(types.Snapshot) bool
	cancel context.CancelFunc
	seen   []types.Snapshot
}

func (c *cancelOn) Present(s types.Snapshot) {
	c.seen = append(c.seen, s)
	if c.cond(s) {
		c.cancel()
	}
}

func contextFor(t *testing.T, p service.Presenter) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if c, ok := p.(*cancelOn); ok {
		c.cancel = cancel
	}
	return ctx
}

func TestRun_NoOpenerConfigured(t *testing.T) {
	ctl := service.NewScanController(service.ScanDependencies{Store: &fakeLookup{}, Decoder: &fakeDecoder{}}, service.ScanConfig{})
	if err := ctl.Run(context.Background()); !errors.Is(err, service.ErrNoFrameSource) {
		t.Fatalf("expected ErrNoFrameSource, got %v", err)
	}
}

func TestRun_NoCameraAtStartupIsFatal(t *testing.T) {
	_, err := runController(t, &sequenceOpener{}, nil)
	if !errors.Is(err, camera.ErrNoCamera) {
		t.Fatalf("expected ErrNoCamera, got %v", err)
	}
}

func TestRun_ScansUntilCancelled(t *testing.T) {
	src := camera.NewScriptedSource(camera.Step{Frame: blank()})
	src.Repeat = &camera.Step{Frame: badge("ABC123")}
	opener := &sequenceOpener{sources: []camera.FrameSource{src}}
	p := &cancelOn{cond: func(s types.Snapshot) bool { return s.State == types.StateProcessing }}

	audit, err := runController(t, opener, p)
	if err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
	if n := len(audit.Entries()); n != 1 {
		t.Errorf("expected 1 audit entry, got %d", n)
	}
	if src.IsOpen() {
		t.Error("expected device released on exit")
	}
	last := p.seen[len(p.seen)-1]
	if !last.CameraOnline || last.CameraIndex != 0 {
		t.Errorf("expected camera 0 online, got %+v", last)
	}
}

func TestRun_RecoversFromReadFailure(t *testing.T) {
	first := camera.NewScriptedSource(
		camera.Step{Frame: blank()},
		camera.Step{Err: errors.New("usb unplugged")},
	)
	second := camera.NewScriptedSource(camera.Step{Frame: blank()})
	second.Repeat = &camera.Step{Frame: badge("ABC123")}
	opener := &sequenceOpener{sources: []camera.FrameSource{first, second}}
	p := &cancelOn{cond: func(s types.Snapshot) bool { return s.State == types.StateProcessing }}

	audit, err := runController(t, opener, p)
	if err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
	if first.IsOpen() || second.IsOpen() {
		t.Error("expected both devices released")
	}
	if n := len(audit.Entries()); n != 1 {
		t.Errorf("expected scanning to resume after recovery, got %d entries", n)
	}

	sawOffline := false
	for _, s := range p.seen {
		if !s.CameraOnline {
			sawOffline = true
		}
	}
	if !sawOffline {
		t.Error("expected an offline snapshot during recovery")
	}
}

func TestRun_RecoveryExhaustedIsFatal(t *testing.T) {
	only := camera.NewScriptedSource(
		camera.Step{Frame: blank()},
		camera.Step{Err: errors.New("usb unplugged")},
	)
	opener := &sequenceOpener{sources: []camera.FrameSource{only}}

	_, err := runController(t, opener, nil)
	if !errors.Is(err, camera.ErrNoCamera) {
		t.Fatalf("expected ErrNoCamera after failed recovery, got %v", err)
	}
	if only.IsOpen() {
		t.Error("expected failed device released")
	}
}
