// Package camera abstracts the video device the reader scans badges with,
// including the release-and-reopen recovery used when the device drops out.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/upic/reader/internal/clock"
)

var (
	// ErrNoCamera means no tried device opened and produced a frame.
	ErrNoCamera = errors.New("no working camera found")
	// ErrDeviceClosed is returned by NextFrame after Close.
	ErrDeviceClosed = errors.New("camera device closed")
)

// DefaultIndices are the device indices tried, in order.
var DefaultIndices = []int{0, 1, 2}

// DefaultBackoff is the pause between releasing a failed device and
// probing again.
const DefaultBackoff = 2 * time.Second

// FrameSource is an open capture device.
type FrameSource interface {
	// NextFrame blocks until the next frame is available.
	NextFrame(ctx context.Context) (image.Image, error)
	IsOpen() bool
	Close() error
}

// Opener opens the device with the given index.
type Opener func(index int) (FrameSource, error)

// OpenFirst opens each index in order and returns the first device that both
// opens and yields a frame, together with its index and that first frame.
func OpenFirst(ctx context.Context, open Opener, indices []int, logger *slog.Logger) (FrameSource, int, error) {
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}

		src, err := open(idx)
		if err != nil {
			logger.Debug("camera open failed", "index", idx, "error", err)
			continue
		}
		if !src.IsOpen() {
			_ = src.Close()
			continue
		}
		if _, err := src.NextFrame(ctx); err != nil {
			logger.Debug("camera yielded no frame", "index", idx, "error", err)
			_ = src.Close()
			continue
		}

		logger.Info("camera connected", "index", idx)
		return src, idx, nil
	}
	return nil, -1, fmt.Errorf("%w (tried %v)", ErrNoCamera, indices)
}

// Recovery reopens a failed device: release, wait, scan the indices once. It is a
// bounded step with no retry loop of its own; a failed scan is final.
type Recovery struct {
	Open    Opener
	Indices []int
	Backoff time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Recover releases src (which may be nil), waits the backoff and scans
// for a working device. Cancelling ctx interrupts the wait.
func (r Recovery) Recover(ctx context.Context, src FrameSource) (FrameSource, int, error) {
	if src != nil {
		if err := src.Close(); err != nil {
			r.Logger.Debug("camera release failed", "error", err)
		}
	}

	backoff := r.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	select {
	case <-ctx.Done():
		return nil, -1, ctx.Err()
	case <-r.Clock.After(backoff):
	}

	indices := r.Indices
	if len(indices) == 0 {
		indices = DefaultIndices
	}
	return OpenFirst(ctx, r.Open, indices, r.Logger)
}
