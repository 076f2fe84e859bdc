//go:build linux && cgo

package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// Format is the capture format requested when a device is opened.
type Format struct {
	Width  uint32
	Height uint32
	FPS    uint32
}

// DefaultFormat matches what badge scanning needs: enough resolution for
// small QR codes at arm's length.
var DefaultFormat = Format{Width: 1280, Height: 720, FPS: 30}

// V4L2Opener returns an Opener for /dev/videoN devices streaming MJPEG.
func V4L2Opener(f Format) Opener {
	return func(index int) (FrameSource, error) {
		return openV4L2(fmt.Sprintf("/dev/video%d", index), f)
	}
}

type v4l2Source struct {
	path   string
	dev    *device.Device
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func openV4L2(path string, f Format) (*v4l2Source, error) {
	dev, err := device.Open(path,
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       f.Width,
			Height:      f.Height,
		}),
		device.WithFPS(f.FPS),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(ctx); err != nil {
		cancel()
		_ = dev.Close()
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	return &v4l2Source{path: path, dev: dev, cancel: cancel}, nil
}

func (s *v4l2Source) NextFrame(ctx context.Context) (image.Image, error) {
	if !s.IsOpen() {
		return nil, ErrDeviceClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-s.dev.GetOutput():
		if !ok {
			return nil, fmt.Errorf("%s: stream ended", s.path)
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, fmt.Errorf("%s: decode frame: %w", s.path, err)
		}
		return img, nil
	}
}

func (s *v4l2Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *v4l2Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.dev.Close()
}
