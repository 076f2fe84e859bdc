//go:build !linux || !cgo

package camera

import (
	"errors"
	"fmt"
)

type Format struct {
	Width  uint32
	Height uint32
	FPS    uint32
}

var DefaultFormat = Format{Width: 1280, Height: 720, FPS: 30}

var errUnsupported = errors.New("video capture is only supported on linux")

// V4L2Opener always fails outside Linux.
func V4L2Opener(Format) Opener {
	return func(index int) (FrameSource, error) {
		return nil, fmt.Errorf("/dev/video%d: %w", index, errUnsupported)
	}
}
