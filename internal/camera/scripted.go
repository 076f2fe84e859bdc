package camera

import (
	"context"
	"image"
	"sync"
)

// ScriptedSource replays a fixed sequence of frames and errors. It is
// intended for tests and for dry runs without a device.
type ScriptedSource struct {
	mu     sync.Mutex
	steps  []Step
	pos    int
	closed bool
	reads  int

	// Repeat, when set, is returned once the script is exhausted.
	// Otherwise an exhausted script yields ErrDeviceClosed.
	Repeat *Step
}

// Step is one scripted NextFrame result.
type Step struct {
	Frame image.Image
	Err   error
}

func NewScriptedSource(steps ...Step) *ScriptedSource {
	return &ScriptedSource{steps: steps}
}

// Frames is a convenience for a script of successful reads.
func Frames(frames ...image.Image) []Step {
	out := make([]Step, len(frames))
	for i, f := range frames {
		out[i] = Step{Frame: f}
	}
	return out
}

func (s *ScriptedSource) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDeviceClosed
	}
	s.reads++
	if s.pos >= len(s.steps) {
		if s.Repeat != nil {
			return s.Repeat.Frame, s.Repeat.Err
		}
		return nil, ErrDeviceClosed
	}
	st := s.steps[s.pos]
	s.pos++
	return st.Frame, st.Err
}

func (s *ScriptedSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reads returns how many times NextFrame was called.
func (s *ScriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
