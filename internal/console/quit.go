// Package console handles the operator's terminal: the quit key and the
// raw-mode line endings that come with it.
package console

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const ctrlC = 0x03

// WatchQuit cancels when q, Q or Ctrl-C is read from in. It returns when
// that happens, when ctx is done, or when in is exhausted.
func WatchQuit(ctx context.Context, in io.Reader, cancel context.CancelFunc) {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if n == 1 {
				select {
				case keys <- buf[0]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-keys:
			if !ok {
				return
			}
			if k == 'q' || k == 'Q' || k == ctrlC {
				cancel()
				return
			}
		}
	}
}

// RawMode switches f into raw mode so single key presses are delivered
// without Enter. The returned restore func is safe to call more than
// once. When f is not a terminal, raw is false and restore does nothing.
func RawMode(f *os.File) (restore func(), raw bool, err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, false, err
	}
	var once sync.Once
	return func() { once.Do(func() { _ = term.Restore(fd, old) }) }, true, nil
}

// CRLFWriter translates \n to \r\n, for writing to a terminal in raw
// mode. Existing \r\n pairs are left alone.
type CRLFWriter struct {
	mu sync.Mutex
	W  io.Writer
}

func (c *CRLFWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]byte, 0, len(p)+bytes.Count(p, []byte{'\n'}))
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.W.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
