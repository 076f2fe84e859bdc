package display

import (
	"github.com/upic/reader/internal/upic/service"
	"github.com/upic/reader/internal/upic/types"
)

// Multi fans a snapshot out to several presenters in order. Nil entries
// are skipped.
type Multi []service.Presenter

func (m Multi) Present(s types.Snapshot) {
	for _, p := range m {
		if p != nil {
			p.Present(s)
		}
	}
}
