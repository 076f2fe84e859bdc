package service

import (
	"sync"

	"github.com/upic/reader/internal/upic/types"
)

// StatusBoard keeps the most recent controller snapshot for readers on
// other goroutines (the admin API). It implements Presenter.
type StatusBoard struct {
	mu      sync.RWMutex
	latest  types.Snapshot
	seen    bool
	updates uint64
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{}
}

func (b *StatusBoard) Present(snap types.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = snap
	b.seen = true
	b.updates++
}

// Latest returns the last snapshot and false if none has been published.
func (b *StatusBoard) Latest() (types.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.seen
}

// Updates is the number of snapshots published so far.
func (b *StatusBoard) Updates() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updates
}
