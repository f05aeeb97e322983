package harness

import (
	"context"
	"sync"
)

// PauseGate is a broadcast pause token. Units call Wait between steps; while the
// gate is paused they block until Resume closes the shared channel, which wakes all
// of them at once.
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{} // closed on Resume, nil while open
}

// NewPauseGate creates an open gate
func NewPauseGate() *PauseGate {
	return &PauseGate{}
}

func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
		g.resume = nil
	}
}

func (g *PauseGate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns immediately when the gate is open. Otherwise it blocks until the gate
// is resumed or ctx is done, in which case ctx.Err() is returned.
func (g *PauseGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.paused {
			g.mu.Unlock()
			return ctx.Err()
		}
		ch := g.resume
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
