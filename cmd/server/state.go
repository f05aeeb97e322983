package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/10and01/vmsim/harness"
	"github.com/10and01/vmsim/simulator"
)

// simState owns the harness shared by every client. Each config update replaces
// the harness; events of the current harness are fanned out to subscribers.
type simState struct {
	ctx     context.Context
	logger  *slog.Logger
	metrics *promMetrics
	opts    []harness.Option

	mu     sync.Mutex
	config simulator.SimConfig
	h      *harness.Harness

	subsMu sync.Mutex
	subs   map[chan simulator.Event]struct{}
}

func newSimState(ctx context.Context, config simulator.SimConfig, logger *slog.Logger,
	metrics *promMetrics, opts ...harness.Option) (*simState, error) {
	s := &simState{
		ctx:     ctx,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		subs:    make(map[chan simulator.Event]struct{}),
	}
	h, err := s.newHarness(config)
	if err != nil {
		return nil, err
	}
	s.config = config
	s.h = h
	return s, nil
}

func (s *simState) newHarness(config simulator.SimConfig) (*harness.Harness, error) {
	opts := []harness.Option{
		harness.WithLogger(s.logger),
		harness.WithEventSink(s),
		harness.WithEventBuffer(0), // subscribers get events through Publish
	}
	return harness.New(config, append(opts, s.opts...)...)
}

func (s *simState) current() *harness.Harness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

// start launches a run with alg, replacing a run that already ended
func (s *simState) start(alg simulator.Algorithm) error {
	h := s.current()
	if err := h.Start(s.ctx, alg); err != nil {
		return err
	}
	s.logger.Info("simulation started", "algorithm", alg.String(), "run", h.RunID())

	go func() {
		err := h.Wait()
		s.metrics.update(h.Snapshot())
		if err != nil {
			s.logger.Warn("simulation stopped", "run", h.RunID(), "err", err)
			return
		}
		s.logger.Info("simulation finished", "run", h.RunID())
	}()
	return nil
}

func (s *simState) pause()  { s.current().Pause() }
func (s *simState) resume() { s.current().Resume() }
func (s *simState) cancel() { s.current().Cancel() }

func (s *simState) reset() error {
	return s.current().Reset()
}

// updateConfig validates config, stops the current run and swaps in a new harness
func (s *simState) updateConfig(config simulator.SimConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	h, err := s.newHarness(config)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.h
	s.h = h
	s.config = config
	s.mu.Unlock()

	return old.Reset()
}

func (s *simState) getConfig() simulator.SimConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// isRunning reports whether a run was started and has not ended
func (s *simState) isRunning() bool {
	h := s.current()
	if h.RunID() == "" {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}

func (s *simState) snapshot() simulator.Snapshot {
	snap := s.current().Snapshot()
	s.metrics.update(snap)
	return snap
}

// Publish implements harness.EventSink. Slow subscribers lose events.
func (s *simState) Publish(e simulator.Event) {
	s.metrics.observe(e)

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *simState) subscribe(buffer int) (<-chan simulator.Event, func()) {
	ch := make(chan simulator.Event, buffer)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}
}
