// Package harness runs the simulated processes concurrently: one goroutine per
// process plus a coordinator that admits Waiting processes in request order as
// frames become free. It shares every memory component with the simulator package.
package harness

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/10and01/vmsim/simulator"
)

// EventSink receives every event of a run. Publish is called from the process and
// coordinator goroutines and must be safe for concurrent use.
type EventSink interface {
	Publish(e simulator.Event)
}

// SleepFunc models think time. It must return ctx.Err() once ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	generators   func(pid simulator.ProcessID) simulator.AddressGenerator
	tickInterval time.Duration
	eventBuffer  int
	sleep        SleepFunc
	logger       *slog.Logger
	sink         EventSink
}

// Option configures a Harness
type Option func(*options)

// WithAddressGenerator overrides the address source of each process
func WithAddressGenerator(fn func(pid simulator.ProcessID) simulator.AddressGenerator) Option {
	return func(o *options) { o.generators = fn }
}

// WithTickInterval sets how often the coordinator retries admission
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

// WithEventBuffer sets the capacity of the Events channel
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithSleep replaces the think-time sleep
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventSink forwards every event to sink in addition to the Events channel
func WithEventSink(sink EventSink) Option {
	return func(o *options) { o.sink = sink }
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Harness owns the runs of one configuration. Control methods are safe for
// concurrent use.
type Harness struct {
	config  simulator.SimConfig
	opts    options
	events  chan simulator.Event
	dropped atomic.Int64

	mu  sync.Mutex
	run *run // current or last run, nil before Start and after Reset
}

// New validates config and creates an idle harness
func New(config simulator.SimConfig, opts ...Option) (*Harness, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := options{
		tickInterval: time.Duration(config.TickIntervalMs * float64(time.Millisecond)),
		eventBuffer:  1024,
		sleep:        sleepContext,
		logger:       simulator.NewLogger("warn", nil),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tickInterval <= 0 {
		o.tickInterval = time.Millisecond
	}
	if o.eventBuffer < 0 {
		o.eventBuffer = 0
	}

	return &Harness{
		config: config,
		opts:   o,
		events: make(chan simulator.Event, o.eventBuffer),
	}, nil
}

// Start launches a run with alg. It fails if a run is still in progress.
func (h *Harness) Start(ctx context.Context, alg simulator.Algorithm) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run != nil && !h.run.isDone() {
		return simulator.SimError{Message: "a run is already in progress"}
	}

	config := h.config
	config.Algorithm = alg
	r := newRun(ctx, config)
	h.run = r

	master := simulator.NewRand(config.RandomSeed)
	gens := simulator.ProcessGenerators(config, master)
	if h.opts.generators != nil {
		for i := range gens {
			gens[i] = h.opts.generators(simulator.ProcessID(i))
		}
	}

	h.opts.logger.Info("run started", "run", r.id.String(), "algorithm", alg.String(),
		"processes", config.NumProcesses, "frames", config.TotalFrames())

	var wg sync.WaitGroup
	for i, p := range r.processes {
		wg.Add(1)
		rng := rand.New(rand.NewSource(master.Int63()))
		go func(p *simulator.Process, gen simulator.AddressGenerator, rng *rand.Rand) {
			defer wg.Done()
			h.runProcess(r, p, gen, rng)
		}(p, gens[i], rng)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.coordinate(r)
	}()

	go func() {
		wg.Wait()
		r.finish()
		h.opts.logger.Info("run ended", "run", r.id.String(), "err", r.result())
	}()
	return nil
}

// runProcess is the execution unit of one process: wait for admission, then
// alternate think time and accesses until done, then release the frames.
func (h *Harness) runProcess(r *run, p *simulator.Process, gen simulator.AddressGenerator, rng *rand.Rand) {
	select {
	case <-r.grants[p.ID()]:
	case <-r.ctx.Done():
		return
	}

	for !p.Done() {
		if r.gate.Wait(r.ctx) != nil {
			return
		}
		think := time.Duration(r.think.SampleMs(rng) * float64(time.Millisecond))
		if h.opts.sleep(r.ctx, think) != nil {
			return
		}
		if r.gate.Wait(r.ctx) != nil {
			return
		}

		res, err := p.Step(gen)
		if err != nil {
			h.fail(r, err)
			return
		}
		h.publish(simulator.NewCompletedAccessEvent(r.elapsedMs(), p.ID(), res))
	}

	if err := p.Finish(r.alloc); err != nil {
		h.fail(r, err)
		return
	}
	status := p.Status()
	h.publish(simulator.NewCompletionEvent(r.elapsedMs(), p.ID(), status.Accesses, status.Faults))
	h.opts.logger.Info("process finished", "run", r.id.String(), "pid", int(p.ID()),
		"accesses", status.Accesses, "faults", status.Faults)

	// Released frames may admit a waiting process right away
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// coordinate admits Waiting processes in request order on every tick or release,
// and samples utilization, until every process has finished or the run stops.
func (h *Harness) coordinate(r *run) {
	ticker := time.NewTicker(h.opts.tickInterval)
	defer ticker.Stop()

	queue := append([]*simulator.Process(nil), r.processes...)
	for {
		if r.gate.Wait(r.ctx) != nil {
			return
		}

		var err error
		queue, err = h.admit(r, queue)
		if err != nil {
			h.fail(r, err)
			return
		}
		r.sample()
		if r.allFinished() {
			return
		}

		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

func (h *Harness) admit(r *run, queue []*simulator.Process) ([]*simulator.Process, error) {
	remaining := make([]*simulator.Process, 0, len(queue))
	for _, p := range queue {
		err := p.TryAdmit(r.alloc, r.config.Algorithm)
		if errors.Is(err, simulator.ErrAdmissionDeferred) {
			remaining = append(remaining, p)
			continue
		}
		if err != nil {
			return remaining, err
		}

		frames := p.Status().OwnedFrames
		close(r.grants[p.ID()])
		h.publish(simulator.NewAdmissionEvent(r.elapsedMs(), p.ID(), frames))
		h.opts.logger.Debug("process admitted", "run", r.id.String(), "pid", int(p.ID()), "frames", frames)
	}
	return remaining, nil
}

func (h *Harness) fail(r *run, err error) {
	if r.setErr(err) {
		h.opts.logger.Error("run aborted", "run", r.id.String(), "err", err)
	}
	r.cancel()
}

// publish never blocks: the event is dropped when the channel is full
func (h *Harness) publish(e simulator.Event) {
	if h.opts.sink != nil {
		h.opts.sink.Publish(e)
	}
	select {
	case h.events <- e:
	default:
		h.dropped.Add(1)
	}
}

func (h *Harness) current() *run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run
}

// Pause blocks every unit at its next pause check
func (h *Harness) Pause() {
	if r := h.current(); r != nil {
		r.gate.Pause()
	}
}

// Resume releases every paused unit at once
func (h *Harness) Resume() {
	if r := h.current(); r != nil {
		r.gate.Resume()
	}
}

// Cancel stops the current run. Statistics gathered so far stay available.
func (h *Harness) Cancel() {
	if r := h.current(); r != nil {
		r.markCancelled()
		r.cancel()
	}
}

// Reset cancels any run, waits for its goroutines and returns to the idle state
func (h *Harness) Reset() error {
	if r := h.current(); r != nil {
		h.Cancel()
		<-r.done
	}
	h.mu.Lock()
	h.run = nil
	h.mu.Unlock()
	return nil
}

// Wait blocks until the current run ends. It returns the fatal error of the run,
// simulator.ErrCancelled if the run stopped before every process finished, or nil.
func (h *Harness) Wait() error {
	r := h.current()
	if r == nil {
		return nil
	}
	<-r.done
	return r.result()
}

// Done is closed when the current run ends
func (h *Harness) Done() <-chan struct{} {
	if r := h.current(); r != nil {
		return r.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Err returns the fatal error of the current run, if any
func (h *Harness) Err() error {
	if r := h.current(); r != nil {
		return r.getErr()
	}
	return nil
}

// Events returns the event stream shared by every run
func (h *Harness) Events() <-chan simulator.Event {
	return h.events
}

// DroppedEvents counts events discarded because the channel was full
func (h *Harness) DroppedEvents() int64 {
	return h.dropped.Load()
}

// RunID identifies the current run, empty before Start
func (h *Harness) RunID() string {
	if r := h.current(); r != nil {
		return r.id.String()
	}
	return ""
}

func (h *Harness) Config() simulator.SimConfig {
	return h.config
}

// Snapshot returns the observable state of the current run
func (h *Harness) Snapshot() simulator.Snapshot {
	r := h.current()
	if r == nil {
		return idleSnapshot(h.config)
	}
	return r.snapshot()
}

// Statistics returns the aggregate statistics of the current run
func (h *Harness) Statistics() simulator.Statistics {
	return h.Snapshot().Statistics
}

// PageTable returns a copy of the page table of pid in the current run (-1 =
// unmapped). Returns false unless that process is Running. Safe to call while the
// run is in progress.
func (h *Harness) PageTable(pid simulator.ProcessID) ([]int, bool) {
	r := h.current()
	if r == nil || pid < 0 || int(pid) >= len(r.processes) {
		return nil, false
	}
	return r.processes[pid].PageTable()
}

// CheckInvariants verifies allocator and page-table consistency. Page tables are
// read without locks, so call it only once the run has ended.
func (h *Harness) CheckInvariants() error {
	r := h.current()
	if r == nil {
		return nil
	}
	return simulator.CheckInvariants(r.alloc, r.processes)
}

func idleSnapshot(config simulator.SimConfig) simulator.Snapshot {
	alloc := simulator.NewFrameAllocator(config.TotalFrames())
	procs := make([]simulator.ProcessStatus, config.NumProcesses)
	for i := range procs {
		procs[i] = simulator.NewProcess(simulator.ProcessID(i), config).Status()
	}
	frames := alloc.Frames()
	return simulator.Snapshot{
		Algorithm:    config.Algorithm,
		FrameSummary: simulator.SummarizeFrames(frames),
		Frames:       frames,
		Processes:    procs,
		Statistics:   simulator.NewMetrics().Statistics(procs),
	}
}
