package harness

import (
	"context"
	"sync"
	"time"

	"github.com/10and01/vmsim/simulator"
	"github.com/rs/xid"
)

// run is the state of one Start: fresh allocator, processes and coordination
// channels. The allocator and processes lock themselves; mu guards the rest.
type run struct {
	id        xid.ID
	config    simulator.SimConfig
	alloc     *simulator.FrameAllocator
	processes []*simulator.Process
	grants    []chan struct{} // closed by the coordinator on admission
	gate      *PauseGate
	think     simulator.ThinkTime // stateless, shared by every process
	ctx       context.Context
	cancel    context.CancelFunc
	wake      chan struct{} // a process released its frames
	done      chan struct{}
	started   time.Time

	mu        sync.Mutex
	metrics   *simulator.Metrics
	ticks     int
	err       error
	cancelled bool
	ended     time.Time
}

func newRun(parent context.Context, config simulator.SimConfig) *run {
	ctx, cancel := context.WithCancel(parent)
	r := &run{
		id:        xid.New(),
		config:    config,
		think:     simulator.NewThinkTime(config),
		alloc:     simulator.NewFrameAllocator(config.TotalFrames()),
		processes: make([]*simulator.Process, config.NumProcesses),
		grants:    make([]chan struct{}, config.NumProcesses),
		gate:      NewPauseGate(),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		started:   time.Now(),
		metrics:   simulator.NewMetrics(),
	}
	for i := range r.processes {
		r.processes[i] = simulator.NewProcess(simulator.ProcessID(i), config)
		r.grants[i] = make(chan struct{})
	}
	return r
}

// sample records one coordinator tick
func (r *run) sample() {
	u := r.alloc.Utilization()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
	r.metrics.RecordUtilization(u)
}

func (r *run) finish() {
	r.mu.Lock()
	r.ended = time.Now()
	r.mu.Unlock()
	r.cancel()
	close(r.done)
}

func (r *run) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// setErr keeps the first fatal error and reports whether err was it
func (r *run) setErr(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false
	}
	r.err = err
	return true
}

func (r *run) getErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *run) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *run) allFinished() bool {
	for _, p := range r.processes {
		if p.State() != simulator.ProcessFinished {
			return false
		}
	}
	return true
}

// result is the outcome of a run that has ended
func (r *run) result() error {
	if err := r.getErr(); err != nil {
		return err
	}
	if !r.allFinished() {
		return simulator.ErrCancelled
	}
	return nil
}

func (r *run) elapsedMs() float64 {
	r.mu.Lock()
	ended := r.ended
	r.mu.Unlock()
	if ended.IsZero() {
		return float64(time.Since(r.started)) / float64(time.Millisecond)
	}
	return float64(ended.Sub(r.started)) / float64(time.Millisecond)
}

func (r *run) snapshot() simulator.Snapshot {
	procs := make([]simulator.ProcessStatus, len(r.processes))
	for i, p := range r.processes {
		procs[i] = p.Status()
	}
	frames := r.alloc.Frames()
	finished := r.allFinished()
	elapsed := r.elapsedMs()

	r.mu.Lock()
	defer r.mu.Unlock()
	return simulator.Snapshot{
		Tick:          r.ticks,
		VirtualTimeMs: elapsed,
		Algorithm:     r.config.Algorithm,
		Paused:        r.gate.IsPaused(),
		Finished:      finished,
		Cancelled:     r.cancelled || (r.isDone() && !finished && r.err == nil),
		Utilization:   r.alloc.Utilization(),
		FrameSummary:  simulator.SummarizeFrames(frames),
		Frames:        frames,
		Processes:     procs,
		Statistics:    r.metrics.Statistics(procs),
	}
}
