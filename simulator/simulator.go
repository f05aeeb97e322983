package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
)

// Simulator is a PURE tick-driven simulator with NO concurrency primitives.
// All state is advanced single-threaded via the Step() method.
// The caller (cmd/server, sim_runner, the integration model) manages pacing and threading.
type Simulator struct {
	config      SimConfig
	alloc       *FrameAllocator
	processes   []*Process         // indexed by ProcessID
	generators  []AddressGenerator // indexed by ProcessID
	waiting     []*Process         // admission queue in request order
	metrics     *Metrics
	queue       *EventQueue // orders the accesses of one tick by think time
	think       ThinkTime
	rng         *rand.Rand // think times
	tick        int
	virtualTime float64 // milliseconds
	paused      bool
	cancelled   bool
	err         error // first fatal error, returned by every later Step
	logger      *slog.Logger

	// Event callbacks (optional, for UI/recording)
	OnEvent    func(Event)
	LogEvent   func(msg string)
	OnSnapshot func(Snapshot)
}

// NewSimulator creates a simulator with every process Waiting
func NewSimulator(config SimConfig) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rng := NewRand(config.RandomSeed)
	sim := &Simulator{
		config:     config,
		alloc:      NewFrameAllocator(config.TotalFrames()),
		processes:  make([]*Process, config.NumProcesses),
		generators: ProcessGenerators(config, rng),
		waiting:    make([]*Process, 0, config.NumProcesses),
		metrics:    NewMetrics(),
		queue:      NewEventQueue(),
		think:      NewThinkTime(config),
		rng:        rng,
		logger:     defaultLogger(),
	}
	for i := range sim.processes {
		p := NewProcess(ProcessID(i), config)
		sim.processes[i] = p
		sim.waiting = append(sim.waiting, p)
	}
	return sim, nil
}

// Step advances the simulation by one scheduling tick:
//  1. admit Waiting processes in request order while contiguous frames fit
//  2. every Running process performs exactly one access, ordered by think time
//  3. processes that issued their last access release their frames
//  4. a utilization sample is recorded and a snapshot published
//
// This is the ONLY method that advances the simulation. It is a no-op while paused
// or finished. A fatal error stops the run and is returned again by every later call.
func (s *Simulator) Step() error {
	if s.err != nil {
		return s.err
	}
	if s.cancelled {
		return ErrCancelled
	}
	if s.paused || s.IsFinished() {
		return nil
	}

	s.tick++
	if err := s.admitWaiting(); err != nil {
		return s.fail(err)
	}
	if err := s.runAccesses(); err != nil {
		return s.fail(err)
	}
	if err := s.recycleFinished(); err != nil {
		return s.fail(err)
	}

	s.metrics.RecordUtilization(s.alloc.Utilization())
	if s.OnSnapshot != nil {
		s.OnSnapshot(s.Snapshot())
	}

	if s.IsFinished() {
		stats := s.Statistics()
		s.logEvent("[t=%.1fms] DONE after %d ticks: %d accesses, %d faults (fault rate %.2f%%, peak utilization %.1f%%)",
			s.virtualTime, s.tick, stats.TotalAccesses, stats.TotalFaults, stats.FaultRate*100, stats.PeakUtilization*100)
	}
	return nil
}

// admitWaiting tries every Waiting process once, in request order. A process that
// does not fit keeps its place in the queue.
func (s *Simulator) admitWaiting() error {
	remaining := make([]*Process, 0, len(s.waiting))
	for _, p := range s.waiting {
		err := p.TryAdmit(s.alloc, s.config.Algorithm)
		if errors.Is(err, ErrAdmissionDeferred) {
			remaining = append(remaining, p)
			continue
		}
		if err != nil {
			return err
		}

		frames := p.Status().OwnedFrames
		s.emit(NewAdmissionEvent(s.virtualTime, p.ID(), frames))
		s.logEvent("[t=%.1fms] ADMIT process %d: frames %d-%d (%d page table + %d data)",
			s.virtualTime, p.ID(), frames[0], frames[len(frames)-1], s.config.PageTableFrames, s.config.DataFramesPerProcess)
	}
	s.waiting = remaining
	return nil
}

// runAccesses schedules one access per Running process at now + think time and
// performs them in completion order. The virtual clock ends at the latest completion.
func (s *Simulator) runAccesses() error {
	start := s.virtualTime
	for _, p := range s.processes {
		if p.State() != ProcessRunning || p.Done() {
			continue
		}
		s.queue.Push(NewAccessEvent(start+s.think.SampleMs(s.rng), p.ID()))
	}

	for !s.queue.IsEmpty() {
		ev, ok := s.queue.Pop().(*AccessEvent)
		if !ok {
			continue
		}
		pid := ev.ProcessID()
		res, err := s.processes[pid].Step(s.generators[pid])
		if err != nil {
			return err
		}
		ev.complete(res)
		s.virtualTime = ev.Timestamp()
		s.emit(ev)

		if s.logger.Enabled(context.Background(), slog.LevelDebug) {
			s.logger.Debug("access", "tick", s.tick, "event", ev.String())
		}
	}
	return nil
}

// recycleFinished releases the frames of processes that issued their last access
func (s *Simulator) recycleFinished() error {
	for _, p := range s.processes {
		if p.State() != ProcessRunning || !p.Done() {
			continue
		}
		if err := p.Finish(s.alloc); err != nil {
			return err
		}
		status := p.Status()
		s.emit(NewCompletionEvent(s.virtualTime, p.ID(), status.Accesses, status.Faults))
		s.logEvent("[t=%.1fms] FINISH process %d: %d accesses, %d faults (fault rate %.2f%%)",
			s.virtualTime, p.ID(), status.Accesses, status.Faults, status.FaultRate*100)
	}
	return nil
}

func (s *Simulator) fail(err error) error {
	s.err = err
	s.logger.Error("simulation aborted", "tick", s.tick, "err", err)
	s.logEvent("[t=%.1fms] ABORTED: %v", s.virtualTime, err)
	return err
}

func (s *Simulator) emit(e Event) {
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
}

// Run steps until every process has finished. maxTicks > 0 bounds the total tick count.
func (s *Simulator) Run(maxTicks int) error {
	for !s.IsFinished() {
		if s.paused {
			return SimError{Message: "run on a paused simulation"}
		}
		if maxTicks > 0 && s.tick >= maxTicks {
			return SimError{Message: fmt.Sprintf("not finished after %d ticks", maxTicks)}
		}
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets the simulation to its initial state with the same configuration
func (s *Simulator) Reset() error {
	// Create a fresh simulator using the same config
	newSim, err := NewSimulator(s.config)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	// Preserve callbacks and logger
	onEvent, logEvent, onSnapshot, logger := s.OnEvent, s.LogEvent, s.OnSnapshot, s.logger

	*s = *newSim

	s.OnEvent, s.LogEvent, s.OnSnapshot, s.logger = onEvent, logEvent, onSnapshot, logger
	return nil
}

// Start resets the simulation to run with alg
func (s *Simulator) Start(alg Algorithm) error {
	s.config.Algorithm = alg
	if err := s.Reset(); err != nil {
		return err
	}
	s.logEvent("[t=0.0ms] START %s: %d processes, %d frames, quota %d frames",
		alg, s.config.NumProcesses, s.config.TotalFrames(), s.config.FramesPerProcess())
	return nil
}

// UpdateConfig validates newConfig and restarts the simulation with it
func (s *Simulator) UpdateConfig(newConfig SimConfig) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}
	s.config = newConfig
	return s.Reset()
}

// Pause stops tick progression until Resume
func (s *Simulator) Pause() {
	s.paused = true
}

func (s *Simulator) Resume() {
	s.paused = false
}

// Cancel ends the run. Statistics gathered so far stay available.
func (s *Simulator) Cancel() {
	if !s.cancelled && !s.IsFinished() {
		s.logEvent("[t=%.1fms] CANCELLED at tick %d", s.virtualTime, s.tick)
	}
	s.cancelled = true
}

// SetAddressGenerator replaces the address source of one process
func (s *Simulator) SetAddressGenerator(pid ProcessID, gen AddressGenerator) error {
	if pid < 0 || int(pid) >= len(s.generators) {
		return ErrInvalidConfig("processId", fmt.Sprintf("no process %d", pid))
	}
	s.generators[pid] = gen
	return nil
}

// SetLogger replaces the structured logger
func (s *Simulator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// IsFinished reports whether every process has finished
func (s *Simulator) IsFinished() bool {
	for _, p := range s.processes {
		if p.State() != ProcessFinished {
			return false
		}
	}
	return true
}

func (s *Simulator) IsPaused() bool         { return s.paused }
func (s *Simulator) IsCancelled() bool      { return s.cancelled }
func (s *Simulator) Err() error             { return s.err }
func (s *Simulator) Config() SimConfig      { return s.config }
func (s *Simulator) Tick() int              { return s.tick }
func (s *Simulator) VirtualTimeMs() float64 { return s.virtualTime }

// Allocator exposes the frame arena (read-only use)
func (s *Simulator) Allocator() *FrameAllocator {
	return s.alloc
}

// Frames returns a copy of the frame table
func (s *Simulator) Frames() []Frame {
	return s.alloc.Frames()
}

// Process returns the process with id pid, or nil
func (s *Simulator) Process(pid ProcessID) *Process {
	if pid < 0 || int(pid) >= len(s.processes) {
		return nil
	}
	return s.processes[pid]
}

// Processes returns the status of every process ordered by id
func (s *Simulator) Processes() []ProcessStatus {
	statuses := make([]ProcessStatus, len(s.processes))
	for i, p := range s.processes {
		statuses[i] = p.Status()
	}
	return statuses
}

// WaitingQueue returns the ids of Waiting processes in admission order
func (s *Simulator) WaitingQueue() []ProcessID {
	ids := make([]ProcessID, len(s.waiting))
	for i, p := range s.waiting {
		ids[i] = p.ID()
	}
	return ids
}

// PageTable returns a copy of the page table of pid (-1 = unmapped).
// Returns false unless the process is Running.
func (s *Simulator) PageTable(pid ProcessID) ([]int, bool) {
	p := s.Process(pid)
	if p == nil {
		return nil, false
	}
	return p.PageTable()
}

// Metrics returns a copy of the utilization history
func (s *Simulator) Metrics() *Metrics {
	return s.metrics.Clone()
}

// Statistics returns the aggregate statistics so far
func (s *Simulator) Statistics() Statistics {
	return s.metrics.Statistics(s.Processes())
}

// Snapshot returns the observable state after the last tick
func (s *Simulator) Snapshot() Snapshot {
	frames := s.alloc.Frames()
	procs := s.Processes()
	return Snapshot{
		Tick:          s.tick,
		VirtualTimeMs: s.virtualTime,
		Algorithm:     s.config.Algorithm,
		Paused:        s.paused,
		Finished:      s.IsFinished(),
		Cancelled:     s.cancelled,
		Utilization:   s.alloc.Utilization(),
		FrameSummary:  SummarizeFrames(frames),
		Frames:        frames,
		Processes:     procs,
		Statistics:    s.metrics.Statistics(procs),
	}
}

// CheckInvariants verifies the frame arena against the process table:
// occupied frames equal the quotas of admitted unfinished processes, every frame
// has an owner iff it is occupied, no page table aliases a frame, and replacement
// state tracks exactly the resident pages.
func (s *Simulator) CheckInvariants() error {
	return CheckInvariants(s.alloc, s.processes)
}

// CheckInvariants is the allocator/process consistency check shared with the harness
func CheckInvariants(alloc *FrameAllocator, processes []*Process) error {
	frames := alloc.Frames()
	occupied := 0
	for _, f := range frames {
		if f.Occupied != (f.Owner != NoOwner) {
			return invariantf(f.Owner, -1, "frame %d occupied=%v with owner %d", f.Index, f.Occupied, f.Owner)
		}
		if f.Occupied {
			occupied++
		}
	}

	owned := 0
	for _, p := range processes {
		status := p.Status()
		if status.State == ProcessFinished {
			continue
		}
		owned += len(status.OwnedFrames)
		for _, idx := range status.OwnedFrames {
			if frames[idx].Owner != p.ID() {
				return invariantf(p.ID(), -1, "owned frame %d belongs to %d", idx, frames[idx].Owner)
			}
		}

		vmu := p.VMU()
		if vmu == nil {
			continue
		}
		seen := make(map[int]int)
		for vp, frame := range vmu.PageTable().Entries() {
			if frame == unmapped {
				continue
			}
			if other, ok := seen[frame]; ok {
				return invariantf(p.ID(), vp, "frame %d also holds virtual page %d", frame, other)
			}
			seen[frame] = vp
		}
		tracked := vmu.Engine().Resident()
		if len(tracked) != len(seen) {
			return invariantf(p.ID(), -1, "replacement tracks %d pages, %d resident", len(tracked), len(seen))
		}
		for _, vp := range tracked {
			if _, ok := vmu.PageTable().Lookup(vp); !ok {
				return invariantf(p.ID(), vp, "replacement tracks a page that is not resident")
			}
		}
	}

	if occupied != owned {
		return invariantf(NoOwner, -1, "%d frames occupied, processes own %d", occupied, owned)
	}
	return nil
}

// logEvent sends a log message to the structured logger and the UI (if callback is set)
func (s *Simulator) logEvent(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Info(msg)
	if s.LogEvent != nil {
		s.LogEvent(msg)
	}
}
