package simulator

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ProcessID identifies a simulated process
type ProcessID int

// NoOwner is the owner of a free frame
const NoOwner ProcessID = -1

// ProcessState is the lifecycle state of a simulated process
type ProcessState int

const (
	ProcessWaiting  ProcessState = iota // Created, no frames granted yet
	ProcessRunning                      // Frames granted, issuing accesses
	ProcessFinished                     // Terminal, frames released
)

func (s ProcessState) String() string {
	switch s {
	case ProcessWaiting:
		return "waiting"
	case ProcessRunning:
		return "running"
	case ProcessFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ParseProcessState parses the String form of a ProcessState
func ParseProcessState(s string) (ProcessState, error) {
	switch s {
	case "waiting":
		return ProcessWaiting, nil
	case "running":
		return ProcessRunning, nil
	case "finished":
		return ProcessFinished, nil
	default:
		return ProcessWaiting, fmt.Errorf("invalid process state: %s", s)
	}
}

// MarshalJSON implements json.Marshaler for ProcessState
func (s ProcessState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler for ProcessState
func (s *ProcessState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseProcessState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ProcessStatus is a point-in-time view of one process
type ProcessStatus struct {
	ID          ProcessID    `json:"id"`
	State       ProcessState `json:"state"`
	Accesses    int          `json:"accesses"`
	Faults      int          `json:"faults"`
	Hits        int          `json:"hits"`
	FaultRate   float64      `json:"faultRate"`
	Remaining   int          `json:"remaining"`   // Accesses left before the process finishes
	OwnedFrames []int        `json:"ownedFrames"` // Empty unless Running
}

// Process drives one simulated process: Waiting until admitted, then a fixed number
// of accesses through its own VMU, then Finished.
//
// Only one caller drives Step at a time. mu guards the state, the counters and the
// VMU so a concurrent Status or PageTable call sees a consistent view.
type Process struct {
	id              ProcessID
	virtualPages    int
	pageSize        int
	pageTableFrames int
	dataFrames      int
	maxAccesses     int

	vmu *VMU

	mu       sync.Mutex
	state    ProcessState
	frames   []int
	accesses int
	faults   int
	hits     int
}

// NewProcess creates a Waiting process sized by config
func NewProcess(id ProcessID, config SimConfig) *Process {
	return &Process{
		id:              id,
		virtualPages:    config.VirtualPagesPerProcess,
		pageSize:        config.PageSizeBytes,
		pageTableFrames: config.PageTableFrames,
		dataFrames:      config.DataFramesPerProcess,
		maxAccesses:     config.AccessesPerProcess,
		state:           ProcessWaiting,
	}
}

func (p *Process) ID() ProcessID { return p.id }
func (p *Process) Quota() int    { return p.pageTableFrames + p.dataFrames }

// State returns the current lifecycle state
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TryAdmit asks alloc for the process's quota as one contiguous run. Returns
// ErrAdmissionDeferred when no run fits; the process then stays Waiting.
func (p *Process) TryAdmit(alloc *FrameAllocator, alg Algorithm) error {
	if p.State() != ProcessWaiting {
		return invariantf(p.id, -1, "admission requested in state %s", p.State())
	}
	frames, ok := alloc.TryAllocate(p.id, p.Quota(), p.pageTableFrames)
	if !ok {
		return ErrAdmissionDeferred
	}
	return p.Admit(frames, alloc, alg)
}

// Admit moves the process to Running over frames, which must already be allocated
// to it. The leading pageTableFrames frames hold the page table; the rest back the VMU.
func (p *Process) Admit(frames []int, alloc *FrameAllocator, alg Algorithm) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != ProcessWaiting {
		return invariantf(p.id, -1, "admission in state %s", p.state)
	}
	if len(frames) != p.Quota() {
		return invariantf(p.id, -1, "granted %d frames, quota is %d", len(frames), p.Quota())
	}

	p.frames = append([]int(nil), frames...)
	p.vmu = NewVMU(p.id, p.virtualPages, p.pageSize, p.frames[p.pageTableFrames:], NewReplacementEngine(alg), alloc)
	p.state = ProcessRunning
	return nil
}

// Step performs one access with an address drawn from gen
func (p *Process) Step(gen AddressGenerator) (AccessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.vmu == nil || p.accesses >= p.maxAccesses {
		return AccessResult{}, invariantf(p.id, -1, "step in state %s", p.state)
	}

	res, err := p.vmu.Access(gen.Next())
	if err != nil {
		return AccessResult{}, err
	}
	p.accesses++
	if res.Hit {
		p.hits++
	} else {
		p.faults++
	}
	return res, nil
}

// Done reports whether the process has issued all of its accesses
func (p *Process) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accesses >= p.maxAccesses
}

// Finish releases the owned frames and discards the page table and replacement
// state. Counters survive for statistics.
func (p *Process) Finish(alloc *FrameAllocator) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != ProcessRunning {
		return invariantf(p.id, -1, "finish in state %s", p.state)
	}
	if err := alloc.Release(p.id, p.frames); err != nil {
		return fmt.Errorf("finish process %d: %w", p.id, err)
	}
	p.frames = nil
	p.vmu = nil
	p.state = ProcessFinished
	return nil
}

// VMU returns the process's memory unit, nil unless Running
func (p *Process) VMU() *VMU {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vmu
}

// PageTable returns a copy of the page table (-1 = unmapped). Returns false
// unless the process is Running.
func (p *Process) PageTable() ([]int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vmu == nil {
		return nil, false
	}
	return p.vmu.PageTable().Entries(), true
}

// Status returns a snapshot of the process counters
func (p *Process) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProcessStatus{
		ID:          p.id,
		State:       p.state,
		Accesses:    p.accesses,
		Faults:      p.faults,
		Hits:        p.hits,
		FaultRate:   ratio(p.faults, p.accesses),
		Remaining:   p.maxAccesses - p.accesses,
		OwnedFrames: append([]int{}, p.frames...),
	}
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
