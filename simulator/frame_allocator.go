package simulator

import (
	"encoding/json"
	"sync"
)

// FrameRole describes what a physical frame currently holds
type FrameRole int

const (
	FrameRoleFree      FrameRole = iota // Not allocated
	FrameRolePageTable                  // Holds a process's page table
	FrameRoleData                       // Holds (or may hold) a resident virtual page
)

func (r FrameRole) String() string {
	switch r {
	case FrameRoleFree:
		return "free"
	case FrameRolePageTable:
		return "page_table"
	case FrameRoleData:
		return "data"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for FrameRole
func (r FrameRole) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Frame is one entry of the physical frame arena
type Frame struct {
	Index       int       `json:"index"`
	Occupied    bool      `json:"occupied"`
	Owner       ProcessID `json:"owner"`       // NoOwner when free
	Role        FrameRole `json:"role"`        // Role assigned at allocation
	VirtualPage int       `json:"virtualPage"` // -1 unless a data frame holds a page
}

// FrameAllocator owns the physical frame arena. Every operation runs under one mutex,
// so the scan-then-mark sequence of an allocation is atomic with respect to releases.
type FrameAllocator struct {
	mu     sync.Mutex
	frames []Frame
}

// NewFrameAllocator creates an allocator with total free frames
func NewFrameAllocator(total int) *FrameAllocator {
	frames := make([]Frame, total)
	for i := range frames {
		frames[i] = freeFrame(i)
	}
	return &FrameAllocator{frames: frames}
}

func freeFrame(i int) Frame {
	return Frame{
		Index:       i,
		Occupied:    false,
		Owner:       NoOwner,
		Role:        FrameRoleFree,
		VirtualPage: -1,
	}
}

// TryAllocate grants owner the first contiguous run of count free frames, scanning
// from index 0. The first pageTableFrames frames of the run get FrameRolePageTable,
// the rest FrameRoleData. Returns false when no run fits, even if enough frames are
// free in total (fragmentation); the caller retries later.
func (a *FrameAllocator) TryAllocate(owner ProcessID, count, pageTableFrames int) ([]int, bool) {
	if count <= 0 || pageTableFrames > count {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.findRunLocked(count)
	if start < 0 {
		return nil, false
	}

	indices := make([]int, count)
	for i := 0; i < count; i++ {
		idx := start + i
		role := FrameRoleData
		if i < pageTableFrames {
			role = FrameRolePageTable
		}
		a.frames[idx] = Frame{
			Index:       idx,
			Occupied:    true,
			Owner:       owner,
			Role:        role,
			VirtualPage: -1,
		}
		indices[i] = idx
	}
	return indices, true
}

// findRunLocked returns the start of the first free run of length count, or -1
func (a *FrameAllocator) findRunLocked(count int) int {
	runStart, runLen := 0, 0
	for i, f := range a.frames {
		if f.Occupied {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = i
		}
		runLen++
		if runLen == count {
			return runStart
		}
	}
	return -1
}

// Release frees the frames owned by owner. All indices are checked before any frame
// is touched: if one is out of range, free, or owned by someone else nothing changes.
func (a *FrameAllocator) Release(owner ProcessID, indices []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, idx := range indices {
		if idx < 0 || idx >= len(a.frames) {
			return invariantf(owner, -1, "release of frame %d outside [0, %d)", idx, len(a.frames))
		}
		f := a.frames[idx]
		if !f.Occupied || f.Owner != owner {
			return invariantf(owner, -1, "release of frame %d owned by %d", idx, f.Owner)
		}
	}
	for _, idx := range indices {
		a.frames[idx] = freeFrame(idx)
	}
	return nil
}

// SetVirtualPage records which virtual page a data frame now holds (-1 to clear)
func (a *FrameAllocator) SetVirtualPage(owner ProcessID, frame, vp int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if frame < 0 || frame >= len(a.frames) {
		return invariantf(owner, vp, "frame %d outside [0, %d)", frame, len(a.frames))
	}
	f := &a.frames[frame]
	if !f.Occupied || f.Owner != owner || f.Role != FrameRoleData {
		return invariantf(owner, vp, "frame %d is not a data frame of this process", frame)
	}
	f.VirtualPage = vp
	return nil
}

// Frames returns a copy of the frame table
func (a *FrameAllocator) Frames() []Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Frame(nil), a.frames...)
}

// Total returns the number of frames in the arena
func (a *FrameAllocator) Total() int {
	return len(a.frames)
}

// Occupied returns the number of allocated frames
func (a *FrameAllocator) Occupied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, f := range a.frames {
		if f.Occupied {
			n++
		}
	}
	return n
}

// Free returns the number of unallocated frames
func (a *FrameAllocator) Free() int {
	return a.Total() - a.Occupied()
}

// LargestFreeRun returns the length of the longest contiguous free run
func (a *FrameAllocator) LargestFreeRun() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	best, run := 0, 0
	for _, f := range a.frames {
		if f.Occupied {
			run = 0
			continue
		}
		run++
		if run > best {
			best = run
		}
	}
	return best
}

// Utilization returns the fraction of occupied frames (0.0 to 1.0)
func (a *FrameAllocator) Utilization() float64 {
	if len(a.frames) == 0 {
		return 0
	}
	return float64(a.Occupied()) / float64(len(a.frames))
}

// Reset frees every frame
func (a *FrameAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.frames {
		a.frames[i] = freeFrame(i)
	}
}
