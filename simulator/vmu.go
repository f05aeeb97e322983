package simulator

// AccessResult reports one memory access. Hit distinguishes a resident page from a
// resolved fault; PhysicalAddress is valid in both cases.
type AccessResult struct {
	Hit             bool `json:"hit"`
	VirtualAddress  int  `json:"virtualAddress"`
	VirtualPage     int  `json:"virtualPage"`
	Offset          int  `json:"offset"`
	Frame           int  `json:"frame"`
	PhysicalAddress int  `json:"physicalAddress"`
	EvictedPage     int  `json:"evictedPage"` // -1 when the fault used a free frame
}

// VMU combines a process's page table, its replacement engine and the fixed set of
// data frames it was granted at admission. It belongs to one process and needs no
// locking; the only shared object it touches is the allocator's frame table.
type VMU struct {
	pid        ProcessID
	pageTable  *PageTable
	engine     ReplacementEngine
	dataFrames []int
	alloc      *FrameAllocator // optional, for frame-table bookkeeping

	accesses int
	hits     int
	faults   int
}

// NewVMU creates a VMU over dataFrames. alloc may be nil when frame bookkeeping is not needed.
func NewVMU(pid ProcessID, numPages, pageSize int, dataFrames []int, engine ReplacementEngine, alloc *FrameAllocator) *VMU {
	return &VMU{
		pid:        pid,
		pageTable:  NewPageTable(pid, numPages, pageSize),
		engine:     engine,
		dataFrames: append([]int(nil), dataFrames...),
		alloc:      alloc,
	}
}

// Translate looks addr up without resolving faults
func (v *VMU) Translate(addr int) (Translation, error) {
	return v.pageTable.Translate(addr)
}

// Access translates addr and resolves a fault if the page is not resident
func (v *VMU) Access(addr int) (AccessResult, error) {
	tr, err := v.pageTable.Translate(addr)
	if err != nil {
		return AccessResult{}, err
	}
	v.accesses++

	result := AccessResult{
		Hit:            tr.Hit,
		VirtualAddress: addr,
		VirtualPage:    tr.VirtualPage,
		Offset:         tr.Offset,
		EvictedPage:    -1,
	}

	if tr.Hit {
		v.hits++
		v.engine.Touch(tr.VirtualPage)
		result.Frame = tr.Frame
		result.PhysicalAddress = tr.PhysicalAddress
		return result, nil
	}

	frame, evicted, err := v.ResolveFault(tr.VirtualPage)
	if err != nil {
		return AccessResult{}, err
	}
	result.Frame = frame
	result.PhysicalAddress = frame*v.pageTable.PageSize() + tr.Offset
	result.EvictedPage = evicted
	return result, nil
}

// ResolveFault makes vp resident. A free owned data frame is used when one exists;
// otherwise the replacement engine picks a victim whose frame is reused.
// Returns the frame and the evicted page (-1 if none).
func (v *VMU) ResolveFault(vp int) (int, int, error) {
	if _, resident := v.pageTable.Lookup(vp); resident {
		return unmapped, -1, invariantf(v.pid, vp, "fault on a resident page")
	}

	evicted := -1
	frame := v.freeFrame()
	if frame == unmapped {
		victim := v.engine.Victim()
		f, err := v.pageTable.Unmap(victim)
		if err != nil {
			return unmapped, -1, invariantf(v.pid, vp, "%s victim %d is not resident", v.engine.Algorithm(), victim)
		}
		frame = f
		evicted = victim
	}

	if err := v.pageTable.Map(vp, frame); err != nil {
		return unmapped, -1, err
	}
	v.engine.Admit(vp)
	v.faults++

	if v.alloc != nil {
		if err := v.alloc.SetVirtualPage(v.pid, frame, vp); err != nil {
			return unmapped, -1, err
		}
	}
	return frame, evicted, nil
}

// freeFrame returns the first owned data frame with no page mapped, or -1
func (v *VMU) freeFrame() int {
	for _, f := range v.dataFrames {
		if !v.pageTable.IsFrameMapped(f) {
			return f
		}
	}
	return unmapped
}

func (v *VMU) PageTable() *PageTable     { return v.pageTable }
func (v *VMU) Engine() ReplacementEngine { return v.engine }
func (v *VMU) DataFrames() []int         { return append([]int(nil), v.dataFrames...) }
func (v *VMU) Accesses() int             { return v.accesses }
func (v *VMU) Hits() int                 { return v.hits }
func (v *VMU) Faults() int               { return v.faults }
