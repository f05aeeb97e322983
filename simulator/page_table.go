package simulator

// unmapped marks a page table entry with no resident frame
const unmapped = -1

// Translation is the outcome of looking up a virtual address
type Translation struct {
	Hit             bool `json:"hit"`
	VirtualPage     int  `json:"virtualPage"`
	Offset          int  `json:"offset"`
	Frame           int  `json:"frame"`           // -1 on a fault
	PhysicalAddress int  `json:"physicalAddress"` // -1 on a fault
}

// PageTable maps the virtual pages of one process to frame indices.
// It is owned by a single process and is not safe for concurrent use.
type PageTable struct {
	pid      ProcessID
	pageSize int
	entries  []int
	byFrame  map[int]int // frame -> virtual page, guards against aliasing
}

// NewPageTable creates a table of numPages unmapped entries
func NewPageTable(pid ProcessID, numPages, pageSize int) *PageTable {
	entries := make([]int, numPages)
	for i := range entries {
		entries[i] = unmapped
	}
	return &PageTable{
		pid:      pid,
		pageSize: pageSize,
		entries:  entries,
		byFrame:  make(map[int]int),
	}
}

// Translate splits addr into page and offset and looks the page up. It never mutates
// the table: a fault is reported, not resolved.
func (pt *PageTable) Translate(addr int) (Translation, error) {
	if addr < 0 || addr >= len(pt.entries)*pt.pageSize {
		return Translation{}, invariantf(pt.pid, -1, "virtual address %d outside [0, %d)", addr, len(pt.entries)*pt.pageSize)
	}

	vp := addr / pt.pageSize
	offset := addr % pt.pageSize
	frame := pt.entries[vp]
	if frame == unmapped {
		return Translation{Hit: false, VirtualPage: vp, Offset: offset, Frame: -1, PhysicalAddress: -1}, nil
	}
	return Translation{
		Hit:             true,
		VirtualPage:     vp,
		Offset:          offset,
		Frame:           frame,
		PhysicalAddress: frame*pt.pageSize + offset,
	}, nil
}

// Lookup returns the frame of vp and whether it is resident
func (pt *PageTable) Lookup(vp int) (int, bool) {
	if vp < 0 || vp >= len(pt.entries) {
		return unmapped, false
	}
	frame := pt.entries[vp]
	return frame, frame != unmapped
}

// Map points vp at frame. The page must be unmapped and the frame unused.
func (pt *PageTable) Map(vp, frame int) error {
	if vp < 0 || vp >= len(pt.entries) {
		return invariantf(pt.pid, vp, "virtual page outside [0, %d)", len(pt.entries))
	}
	if pt.entries[vp] != unmapped {
		return invariantf(pt.pid, vp, "already mapped to frame %d", pt.entries[vp])
	}
	if owner, ok := pt.byFrame[frame]; ok {
		return invariantf(pt.pid, vp, "frame %d already holds virtual page %d", frame, owner)
	}
	pt.entries[vp] = frame
	pt.byFrame[frame] = vp
	return nil
}

// Unmap clears vp and returns the frame it occupied
func (pt *PageTable) Unmap(vp int) (int, error) {
	frame, ok := pt.Lookup(vp)
	if !ok {
		return unmapped, invariantf(pt.pid, vp, "unmap of a page that is not resident")
	}
	pt.entries[vp] = unmapped
	delete(pt.byFrame, frame)
	return frame, nil
}

// IsFrameMapped reports whether any virtual page currently uses frame
func (pt *PageTable) IsFrameMapped(frame int) bool {
	_, ok := pt.byFrame[frame]
	return ok
}

// Resident returns the mapped virtual pages in ascending order
func (pt *PageTable) Resident() []int {
	pages := make([]int, 0, len(pt.byFrame))
	for vp, frame := range pt.entries {
		if frame != unmapped {
			pages = append(pages, vp)
		}
	}
	return pages
}

// Entries returns a copy of the raw table (-1 = unmapped)
func (pt *PageTable) Entries() []int {
	return append([]int(nil), pt.entries...)
}

// NumPages returns the table length
func (pt *PageTable) NumPages() int {
	return len(pt.entries)
}

// PageSize returns the page size in bytes
func (pt *PageTable) PageSize() int {
	return pt.pageSize
}
