package simulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 64

func newTestVMU(alg Algorithm, dataFrames int) *VMU {
	frames := make([]int, dataFrames)
	for i := range frames {
		frames[i] = i + 1 // frame 0 holds the page table
	}
	return NewVMU(0, 8, testPageSize, frames, NewReplacementEngine(alg), nil)
}

func replay(t *testing.T, vmu *VMU, refs []int) {
	t.Helper()
	for _, vp := range refs {
		_, err := vmu.Access(vp * testPageSize)
		require.NoError(t, err)
	}
}

// Given: 9 data frames and 5 distinct pages
// When: the classic reference string is replayed
// Then: only the first touch of each page faults, for both algorithms
func TestVMU_NoEvictionBaseline(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmFIFO, AlgorithmLRU} {
		vmu := newTestVMU(alg, 9)
		replay(t, vmu, classicRefString)

		require.Equal(t, 5, vmu.Faults(), alg.String())
		require.Equal(t, 7, vmu.Hits(), alg.String())
		require.Equal(t, 12, vmu.Accesses(), alg.String())
		require.Equal(t, []int{0, 1, 2, 3, 4}, vmu.PageTable().Resident())
	}
}

func TestVMU_ThreeFramesFIFO(t *testing.T) {
	vmu := newTestVMU(AlgorithmFIFO, 3)
	replay(t, vmu, classicRefString)

	require.Equal(t, len(modelFaults(AlgorithmFIFO, 3, classicRefString)), vmu.Faults())
	require.Equal(t, 9, vmu.Faults())
	require.GreaterOrEqual(t, vmu.Faults(), 5)
	require.Equal(t, []int{4, 2, 3}, vmu.Engine().Resident())
}

func TestVMU_ThreeFramesLRU(t *testing.T) {
	vmu := newTestVMU(AlgorithmLRU, 3)
	replay(t, vmu, classicRefString)

	require.Equal(t, len(modelFaults(AlgorithmLRU, 3, classicRefString)), vmu.Faults())
	require.Equal(t, 10, vmu.Faults())
	require.GreaterOrEqual(t, vmu.Faults(), 5)
	require.Equal(t, []int{2, 3, 4}, vmu.Engine().Resident())
}

func TestVMU_FreeFrameUsedBeforeEviction(t *testing.T) {
	vmu := newTestVMU(AlgorithmFIFO, 3)

	for i, vp := range []int{5, 6, 7} {
		res, err := vmu.Access(vp*testPageSize + 3)
		require.NoError(t, err)
		require.False(t, res.Hit)
		require.Equal(t, i+1, res.Frame, "lowest free owned frame first")
		require.Equal(t, -1, res.EvictedPage)
		require.Equal(t, res.Frame*testPageSize+3, res.PhysicalAddress)
	}

	res, err := vmu.Access(0)
	require.NoError(t, err)
	require.False(t, res.Hit)
	require.Equal(t, 5, res.EvictedPage)
	require.Equal(t, 1, res.Frame, "victim's frame is reused")
}

// Given: page 2 faulted in
// When: it is translated again
// Then: it hits until the replacement engine evicts it
func TestVMU_TranslateAfterResolveHitsUntilEvicted(t *testing.T) {
	vmu := newTestVMU(AlgorithmFIFO, 2)

	res, err := vmu.Access(2*testPageSize + 9)
	require.NoError(t, err)
	require.False(t, res.Hit)

	tr, err := vmu.Translate(2*testPageSize + 9)
	require.NoError(t, err)
	require.True(t, tr.Hit)
	require.Equal(t, res.PhysicalAddress, tr.PhysicalAddress)

	replay(t, vmu, []int{3})
	tr, err = vmu.Translate(2 * testPageSize)
	require.NoError(t, err)
	require.True(t, tr.Hit, "free frame was used, nothing evicted")

	res, err = vmu.Access(4 * testPageSize)
	require.NoError(t, err)
	require.Equal(t, 2, res.EvictedPage)

	tr, err = vmu.Translate(2 * testPageSize)
	require.NoError(t, err)
	require.False(t, tr.Hit)
}

func TestVMU_LRUHitBecomesMostRecent(t *testing.T) {
	vmu := newTestVMU(AlgorithmLRU, 3)
	replay(t, vmu, []int{0, 1, 2})

	faults := vmu.Faults()
	res, err := vmu.Access(0)
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Equal(t, faults, vmu.Faults(), "a resident page never faults")

	resident := vmu.Engine().Resident()
	require.Equal(t, 0, resident[len(resident)-1])
}

func TestVMU_ResolveFaultOnResidentPageFails(t *testing.T) {
	vmu := newTestVMU(AlgorithmFIFO, 3)
	replay(t, vmu, []int{1})

	_, _, err := vmu.ResolveFault(1)
	require.True(t, IsInvariantViolation(err))
}

func TestVMU_FrameBookkeeping(t *testing.T) {
	alloc := NewFrameAllocator(8)
	frames, ok := alloc.TryAllocate(3, 4, 1)
	require.True(t, ok)

	vmu := NewVMU(3, 8, testPageSize, frames[1:], NewReplacementEngine(AlgorithmLRU), alloc)
	replay(t, vmu, []int{6, 2})

	table := alloc.Frames()
	require.Equal(t, 6, table[frames[1]].VirtualPage)
	require.Equal(t, 2, table[frames[2]].VirtualPage)
	require.Equal(t, -1, table[frames[3]].VirtualPage)
}
