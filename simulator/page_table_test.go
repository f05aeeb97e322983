package simulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageTable_TranslateSplitsAddress(t *testing.T) {
	pt := NewPageTable(0, 8, 256)

	tr, err := pt.Translate(3*256 + 17)
	require.NoError(t, err)
	require.False(t, tr.Hit)
	require.Equal(t, 3, tr.VirtualPage)
	require.Equal(t, 17, tr.Offset)
	require.Equal(t, -1, tr.Frame)

	require.NoError(t, pt.Map(3, 12))
	tr, err = pt.Translate(3*256 + 17)
	require.NoError(t, err)
	require.True(t, tr.Hit)
	require.Equal(t, 12, tr.Frame)
	require.Equal(t, 12*256+17, tr.PhysicalAddress)
}

func TestPageTable_TranslateDoesNotMutate(t *testing.T) {
	pt := NewPageTable(0, 4, 64)
	before := pt.Entries()

	for addr := 0; addr < 4*64; addr += 13 {
		_, err := pt.Translate(addr)
		require.NoError(t, err)
	}
	require.Equal(t, before, pt.Entries())
	require.Empty(t, pt.Resident())
}

func TestPageTable_OutOfRangeAddressIsInvariantViolation(t *testing.T) {
	pt := NewPageTable(7, 4, 64)

	_, err := pt.Translate(4 * 64)
	require.True(t, IsInvariantViolation(err))

	var ie InvariantError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, ProcessID(7), ie.ProcessID)

	_, err = pt.Translate(-1)
	require.True(t, IsInvariantViolation(err))
}

func TestPageTable_MapRejectsAliasing(t *testing.T) {
	pt := NewPageTable(0, 8, 64)
	require.NoError(t, pt.Map(1, 5))

	err := pt.Map(2, 5)
	require.True(t, IsInvariantViolation(err), "two pages on one frame")

	err = pt.Map(1, 6)
	require.True(t, IsInvariantViolation(err), "page mapped twice")

	err = pt.Map(8, 6)
	require.True(t, IsInvariantViolation(err), "page out of range")
}

func TestPageTable_UnmapFreesFrame(t *testing.T) {
	pt := NewPageTable(0, 8, 64)
	require.NoError(t, pt.Map(4, 9))
	require.True(t, pt.IsFrameMapped(9))

	frame, err := pt.Unmap(4)
	require.NoError(t, err)
	require.Equal(t, 9, frame)
	require.False(t, pt.IsFrameMapped(9))

	_, ok := pt.Lookup(4)
	require.False(t, ok)

	_, err = pt.Unmap(4)
	require.True(t, IsInvariantViolation(err))

	require.NoError(t, pt.Map(2, 9), "frame is reusable after unmap")
	require.Equal(t, []int{2}, pt.Resident())
}
