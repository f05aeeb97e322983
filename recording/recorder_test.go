package recording

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/10and01/vmsim/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func countRows(t *testing.T, r *Recorder, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, r.QueryRow(query, args...).Scan(&n))
	return n
}

func TestRecorder_New(t *testing.T) {
	r := setupRecorder(t)

	for _, table := range []string{"runs", "process_results", "events"} {
		var name string
		err := r.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name)
		require.NoError(t, err, "table %s should be created", table)
	}

	_, err := New(r.Path())
	require.Error(t, err, "existing files are never overwritten")
}

func TestRecorder_NewPicksUniqueName(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	r, err := New("")
	require.NoError(t, err)
	defer r.Close()

	assert.Regexp(t, `^vmsim_[0-9a-v]{20}\.sqlite3$`, r.Path())
	_, err = os.Stat(filepath.Join(dir, r.Path()))
	require.NoError(t, err)
}

func TestRecorder_RecordsSimulatorRun(t *testing.T) {
	r := setupRecorder(t)
	config := simulator.SmallConfig()

	sim, err := simulator.NewSimulator(config)
	require.NoError(t, err)
	sim.OnEvent = r.Publish

	require.NoError(t, r.BeginRun("run-1", config))
	require.Equal(t, StatusRunning, runStatusOf(t, r, "run-1"))

	require.NoError(t, sim.Run(0))
	stats := sim.Statistics()
	require.NoError(t, r.EndRun("run-1", stats, nil))

	assert.Equal(t, 66, countRows(t, r, "SELECT COUNT(*) FROM events WHERE run_id = ?", "run-1"))
	assert.Equal(t, 60, countRows(t, r, "SELECT COUNT(*) FROM events WHERE type = 'access'"))
	assert.Equal(t, stats.TotalHits, countRows(t, r, "SELECT COUNT(*) FROM events WHERE type = 'access' AND hit = 1"))
	assert.Equal(t, 3, countRows(t, r, "SELECT COUNT(*) FROM process_results WHERE run_id = ?", "run-1"))
	assert.Equal(t, StatusCompleted, runStatusOf(t, r, "run-1"))

	var accesses, faults int
	var peak float64
	err = r.QueryRow("SELECT total_accesses, total_faults, peak_utilization FROM runs WHERE id = ?", "run-1").
		Scan(&accesses, &faults, &peak)
	require.NoError(t, err)
	assert.Equal(t, 60, accesses)
	assert.Equal(t, stats.TotalFaults, faults)
	assert.InDelta(t, 0.75, peak, 1e-9)

	// Sequence numbers keep publish order
	var first, last int
	require.NoError(t, r.QueryRow("SELECT MIN(seq), MAX(seq) FROM events").Scan(&first, &last))
	assert.Equal(t, 0, first)
	assert.Equal(t, 65, last)
}

func TestRecorder_BatchFlush(t *testing.T) {
	r := setupRecorder(t)
	r.SetBatchSize(2)
	require.NoError(t, r.BeginRun("batch", simulator.SmallConfig()))

	r.Publish(simulator.NewAdmissionEvent(0, 0, []int{4, 5, 6, 7}))
	assert.Equal(t, 0, countRows(t, r, "SELECT COUNT(*) FROM events"))

	r.Publish(simulator.NewCompletedAccessEvent(1.5, 0, simulator.AccessResult{
		VirtualPage: 3, Frame: 5, EvictedPage: -1,
	}))
	assert.Equal(t, 2, countRows(t, r, "SELECT COUNT(*) FROM events"))

	var frame, vpage, evicted int
	var hit bool
	err := r.QueryRow("SELECT frame, virtual_page, hit, evicted_page FROM events WHERE type = 'access'").
		Scan(&frame, &vpage, &hit, &evicted)
	require.NoError(t, err)
	assert.Equal(t, 5, frame)
	assert.Equal(t, 3, vpage)
	assert.False(t, hit)
	assert.Equal(t, -1, evicted)

	require.NoError(t, r.QueryRow("SELECT frame FROM events WHERE type = 'admission'").Scan(&frame))
	assert.Equal(t, 4, frame, "admissions store the first granted frame")
}

func TestRecorder_RunStatus(t *testing.T) {
	r := setupRecorder(t)
	config := simulator.SmallConfig()

	tests := []struct {
		id     string
		err    error
		status string
	}{
		{"ok", nil, StatusCompleted},
		{"cancelled", simulator.ErrCancelled, StatusCancelled},
		{"failed", simulator.InvariantError{VirtualPage: -1, Message: "boom"}, StatusFailed},
		{"wrapped", errors.Join(errors.New("context"), simulator.ErrCancelled), StatusCancelled},
	}
	for _, tt := range tests {
		require.NoError(t, r.BeginRun(tt.id, config))
		require.NoError(t, r.EndRun(tt.id, simulator.Statistics{}, tt.err))
		assert.Equal(t, tt.status, runStatusOf(t, r, tt.id), tt.id)
	}
}

func TestRecorder_ConcurrentPublish(t *testing.T) {
	r := setupRecorder(t)
	r.SetBatchSize(50)
	require.NoError(t, r.BeginRun("concurrent", simulator.SmallConfig()))

	var wg sync.WaitGroup
	for pid := 0; pid < 8; pid++ {
		wg.Add(1)
		go func(pid simulator.ProcessID) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Publish(simulator.NewCompletedAccessEvent(float64(i), pid, simulator.AccessResult{Hit: true}))
			}
		}(simulator.ProcessID(pid))
	}
	wg.Wait()
	require.NoError(t, r.Flush())

	assert.Equal(t, 800, countRows(t, r, "SELECT COUNT(*) FROM events"))
	assert.Equal(t, 800, countRows(t, r, "SELECT COUNT(DISTINCT seq) FROM events"))
}

func runStatusOf(t *testing.T, r *Recorder, id string) string {
	t.Helper()
	var status string
	require.NoError(t, r.QueryRow("SELECT status FROM runs WHERE id = ?", id).Scan(&status))
	return status
}
