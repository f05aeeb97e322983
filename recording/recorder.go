// Package recording stores simulation runs in a SQLite database: one row per run,
// one row per process result and one row per event.
package recording

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/10and01/vmsim/simulator"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

const defaultBatchSize = 10000

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	algorithm           TEXT,
	processes           INTEGER,
	frames              INTEGER,
	page_size           INTEGER,
	accesses_per_proc   INTEGER,
	seed                INTEGER,
	started_at          TEXT,
	status              TEXT,
	total_accesses      INTEGER,
	total_faults        INTEGER,
	fault_rate          REAL,
	peak_utilization    REAL,
	average_utilization REAL
);
CREATE TABLE IF NOT EXISTS process_results (
	run_id     TEXT,
	pid        INTEGER,
	accesses   INTEGER,
	faults     INTEGER,
	hits       INTEGER,
	fault_rate REAL
);
CREATE TABLE IF NOT EXISTS events (
	run_id       TEXT,
	seq          INTEGER,
	time_ms      REAL,
	type         TEXT,
	pid          INTEGER,
	virtual_page INTEGER,
	frame        INTEGER,
	hit          INTEGER,
	evicted_page INTEGER
);`

// Run status values stored in the runs table
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

type eventRow struct {
	runID       string
	seq         int
	timeMs      float64
	kind        string
	pid         int
	virtualPage int
	frame       int
	hit         bool
	evictedPage int
}

// Recorder buffers events and writes them in batches. It implements
// harness.EventSink, so Publish may be called from many goroutines.
type Recorder struct {
	*sql.DB
	path      string
	batchSize int

	writeMu sync.Mutex // one write transaction at a time

	mu      sync.Mutex
	runID   string
	seq     int
	pending []eventRow
}

// New creates a database at path. An empty path picks a unique file name in the
// working directory. It fails if the file already exists.
func New(path string) (*Recorder, error) {
	if path == "" {
		path = "vmsim_" + xid.New().String() + ".sqlite3"
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		DB:        db,
		path:      path,
		batchSize: defaultBatchSize,
	}
	atexit.Register(func() { r.Flush() })
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

// SetBatchSize sets how many events are buffered before a flush
func (r *Recorder) SetBatchSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 {
		n = 1
	}
	r.batchSize = n
}

// BeginRun inserts the run row. Events published afterwards belong to runID.
func (r *Recorder) BeginRun(runID string, config simulator.SimConfig) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}

	_, err := r.Exec(`INSERT INTO runs (id, algorithm, processes, frames, page_size,
		accesses_per_proc, seed, started_at, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, config.Algorithm.String(), config.NumProcesses, config.TotalFrames(),
		config.PageSizeBytes, config.AccessesPerProcess, config.RandomSeed,
		time.Now().UTC().Format(time.RFC3339), StatusRunning)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.runID = runID
	r.seq = 0
	r.mu.Unlock()
	return nil
}

// Publish buffers one event of the current run
func (r *Recorder) Publish(e simulator.Event) {
	row := eventRow{
		timeMs:      e.Timestamp(),
		kind:        e.Type().String(),
		virtualPage: -1,
		frame:       -1,
		evictedPage: -1,
	}
	switch ev := e.(type) {
	case *simulator.AccessEvent:
		res := ev.Result()
		row.pid = int(ev.ProcessID())
		row.virtualPage = res.VirtualPage
		row.frame = res.Frame
		row.hit = res.Hit
		row.evictedPage = res.EvictedPage
	case *simulator.AdmissionEvent:
		row.pid = int(ev.ProcessID())
		if frames := ev.Frames(); len(frames) > 0 {
			row.frame = frames[0]
		}
	case *simulator.CompletionEvent:
		row.pid = int(ev.ProcessID())
	}

	r.mu.Lock()
	row.runID = r.runID
	row.seq = r.seq
	r.seq++
	r.pending = append(r.pending, row)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		if err := r.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "recording: flush failed: %v\n", err)
		}
	}
}

// Flush writes all buffered events in one transaction
func (r *Recorder) Flush() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	r.mu.Lock()
	rows := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	tx, err := r.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO events (run_id, seq, time_ms, type, pid,
		virtual_page, frame, hit, evicted_page) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(row.runID, row.seq, row.timeMs, row.kind, row.pid,
			row.virtualPage, row.frame, row.hit, row.evictedPage)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// EndRun flushes the run's events and stores its per-process results and totals.
// runErr is the outcome of the run: nil, simulator.ErrCancelled or a fatal error.
func (r *Recorder) EndRun(runID string, stats simulator.Statistics, runErr error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}

	tx, err := r.Begin()
	if err != nil {
		return err
	}

	for _, ps := range stats.PerProcess {
		_, err := tx.Exec(`INSERT INTO process_results (run_id, pid, accesses, faults,
			hits, fault_rate) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, int(ps.ID), ps.Accesses, ps.Faults, ps.Hits, ps.FaultRate)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	_, err = tx.Exec(`UPDATE runs SET status = ?, total_accesses = ?, total_faults = ?,
		fault_rate = ?, peak_utilization = ?, average_utilization = ? WHERE id = ?`,
		runStatus(runErr), stats.TotalAccesses, stats.TotalFaults, stats.FaultRate,
		stats.PeakUtilization, stats.AverageUtilization, runID)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case simulator.IsCancelled(err):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Close flushes pending events and closes the database
func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		r.DB.Close()
		return err
	}
	return r.DB.Close()
}
