package simulator

// ProcessStats is the per-process line of Statistics
type ProcessStats struct {
	ID        ProcessID `json:"id"`
	Accesses  int       `json:"accesses"`
	Faults    int       `json:"faults"`
	Hits      int       `json:"hits"`
	FaultRate float64   `json:"faultRate"`
	HitRate   float64   `json:"hitRate"`
}

// Statistics aggregates process counters and the frame utilization history
type Statistics struct {
	// Access counters
	TotalAccesses int     `json:"totalAccesses"`
	TotalFaults   int     `json:"totalFaults"`
	TotalHits     int     `json:"totalHits"`
	FaultRate     float64 `json:"faultRate"` // faults / accesses
	HitRate       float64 `json:"hitRate"`   // hits / accesses

	// Frame utilization (occupied / total), sampled once per tick
	PeakUtilization    float64 `json:"peakUtilization"`
	AverageUtilization float64 `json:"averageUtilization"`
	UtilizationSamples int     `json:"utilizationSamples"`

	// Process counts by state
	Running  int `json:"running"`
	Waiting  int `json:"waiting"`
	Finished int `json:"finished"`

	PerProcess []ProcessStats `json:"perProcess"`
}

// Clone returns a deep copy of the statistics
func (s Statistics) Clone() Statistics {
	clone := s
	clone.PerProcess = append([]ProcessStats(nil), s.PerProcess...)
	return clone
}

// Metrics records frame utilization samples. Access counters live on the processes;
// Statistics combines both.
type Metrics struct {
	samples int
	sum     float64
	peak    float64
	last    float64
	history []float64
	limit   int // 0 = keep every sample
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		history: make([]float64, 0),
	}
}

// NewMetricsWithHistoryLimit keeps at most limit samples in History. Peak and
// average still cover every sample.
func NewMetricsWithHistoryLimit(limit int) *Metrics {
	m := NewMetrics()
	m.limit = limit
	return m
}

// RecordUtilization adds one utilization sample (0.0 to 1.0)
func (m *Metrics) RecordUtilization(u float64) {
	m.samples++
	m.sum += u
	m.last = u
	if u > m.peak {
		m.peak = u
	}
	m.history = append(m.history, u)
	if m.limit > 0 && len(m.history) > m.limit {
		m.history = m.history[len(m.history)-m.limit:]
	}
}

func (m *Metrics) Samples() int  { return m.samples }
func (m *Metrics) Peak() float64 { return m.peak }
func (m *Metrics) Last() float64 { return m.last }
func (m *Metrics) Average() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

// History returns a copy of the recorded samples, oldest first
func (m *Metrics) History() []float64 {
	return append([]float64(nil), m.history...)
}

// Statistics builds the aggregate view from process statuses
func (m *Metrics) Statistics(procs []ProcessStatus) Statistics {
	stats := Statistics{
		PeakUtilization:    m.peak,
		AverageUtilization: m.Average(),
		UtilizationSamples: m.samples,
		PerProcess:         make([]ProcessStats, 0, len(procs)),
	}

	for _, p := range procs {
		stats.TotalAccesses += p.Accesses
		stats.TotalFaults += p.Faults
		stats.TotalHits += p.Hits

		switch p.State {
		case ProcessWaiting:
			stats.Waiting++
		case ProcessRunning:
			stats.Running++
		case ProcessFinished:
			stats.Finished++
		}

		stats.PerProcess = append(stats.PerProcess, ProcessStats{
			ID:        p.ID,
			Accesses:  p.Accesses,
			Faults:    p.Faults,
			Hits:      p.Hits,
			FaultRate: ratio(p.Faults, p.Accesses),
			HitRate:   ratio(p.Hits, p.Accesses),
		})
	}

	stats.FaultRate = ratio(stats.TotalFaults, stats.TotalAccesses)
	stats.HitRate = ratio(stats.TotalHits, stats.TotalAccesses)
	return stats
}

// Clone creates a copy of the metrics
func (m *Metrics) Clone() *Metrics {
	clone := *m
	clone.history = append([]float64(nil), m.history...)
	return &clone
}

// FrameSummary counts frames by role
type FrameSummary struct {
	Total          int `json:"total"`
	Free           int `json:"free"`
	PageTable      int `json:"pageTable"`
	Data           int `json:"data"`
	ResidentPages  int `json:"residentPages"`  // Data frames currently holding a page
	LargestFreeRun int `json:"largestFreeRun"` // Biggest process that could be admitted now
}

// SummarizeFrames counts a frame table by role
func SummarizeFrames(frames []Frame) FrameSummary {
	summary := FrameSummary{Total: len(frames)}
	run := 0
	for _, f := range frames {
		switch f.Role {
		case FrameRolePageTable:
			summary.PageTable++
		case FrameRoleData:
			summary.Data++
			if f.VirtualPage >= 0 {
				summary.ResidentPages++
			}
		}
		if f.Occupied {
			run = 0
			continue
		}
		summary.Free++
		run++
		if run > summary.LargestFreeRun {
			summary.LargestFreeRun = run
		}
	}
	return summary
}

// Snapshot is the observable state of a simulation after a tick
type Snapshot struct {
	Tick          int             `json:"tick"`
	VirtualTimeMs float64         `json:"virtualTimeMs"`
	Algorithm     Algorithm       `json:"algorithm"`
	Paused        bool            `json:"paused"`
	Finished      bool            `json:"finished"`
	Cancelled     bool            `json:"cancelled"`
	Utilization   float64         `json:"utilization"`
	FrameSummary  FrameSummary    `json:"frameSummary"`
	Frames        []Frame         `json:"frames"`
	Processes     []ProcessStatus `json:"processes"`
	Statistics    Statistics      `json:"statistics"`
}
