package integration

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/10and01/vmsim/simulator"
)

// MemoryConfig defines configuration for the virtual-memory component model
type MemoryConfig struct {
	// Geometry; sizes accept units ("16kb", "256b") or plain byte counts
	PhysicalMemory       string `yaml:"physical_memory" json:"physical_memory"`
	PageSize             string `yaml:"page_size" json:"page_size"`
	NumProcesses         int    `yaml:"num_processes" json:"num_processes"`
	VirtualPages         int    `yaml:"virtual_pages" json:"virtual_pages"`
	DataFramesPerProcess int    `yaml:"data_frames_per_process" json:"data_frames_per_process"`
	AccessesPerProcess   int    `yaml:"accesses_per_process" json:"accesses_per_process"`

	// Policy
	Algorithm        string  `yaml:"algorithm" json:"algorithm"`
	LocalityExponent float64 `yaml:"locality_exponent" json:"locality_exponent"`
	RandomSeed       int64   `yaml:"random_seed" json:"random_seed"`

	// Latency model
	HitLatencyMs         float64 `yaml:"hit_latency_ms" json:"hit_latency_ms"`
	FaultPenaltyMs       float64 `yaml:"fault_penalty_ms" json:"fault_penalty_ms"`
	ThrashingFaultRate   float64 `yaml:"thrashing_fault_rate" json:"thrashing_fault_rate"`
	FaultLogThresholdPct float64 `yaml:"fault_log_threshold_pct" json:"fault_log_threshold_pct"`

	ErrorRate *float64 `yaml:"error_rate,omitempty" json:"error_rate,omitempty"`
	ErrorType *string  `yaml:"error_type,omitempty" json:"error_type,omitempty"`
}

// GensimRequestContext contains information about the incoming request
type GensimRequestContext struct {
	Component   string
	CurrentTime float64
}

// GensimLogEntry represents a log emitted by the model
type GensimLogEntry struct {
	OffsetMs float64
	Status   string
	Message  string
}

// GensimMetricSample represents a custom metric emitted by the model
type GensimMetricSample struct {
	Name  string
	Type  string
	Value float64
	Tags  map[string]string
}

// GensimParameterDescriptor describes a mutable configuration field
type GensimParameterDescriptor struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	CurrentValue interface{} `json:"current_value"`
	Min          *float64    `json:"min,omitempty"`
	Max          *float64    `json:"max,omitempty"`
	Description  string      `json:"description,omitempty"`
}

// GensimResult represents the outcome of the model simulation for a request
type GensimResult struct {
	DurationMs float64
	WaitTimeMs float64
	Status     string
	ErrorType  *string
	ErrorMsg   *string
	Logs       []GensimLogEntry
	Metrics    []GensimMetricSample
}

// MemoryModel exposes the paging simulator as a request-driven component: every
// request advances the simulation by one tick and reports the latency of the
// accesses made during it. A finished workload restarts from scratch.
type MemoryModel struct {
	component string
	cfg       *MemoryConfig
	mu        sync.Mutex
	sim       *simulator.Simulator
	rng       *rand.Rand

	// Accesses of the request being handled, filled by the simulator callback
	tickHits   int
	tickFaults int
	tickEvicts int

	totalRequests int64
	totalHits     int64
	totalFaults   int64
	restarts      int64

	lastHealth       string // "ok", "warn", "error"
	lastHealthStatus string // "normal", "thrashing", "failed"
}

// NewMemoryModel creates a new virtual-memory component model
func NewMemoryModel(component string, cfg *MemoryConfig) (*MemoryModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("memory config is required")
	}

	simCfg, err := cfg.simConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ThrashingFaultRate <= 0 {
		cfg.ThrashingFaultRate = 0.5
	}

	sim, err := simulator.NewSimulator(simCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator: %w", err)
	}

	m := &MemoryModel{
		component:        component,
		cfg:              cfg,
		sim:              sim,
		rng:              simulator.NewRand(simCfg.RandomSeed),
		lastHealth:       "ok",
		lastHealthStatus: "normal",
	}
	sim.OnEvent = m.observe
	return m, nil
}

// simConfig overlays the model configuration on the simulator defaults
func (c *MemoryConfig) simConfig() (simulator.SimConfig, error) {
	simCfg := simulator.DefaultConfig()

	if c.PhysicalMemory != "" {
		n, err := parseSizeString(c.PhysicalMemory)
		if err != nil {
			return simCfg, fmt.Errorf("physical_memory: %w", err)
		}
		simCfg.PhysicalMemoryBytes = n
	}
	if c.PageSize != "" {
		n, err := parseSizeString(c.PageSize)
		if err != nil {
			return simCfg, fmt.Errorf("page_size: %w", err)
		}
		simCfg.PageSizeBytes = n
	}
	if c.NumProcesses > 0 {
		simCfg.NumProcesses = c.NumProcesses
	}
	if c.VirtualPages > 0 {
		simCfg.VirtualPagesPerProcess = c.VirtualPages
	}
	if c.DataFramesPerProcess > 0 {
		simCfg.DataFramesPerProcess = c.DataFramesPerProcess
	}
	if c.AccessesPerProcess > 0 {
		simCfg.AccessesPerProcess = c.AccessesPerProcess
	}
	if c.Algorithm != "" {
		alg, err := simulator.ParseAlgorithm(c.Algorithm)
		if err != nil {
			return simCfg, err
		}
		simCfg.Algorithm = alg
	}
	if c.LocalityExponent > 0 {
		simCfg.LocalityExponent = c.LocalityExponent
	}
	simCfg.RandomSeed = c.RandomSeed

	// Requests drive the clock, not think time
	simCfg.MaxThinkTimeMs = 0

	return simCfg, simCfg.Validate()
}

// Name returns the component name
func (m *MemoryModel) Name() string {
	return m.component
}

func (m *MemoryModel) observe(e simulator.Event) {
	ae, ok := e.(*simulator.AccessEvent)
	if !ok {
		return
	}
	if ae.Hit() {
		m.tickHits++
		return
	}
	m.tickFaults++
	if ae.Result().EvictedPage >= 0 {
		m.tickEvicts++
	}
}

// Health returns the generic health status of the model
func (m *MemoryModel) Health() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealth
}

// HealthStatus returns the detailed health status of the model
func (m *MemoryModel) HealthStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealthStatus
}

// HandleRequest advances the simulation by one tick
func (m *MemoryModel) HandleRequest(ctx *GensimRequestContext) (*GensimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastHealth == "error" {
		errType := "invariant_violation"
		errMsg := fmt.Sprintf("%s has failed: %v", m.component, m.sim.Err())
		return &GensimResult{Status: "error", ErrorType: &errType, ErrorMsg: &errMsg}, nil
	}

	var logs []GensimLogEntry
	if m.sim.IsFinished() {
		if err := m.sim.Reset(); err != nil {
			return nil, err
		}
		m.restarts++
		logs = append(logs, GensimLogEntry{
			Status:  "info",
			Message: fmt.Sprintf("%s workload finished, restarting (run %d)", m.component, m.restarts+1),
		})
	}

	m.tickHits, m.tickFaults, m.tickEvicts = 0, 0, 0
	if err := m.sim.Step(); err != nil {
		m.lastHealth = "error"
		m.lastHealthStatus = "failed"
		errType := "invariant_violation"
		errMsg := err.Error()
		return &GensimResult{
			Status:    "error",
			ErrorType: &errType,
			ErrorMsg:  &errMsg,
			Logs: append(logs, GensimLogEntry{
				Status:  "error",
				Message: fmt.Sprintf("%s aborted: %v", m.component, err),
			}),
		}, nil
	}

	accesses := m.tickHits + m.tickFaults
	m.totalRequests++
	m.totalHits += int64(m.tickHits)
	m.totalFaults += int64(m.tickFaults)

	// Accesses of one tick run in parallel: the slowest one bounds the request
	durationMs := 0.0
	if m.tickFaults > 0 {
		durationMs = m.cfg.HitLatencyMs + m.cfg.FaultPenaltyMs + m.sampleLatencyVariation()
	} else if m.tickHits > 0 {
		durationMs = m.cfg.HitLatencyMs
	}
	// Processes still queued for frames wait one tick each
	waiting := len(m.sim.WaitingQueue())
	waitTimeMs := float64(waiting) * m.sim.Config().TickIntervalMs

	faultRate := 0.0
	if accesses > 0 {
		faultRate = float64(m.tickFaults) / float64(accesses)
	}
	if faultRate >= m.cfg.ThrashingFaultRate {
		m.lastHealth = "warn"
		m.lastHealthStatus = "thrashing"
	} else {
		m.lastHealth = "ok"
		m.lastHealthStatus = "normal"
	}

	result := &GensimResult{
		DurationMs: durationMs + waitTimeMs,
		WaitTimeMs: waitTimeMs,
		Status:     "ok",
		Logs:       logs,
	}

	if m.cfg.ErrorRate != nil && *m.cfg.ErrorRate > 0 && m.rng.Float64() < *m.cfg.ErrorRate {
		result.Status = "error"
		if m.cfg.ErrorType != nil {
			result.ErrorType = m.cfg.ErrorType
		} else {
			errType := "page_fault_error"
			result.ErrorType = &errType
		}
		msg := fmt.Sprintf("%s access failed", m.component)
		result.ErrorMsg = &msg
	}

	if m.cfg.FaultLogThresholdPct > 0 && faultRate*100 > m.cfg.FaultLogThresholdPct {
		result.Logs = append(result.Logs, GensimLogEntry{
			OffsetMs: durationMs,
			Status:   "warn",
			Message: fmt.Sprintf("%s fault rate %.0f%% over %d accesses (%d evictions)",
				m.component, faultRate*100, accesses, m.tickEvicts),
		})
	}

	result.Metrics = m.buildMetrics(durationMs, waitTimeMs, faultRate)
	return result, nil
}

// sampleLatencyVariation adds up to 50% jitter to the fault penalty
func (m *MemoryModel) sampleLatencyVariation() float64 {
	return m.rng.Float64() * m.cfg.FaultPenaltyMs * 0.5
}

func (m *MemoryModel) buildMetrics(durationMs, waitMs, faultRate float64) []GensimMetricSample {
	tags := map[string]string{
		"component_model": "vmsim",
		"algorithm":       m.sim.Config().Algorithm.String(),
	}

	stats := m.sim.Statistics()
	frames := simulator.SummarizeFrames(m.sim.Frames())

	samples := []GensimMetricSample{
		{Name: "vmsim.access_duration_ms", Type: "gauge", Value: durationMs, Tags: tags},
		{Name: "vmsim.admission_wait_ms", Type: "gauge", Value: waitMs, Tags: tags},
		{Name: "vmsim.tick_fault_rate", Type: "gauge", Value: faultRate, Tags: tags},
		{Name: "vmsim.requests", Type: "counter", Value: float64(m.totalRequests), Tags: tags},
		{Name: "vmsim.page_hits", Type: "counter", Value: float64(m.totalHits), Tags: tags},
		{Name: "vmsim.page_faults", Type: "counter", Value: float64(m.totalFaults), Tags: tags},
		{Name: "vmsim.workload_restarts", Type: "counter", Value: float64(m.restarts), Tags: tags},
		{Name: "vmsim.frame_utilization", Type: "gauge", Value: m.sim.Allocator().Utilization(), Tags: tags},
		{Name: "vmsim.free_frames", Type: "gauge", Value: float64(frames.Free), Tags: tags},
		{Name: "vmsim.largest_free_run", Type: "gauge", Value: float64(frames.LargestFreeRun), Tags: tags},
		{Name: "vmsim.running_processes", Type: "gauge", Value: float64(stats.Running), Tags: tags},
		{Name: "vmsim.waiting_processes", Type: "gauge", Value: float64(stats.Waiting), Tags: tags},
	}

	for _, ps := range stats.PerProcess {
		if ps.Accesses == 0 {
			continue
		}
		procTags := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			procTags[k] = v
		}
		procTags["pid"] = strconv.Itoa(int(ps.ID))
		samples = append(samples, GensimMetricSample{
			Name:  "vmsim.process_fault_rate",
			Type:  "gauge",
			Value: ps.FaultRate,
			Tags:  procTags,
		})
	}

	return samples
}

// Config returns the current model configuration
func (m *MemoryModel) Config() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc := m.sim.Config()
	config := map[string]interface{}{
		"physical_memory":         sc.PhysicalMemoryBytes,
		"page_size":               sc.PageSizeBytes,
		"num_processes":           sc.NumProcesses,
		"virtual_pages":           sc.VirtualPagesPerProcess,
		"data_frames_per_process": sc.DataFramesPerProcess,
		"accesses_per_process":    sc.AccessesPerProcess,
		"algorithm":               sc.Algorithm.String(),
		"locality_exponent":       sc.LocalityExponent,
		"hit_latency_ms":          m.cfg.HitLatencyMs,
		"fault_penalty_ms":        m.cfg.FaultPenaltyMs,
	}
	if m.cfg.FaultLogThresholdPct > 0 {
		config["fault_log_threshold_pct"] = m.cfg.FaultLogThresholdPct
	}
	return config
}

// MutableParameters returns descriptors for runtime-adjustable parameters
func (m *MemoryModel) MutableParameters() []GensimParameterDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc := m.sim.Config()
	params := make([]GensimParameterDescriptor, 0, 3)

	minFrames := 1.0
	maxFrames := float64(sc.TotalFrames() - sc.PageTableFrames)
	params = append(params, GensimParameterDescriptor{
		Name:         "data_frames_per_process",
		Type:         "int",
		CurrentValue: sc.DataFramesPerProcess,
		Min:          &minFrames,
		Max:          &maxFrames,
		Description:  "Resident-set size of each process. More frames lower the fault rate but fewer processes fit in physical memory at once, so more of them wait for admission. Changing it restarts the workload.",
	})

	params = append(params, GensimParameterDescriptor{
		Name:         "algorithm",
		Type:         "string",
		CurrentValue: sc.Algorithm.String(),
		Description:  "Page replacement policy: \"fifo\" evicts the page loaded earliest, \"lru\" evicts the page used least recently. Changing it restarts the workload.",
	})

	minPenalty := 0.0
	maxPenalty := 1000.0
	params = append(params, GensimParameterDescriptor{
		Name:         "fault_penalty_ms",
		Type:         "float",
		CurrentValue: m.cfg.FaultPenaltyMs,
		Min:          &minPenalty,
		Max:          &maxPenalty,
		Description:  "Latency added to a request when any access in its tick faults, modelling the time to load the page from backing store.",
	})

	return params
}

// UpdateParameters applies runtime configuration changes
func (m *MemoryModel) UpdateParameters(params map[string]interface{}) error {
	if len(params) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	newConfig := m.sim.Config()
	restart := false

	if raw, ok := params["data_frames_per_process"]; ok {
		val, err := parseIntParam(raw)
		if err != nil {
			return fmt.Errorf("data_frames_per_process: %w", err)
		}
		if val <= 0 {
			return fmt.Errorf("data_frames_per_process must be > 0")
		}
		newConfig.DataFramesPerProcess = val
		restart = true
	}

	if raw, ok := params["algorithm"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("algorithm: unsupported type %T", raw)
		}
		alg, err := simulator.ParseAlgorithm(s)
		if err != nil {
			return fmt.Errorf("algorithm: %w", err)
		}
		newConfig.Algorithm = alg
		restart = true
	}

	if raw, ok := params["fault_penalty_ms"]; ok {
		val, err := parseFloatParam(raw)
		if err != nil {
			return fmt.Errorf("fault_penalty_ms: %w", err)
		}
		if val < 0 {
			return fmt.Errorf("fault_penalty_ms must be >= 0")
		}
		m.cfg.FaultPenaltyMs = val
	}

	if restart {
		if err := m.sim.UpdateConfig(newConfig); err != nil {
			return fmt.Errorf("failed to update simulator config: %w", err)
		}
		m.cfg.DataFramesPerProcess = newConfig.DataFramesPerProcess
		m.cfg.Algorithm = newConfig.Algorithm.String()
		m.lastHealth = "ok"
		m.lastHealthStatus = "normal"
	}
	return nil
}

// Helper functions for parameter parsing
func parseIntParam(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

func parseFloatParam(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

// parseSizeString parses a byte count with optional units (b, kb, mb, gb).
// Plain numbers are bytes. Fractional results are rejected.
func parseSizeString(value string) (int, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0, fmt.Errorf("empty value")
	}

	multiplier := 1.0
	for _, u := range []struct {
		suffix string
		factor float64
	}{
		{"kb", 1 << 10},
		{"mb", 1 << 20},
		{"gb", 1 << 30},
		{"b", 1},
	} {
		if strings.HasSuffix(value, u.suffix) {
			multiplier = u.factor
			value = strings.TrimSpace(strings.TrimSuffix(value, u.suffix))
			break
		}
	}

	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse size value: %s", value)
	}
	if math.IsNaN(num) || math.IsInf(num, 0) || num < 0 {
		return 0, fmt.Errorf("invalid numeric value")
	}

	bytes := num * multiplier
	if bytes != math.Trunc(bytes) {
		return 0, fmt.Errorf("size %s is not a whole number of bytes", value)
	}
	return int(bytes), nil
}
