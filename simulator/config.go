package simulator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Algorithm selects the page-replacement policy for a simulation run
type Algorithm int

const (
	AlgorithmFIFO Algorithm = iota // First-in first-out over resident pages
	AlgorithmLRU                   // Least recently used
)

// String returns the string representation of Algorithm
func (a Algorithm) String() string {
	switch a {
	case AlgorithmFIFO:
		return "fifo"
	case AlgorithmLRU:
		return "lru"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a string into Algorithm (case-insensitive)
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fifo":
		return AlgorithmFIFO, nil
	case "lru":
		return AlgorithmLRU, nil
	default:
		return AlgorithmFIFO, fmt.Errorf("invalid algorithm: %s (must be 'fifo' or 'lru')", s)
	}
}

// MarshalJSON implements json.Marshaler for Algorithm
func (a Algorithm) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler for Algorithm
func (a *Algorithm) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAlgorithm(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for Algorithm
func (a *Algorithm) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseAlgorithm(value.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressPattern represents the virtual address generation model
type AddressPattern int

const (
	AddressPatternLocality AddressPattern = iota // Weighted toward low pages, weight 1/(i+1)^exponent
	AddressPatternUniform                        // Every virtual page equally likely
)

// String returns the string representation of AddressPattern
func (p AddressPattern) String() string {
	switch p {
	case AddressPatternLocality:
		return "locality"
	case AddressPatternUniform:
		return "uniform"
	default:
		return "unknown"
	}
}

// ParseAddressPattern parses a string into AddressPattern
func ParseAddressPattern(s string) (AddressPattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "locality":
		return AddressPatternLocality, nil
	case "uniform":
		return AddressPatternUniform, nil
	default:
		return AddressPatternLocality, fmt.Errorf("invalid address pattern: %s (must be 'locality' or 'uniform')", s)
	}
}

// MarshalJSON implements json.Marshaler for AddressPattern
func (p AddressPattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler for AddressPattern
func (p *AddressPattern) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddressPattern(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for AddressPattern
func (p *AddressPattern) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseAddressPattern(value.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// SimConfig holds all simulation parameters
type SimConfig struct {
	// Memory geometry
	PhysicalMemoryBytes int `json:"physicalMemoryBytes" yaml:"physical_memory_bytes"` // Total physical memory (default 16 KiB)
	PageSizeBytes       int `json:"pageSizeBytes" yaml:"page_size_bytes"`             // Page and frame size (default 256 B)

	// Workload
	NumProcesses           int `json:"numProcesses" yaml:"num_processes"`                     // Number of simulated processes (default 12)
	VirtualPagesPerProcess int `json:"virtualPagesPerProcess" yaml:"virtual_pages_per_process"` // Virtual address space per process, in pages (default 64)
	PageTableFrames        int `json:"pageTableFrames" yaml:"page_table_frames"`               // Frames holding the page table (default 1)
	DataFramesPerProcess   int `json:"dataFramesPerProcess" yaml:"data_frames_per_process"`    // Frames available for resident pages (default 9)
	AccessesPerProcess     int `json:"accessesPerProcess" yaml:"accesses_per_process"`         // Accesses before a process finishes (default 200)

	// Policy
	Algorithm        Algorithm      `json:"algorithm" yaml:"algorithm"`                // Page replacement: "fifo" or "lru"
	AddressPattern   AddressPattern `json:"addressPattern" yaml:"address_pattern"`     // Address generation: "locality" or "uniform"
	LocalityExponent float64        `json:"localityExponent" yaml:"locality_exponent"` // Page i weight is 1/(i+1)^exponent (default 0.5)

	// Pacing
	MaxThinkTimeMs        float64               `json:"maxThinkTimeMs" yaml:"max_think_time_ms"`                // Upper bound of the per-access simulated delay (default 100ms)
	ThinkTimeDistribution ThinkTimeDistribution `json:"thinkTimeDistribution" yaml:"think_time_distribution"` // How the delay is drawn: "uniform", "exponential", or "fixed"
	TickIntervalMs        float64               `json:"tickIntervalMs" yaml:"tick_interval_ms"`                 // Coordinator tick period for the concurrent harness (default 100ms)
	RandomSeed            int64                 `json:"randomSeed" yaml:"random_seed"`                          // Random seed for reproducibility (0 = use time-based seed)
}

// DefaultConfig returns the parameters of the classic 16 KiB / 12 job experiment
func DefaultConfig() SimConfig {
	return SimConfig{
		PhysicalMemoryBytes:    16384,                  // 2^14 bytes
		PageSizeBytes:          256,                    // 64 frames total
		NumProcesses:           12,                     // 12 jobs, more than fit at once
		VirtualPagesPerProcess: 64,                     // over-commitment: 64 virtual pages vs 9 data frames
		PageTableFrames:        1,                      // one frame for the page table
		DataFramesPerProcess:   9,                      // 10 frames per process in total
		AccessesPerProcess:     200,                    // execution length
		Algorithm:              AlgorithmFIFO,          // FIFO by default
		AddressPattern:         AddressPatternLocality, // locality of reference
		LocalityExponent:       0.5,                    // 1/sqrt(i+1)
		MaxThinkTimeMs:         100,                    // 0-100ms per access
		TickIntervalMs:         100,                    // coordinator refresh period
		RandomSeed:             0,                      // time-based seed
	}
}

// SmallConfig returns a compact configuration that finishes quickly
// Useful for tests: 16 frames, 3 processes of 4 frames each
func SmallConfig() SimConfig {
	return SimConfig{
		PhysicalMemoryBytes:    16 * 64,
		PageSizeBytes:          64,
		NumProcesses:           3,
		VirtualPagesPerProcess: 8,
		PageTableFrames:        1,
		DataFramesPerProcess:   3,
		AccessesPerProcess:     20,
		Algorithm:              AlgorithmFIFO,
		AddressPattern:         AddressPatternLocality,
		LocalityExponent:       0.5,
		MaxThinkTimeMs:         1,
		TickIntervalMs:         1,
		RandomSeed:             42,
	}
}

// TotalFrames returns the number of physical frames
func (c SimConfig) TotalFrames() int {
	if c.PageSizeBytes <= 0 {
		return 0
	}
	return c.PhysicalMemoryBytes / c.PageSizeBytes
}

// FramesPerProcess returns the admission quota of one process
func (c SimConfig) FramesPerProcess() int {
	return c.PageTableFrames + c.DataFramesPerProcess
}

// VirtualAddressSpace returns the size of one process's address space in bytes
func (c SimConfig) VirtualAddressSpace() int {
	return c.VirtualPagesPerProcess * c.PageSizeBytes
}

// Validate checks if configuration values are usable. Runs before any process is created.
func (c SimConfig) Validate() error {
	if c.PageSizeBytes <= 0 {
		return ErrInvalidConfig("pageSizeBytes", "must be > 0")
	}
	if c.PageSizeBytes&(c.PageSizeBytes-1) != 0 {
		return ErrInvalidConfig("pageSizeBytes", fmt.Sprintf("must be a power of two, got %d", c.PageSizeBytes))
	}
	if c.PhysicalMemoryBytes <= 0 || c.PhysicalMemoryBytes%c.PageSizeBytes != 0 {
		return ErrInvalidConfig("physicalMemoryBytes", "must be a positive multiple of pageSizeBytes")
	}
	if c.NumProcesses < 1 {
		return ErrInvalidConfig("numProcesses", "must be >= 1")
	}
	if c.VirtualPagesPerProcess < 1 {
		return ErrInvalidConfig("virtualPagesPerProcess", "must be >= 1")
	}
	if c.PageTableFrames < 0 {
		return ErrInvalidConfig("pageTableFrames", "must be >= 0")
	}
	if c.DataFramesPerProcess < 1 {
		return ErrInvalidConfig("dataFramesPerProcess", "must be >= 1")
	}
	if c.FramesPerProcess() > c.TotalFrames() {
		return ErrInvalidConfig("dataFramesPerProcess",
			fmt.Sprintf("quota of %d frames exceeds %d total frames", c.FramesPerProcess(), c.TotalFrames()))
	}
	if c.AccessesPerProcess < 1 {
		return ErrInvalidConfig("accessesPerProcess", "must be >= 1")
	}
	if c.MaxThinkTimeMs < 0 {
		return ErrInvalidConfig("maxThinkTimeMs", "must be >= 0")
	}
	if c.AddressPattern != AddressPatternLocality && c.AddressPattern != AddressPatternUniform {
		return ErrInvalidConfig("addressPattern", fmt.Sprintf("unknown address pattern %d", int(c.AddressPattern)))
	}
	if c.ThinkTimeDistribution < ThinkTimeUniform || c.ThinkTimeDistribution > ThinkTimeFixed {
		return ErrInvalidConfig("thinkTimeDistribution", fmt.Sprintf("unknown distribution %d", int(c.ThinkTimeDistribution)))
	}
	if c.TickIntervalMs < 0 {
		return ErrInvalidConfig("tickIntervalMs", "must be >= 0")
	}
	if c.LocalityExponent < 0 {
		return ErrInvalidConfig("localityExponent", "must be >= 0")
	}
	if c.Algorithm != AlgorithmFIFO && c.Algorithm != AlgorithmLRU {
		return ErrInvalidConfig("algorithm", fmt.Sprintf("unknown algorithm %d", int(c.Algorithm)))
	}
	return nil
}

// LoadConfig reads a configuration file. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON. Fields missing from the file keep DefaultConfig values.
func LoadConfig(path string) (SimConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}

	return config, nil
}
