package simulator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Geometry(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	require.Equal(t, 64, config.TotalFrames())
	require.Equal(t, 10, config.FramesPerProcess())
	require.Equal(t, 64*256, config.VirtualAddressSpace())
	require.Greater(t, config.VirtualPagesPerProcess, config.DataFramesPerProcess, "over-commitment")

	require.NoError(t, SmallConfig().Validate())
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SimConfig)
		param  string
	}{
		{"zero processes", func(c *SimConfig) { c.NumProcesses = 0 }, "numProcesses"},
		{"page size not power of two", func(c *SimConfig) { c.PageSizeBytes = 100 }, "pageSizeBytes"},
		{"memory not multiple of page", func(c *SimConfig) { c.PhysicalMemoryBytes = 1000 }, "physicalMemoryBytes"},
		{"quota exceeds memory", func(c *SimConfig) { c.DataFramesPerProcess = 64 }, "dataFramesPerProcess"},
		{"no data frames", func(c *SimConfig) { c.DataFramesPerProcess = 0 }, "dataFramesPerProcess"},
		{"no accesses", func(c *SimConfig) { c.AccessesPerProcess = 0 }, "accessesPerProcess"},
		{"negative think time", func(c *SimConfig) { c.MaxThinkTimeMs = -1 }, "maxThinkTimeMs"},
		{"unknown algorithm", func(c *SimConfig) { c.Algorithm = Algorithm(7) }, "algorithm"},
		{"unknown address pattern", func(c *SimConfig) { c.AddressPattern = AddressPattern(7) }, "addressPattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)

			err := config.Validate()
			require.True(t, IsConfigError(err))
			var ce ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tt.param, ce.Param)

			_, err = NewSimulator(config)
			require.True(t, IsConfigError(err), "rejected before any process exists")
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("LRU")
	require.NoError(t, err)
	require.Equal(t, AlgorithmLRU, alg)

	_, err = ParseAlgorithm("clock")
	require.Error(t, err)

	var decoded struct {
		Algorithm Algorithm `json:"algorithm"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"algorithm":"lru"}`), &decoded))
	require.Equal(t, AlgorithmLRU, decoded.Algorithm)
}

func TestParseAddressPattern(t *testing.T) {
	pattern, err := ParseAddressPattern(" Uniform ")
	require.NoError(t, err)
	require.Equal(t, AddressPatternUniform, pattern)

	pattern, err = ParseAddressPattern("LOCALITY")
	require.NoError(t, err)
	require.Equal(t, AddressPatternLocality, pattern)

	_, err = ParseAddressPattern("zipf")
	require.Error(t, err)
	require.Equal(t, "unknown", AddressPattern(7).String())
}

func TestLoadConfig_JSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"numProcesses": 4, "algorithm": "lru"}`), 0o644))
	config, err := LoadConfig(jsonPath)
	require.NoError(t, err)
	require.Equal(t, 4, config.NumProcesses)
	require.Equal(t, AlgorithmLRU, config.Algorithm)
	require.Equal(t, 256, config.PageSizeBytes, "unset fields keep defaults")

	yamlPath := filepath.Join(dir, "run.yaml")
	yamlDoc := "num_processes: 5\nalgorithm: fifo\naddress_pattern: uniform\ndata_frames_per_process: 4\n"
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o644))
	config, err = LoadConfig(yamlPath)
	require.NoError(t, err)
	require.Equal(t, 5, config.NumProcesses)
	require.Equal(t, AddressPatternUniform, config.AddressPattern)
	require.Equal(t, 4, config.DataFramesPerProcess)
	require.NoError(t, config.Validate())

	badPath := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(badPath, []byte("algorithm: clock\n"), 0o644))
	_, err = LoadConfig(badPath)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
