package simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gopkg.in/yaml.v3"
)

// ThinkTimeDistribution selects how the delay before each access is drawn
type ThinkTimeDistribution int

const (
	ThinkTimeUniform     ThinkTimeDistribution = iota // Uniform over [0, max)
	ThinkTimeExponential                              // Exponential with mean max/4, clamped to max
	ThinkTimeFixed                                    // Always max
)

// String returns the string representation of ThinkTimeDistribution
func (d ThinkTimeDistribution) String() string {
	switch d {
	case ThinkTimeUniform:
		return "uniform"
	case ThinkTimeExponential:
		return "exponential"
	case ThinkTimeFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// ParseThinkTimeDistribution parses a string into ThinkTimeDistribution (case-insensitive)
func ParseThinkTimeDistribution(s string) (ThinkTimeDistribution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform", "":
		return ThinkTimeUniform, nil
	case "exponential", "exp":
		return ThinkTimeExponential, nil
	case "fixed":
		return ThinkTimeFixed, nil
	default:
		return ThinkTimeUniform, fmt.Errorf("invalid think time distribution: %s (must be 'uniform', 'exponential', or 'fixed')", s)
	}
}

// MarshalJSON implements json.Marshaler for ThinkTimeDistribution
func (d ThinkTimeDistribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler for ThinkTimeDistribution
func (d *ThinkTimeDistribution) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseThinkTimeDistribution(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for ThinkTimeDistribution
func (d *ThinkTimeDistribution) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseThinkTimeDistribution(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ThinkTime draws the simulated delay, in milliseconds, before one access
type ThinkTime interface {
	SampleMs(rng *rand.Rand) float64
}

// UniformThinkTime samples uniformly in [0, MaxMs)
type UniformThinkTime struct {
	MaxMs float64
}

func (t *UniformThinkTime) SampleMs(rng *rand.Rand) float64 {
	if t.MaxMs <= 0 {
		return 0
	}
	return rng.Float64() * t.MaxMs
}

// ExponentialThinkTime produces mostly short delays with an occasional long one
type ExponentialThinkTime struct {
	MaxMs float64
}

func (t *ExponentialThinkTime) SampleMs(rng *rand.Rand) float64 {
	if t.MaxMs <= 0 {
		return 0
	}
	return math.Min(exponentialSample(rng, t.MaxMs/4), t.MaxMs)
}

// FixedThinkTime always returns MaxMs and draws nothing from rng
type FixedThinkTime struct {
	MaxMs float64
}

func (t *FixedThinkTime) SampleMs(_ *rand.Rand) float64 {
	return math.Max(t.MaxMs, 0)
}

// NewThinkTime creates the think time sampler described by config
func NewThinkTime(config SimConfig) ThinkTime {
	switch config.ThinkTimeDistribution {
	case ThinkTimeExponential:
		return &ExponentialThinkTime{MaxMs: config.MaxThinkTimeMs}
	case ThinkTimeFixed:
		return &FixedThinkTime{MaxMs: config.MaxThinkTimeMs}
	default:
		return &UniformThinkTime{MaxMs: config.MaxThinkTimeMs}
	}
}

// exponentialSample generates an exponential random variable
func exponentialSample(rng *rand.Rand, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	u := rng.Float64()
	if u == 0 {
		u = 1e-10 // Avoid log(0)
	}
	return -mean * math.Log(u)
}
