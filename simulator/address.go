package simulator

import (
	"math"
	"math/rand"
	"sort"
)

// AddressGenerator produces the virtual addresses a process accesses.
// Implementations are owned by one process and need not be safe for concurrent use.
type AddressGenerator interface {
	Next() int
}

// LocalityGenerator picks page i with probability proportional to 1/(i+1)^exponent,
// so low pages are referenced most often. The offset within the page is uniform.
type LocalityGenerator struct {
	pageSize   int
	cumulative []float64 // cumulative[i] = sum of weights 0..i
	rng        *rand.Rand
}

// NewLocalityGenerator creates a generator over numPages pages
func NewLocalityGenerator(numPages, pageSize int, exponent float64, rng *rand.Rand) *LocalityGenerator {
	cumulative := make([]float64, numPages)
	total := 0.0
	for i := 0; i < numPages; i++ {
		total += 1.0 / math.Pow(float64(i+1), exponent)
		cumulative[i] = total
	}
	return &LocalityGenerator{
		pageSize:   pageSize,
		cumulative: cumulative,
		rng:        rng,
	}
}

func (g *LocalityGenerator) Next() int {
	target := g.rng.Float64() * g.cumulative[len(g.cumulative)-1]
	page := sort.SearchFloat64s(g.cumulative, target)
	if page >= len(g.cumulative) {
		page = len(g.cumulative) - 1
	}
	return page*g.pageSize + g.rng.Intn(g.pageSize)
}

// Weight returns the normalized probability of page vp
func (g *LocalityGenerator) Weight(vp int) float64 {
	if vp < 0 || vp >= len(g.cumulative) {
		return 0
	}
	prev := 0.0
	if vp > 0 {
		prev = g.cumulative[vp-1]
	}
	return (g.cumulative[vp] - prev) / g.cumulative[len(g.cumulative)-1]
}

// UniformGenerator picks every address of the space with equal probability
type UniformGenerator struct {
	size int
	rng  *rand.Rand
}

func NewUniformGenerator(numPages, pageSize int, rng *rand.Rand) *UniformGenerator {
	return &UniformGenerator{size: numPages * pageSize, rng: rng}
}

func (g *UniformGenerator) Next() int {
	return g.rng.Intn(g.size)
}

// ReferenceString replays a fixed sequence of virtual pages, addressing offset 0 of
// each. It wraps around after the last page. An empty string yields -1, which no
// page table translates.
type ReferenceString struct {
	pages    []int
	pageSize int
	pos      int
}

func NewReferenceString(pageSize int, pages ...int) *ReferenceString {
	return &ReferenceString{pages: append([]int(nil), pages...), pageSize: pageSize}
}

func (r *ReferenceString) Next() int {
	if len(r.pages) == 0 {
		return -1
	}
	vp := r.pages[r.pos%len(r.pages)]
	r.pos++
	return vp * r.pageSize
}

// Len returns the length of one pass over the string
func (r *ReferenceString) Len() int {
	return len(r.pages)
}

// NewAddressGenerator creates the generator selected by config.AddressPattern
func NewAddressGenerator(config SimConfig, rng *rand.Rand) AddressGenerator {
	switch config.AddressPattern {
	case AddressPatternUniform:
		return NewUniformGenerator(config.VirtualPagesPerProcess, config.PageSizeBytes, rng)
	default:
		return NewLocalityGenerator(config.VirtualPagesPerProcess, config.PageSizeBytes, config.LocalityExponent, rng)
	}
}

// NewRand creates a random source for seed (0 = time-based)
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rand.New(rand.NewSource(seed))
}

// ProcessGenerators derives one generator per process from master, so that each
// process sees the same address sequence regardless of how accesses interleave.
func ProcessGenerators(config SimConfig, master *rand.Rand) []AddressGenerator {
	gens := make([]AddressGenerator, config.NumProcesses)
	for i := range gens {
		gens[i] = NewAddressGenerator(config, rand.New(rand.NewSource(master.Int63())))
	}
	return gens
}
