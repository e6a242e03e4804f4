// ABOUTME: Running statistics and seeded Bernoulli samplers
// ABOUTME: Used for hit counts, snapshot precision and every sampling decision

package query

import (
	"fmt"
	"math/rand"
)

// Stat is a running mean with count and range.
type Stat struct {
	N   int     `yaml:"n"`
	Sum float64 `yaml:"sum"`
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Add records one observation.
func (s *Stat) Add(x float64) {
	if s.N == 0 || x < s.Min {
		s.Min = x
	}
	if s.N == 0 || x > s.Max {
		s.Max = x
	}
	s.N++
	s.Sum += x
}

// Mean returns the mean observation, 0 if there were none.
func (s Stat) Mean() float64 {
	if s.N == 0 {
		return 0
	}
	return s.Sum / float64(s.N)
}

func (s Stat) String() string {
	if s.N == 0 {
		return "(none)"
	}
	return fmt.Sprintf("%.3f [%.3f, %.3f] (n=%d)", s.Mean(), s.Min, s.Max, s.N)
}

// Sampler draws independent Bernoulli trials from its own generator.
type Sampler struct {
	frac float64
	rng  *rand.Rand
}

// NewSampler creates a sampler succeeding with probability frac.
func NewSampler(frac float64, seed int64) *Sampler {
	return &Sampler{frac: frac, rng: rand.New(rand.NewSource(seed))}
}

// Draw consumes one number from the generator and reports success.
func (s *Sampler) Draw() bool {
	return s.rng.Float64() < s.frac
}

// Frac returns the success probability.
func (s *Sampler) Frac() float64 { return s.frac }
