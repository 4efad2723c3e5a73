// Package roulette picks indices at random in proportion to their weights.
package roulette

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

var (
	// ErrEmpty is returned when there is nothing to sample from.
	ErrEmpty = errors.New("roulette: no candidates")
	// ErrNoMass is returned when no weight is positive.
	ErrNoMass = errors.New("roulette: weights sum to zero")
	// ErrBadWeight is returned for negative, NaN or infinite weights.
	ErrBadWeight = errors.New("roulette: invalid weight")
)

// Sampler holds the cumulative distribution of a list of weights.
type Sampler struct {
	cumulative []float64
	total      float64
}

// New indexes weights. The weights need not be normalised or sorted.
func New(weights []float64) (*Sampler, error) {
	if len(weights) == 0 {
		return nil, ErrEmpty
	}

	s := &Sampler{cumulative: make([]float64, len(weights))}
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: index %d is %v", ErrBadWeight, i, w)
		}
		s.total += w
		s.cumulative[i] = s.total
	}
	if s.total <= 0 {
		return nil, ErrNoMass
	}
	return s, nil
}

// Len is the number of candidates.
func (s *Sampler) Len() int {
	return len(s.cumulative)
}

// Total is the sum of all weights.
func (s *Sampler) Total() float64 {
	return s.total
}

// Next draws an index. A candidate with zero weight is never returned.
func (s *Sampler) Next(rng *rand.Rand) int {
	x := rng.Float64() * s.total
	i := sort.Search(len(s.cumulative), func(i int) bool {
		return s.cumulative[i] > x
	})
	if i == len(s.cumulative) {
		// x rounded up to total; take the last candidate that has mass.
		i--
		for i > 0 && s.cumulative[i] == s.cumulative[i-1] {
			i--
		}
	}
	return i
}
