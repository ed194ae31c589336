package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Searcher minimizes a black-box objective inside a box.
type Searcher interface {
	// Search returns the best point found and its cost.
	// lower and upper bound every dimension of the point.
	Search(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error)
}

// MayflyAdapter wraps the mayfly library as a Searcher.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a mayfly searcher. mayfly needs a population of at
// least 20.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < 20 {
		popSize = 20
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Search runs mayfly on the unit cube and maps points into [lower, upper]
// per dimension, since the library only takes scalar bounds.
func (m *MayflyAdapter) Search(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, 0, fmt.Errorf("bounds must be non-empty and of equal length (lower %d, upper %d)", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return nil, 0, fmt.Errorf("lower bound %d greater than upper bound", i)
		}
	}

	scale := func(unit []float64) []float64 {
		x := make([]float64, len(unit))
		for i, u := range unit {
			x[i] = lower[i] + u*(upper[i]-lower[i])
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(unit []float64) float64 {
		return eval(scale(unit))
	}
	config.ProblemSize = len(lower)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly search failed: %w", err)
	}

	return scale(result.GlobalBest.Position), result.GlobalBest.Cost, nil
}
