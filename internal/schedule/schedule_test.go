package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(0.3)
	assert.Equal(t, 0.3, s.LR(0))
	assert.Equal(t, 0.3, s.LR(100000))
}

func TestExponentialDecayStaircase(t *testing.T) {
	d := ExponentialDecay{Initial: 1.0, DecaySteps: 10, Rate: 0.5, Staircase: true}

	tests := []struct {
		step int
		want float64
	}{
		{-5, 1.0},
		{0, 1.0},
		{9, 1.0},
		{10, 0.5},
		{19, 0.5},
		{20, 0.25},
		{35, 0.125},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, d.LR(tt.step), 1e-12, "step %d", tt.step)
	}
}

func TestExponentialDecayContinuous(t *testing.T) {
	d := ExponentialDecay{Initial: 1.0, DecaySteps: 10, Rate: 0.25}

	assert.InDelta(t, 0.5, d.LR(5), 1e-12)
	assert.InDelta(t, 0.25, d.LR(10), 1e-12)
	assert.Less(t, d.LR(11), d.LR(10))
}

func TestExponentialDecayDisabled(t *testing.T) {
	d := ExponentialDecay{Initial: 0.1, DecaySteps: 0, Rate: 0.5, Staircase: true}
	assert.Equal(t, 0.1, d.LR(1000))
}
