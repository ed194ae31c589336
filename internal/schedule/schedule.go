// Package schedule computes learning rates as a function of the training step.
package schedule

import "math"

// Schedule maps a global step to a learning rate.
type Schedule interface {
	LR(step int) float64
}

// Constant is a schedule that never changes.
type Constant float64

// LR returns the constant rate.
func (c Constant) LR(int) float64 {
	return float64(c)
}

// ExponentialDecay multiplies Initial by Rate once every DecaySteps steps:
//
//	lr = Initial * Rate^(step / DecaySteps)
//
// With Staircase the exponent is truncated so the rate changes in discrete
// intervals.
type ExponentialDecay struct {
	Initial    float64
	DecaySteps int
	Rate       float64
	Staircase  bool
}

// LR returns the decayed rate at step. Negative steps are treated as 0 and a
// non-positive DecaySteps disables decay.
func (d ExponentialDecay) LR(step int) float64 {
	if d.DecaySteps <= 0 || step <= 0 {
		return d.Initial
	}

	p := float64(step) / float64(d.DecaySteps)
	if d.Staircase {
		p = math.Floor(p)
	}
	return d.Initial * math.Pow(d.Rate, p)
}
