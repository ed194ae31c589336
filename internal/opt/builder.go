// Package opt builds training optimizers from configuration and provides a
// gradient-free search used for hyperparameter tuning.
package opt

import (
	"log/slog"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/schedule"
	"github.com/cwbudde/trainkit/internal/store"
	"github.com/cwbudde/trainkit/internal/summary"
)

// LearningRateTag is the summary tag of the logged learning rate.
const LearningRateTag = "learning_rate"

// lrOptimizer is a born optimizer whose learning rate can be changed.
type lrOptimizer interface {
	optim.Optimizer
	SetLR(lr float32)
}

// Scheduled wraps a born optimizer and sets its learning rate from a
// schedule evaluated at the global step before every update.
type Scheduled[B tensor.Backend] struct {
	name     string
	inner    lrOptimizer
	schedule schedule.Schedule
	step     *store.GlobalStep[B]
	writer   summary.Writer
}

var _ optim.Optimizer = (*Scheduled[*cpu.Backend])(nil)

// BuildOptimizer instantiates the optimizer described by cfg.Optimizer for
// params.
//
// When cfg.Decay is enabled the learning rate decays exponentially in
// staircase fashion every steps.Decay steps by cfg.Decay.Factor, and each
// applied rate is written to writer under LearningRateTag. Otherwise the
// rate stays at the configured value and nothing is logged. writer may be
// nil.
func BuildOptimizer[B tensor.Backend](
	cfg *config.Config,
	steps config.Steps,
	step *store.GlobalStep[B],
	params []*nn.Parameter[B],
	backend B,
	writer summary.Writer,
) (*Scheduled[B], error) {
	initial := cfg.Optimizer.Args.LearningRate

	var sched schedule.Schedule = schedule.Constant(initial)
	if cfg.Decay.Enabled {
		sched = schedule.ExponentialDecay{
			Initial:    initial,
			DecaySteps: steps.Decay,
			Rate:       cfg.Decay.Factor,
			Staircase:  true,
		}
	} else {
		writer = nil
	}

	inner, err := newOptimizer(cfg.Optimizer, params, backend)
	if err != nil {
		return nil, err
	}

	slog.Info("Optimizer built",
		"optimizer", cfg.Optimizer.Name,
		"learning_rate", initial,
		"decay", cfg.Decay.Enabled,
		"decay_steps", steps.Decay,
		"params", len(params),
	)

	return &Scheduled[B]{
		name:     cfg.Optimizer.Name,
		inner:    inner,
		schedule: sched,
		step:     step,
		writer:   writer,
	}, nil
}

func newOptimizer[B tensor.Backend](c config.OptimizerConfig, params []*nn.Parameter[B], backend B) (lrOptimizer, error) {
	lr := float32(c.Args.LearningRate)

	switch c.Name {
	case config.OptimizerSGD:
		return optim.NewSGD(params, optim.SGDConfig{LR: lr}, backend), nil
	case config.OptimizerMomentum:
		return optim.NewSGD(params, optim.SGDConfig{
			LR:       lr,
			Momentum: float32(c.Args.Momentum),
		}, backend), nil
	case config.OptimizerAdam:
		return optim.NewAdam(params, optim.AdamConfig{
			LR:    lr,
			Betas: [2]float32{float32(c.Args.Beta1), float32(c.Args.Beta2)},
			Eps:   float32(c.Args.Epsilon),
		}, backend), nil
	default:
		return nil, &UnknownOptimizerError{Name: c.Name}
	}
}

// Step sets the scheduled learning rate for the current global step and
// applies grads.
func (s *Scheduled[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	step := s.step.Value()
	lr := s.schedule.LR(step)
	s.inner.SetLR(float32(lr))

	if s.writer != nil {
		if err := s.writer.Scalar(step, LearningRateTag, lr); err != nil {
			slog.Warn("Failed to log learning rate", "step", step, "error", err)
		}
	}

	s.inner.Step(grads)
}

// ZeroGrad clears parameter gradients.
func (s *Scheduled[B]) ZeroGrad() {
	s.inner.ZeroGrad()
}

// GetLR returns the learning rate applied by the last Step.
func (s *Scheduled[B]) GetLR() float32 {
	return s.inner.GetLR()
}

// LR returns the learning rate the next Step will apply.
func (s *Scheduled[B]) LR() float64 {
	return s.schedule.LR(s.step.Value())
}

// Name returns the configured optimizer name.
func (s *Scheduled[B]) Name() string {
	return s.name
}

// Schedule returns the learning-rate schedule.
func (s *Scheduled[B]) Schedule() schedule.Schedule {
	return s.schedule
}

// UnknownOptimizerError reports an optimizer name with no implementation.
type UnknownOptimizerError struct {
	Name string
}

func (e *UnknownOptimizerError) Error() string {
	return "unknown optimizer: " + e.Name
}
