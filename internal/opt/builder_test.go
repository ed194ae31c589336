package opt

import (
	"errors"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/schedule"
	"github.com/cwbudde/trainkit/internal/store"
)

type scalar struct {
	step  int
	tag   string
	value float64
}

// recorder is an in-memory summary.Writer.
type recorder struct {
	scalars []scalar
}

func (r *recorder) Scalar(step int, tag string, value float64) error {
	r.scalars = append(r.scalars, scalar{step, tag, value})
	return nil
}

func newWeight(t *testing.T, backend *cpu.Backend, values ...float32) *nn.Parameter[*cpu.Backend] {
	t.Helper()

	w, err := tensor.FromSlice[float32](values, tensor.Shape{len(values)}, backend)
	require.NoError(t, err)
	return nn.NewParameter("w", w)
}

// gradOf returns a gradient map assigning grad to every element of p.
func gradOf(t *testing.T, backend *cpu.Backend, p *nn.Parameter[*cpu.Backend], grad float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()

	values := make([]float32, len(p.Tensor().Data()))
	for i := range values {
		values[i] = grad
	}
	g, err := tensor.FromSlice[float32](values, p.Tensor().Shape(), backend)
	require.NoError(t, err)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor().Raw(): g.Raw()}
}

func decayConfig(name string, enabled bool) *config.Config {
	cfg := config.Default()
	cfg.Optimizer = config.OptimizerConfig{Name: name, Args: config.OptimizerArgs{LearningRate: 1.0}}
	cfg.Decay = config.DecayConfig{Enabled: enabled, Factor: 0.5, Epochs: 1}
	return cfg
}

func TestBuildOptimizerDecay(t *testing.T) {
	backend := cpu.New()
	step := store.NewGlobalStep(backend)
	rec := &recorder{}
	cfg := decayConfig(config.OptimizerSGD, true)

	o, err := BuildOptimizer(cfg, config.Steps{Decay: 2}, step, nil, backend, rec)
	require.NoError(t, err)
	assert.Equal(t, config.OptimizerSGD, o.Name())
	assert.IsType(t, schedule.ExponentialDecay{}, o.Schedule())

	want := []float64{1, 1, 0.5, 0.5, 0.25}
	for i := range want {
		o.Step(nil)
		assert.InDelta(t, want[i], float64(o.GetLR()), 1e-6, "step %d", i)
		step.Increment()
	}

	require.Len(t, rec.scalars, len(want))
	for i, s := range rec.scalars {
		assert.Equal(t, i, s.step)
		assert.Equal(t, LearningRateTag, s.tag)
		assert.InDelta(t, want[i], s.value, 1e-9)
	}
}

func TestBuildOptimizerNoDecay(t *testing.T) {
	backend := cpu.New()
	step := store.NewGlobalStep(backend)
	rec := &recorder{}
	cfg := decayConfig(config.OptimizerSGD, false)

	o, err := BuildOptimizer(cfg, config.Steps{Decay: 2}, step, nil, backend, rec)
	require.NoError(t, err)
	assert.Equal(t, schedule.Constant(1.0), o.Schedule())

	for i := 0; i < 5; i++ {
		o.Step(nil)
		step.Increment()
	}
	assert.InDelta(t, 1.0, float64(o.GetLR()), 1e-9)
	assert.Empty(t, rec.scalars, "learning rate is logged only with decay")
}

func TestBuildOptimizerNilWriter(t *testing.T) {
	backend := cpu.New()
	o, err := BuildOptimizer(decayConfig(config.OptimizerSGD, true), config.Steps{Decay: 1},
		store.NewGlobalStep(backend), nil, backend, nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { o.Step(nil) })
}

func TestBuildOptimizerSGDUpdates(t *testing.T) {
	backend := cpu.New()
	step := store.NewGlobalStep(backend)
	w := newWeight(t, backend, 1, 2)

	cfg := decayConfig(config.OptimizerSGD, false)
	cfg.Optimizer.Args.LearningRate = 0.1

	o, err := BuildOptimizer(cfg, config.Steps{}, step, []*nn.Parameter[*cpu.Backend]{w}, backend, nil)
	require.NoError(t, err)

	o.Step(gradOf(t, backend, w, 1))
	assert.InDeltaSlice(t, []float32{0.9, 1.9}, w.Tensor().Data(), 1e-6)
}

func TestBuildOptimizerMomentumUpdates(t *testing.T) {
	backend := cpu.New()
	step := store.NewGlobalStep(backend)
	w := newWeight(t, backend, 0)

	cfg := decayConfig(config.OptimizerMomentum, false)
	cfg.Optimizer.Args = config.OptimizerArgs{LearningRate: 0.1, Momentum: 0.5}

	o, err := BuildOptimizer(cfg, config.Steps{}, step, []*nn.Parameter[*cpu.Backend]{w}, backend, nil)
	require.NoError(t, err)

	// v1 = 1, w = -0.1; v2 = 0.5 + 1, w = -0.1 - 0.15
	o.Step(gradOf(t, backend, w, 1))
	o.Step(gradOf(t, backend, w, 1))
	assert.InDelta(t, -0.25, float64(w.Tensor().Data()[0]), 1e-6)
}

func TestBuildOptimizerAdamMovesAgainstGradient(t *testing.T) {
	backend := cpu.New()
	step := store.NewGlobalStep(backend)
	w := newWeight(t, backend, 1, -1)

	cfg := decayConfig(config.OptimizerAdam, false)
	cfg.Optimizer.Args = config.OptimizerArgs{LearningRate: 0.01}

	o, err := BuildOptimizer(cfg, config.Steps{}, step, []*nn.Parameter[*cpu.Backend]{w}, backend, nil)
	require.NoError(t, err)

	o.Step(gradOf(t, backend, w, 1))
	// The first Adam step has magnitude ~lr regardless of gradient scale.
	assert.InDelta(t, 0.99, float64(w.Tensor().Data()[0]), 1e-4)
	assert.InDelta(t, -1.01, float64(w.Tensor().Data()[1]), 1e-4)
}

func TestBuildOptimizerUnknown(t *testing.T) {
	backend := cpu.New()
	cfg := decayConfig("rmsprop", false)

	_, err := BuildOptimizer(cfg, config.Steps{}, store.NewGlobalStep(backend), nil, backend, nil)

	var unknown *UnknownOptimizerError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "rmsprop", unknown.Name)
}
