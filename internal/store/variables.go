package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// GlobalStepName is the variable name of the training step counter.
const GlobalStepName = "global_step"

// Variables is an ordered set of named parameters. It implements the born
// module interface so a set can be written and read with nn.Save and
// nn.Load.
//
// Names are scoped with "/" (for example "dense/weight"); scopes are used to
// exclude groups of variables from a restore.
type Variables[B tensor.Backend] struct {
	names     []string
	params    map[string]*nn.Parameter[B]
	trainable map[string]bool
}

// NewVariables creates an empty set.
func NewVariables[B tensor.Backend]() *Variables[B] {
	return &Variables[B]{
		params:    make(map[string]*nn.Parameter[B]),
		trainable: make(map[string]bool),
	}
}

// Add registers trainable parameters. Names must be unique.
func (v *Variables[B]) Add(params ...*nn.Parameter[B]) error {
	for _, p := range params {
		if err := v.add(p, true); err != nil {
			return err
		}
	}
	return nil
}

// AddNonTrainable registers parameters that are saved but never optimized
// and never restored unless asked for explicitly (e.g. the global step).
func (v *Variables[B]) AddNonTrainable(params ...*nn.Parameter[B]) error {
	for _, p := range params {
		if err := v.add(p, false); err != nil {
			return err
		}
	}
	return nil
}

func (v *Variables[B]) add(p *nn.Parameter[B], trainable bool) error {
	if p == nil {
		return fmt.Errorf("parameter cannot be nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if _, exists := v.params[name]; exists {
		return fmt.Errorf("duplicate variable %q", name)
	}
	v.names = append(v.names, name)
	v.params[name] = p
	v.trainable[name] = trainable
	return nil
}

// Len returns the number of variables.
func (v *Variables[B]) Len() int {
	return len(v.names)
}

// Names returns variable names in registration order.
func (v *Variables[B]) Names() []string {
	return append([]string(nil), v.names...)
}

// Get returns the variable with the given name.
func (v *Variables[B]) Get(name string) (*nn.Parameter[B], bool) {
	p, ok := v.params[name]
	return p, ok
}

// Trainable returns the trainable parameters in registration order.
func (v *Variables[B]) Trainable() []*nn.Parameter[B] {
	var out []*nn.Parameter[B]
	for _, name := range v.names {
		if v.trainable[name] {
			out = append(out, v.params[name])
		}
	}
	return out
}

// ToSave returns the trainable variables plus extra.
func (v *Variables[B]) ToSave(extra ...*nn.Parameter[B]) (*Variables[B], error) {
	return v.subset(extra, nil)
}

// ToRestore returns the trainable variables that are not under one of
// excludeScopes, plus extra.
func (v *Variables[B]) ToRestore(extra []*nn.Parameter[B], excludeScopes []string) (*Variables[B], error) {
	return v.subset(extra, excludeScopes)
}

func (v *Variables[B]) subset(extra []*nn.Parameter[B], excludeScopes []string) (*Variables[B], error) {
	out := NewVariables[B]()
	for _, name := range v.names {
		if !v.trainable[name] || InScopes(name, excludeScopes) {
			continue
		}
		if err := out.Add(v.params[name]); err != nil {
			return nil, err
		}
	}
	if err := out.AddNonTrainable(extra...); err != nil {
		return nil, err
	}
	return out, nil
}

// InScopes reports whether name equals one of scopes or is nested below it.
func InScopes(name string, scopes []string) bool {
	for _, scope := range scopes {
		scope = strings.TrimSuffix(scope, "/")
		if scope == "" {
			continue
		}
		if name == scope || strings.HasPrefix(name, scope+"/") {
			return true
		}
	}
	return false
}

// Forward returns input unchanged; a variable set has no computation.
func (v *Variables[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input
}

// Parameters returns every variable in registration order.
func (v *Variables[B]) Parameters() []*nn.Parameter[B] {
	out := make([]*nn.Parameter[B], 0, len(v.names))
	for _, name := range v.names {
		out = append(out, v.params[name])
	}
	return out
}

// StateDict maps variable names to their raw tensors.
func (v *Variables[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor, len(v.names))
	for _, name := range v.names {
		stateDict[name] = v.params[name].Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict copies values for every variable in the set from stateDict.
// Entries of stateDict that are not in the set are ignored. A variable
// missing from stateDict, or stored with another shape or dtype, is an
// error and leaves earlier variables already loaded.
func (v *Variables[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, name := range v.names {
		raw, ok := stateDict[name]
		if !ok {
			return &MissingVariableError{Name: name}
		}

		param := v.params[name]
		if !raw.Shape().Equal(param.Tensor().Shape()) {
			return fmt.Errorf("variable %s shape mismatch: expected %v, got %v",
				name, param.Tensor().Shape(), raw.Shape())
		}
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("variable %s dtype mismatch: expected float32, got %v", name, raw.DType())
		}

		copy(param.Tensor().Data(), raw.AsFloat32())
	}
	return nil
}

// GlobalStep is the monotonic training step counter. The exact count is
// kept as an int64 and written to checkpoint metadata; the one-element
// variable mirrors it for inspection and loses precision above 2^24.
type GlobalStep[B tensor.Backend] struct {
	value int64
	param *nn.Parameter[B]
}

// NewGlobalStep creates a counter at 0.
func NewGlobalStep[B tensor.Backend](backend B) *GlobalStep[B] {
	t := tensor.Zeros[float32](tensor.Shape{1}, backend)
	return &GlobalStep[B]{param: nn.NewParameter(GlobalStepName, t)}
}

// Value returns the current step.
func (g *GlobalStep[B]) Value() int {
	return int(g.value)
}

// Set overwrites the current step.
func (g *GlobalStep[B]) Set(step int) {
	g.value = int64(step)
	g.param.Tensor().Data()[0] = float32(step)
}

// Increment advances the counter and returns the new step.
func (g *GlobalStep[B]) Increment() int {
	g.Set(int(g.value + 1))
	return int(g.value)
}

// Variable returns the parameter backing the counter.
func (g *GlobalStep[B]) Variable() *nn.Parameter[B] {
	return g.param
}

// restore sets the counter from checkpoint metadata. Checkpoints without a
// step entry fall back to the restored variable.
func (g *GlobalStep[B]) restore(metadata map[string]string) error {
	raw, ok := metadata[GlobalStepName]
	if !ok {
		g.Set(int(g.param.Tensor().Data()[0]))
		return nil
	}
	step, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s metadata %q: %w", GlobalStepName, raw, err)
	}
	g.Set(int(step))
	return nil
}
