package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/trainkit/internal/config"
)

type testBackend = *cpu.Backend

func newParam(t *testing.T, backend testBackend, name string, values ...float32) *nn.Parameter[testBackend] {
	t.Helper()

	tt, err := tensor.FromSlice[float32](values, tensor.Shape{len(values)}, backend)
	require.NoError(t, err)
	return nn.NewParameter(name, tt)
}

// newTestVariables returns a set with a "body" and a "head" scope.
func newTestVariables(t *testing.T, backend testBackend, body, head float32) *Variables[testBackend] {
	t.Helper()

	vars := NewVariables[testBackend]()
	require.NoError(t, vars.Add(
		newParam(t, backend, "body/weight", body, body),
		newParam(t, backend, "head/weight", head, head, head),
	))
	return vars
}

func value(t *testing.T, vars *Variables[testBackend], name string) float32 {
	t.Helper()

	p, ok := vars.Get(name)
	require.True(t, ok, "variable %s", name)
	return p.Tensor().Data()[0]
}

func TestVariablesAdd(t *testing.T) {
	backend := cpu.New()
	vars := newTestVariables(t, backend, 1, 2)

	assert.Equal(t, []string{"body/weight", "head/weight"}, vars.Names())
	assert.Len(t, vars.Trainable(), 2)

	err := vars.Add(newParam(t, backend, "body/weight", 0))
	assert.Error(t, err, "duplicate names are rejected")
}

func TestVariablesSubsets(t *testing.T) {
	backend := cpu.New()
	vars := newTestVariables(t, backend, 1, 2)
	step := NewGlobalStep(backend)
	require.NoError(t, vars.AddNonTrainable(step.Variable()))

	toSave, err := vars.ToSave(step.Variable())
	require.NoError(t, err)
	assert.Equal(t, []string{"body/weight", "head/weight", GlobalStepName}, toSave.Names())

	toRestore, err := vars.ToRestore(nil, []string{"head"})
	require.NoError(t, err)
	assert.Equal(t, []string{"body/weight"}, toRestore.Names())
}

func TestInScopes(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   bool
	}{
		{"head/weight", []string{"head"}, true},
		{"head/weight", []string{"head/"}, true},
		{"head", []string{"head"}, true},
		{"header/weight", []string{"head"}, false},
		{"body/weight", nil, false},
		{"body/weight", []string{""}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, InScopes(tt.name, tt.scopes), "%s in %v", tt.name, tt.scopes)
	}
}

func TestLoadStateDictErrors(t *testing.T) {
	backend := cpu.New()
	vars := newTestVariables(t, backend, 1, 2)

	err := vars.LoadStateDict(map[string]*tensor.RawTensor{})
	var missing *MissingVariableError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "body/weight", missing.Name)

	other := newTestVariables(t, backend, 3, 4)
	sd := other.StateDict()
	sd["head/weight"] = newParam(t, backend, "x", 1).Tensor().Raw()
	assert.Error(t, vars.LoadStateDict(sd), "shape mismatch")
}

func TestGlobalStep(t *testing.T) {
	step := NewGlobalStep(cpu.New())
	assert.Equal(t, 0, step.Value())
	assert.Equal(t, 1, step.Increment())
	step.Set(41)
	assert.Equal(t, 42, step.Increment())
	assert.Equal(t, GlobalStepName, step.Variable().Name())
}

func TestGlobalStepBeyondFloat32(t *testing.T) {
	step := NewGlobalStep(cpu.New())
	step.Set(1 << 24)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 1<<24+i, step.Increment())
	}
	assert.Equal(t, 1<<24+3, step.Value())
}

func TestGlobalStepRestoreMetadata(t *testing.T) {
	step := NewGlobalStep(cpu.New())

	require.NoError(t, step.restore(map[string]string{GlobalStepName: "16777219"}))
	assert.Equal(t, 16777219, step.Value())

	step.Variable().Tensor().Data()[0] = 12
	require.NoError(t, step.restore(nil))
	assert.Equal(t, 12, step.Value(), "falls back to the variable")

	assert.Error(t, step.restore(map[string]string{GlobalStepName: "x"}))
}

func TestSaverSaveAndRestore(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	saver, err := NewSaver(dir, "", 0, backend)
	require.NoError(t, err)

	path, err := saver.Save(newTestVariables(t, backend, 5, 6), 10)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model-10.born"), path)

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, path, latest)

	restored := newTestVariables(t, backend, 0, 0)
	metadata, err := saver.Restore(restored, latest)
	require.NoError(t, err)
	assert.Equal(t, "10", metadata[GlobalStepName])
	assert.Equal(t, float32(5), value(t, restored, "body/weight"))
	assert.Equal(t, float32(6), value(t, restored, "head/weight"))
}

func TestSaverRetention(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	saver, err := NewSaver(dir, "model", 2, backend)
	require.NoError(t, err)

	vars := newTestVariables(t, backend, 1, 1)
	for _, step := range []int{1, 2, 3} {
		_, err := saver.Save(vars, step)
		require.NoError(t, err)
	}

	infos, err := ListCheckpoints(dir)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 2, infos[0].Step)
	assert.Equal(t, 3, infos[1].Step)
	assert.True(t, infos[1].Latest)
	assert.Positive(t, infos[1].Size)

	_, err = os.Stat(filepath.Join(dir, "model-1.born"))
	assert.True(t, os.IsNotExist(err), "oldest checkpoint removed")
}

func TestSaverSaveSameStepTwice(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	saver, err := NewSaver(dir, "model", 2, backend)
	require.NoError(t, err)

	vars := newTestVariables(t, backend, 1, 1)
	for i := 0; i < 3; i++ {
		_, err := saver.Save(vars, 7)
		require.NoError(t, err)
	}

	infos, err := ListCheckpoints(dir)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 7, infos[0].Step)
}

func TestSaverSaveBest(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	saver, err := NewSaver(dir, "model", 1, backend)
	require.NoError(t, err)

	vars := newTestVariables(t, backend, 1, 1)
	_, err = saver.SaveBest(vars, 3, 0.75)
	require.NoError(t, err)
	_, err = saver.SaveBest(vars, 9, 0.5)
	require.NoError(t, err)

	record, err := LatestRecord(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, record.Step)
	require.NotNil(t, record.Metric)
	assert.Equal(t, 0.5, *record.Metric)

	infos, err := ListCheckpoints(dir)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestBuildTrainSavers(t *testing.T) {
	root := t.TempDir()
	paths := config.Paths{Log: filepath.Join(root, "log"), Best: filepath.Join(root, "best")}

	train, best, err := BuildTrainSavers(paths, cpu.New())
	require.NoError(t, err)

	assert.Equal(t, paths.Log, train.Dir())
	assert.Equal(t, 2, train.MaxToKeep())
	assert.Equal(t, paths.Best, best.Dir())
	assert.Equal(t, 1, best.MaxToKeep())

	for _, dir := range []string{paths.Log, paths.Best} {
		_, err := os.Stat(dir)
		assert.NoError(t, err)
	}
}

func TestRestoreSaverCannotSave(t *testing.T) {
	backend := cpu.New()
	_, err := BuildRestoreSaver(backend).Save(newTestVariables(t, backend, 1, 1), 1)
	assert.Error(t, err)
}

func TestLatestCheckpointNotFound(t *testing.T) {
	_, err := LatestCheckpoint(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = LatestCheckpoint(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestCheckpointFileGone(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	saver, err := NewSaver(dir, "model", 0, backend)
	require.NoError(t, err)

	path, err := saver.Save(newTestVariables(t, backend, 1, 1), 1)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = LatestCheckpoint(dir)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCheckpointsEmpty(t *testing.T) {
	infos, err := ListCheckpoints(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteCheckpoint(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	saver, err := NewSaver(dir, "model", 0, backend)
	require.NoError(t, err)

	vars := newTestVariables(t, backend, 1, 1)
	for _, step := range []int{1, 2} {
		_, err := saver.Save(vars, step)
		require.NoError(t, err)
	}

	require.NoError(t, DeleteCheckpoint(dir, "model-2.born"))

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model-1.born"), latest)

	err = DeleteCheckpoint(dir, "model-2.born")
	assert.ErrorIs(t, err, ErrNotFound)
}
