// Package store persists trainable variables as checkpoints and restores
// them when a run resumes or starts from pretrained weights.
//
// Error handling conventions:
//   - ErrNotFound is returned when a directory holds no usable checkpoint
//   - ErrInvalidCheckpointPath is returned when a configured pretrained
//     path holds no checkpoint
//   - every other failure is wrapped with context using fmt.Errorf("...: %w", err)
package store

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint.
type NotFoundError struct {
	Dir string
}

func (e *NotFoundError) Error() string {
	if e.Dir != "" {
		return "checkpoint not found in " + e.Dir
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ErrInvalidCheckpointPath is returned by RestoreOrRestart when the
// configured pretrained checkpoint path yields no checkpoint.
var ErrInvalidCheckpointPath = &InvalidPathError{}

// InvalidPathError reports a pretrained checkpoint path without a checkpoint.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return "[E] " + e.Path + " not valid"
}

func (e *InvalidPathError) Is(target error) bool {
	_, ok := target.(*InvalidPathError)
	return ok
}

// MissingVariableError is returned when a checkpoint lacks a variable that
// is being restored.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return "variable " + e.Name + " not found in checkpoint"
}
