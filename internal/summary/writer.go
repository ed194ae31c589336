// Package summary writes scalar training metrics to append-only JSONL event
// files that can be read back for inspection or plotting.
package summary

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"github.com/cwbudde/trainkit/internal/config"
)

// EventsFile is the name of the event file inside a writer directory.
const EventsFile = "events.jsonl"

// Event kinds.
const (
	KindRun    = "run"
	KindScalar = "scalar"
)

// RunInfo describes the process that opened a writer.
type RunInfo struct {
	RunID string `json:"runId"`
	CPU   string `json:"cpu"`
	Cores int    `json:"cores"`
}

// Event is one line of an event file.
type Event struct {
	Kind     string    `json:"kind"`
	Step     int       `json:"step"`
	Tag      string    `json:"tag,omitempty"`
	Value    float64   `json:"value"`
	WallTime time.Time `json:"wallTime"`
	Run      *RunInfo  `json:"run,omitempty"`
}

// Non-finite values are written as JSON strings.
const (
	nanValue    = "NaN"
	posInfValue = "Infinity"
	negInfValue = "-Infinity"
)

// MarshalJSON encodes Value as a string when it is NaN or infinite.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	var value any = e.Value
	switch {
	case math.IsNaN(e.Value):
		value = nanValue
	case math.IsInf(e.Value, 1):
		value = posInfValue
	case math.IsInf(e.Value, -1):
		value = negInfValue
	}
	return json.Marshal(struct {
		plain
		Value any `json:"value"`
	}{plain(e), value})
}

// UnmarshalJSON accepts the string forms written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*e = Event(aux.plain)
	e.Value = 0
	if len(aux.Value) == 0 || string(aux.Value) == "null" {
		return nil
	}
	if aux.Value[0] != '"' {
		return json.Unmarshal(aux.Value, &e.Value)
	}

	var s string
	if err := json.Unmarshal(aux.Value, &s); err != nil {
		return err
	}
	switch s {
	case nanValue:
		e.Value = math.NaN()
	case posInfValue:
		e.Value = math.Inf(1)
	case negInfValue:
		e.Value = math.Inf(-1)
	default:
		return fmt.Errorf("invalid scalar value %q", s)
	}
	return nil
}

// Writer receives scalar summaries.
type Writer interface {
	Scalar(step int, tag string, value float64) error
}

// FileWriter appends events to <dir>/events.jsonl.
// It uses buffered I/O and is safe for concurrent use.
type FileWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	run    RunInfo
}

// NewFileWriter opens (or creates) the event file under dir and records a
// run header event. Existing events are kept so a resumed run continues
// the same file.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}

	path := filepath.Join(dir, EventsFile)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}

	fw := &FileWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
		run: RunInfo{
			RunID: uuid.NewString(),
			CPU:   cpuid.CPU.BrandName,
			Cores: cpuid.CPU.PhysicalCores,
		},
	}

	run := fw.run
	if err := fw.Add(Event{Kind: KindRun, Run: &run}); err != nil {
		file.Close()
		return nil, err
	}

	slog.Debug("Summary writer opened", "path", path, "run_id", fw.run.RunID)
	return fw, nil
}

// BuildLoggers opens the train and validation writers of a run, rooted at
// paths.Log.
func BuildLoggers(paths config.Paths) (train, validation *FileWriter, err error) {
	train, err = NewFileWriter(paths.Train())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build train logger: %w", err)
	}

	validation, err = NewFileWriter(paths.Validation())
	if err != nil {
		train.Close()
		return nil, nil, fmt.Errorf("failed to build validation logger: %w", err)
	}

	return train, validation, nil
}

// Add appends an event. WallTime is set when zero.
// The event is buffered and written on Flush or Close.
func (fw *FileWriter) Add(event Event) error {
	if event.WallTime.IsZero() {
		event.WallTime = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := fw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Scalar appends a scalar event for tag at step.
func (fw *FileWriter) Scalar(step int, tag string, value float64) error {
	return fw.Add(Event{Kind: KindScalar, Step: step, Tag: tag, Value: value})
}

// Flush writes buffered events and syncs the file.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := fw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush summary writer: %w", err)
	}
	if err := fw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync event file: %w", err)
	}
	return nil
}

// Close flushes buffered events and closes the file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := fw.writer.Flush(); err != nil {
		fw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := fw.file.Close(); err != nil {
		return fmt.Errorf("failed to close event file: %w", err)
	}
	return nil
}

// Path returns the event file path.
func (fw *FileWriter) Path() string {
	return fw.path
}

// Run returns the header recorded when the writer was opened.
func (fw *FileWriter) Run() RunInfo {
	return fw.run
}
