package summary

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Reader reads events from an event file.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewReader opens the event file under dir.
func NewReader(dir string) (*Reader, error) {
	file, err := os.Open(filepath.Join(dir, EventsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &Reader{file: file, scanner: scanner}, nil
}

// Read returns the next event, or io.EOF when none are left.
func (r *Reader) Read() (*Event, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan event line: %w", err)
		}
		return nil, io.EOF
	}

	var event Event
	if err := json.Unmarshal(r.scanner.Bytes(), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &event, nil
}

// Scalars returns every scalar event, optionally restricted to tag.
func (r *Reader) Scalars(tag string) ([]Event, error) {
	var events []Event
	for {
		event, err := r.Read()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		if event.Kind != KindScalar {
			continue
		}
		if tag != "" && event.Tag != tag {
			continue
		}
		events = append(events, *event)
	}
}

// Close closes the event file.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close event file: %w", err)
	}
	return nil
}
