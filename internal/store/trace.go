package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const traceFile = "trace.jsonl"

// ErrTraceClosed is returned by TraceWriter.Write after Close.
var ErrTraceClosed = errors.New("trace writer is closed")

// TraceEntry is one line of a run's trace: the best point after an optimizer
// step.
type TraceEntry struct {
	Iteration int       `json:"iteration"`
	Cost      float64   `json:"cost"`
	StepSize  float64   `json:"stepSize,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Params    []float64 `json:"params,omitempty"`
}

// TracePath returns the location of the trace for runID under baseDir.
func TracePath(baseDir, runID string) string {
	return filepath.Join(runDir(baseDir, runID), traceFile)
}

// TraceWriter appends entries as JSON lines. It is safe for concurrent use;
// entries are buffered until Flush or Close.
type TraceWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	count  int
	closed bool
}

// NewTraceWriter opens <baseDir>/runs/<runID>/trace.jsonl. With appendTo the
// existing trace is continued, otherwise it is truncated.
func NewTraceWriter(baseDir, runID string, appendTo bool) (*TraceWriter, error) {
	if err := CheckRunID(runID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(runDir(baseDir, runID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	path := TracePath(baseDir, runID)
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{
		path: path,
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
	}, nil
}

// Write buffers one entry. Entries with a NaN or infinite cost are skipped
// because JSON has no encoding for them.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	if math.IsNaN(entry.Cost) || math.IsInf(entry.Cost, 0) {
		return nil
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return ErrTraceClosed
	}
	// Encode appends the newline.
	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	tw.count++
	return nil
}

// Count returns the number of entries written through this writer.
func (tw *TraceWriter) Count() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.count
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Further calls return nil.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	tw.closed = true
	flushErr := tw.buf.Flush()
	closeErr := tw.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush trace: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close trace: %w", closeErr)
	}
	return nil
}

func (tw *TraceWriter) Path() string { return tw.path }

// TraceReader reads a trace line by line.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// NewTraceReader opens the trace of runID. A missing trace yields a
// *NotFoundError.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	if err := CheckRunID(runID); err != nil {
		return nil, err
	}
	file, err := os.Open(TracePath(baseDir, runID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Entries carry the full parameter vector, so lines can be long.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF at the end of the trace. Blank
// lines are skipped.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	for tr.scanner.Scan() {
		tr.line++
		b := tr.scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var entry TraceEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", tr.line, err)
		}
		return &entry, nil
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	return nil, io.EOF
}

// ReadAll returns all remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

func (tr *TraceReader) Close() error {
	return tr.file.Close()
}

// DeleteTrace removes the trace of runID. A missing trace is not an error.
func DeleteTrace(baseDir, runID string) error {
	if err := os.Remove(TracePath(baseDir, runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
