package store

import (
	"errors"
	"fmt"
	"strings"
)

// Store persists one checkpoint per run. Implementations must be safe for
// concurrent use. Missing runs are reported as *NotFoundError, which matches
// ErrNotFound; other failures are wrapped with context.
type Store interface {
	// SaveCheckpoint replaces the checkpoint of runID atomically.
	SaveCheckpoint(runID string, checkpoint *Checkpoint) error

	LoadCheckpoint(runID string) (*Checkpoint, error)

	// ListCheckpoints returns the metadata of all readable checkpoints,
	// newest first.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the run including its trace.
	DeleteCheckpoint(runID string) error
}

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = &NotFoundError{}

	// ErrInvalidRunID is returned for run IDs that are not a single path
	// element.
	ErrInvalidRunID = errors.New("invalid run ID")
)

// NotFoundError reports a run without a checkpoint or trace.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID == "" {
		return "checkpoint not found"
	}
	return "checkpoint not found: " + e.RunID
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// CheckRunID rejects IDs that would leave the run directory.
func CheckRunID(runID string) error {
	switch {
	case runID == "":
		return fmt.Errorf("%w: empty", ErrInvalidRunID)
	case runID == "." || runID == "..",
		strings.ContainsAny(runID, `/\`),
		strings.ContainsRune(runID, 0):
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}
