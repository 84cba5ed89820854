package store

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Optimization methods understood by RunConfig.
const (
	MethodPattern = "pattern"
	MethodMayfly  = "mayfly"
	MethodHybrid  = "hybrid"
)

// RunConfig holds the configuration of an optimization run. It lives here so
// both the server and the CLI can persist it without import cycles.
type RunConfig struct {
	Function string    `json:"function"`
	Dim      int       `json:"dim,omitempty"` // only for functions of variable dimension
	Method   string    `json:"method"`        // pattern, mayfly, hybrid
	Start    []float64 `json:"start,omitempty"`

	// Pattern search
	Steps      int     `json:"steps,omitempty"`
	Step       float64 `json:"step,omitempty"`
	MinStep    float64 `json:"minStep,omitempty"`
	Expansion  bool    `json:"expansion,omitempty"`
	Coordinate bool    `json:"coordinate,omitempty"`
	Pattern    string  `json:"pattern,omitempty"` // square, simplex
	Workers    int     `json:"workers,omitempty"`
	Patience   int     `json:"patience,omitempty"`  // stop after N stale steps (0 = never)
	Threshold  float64 `json:"threshold,omitempty"` // minimum relative improvement

	// Mayfly
	Iters   int   `json:"iters,omitempty"`
	PopSize int   `json:"popSize,omitempty"`
	Seed    int64 `json:"seed,omitempty"`

	CheckpointInterval int `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// ApplyDefaults fills unset fields with their defaults.
func (c *RunConfig) ApplyDefaults() {
	if c.Method == "" {
		c.Method = MethodPattern
	}
	if c.Steps <= 0 {
		c.Steps = 200
	}
	if c.Step <= 0 {
		c.Step = 0.5
	}
	if c.Pattern == "" {
		c.Pattern = "square"
	}
	if c.Iters <= 0 {
		c.Iters = 100
	}
	if c.PopSize <= 0 {
		c.PopSize = 30
	}
	if c.Patience > 0 && c.Threshold == 0 {
		c.Threshold = 1e-6
	}
}

// Validate checks the configuration after defaults have been applied.
func (c RunConfig) Validate() error {
	if c.Function == "" {
		return &ValidationError{Field: "Function", Reason: "cannot be empty"}
	}
	switch c.Method {
	case MethodPattern, MethodMayfly, MethodHybrid:
	default:
		return &ValidationError{Field: "Method", Reason: fmt.Sprintf("unknown method %q", c.Method)}
	}
	if c.Dim < 0 {
		return &ValidationError{Field: "Dim", Reason: "cannot be negative"}
	}
	if c.Steps <= 0 {
		return &ValidationError{Field: "Steps", Reason: "must be positive"}
	}
	if !(c.Step > 0) || math.IsInf(c.Step, 0) {
		return &ValidationError{Field: "Step", Reason: "must be positive and finite"}
	}
	if c.MinStep < 0 {
		return &ValidationError{Field: "MinStep", Reason: "cannot be negative"}
	}
	if c.Patience < 0 {
		return &ValidationError{Field: "Patience", Reason: "cannot be negative"}
	}
	if c.Threshold < 0 {
		return &ValidationError{Field: "Threshold", Reason: "cannot be negative"}
	}
	if c.Method != MethodPattern {
		if c.Iters <= 0 {
			return &ValidationError{Field: "Iters", Reason: "must be positive"}
		}
		// mayfly v0.1.0 needs at least 20 mayflies
		if c.PopSize < 20 {
			return &ValidationError{Field: "PopSize", Reason: "must be at least 20"}
		}
	}
	for i, v := range c.Start {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: fmt.Sprintf("Start[%d]", i), Reason: "must be finite"}
		}
	}
	return nil
}

// Checkpoint is the best state of a run saved for later resumption.
//
// Only the best point is saved, not the simplex or the cache. Resuming
// rebuilds a fresh simplex around BestParams with step size StepSize, so the
// best value never gets worse but the trajectory differs from an
// uninterrupted run.
type Checkpoint struct {
	// RunID is the unique identifier for the run
	RunID string `json:"runId"`

	BestParams  []float64 `json:"bestParams"`
	BestCost    float64   `json:"bestCost"`
	InitialCost float64   `json:"initialCost"`

	// Iteration is the number of optimizer steps completed
	Iteration int `json:"iteration"`

	// StepSize is the simplex extent at checkpoint time
	StepSize float64 `json:"stepSize,omitempty"`

	Evaluations int64     `json:"evaluations,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Config      RunConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the parameters.
type CheckpointInfo struct {
	RunID     string    `json:"runId"`
	BestCost  float64   `json:"bestCost"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Function  string    `json:"function"`
	Method    string    `json:"method"`
	Dim       int       `json:"dim"`
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(runID string, bestParams []float64, bestCost, initialCost float64, iteration int, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:       runID,
		BestParams:  append([]float64(nil), bestParams...),
		BestCost:    bestCost,
		InitialCost: initialCost,
		Iteration:   iteration,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:     c.RunID,
		BestCost:  c.BestCost,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Function:  c.Config.Function,
		Method:    c.Config.Method,
		Dim:       len(c.BestParams),
	}
}

// ResumeConfig returns the configuration that continues this run: the
// saved settings, started from the best point with the saved step size.
func (c *Checkpoint) ResumeConfig() RunConfig {
	cfg := c.Config
	cfg.Start = append([]float64(nil), c.BestParams...)
	cfg.Dim = len(c.BestParams)
	if c.StepSize > 0 {
		cfg.Step = c.StepSize
	}
	return cfg
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if c.Config.Dim > 0 && len(c.BestParams) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d params", c.Config.Dim),
		}
	}
	if math.IsNaN(c.BestCost) || math.IsInf(c.BestCost, 0) {
		return &ValidationError{Field: "BestCost", Reason: "must be finite"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.StepSize < 0 {
		return &ValidationError{Field: "StepSize", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Field: "Config." + ve.Field, Reason: ve.Reason}
		}
		return err
	}
	return nil
}

// ValidationError represents a checkpoint or configuration validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Function != config.Function {
		return &CompatibilityError{
			Field:    "Function",
			Expected: c.Config.Function,
			Actual:   config.Function,
		}
	}
	if config.Dim > 0 && len(c.BestParams) != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", len(c.BestParams)),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
