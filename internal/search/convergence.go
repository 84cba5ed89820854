package search

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines parameters for detecting optimization convergence
type ConvergenceConfig struct {
	// Patience is the number of steps with no significant improvement before
	// stopping
	Patience int

	// Threshold is the minimum relative improvement required to count as
	// progress. Relative improvement = (last - value) / max(|last|, 1), so
	// values near zero are compared absolutely.
	Threshold float64
}

// DefaultConvergenceConfig returns sensible defaults for convergence detection
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Patience:  10,
		Threshold: 1e-6,
	}
}

// ConvergenceController stops the search when the best value stagnates.
type ConvergenceController struct {
	config          ConvergenceConfig
	history         []float64
	bestValue       float64
	lastSignificant float64
	staleCount      int
}

func Convergence(config ConvergenceConfig) *ConvergenceController {
	return &ConvergenceController{
		config:          config,
		bestValue:       math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

func (c *ConvergenceController) StepTaken(s Step) bool {
	return !c.Update(s.Value)
}

// Update records a new best value and returns true if convergence is detected
func (c *ConvergenceController) Update(value float64) bool {
	c.history = append(c.history, value)
	if value < c.bestValue {
		c.bestValue = value
	}

	if len(c.history) == 1 {
		c.lastSignificant = value
		return false
	}

	improvement := (c.lastSignificant - value) / math.Max(math.Abs(c.lastSignificant), 1)
	if improvement >= c.config.Threshold {
		c.lastSignificant = value
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_value", c.bestValue,
		)
		return true
	}
	return false
}

// BestValue returns the best value seen so far
func (c *ConvergenceController) BestValue() float64 { return c.bestValue }

// History returns the full value history
func (c *ConvergenceController) History() []float64 {
	return append([]float64{}, c.history...)
}

func (c *ConvergenceController) StaleCount() int { return c.staleCount }

// Reset clears the controller's state
func (c *ConvergenceController) Reset() {
	c.history = nil
	c.bestValue = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}
