package search

import (
	"bytes"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/cwbudde/msearch/internal/point"
)

func TestConvergence_BasicConvergence(t *testing.T) {
	c := Convergence(ConvergenceConfig{Patience: 3, Threshold: 0.01})

	if c.BestValue() != math.Inf(1) {
		t.Errorf("Expected initial best value to be Inf, got %v", c.BestValue())
	}

	if c.Update(1.0) {
		t.Error("Should not converge on first update")
	}
	if c.Update(0.8) {
		t.Error("Should not converge after improvement")
	}
	if c.StaleCount() != 0 {
		t.Errorf("Expected stale count 0 after improvement, got %v", c.StaleCount())
	}

	// Last significant was 0.8; these are all below 1%.
	if c.Update(0.795) {
		t.Error("Should not converge yet (1/3)")
	}
	if c.Update(0.796) {
		t.Error("Should not converge yet (2/3)")
	}
	if !c.Update(0.797) {
		t.Error("Should converge after patience exceeded (3/3)")
	}
	if c.StaleCount() != 3 {
		t.Errorf("Expected stale count 3, got %v", c.StaleCount())
	}
	if c.BestValue() != 0.795 {
		t.Errorf("Expected best value 0.795, got %v", c.BestValue())
	}
}

func TestConvergence_ImprovementResetsStaleCount(t *testing.T) {
	c := Convergence(ConvergenceConfig{Patience: 2, Threshold: 0.05})

	c.Update(1.0)
	c.Update(0.99)
	if c.StaleCount() != 1 {
		t.Errorf("Expected stale count 1, got %v", c.StaleCount())
	}

	c.Update(0.94)
	if c.StaleCount() != 0 {
		t.Errorf("Expected stale count reset to 0, got %v", c.StaleCount())
	}
	if len(c.History()) != 3 {
		t.Errorf("Expected 3 history entries, got %d", len(c.History()))
	}

	c.Reset()
	if len(c.History()) != 0 || c.StaleCount() != 0 || !math.IsInf(c.BestValue(), 1) {
		t.Error("Reset should clear all state")
	}
}

func TestConvergence_NegativeValues(t *testing.T) {
	c := Convergence(ConvergenceConfig{Patience: 1, Threshold: 0.1})

	c.Update(-10)
	if c.Update(-12) { // 2/10 = 20%
		t.Error("Should not converge after improvement")
	}
	if c.StepTaken(Step{Value: -12.5}) {
		t.Error("StepTaken should stop after patience is exhausted")
	}
}

func TestMinStep(t *testing.T) {
	ctl := MinStep(1e-3)
	if !ctl.StepTaken(Step{StepSize: 0.01}) {
		t.Error("Should continue above the minimum step")
	}
	if ctl.StepTaken(Step{StepSize: 1e-4}) {
		t.Error("Should stop below the minimum step")
	}
}

func TestMaxSteps(t *testing.T) {
	l := MaxSteps(2)
	if !l.StepTaken(Step{}) {
		t.Error("First step should continue")
	}
	if l.StepTaken(Step{}) {
		t.Error("Second step should stop")
	}
	if l.Calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", l.Calls())
	}
}

func TestCompositeAggregation(t *testing.T) {
	yes := ControllerFunc(func(Step) bool { return true })
	no := ControllerFunc(func(Step) bool { return false })

	cases := []struct {
		name     string
		children []Controller
		want     bool
	}{
		{"empty", nil, true},
		{"all continue", []Controller{yes, yes}, true},
		{"one stops", []Controller{yes, no, yes}, false},
		{"all stop", []Controller{no, no}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Composite(tc.children...).StepTaken(Step{}); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}

	seen := 0
	c := Composite(no)
	c.Add(ControllerFunc(func(Step) bool { seen++; return true }))
	c.StepTaken(Step{})
	if seen != 1 {
		t.Error("Added child should be called after a stopping child")
	}
}

func TestLogController(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctl := LogController(l)
	if !ctl.StepTaken(Step{Iteration: 4, Best: point.Of(1, 2), Value: 0.5, StepSize: 0.25}) {
		t.Error("LogController should never stop the search")
	}
	if !strings.Contains(buf.String(), "iteration=4") {
		t.Errorf("Expected iteration in log output, got %q", buf.String())
	}
}
