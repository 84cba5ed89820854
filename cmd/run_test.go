package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/cwbudde/msearch/internal/store"
	"github.com/spf13/pflag"
)

func quadraticConfig() store.RunConfig {
	return store.RunConfig{Function: "quadratic", Steps: 20}
}

func TestExecuteRun_WritesTraceAndCheckpoint(t *testing.T) {
	tmpDir := t.TempDir()

	var out bytes.Buffer
	result, err := executeRun(context.Background(), runOptions{
		Config:  quadraticConfig(),
		DataDir: tmpDir,
		RunID:   "quad",
	}, &out)
	if err != nil {
		t.Fatalf("executeRun failed: %v", err)
	}
	if result.Cost > 1e-9 || result.Iterations != 20 {
		t.Errorf("Unexpected result: cost %v after %d steps", result.Cost, result.Iterations)
	}
	if !strings.Contains(out.String(), "Finished run quad") {
		t.Errorf("Unexpected output %q", out.String())
	}

	fs, _ := store.NewFSStore(tmpDir)
	cp, err := fs.LoadCheckpoint("quad")
	if err != nil {
		t.Fatalf("Checkpoint missing: %v", err)
	}
	if cp.Iteration != 20 || cp.InitialCost != 2 || cp.Evaluations != result.Evaluations {
		t.Errorf("Unexpected checkpoint %+v", cp)
	}

	reader, err := store.NewTraceReader(tmpDir, "quad")
	if err != nil {
		t.Fatalf("Trace missing: %v", err)
	}
	defer reader.Close()
	entries, _ := reader.ReadAll()
	if len(entries) != 20 {
		t.Errorf("Expected 20 trace entries, got %d", len(entries))
	}
}

func TestExecuteRun_ResumeAccumulates(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := store.RunConfig{Function: "rosenbrock", Steps: 15}

	if _, err := executeRun(context.Background(), runOptions{Config: cfg, DataDir: tmpDir, RunID: "rb"}, new(bytes.Buffer)); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	fs, _ := store.NewFSStore(tmpDir)
	first, err := fs.LoadCheckpoint("rb")
	if err != nil {
		t.Fatalf("Checkpoint missing: %v", err)
	}

	_, err = executeRun(context.Background(), runOptions{
		Config:   first.ResumeConfig(),
		DataDir:  tmpDir,
		RunID:    "rb",
		Previous: first,
	}, new(bytes.Buffer))
	if err != nil {
		t.Fatalf("Resumed run failed: %v", err)
	}

	second, err := fs.LoadCheckpoint("rb")
	if err != nil {
		t.Fatalf("Checkpoint missing: %v", err)
	}
	if second.Iteration != 30 {
		t.Errorf("Expected 30 accumulated steps, got %d", second.Iteration)
	}
	if second.BestCost > first.BestCost {
		t.Errorf("Resumed best %v is worse than %v", second.BestCost, first.BestCost)
	}
	if second.InitialCost != first.InitialCost {
		t.Errorf("Initial cost should carry over: %v != %v", second.InitialCost, first.InitialCost)
	}
	if second.Evaluations <= first.Evaluations {
		t.Errorf("Evaluations should accumulate: %d <= %d", second.Evaluations, first.Evaluations)
	}

	reader, _ := store.NewTraceReader(tmpDir, "rb")
	defer reader.Close()
	entries, _ := reader.ReadAll()
	if len(entries) != 30 || entries[15].Iteration != 16 {
		t.Errorf("Trace should continue the iteration count, got %d entries", len(entries))
	}
}

func TestExecuteRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	result, err := executeRun(ctx, runOptions{Config: quadraticConfig(), RunID: "c"}, &out)
	if err != nil {
		t.Fatalf("Cancellation should not be an error: %v", err)
	}
	if !result.Cancelled {
		t.Error("Result should be marked cancelled")
	}
	if !strings.Contains(out.String(), "Interrupted") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestExecuteRun_InvalidConfig(t *testing.T) {
	cases := map[string]store.RunConfig{
		"unknown function": {Function: "eggholder"},
		"unknown method":   {Function: "sphere", Method: "annealing"},
		"wrong start":      {Function: "quadratic", Start: []float64{1, 2, 3}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := executeRun(context.Background(), runOptions{Config: cfg, RunID: "x"}, new(bytes.Buffer)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	var src store.RunConfig
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.IntVar(&src.Steps, "steps", 200, "")
	flags.Float64Var(&src.Step, "step", 0.5, "")
	flags.BoolVar(&src.Expansion, "expansion", false, "")
	if err := flags.Parse([]string{"--steps", "50", "--expansion"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	dst := store.RunConfig{Steps: 10, Step: 0.125}
	applyOverrides(flags, &dst, src)

	if dst.Steps != 50 || !dst.Expansion {
		t.Errorf("Changed flags should override, got %+v", dst)
	}
	if dst.Step != 0.125 {
		t.Errorf("Unchanged flags should keep the saved value, got %v", dst.Step)
	}
}
