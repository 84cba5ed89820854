package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cwbudde/msearch/internal/bench"
	"github.com/cwbudde/msearch/internal/opt"
	"github.com/cwbudde/msearch/internal/search"
	"github.com/cwbudde/msearch/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	runConfig  store.RunConfig
	runDataDir string
	runID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long: `Minimizes a benchmark function and prints the best point found.
With --data-dir the run writes a trace and a final checkpoint that can be
continued with "msearch resume". Ctrl-C stops the run gracefully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id := runID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := executeRun(ctx, runOptions{
			Config:  runConfig,
			DataDir: runDataDir,
			RunID:   id,
		}, cmd.OutOrStdout())
		return err
	},
}

func init() {
	addConfigFlags(runCmd, &runConfig)
	runCmd.Flags().StringVar(&runConfig.Function, "function", "quadratic", "Benchmark function ("+strings.Join(bench.Names(), ", ")+")")
	runCmd.Flags().IntVar(&runConfig.Dim, "dim", 0, "Dimension for functions of variable dimension (0 = 2)")
	runCmd.Flags().StringVar(&runConfig.Method, "method", store.MethodPattern, "Optimization method: pattern, mayfly, hybrid")
	runCmd.Flags().Float64SliceVar(&runConfig.Start, "start", nil, "Start point (default: center of the bounds)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Directory for traces and checkpoints (empty = none)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: random UUID)")
	rootCmd.AddCommand(runCmd)
}

// addConfigFlags registers the tuning flags shared by run and resume.
func addConfigFlags(cmd *cobra.Command, cfg *store.RunConfig) {
	cmd.Flags().IntVar(&cfg.Steps, "steps", 200, "Maximum pattern-search steps")
	cmd.Flags().Float64Var(&cfg.Step, "step", 0.5, "Initial step size")
	cmd.Flags().Float64Var(&cfg.MinStep, "min-step", 0, "Stop once the step size falls below this (0 = never)")
	cmd.Flags().BoolVar(&cfg.Expansion, "expansion", false, "Try expansion steps")
	cmd.Flags().BoolVar(&cfg.Coordinate, "coordinate", false, "Try coordinate steps")
	cmd.Flags().StringVar(&cfg.Pattern, "pattern", "square", "Initial simplex pattern: square, simplex")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 0, "Evaluation workers (0 = GOMAXPROCS)")
	cmd.Flags().IntVar(&cfg.Patience, "patience", 0, "Stop after N steps without improvement (0 = never)")
	cmd.Flags().Float64Var(&cfg.Threshold, "threshold", 1e-6, "Minimum relative improvement for --patience")
	cmd.Flags().IntVar(&cfg.Iters, "iters", 100, "Mayfly iterations")
	cmd.Flags().IntVar(&cfg.PopSize, "pop", 30, "Mayfly population size")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "Mayfly random seed")
}

type runOptions struct {
	Config  store.RunConfig
	DataDir string
	RunID   string

	// Previous is the checkpoint a resumed run continues. Iterations,
	// evaluations and the best point accumulate across it.
	Previous *store.Checkpoint
}

// executeRun runs one optimization to completion or cancellation and prints
// a summary to out. A cancelled run is not an error.
func executeRun(ctx context.Context, o runOptions, out io.Writer) (*opt.Result, error) {
	cfg := o.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fn, err := bench.ByName(cfg.Function, cfg.Dim)
	if err != nil {
		return nil, err
	}
	if cfg.Start != nil && len(cfg.Start) != fn.Dim() {
		return nil, fmt.Errorf("start has %d components, %s needs %d", len(cfg.Start), fn.Name(), fn.Dim())
	}

	log := slog.Default().With("run_id", o.RunID)
	optimizer, err := opt.FromConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	problem := opt.BenchProblem(fn, cfg.Start)
	initialCost := fn.Eval(problem.Initial())
	offset := 0
	if o.Previous != nil {
		initialCost = o.Previous.InitialCost
		offset = o.Previous.Iteration
	}

	var fs *store.FSStore
	if o.DataDir != "" {
		fs, err = store.NewFSStore(o.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		trace, err := store.NewTraceWriter(o.DataDir, o.RunID, o.Previous != nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		defer trace.Close()
		problem.Controller = traceController(trace, offset, log)
	}

	log.Info("Starting optimization",
		"function", fn.Name(),
		"dim", fn.Dim(),
		"method", cfg.Method,
		"initial_cost", initialCost,
	)

	start := time.Now()
	result, err := optimizer.Run(ctx, problem)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	cp := store.NewCheckpoint(o.RunID, result.Best, result.Cost, initialCost, offset+result.Iterations, cfg)
	cp.StepSize = result.Step
	cp.Evaluations = result.Evaluations
	if prev := o.Previous; prev != nil {
		cp.Evaluations += prev.Evaluations
		// A global method ignores the start point and may end up worse.
		if !(result.Cost <= prev.BestCost) {
			cp.BestParams = append([]float64(nil), prev.BestParams...)
			cp.BestCost = prev.BestCost
		}
	}

	if fs != nil {
		if err := cp.Validate(); err != nil {
			log.Warn("Skipping checkpoint", "error", err)
		} else if err := fs.SaveCheckpoint(o.RunID, cp); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
	}

	var eps float64
	if secs := elapsed.Seconds(); secs > 0 {
		eps = float64(result.Evaluations) / secs
	}
	log.Info("Optimization complete",
		"elapsed", elapsed,
		"initial_cost", initialCost,
		"best_cost", cp.BestCost,
		"iterations", cp.Iteration,
		"evaluations", cp.Evaluations,
		"evals_per_second", fmt.Sprintf("%.0f", eps),
		"cancelled", result.Cancelled,
		"stats", result.Stats,
	)

	printResult(out, o.RunID, initialCost, cp, eps, result.Cancelled, fs != nil)
	return result, nil
}

// traceController appends every finite step to the trace.
func traceController(trace *store.TraceWriter, offset int, log *slog.Logger) search.Controller {
	return search.ControllerFunc(func(s search.Step) bool {
		err := trace.Write(store.TraceEntry{
			Iteration: offset + s.Iteration,
			Cost:      s.Value,
			StepSize:  s.StepSize,
			Timestamp: time.Now(),
			Params:    s.Best.Slice(),
		})
		if err != nil {
			log.Warn("Failed to write trace entry", "error", err)
		}
		return true
	})
}

func printResult(out io.Writer, id string, initialCost float64, cp *store.Checkpoint, eps float64, cancelled, saved bool) {
	status := "Finished"
	if cancelled {
		status = "Interrupted"
	}
	fmt.Fprintf(out, "%s run %s: cost %.6g -> %.6g after %d steps (%d evaluations, %.0f evals/sec)\n",
		status, id, initialCost, cp.BestCost, cp.Iteration, cp.Evaluations, eps)
	if math.IsInf(cp.BestCost, 0) {
		fmt.Fprintln(out, "No point was evaluated.")
		return
	}
	fmt.Fprintf(out, "Best point: %v\n", cp.BestParams)
	if cp.StepSize > 0 {
		fmt.Fprintf(out, "Step size: %.6g\n", cp.StepSize)
	}
	if saved && cancelled {
		fmt.Fprintf(out, "Continue with: msearch resume %s\n", id)
	}
}
