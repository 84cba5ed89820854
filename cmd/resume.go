package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/msearch/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	resumeDataDir   string
	resumeOverrides store.RunConfig
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Continues a run from its last checkpoint. The search restarts from the
saved best point with the saved step size; the trace is appended to and the
checkpoint is replaced when the run ends. Tuning flags given on the command
line override the saved configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id := args[0]
		fs, err := store.NewFSStore(resumeDataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		cp, err := fs.LoadCheckpoint(id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint for run %s in %s", id, resumeDataDir)
		} else if err != nil {
			return err
		}
		if err := cp.Validate(); err != nil {
			return fmt.Errorf("checkpoint of run %s is unusable: %w", id, err)
		}

		cfg := cp.ResumeConfig()
		applyOverrides(cmd.Flags(), &cfg, resumeOverrides)

		_, err = executeRun(ctx, runOptions{
			Config:   cfg,
			DataDir:  resumeDataDir,
			RunID:    id,
			Previous: cp,
		}, cmd.OutOrStdout())
		return err
	},
}

func init() {
	addConfigFlags(resumeCmd, &resumeOverrides)
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Directory holding traces and checkpoints")
	rootCmd.AddCommand(resumeCmd)
}

// applyOverrides copies the explicitly set tuning flags from src to dst.
func applyOverrides(flags *pflag.FlagSet, dst *store.RunConfig, src store.RunConfig) {
	if flags.Changed("steps") {
		dst.Steps = src.Steps
	}
	if flags.Changed("step") {
		dst.Step = src.Step
	}
	if flags.Changed("min-step") {
		dst.MinStep = src.MinStep
	}
	if flags.Changed("expansion") {
		dst.Expansion = src.Expansion
	}
	if flags.Changed("coordinate") {
		dst.Coordinate = src.Coordinate
	}
	if flags.Changed("pattern") {
		dst.Pattern = src.Pattern
	}
	if flags.Changed("workers") {
		dst.Workers = src.Workers
	}
	if flags.Changed("patience") {
		dst.Patience = src.Patience
	}
	if flags.Changed("threshold") {
		dst.Threshold = src.Threshold
	}
	if flags.Changed("iters") {
		dst.Iters = src.Iters
	}
	if flags.Changed("pop") {
		dst.PopSize = src.PopSize
	}
	if flags.Changed("seed") {
		dst.Seed = src.Seed
	}
}
