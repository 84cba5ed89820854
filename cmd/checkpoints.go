package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/msearch/internal/store"
	"github.com/spf13/cobra"
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage run checkpoints",
	Long: `List and clean the checkpoints written by "msearch run --data-dir" and
"msearch serve". A checkpoint holds the best point of a run and lets
"msearch resume" continue it.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints",
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete checkpoints by retention policy",
	Long: `Deletes runs that fall outside the retention policy. --keep-last keeps
the N newest checkpoints, --older-than removes those older than N days; both
may be combined. A run directory is removed together with its trace.`,
	RunE: runCleanCheckpoints,
}

func init() {
	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Directory holding traces and checkpoints")

	f := cleanCheckpointsCmd.Flags()
	f.IntVar(&keepLast, "keep-last", 0, "Keep the N newest checkpoints (0 = no limit)")
	f.IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no limit)")
	f.BoolVarP(&forceClean, "force", "f", false, "Delete without asking")

	checkpointsCmd.AddCommand(listCheckpointsCmd, cleanCheckpointsCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

// retention decides which checkpoints a clean removes. A zero field
// disables its criterion.
type retention struct {
	keep   int
	maxAge time.Duration
}

func (r retention) empty() bool { return r.keep <= 0 && r.maxAge <= 0 }

// expired returns the checkpoints outside the policy, oldest first. A
// checkpoint matching both criteria is listed once.
func (r retention) expired(infos []store.CheckpointInfo, now time.Time) []store.CheckpointInfo {
	byAge := slices.Clone(infos)
	slices.SortStableFunc(byAge, func(a, b store.CheckpointInfo) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	surplus := 0
	if r.keep > 0 && len(byAge) > r.keep {
		surplus = len(byAge) - r.keep
	}
	cutoff := now.Add(-r.maxAge)

	var out []store.CheckpointInfo
	for i, info := range byAge {
		if i < surplus || (r.maxAge > 0 && info.Timestamp.Before(cutoff)) {
			out = append(out, info)
		}
	}
	return out
}

// selectCheckpointsForDeletion applies the flag values of clean to infos.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast, olderThanDays int) []store.CheckpointInfo {
	r := retention{keep: keepLast, maxAge: time.Duration(olderThanDays) * 24 * time.Hour}
	return r.expired(infos, time.Now())
}

func openCheckpointStore() (*store.FSStore, []store.CheckpointInfo, error) {
	fsStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	infos, err := fsStore.ListCheckpoints()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return fsStore, infos, nil
}

func runListCheckpoints(cmd *cobra.Command, _ []string) error {
	fsStore, infos, err := openCheckpointStore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tFUNCTION\tMETHOD\tDIM\tTIMESTAMP\tSTEPS\tBEST COST\tSIZE")
	for _, info := range infos {
		size := "?"
		if n, err := getDirSize(fsStore.RunDir(info.RunID)); err == nil {
			size = formatBytes(n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%.6g\t%s\n",
			shortID(info.RunID), info.Function, info.Method, info.Dim,
			info.Timestamp.Local().Format(timestampLayout), info.Iteration, info.BestCost, size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, _ []string) error {
	policy := retention{keep: keepLast, maxAge: time.Duration(olderThanDays) * 24 * time.Hour}
	if policy.empty() {
		return errors.New("nothing to clean: set --keep-last and/or --older-than")
	}

	fsStore, infos, err := openCheckpointStore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	victims := policy.expired(infos, time.Now())
	if len(victims) == 0 {
		fmt.Fprintf(out, "All %d checkpoint(s) within the retention policy.\n", len(infos))
		return nil
	}

	fmt.Fprintf(out, "%d of %d checkpoint(s) will be deleted:\n", len(victims), len(infos))
	for _, info := range victims {
		fmt.Fprintf(out, "  %s  %s/%s  step %d  %s\n", shortID(info.RunID), info.Function,
			info.Method, info.Iteration, info.Timestamp.Local().Format(timestampLayout))
	}
	if !forceClean && !confirm(cmd.InOrStdin(), out, "Delete them?") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	var failed int
	for _, info := range victims {
		if err := fsStore.DeleteCheckpoint(info.RunID); err != nil {
			slog.Error("Failed to delete checkpoint", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		slog.Debug("Deleted checkpoint", "run_id", info.RunID)
	}
	fmt.Fprintf(out, "Deleted %d checkpoint(s)", len(victims)-failed)
	if failed > 0 {
		fmt.Fprintf(out, ", %d failed", failed)
	}
	fmt.Fprintln(out, ".")
	return nil
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize sums the sizes of the regular files below path.
func getDirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// formatBytes renders n with a binary unit, e.g. "1.5 KB".
func formatBytes(n int64) string {
	const units = "KMGTPE"
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	i := -1
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %cB", v, units[i])
}
