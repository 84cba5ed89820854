package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "msearch",
	Short: "Parallel multidirectional pattern search",
	Long: `msearch minimizes benchmark objectives with a parallel multidirectional
pattern search backed by a concurrent evaluation cache, optionally seeded by
a mayfly global search. Runs can be traced, checkpointed and resumed, or
submitted to an HTTP job server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		handler, err := newLogHandler(logFormat, logLevel, os.Stdout, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(handler))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json on stdout, text (colored) on stderr")
}

// newLogHandler builds the handler for --log-format and --log-level. JSON
// goes to stdout for collectors, text goes to stderr for people.
func newLogHandler(format, level string, stdout, stderr io.Writer) (slog.Handler, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: lvl}), nil
	case "text":
		return tint.NewHandler(stderr, &tint.Options{Level: lvl, TimeFormat: "15:04:05"}), nil
	}
	return nil, fmt.Errorf("unknown log format %q (want json or text)", format)
}
