package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/10and01/vmsim/recording"
	"github.com/10and01/vmsim/simulator"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sim_runner",
		Short: "Run virtual-memory simulations in batch and emit JSON results",
		Long: `sim_runner runs a demand-paged virtual-memory simulation from a JSON or YAML ` +
			`configuration and prints its statistics as JSON. Runs can be stepped ` +
			`deterministically or driven by one goroutine per process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a .json or .yaml configuration file (default: built-in)")
	root.PersistentFlags().Bool("concurrent", false, "run one goroutine per process instead of stepping")
	root.PersistentFlags().String("output", "", "path to output JSON file (prints to stdout if not specified)")
	root.PersistentFlags().String("record", "", "record runs and events into this SQLite file")
	root.PersistentFlags().Bool("verbose", false, "print simulator log messages")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, opts, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if alg, _ := cmd.Flags().GetString("algorithm"); alg != "" {
				if config.Algorithm, err = simulator.ParseAlgorithm(alg); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			result, runErr := execute(ctx, config, opts)
			output, _ := cmd.Flags().GetString("output")
			if err := writeOutput(result, output, cmd.OutOrStdout(), opts.stderr); err != nil {
				return err
			}
			return runErr
		},
	}
	run.Flags().String("algorithm", "", "override the configured algorithm: fifo or lru")

	compare := &cobra.Command{
		Use:   "compare",
		Short: "Run FIFO and LRU over the same seed and compare their fault counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, opts, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cmp, runErr := compareAlgorithms(ctx, config, opts)
			output, _ := cmd.Flags().GetString("output")
			if err := writeOutput(cmp, output, cmd.OutOrStdout(), opts.stderr); err != nil {
				return err
			}
			return runErr
		},
	}

	root.AddCommand(run, compare)
	return root
}

// setup reads the shared flags. cleanup closes the recorder, if any.
func setup(cmd *cobra.Command) (simulator.SimConfig, runOptions, func(), error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	concurrent, _ := flags.GetBool("concurrent")
	recordPath, _ := flags.GetString("record")
	verbose, _ := flags.GetBool("verbose")
	level, _ := flags.GetString("log-level")

	if _, err := simulator.ParseLogLevel(level); err != nil {
		return simulator.SimConfig{}, runOptions{}, nil, err
	}
	if verbose && level == "warn" {
		level = "info"
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return config, runOptions{}, nil, err
	}
	if err := config.Validate(); err != nil {
		return config, runOptions{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := runOptions{
		concurrent: concurrent,
		verbose:    verbose,
		logger:     simulator.NewLogger(level, cmd.ErrOrStderr()),
		stderr:     cmd.ErrOrStderr(),
	}
	cleanup := func() {}

	if recordPath != "" {
		rec, err := recording.New(recordPath)
		if err != nil {
			return config, opts, nil, err
		}
		opts.recorder = rec
		cleanup = func() {
			if err := rec.Close(); err != nil {
				fmt.Fprintf(opts.stderr, "Error closing recording: %v\n", err)
			}
		}
		fmt.Fprintf(opts.stderr, "Recording to %s\n", rec.Path())
	}
	return config, opts, cleanup, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
