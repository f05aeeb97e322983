package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/10and01/vmsim/harness"
	"github.com/10and01/vmsim/recording"
	"github.com/10and01/vmsim/simulator"
	"github.com/rs/xid"
)

// runResult is the JSON document written for one simulation
type runResult struct {
	RunID         string                    `json:"runId"`
	Mode          string                    `json:"mode"`
	Config        simulator.SimConfig       `json:"config"`
	Ticks         int                       `json:"ticks"`
	VirtualTimeMs float64                   `json:"virtualTimeMs"`
	RealTime      float64                   `json:"realTime"` // seconds
	Statistics    simulator.Statistics      `json:"statistics"`
	Processes     []simulator.ProcessStatus `json:"processes"`
	Frames        simulator.FrameSummary    `json:"frames"`
	Error         string                    `json:"error,omitempty"`
}

type runOptions struct {
	concurrent bool
	verbose    bool
	logger     *slog.Logger
	recorder   *recording.Recorder // optional
	stderr     io.Writer
	harness    []harness.Option
}

func (o runOptions) mode() string {
	if o.concurrent {
		return "concurrent"
	}
	return "stepped"
}

// loadConfig reads path, or returns the default configuration when path is empty
func loadConfig(path string) (simulator.SimConfig, error) {
	if path == "" {
		return simulator.DefaultConfig(), nil
	}
	config, err := simulator.LoadConfig(path)
	if err != nil {
		return config, fmt.Errorf("error loading config: %w", err)
	}
	return config, nil
}

// execute runs one simulation to completion. The result is filled in even when
// the run fails, so partial statistics can still be reported.
func execute(ctx context.Context, config simulator.SimConfig, opts runOptions) (runResult, error) {
	result := runResult{
		RunID:  xid.New().String(),
		Mode:   opts.mode(),
		Config: config,
	}

	if opts.recorder != nil {
		if err := opts.recorder.BeginRun(result.RunID, config); err != nil {
			return result, fmt.Errorf("error recording run: %w", err)
		}
	}

	fmt.Fprintf(opts.stderr, "Starting %s simulation: %d processes, %d frames, %s\n",
		result.Mode, config.NumProcesses, config.TotalFrames(), config.Algorithm)
	startTime := time.Now()

	var snap simulator.Snapshot
	var runErr error
	if opts.concurrent {
		snap, runErr = runConcurrent(ctx, config, opts)
	} else {
		snap, runErr = runStepped(ctx, config, opts)
	}

	elapsed := time.Since(startTime)
	result.RealTime = elapsed.Seconds()
	result.Ticks = snap.Tick
	result.VirtualTimeMs = snap.VirtualTimeMs
	result.Statistics = snap.Statistics
	result.Processes = snap.Processes
	result.Frames = snap.FrameSummary
	if runErr != nil {
		result.Error = runErr.Error()
	}

	fmt.Fprintf(opts.stderr, "Simulation completed in %v (%d ticks, %.1f virtual ms, %d faults / %d accesses)\n",
		elapsed, result.Ticks, result.VirtualTimeMs, result.Statistics.TotalFaults, result.Statistics.TotalAccesses)

	if opts.recorder != nil {
		if err := opts.recorder.EndRun(result.RunID, result.Statistics, runErr); err != nil {
			return result, fmt.Errorf("error recording run: %w", err)
		}
	}
	return result, runErr
}

func runStepped(ctx context.Context, config simulator.SimConfig, opts runOptions) (simulator.Snapshot, error) {
	sim, err := simulator.NewSimulator(config)
	if err != nil {
		return simulator.Snapshot{}, fmt.Errorf("error creating simulator: %w", err)
	}
	sim.SetLogger(opts.logger)
	if opts.verbose {
		sim.LogEvent = func(msg string) {
			fmt.Fprintf(opts.stderr, "[SIM] %s\n", msg)
		}
	}
	if opts.recorder != nil {
		sim.OnEvent = opts.recorder.Publish
	}

	for !sim.IsFinished() {
		if ctx.Err() != nil {
			sim.Cancel()
		}
		if err := sim.Step(); err != nil {
			return sim.Snapshot(), err
		}
	}
	return sim.Snapshot(), nil
}

func runConcurrent(ctx context.Context, config simulator.SimConfig, opts runOptions) (simulator.Snapshot, error) {
	hopts := []harness.Option{harness.WithLogger(opts.logger)}
	if opts.recorder != nil {
		hopts = append(hopts, harness.WithEventSink(opts.recorder))
	}
	h, err := harness.New(config, append(hopts, opts.harness...)...)
	if err != nil {
		return simulator.Snapshot{}, err
	}

	if err := h.Start(ctx, config.Algorithm); err != nil {
		return h.Snapshot(), err
	}
	opts.logger.Info("harness run started", "run", h.RunID())
	err = h.Wait()
	return h.Snapshot(), err
}

// comparison holds one run per algorithm over the same seed
type comparison struct {
	Seed       int64     `json:"seed"`
	FIFO       runResult `json:"fifo"`
	LRU        runResult `json:"lru"`
	FaultDelta int       `json:"faultDelta"` // FIFO faults minus LRU faults
}

func compareAlgorithms(ctx context.Context, config simulator.SimConfig, opts runOptions) (comparison, error) {
	if config.RandomSeed == 0 {
		config.RandomSeed = time.Now().UnixNano()
	}
	cmp := comparison{Seed: config.RandomSeed}

	var err error
	config.Algorithm = simulator.AlgorithmFIFO
	if cmp.FIFO, err = execute(ctx, config, opts); err != nil {
		return cmp, err
	}
	config.Algorithm = simulator.AlgorithmLRU
	if cmp.LRU, err = execute(ctx, config, opts); err != nil {
		return cmp, err
	}

	cmp.FaultDelta = cmp.FIFO.Statistics.TotalFaults - cmp.LRU.Statistics.TotalFaults
	fmt.Fprintf(opts.stderr, "%-6s %10s %10s %10s\n", "alg", "faults", "accesses", "faultRate")
	for _, r := range []runResult{cmp.FIFO, cmp.LRU} {
		fmt.Fprintf(opts.stderr, "%-6s %10d %10d %9.2f%%\n", r.Config.Algorithm,
			r.Statistics.TotalFaults, r.Statistics.TotalAccesses, r.Statistics.FaultRate*100)
	}
	return cmp, nil
}

// writeOutput writes v as indented JSON to path, or to stdout when path is empty
func writeOutput(v interface{}, path string, stdout, stderr io.Writer) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling results: %w", err)
	}

	if path == "" {
		_, err := fmt.Fprintln(stdout, string(output))
		return err
	}
	if err := os.WriteFile(path, output, 0644); err != nil {
		return fmt.Errorf("error writing output file: %w", err)
	}
	fmt.Fprintf(stderr, "Results written to %s\n", path)
	return nil
}
