package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mgiordano/apielt/internal/checkpoint"
	"github.com/mgiordano/apielt/internal/config"
	"github.com/mgiordano/apielt/internal/exitcodes"
	"github.com/mgiordano/apielt/internal/logging"
	"github.com/mgiordano/apielt/internal/orchestrator"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "apielt",
		Usage:   "API extraction and load pipelines for catalog, traffic, and weather data",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: runPipeline, // bare invocation runs the full pipeline
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the full pipeline: extract, load, aggregate",
				Action: runPipeline,
			},
			{
				Name:   "extract",
				Usage:  "Extract and stage only, without loading",
				Action: runExtract,
			},
			{
				Name:   "status",
				Usage:  "Show the last run and stored watermarks",
				Action: showStatus,
			},
			{
				Name:   "history",
				Usage:  "List recent pipeline runs",
				Action: showHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func runPipeline(c *cli.Context) error {
	return executeRun(c, false)
}

func runExtract(c *cli.Context) error {
	return executeRun(c, true)
}

func executeRun(c *cli.Context, extractOnly bool) error {
	cfg, state, err := setup(c)
	if err != nil {
		return err
	}
	defer state.Close()

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Saving checkpoint...")
		cancel()
	}()

	silent := c.Bool("output-json") || c.String("output-file") != ""
	orch := orchestrator.New(cfg, state, silent)

	var result *orchestrator.Result
	var runErr error
	if extractOnly {
		result, runErr = orch.Extract(ctx)
	} else {
		result, runErr = orch.Run(ctx)
	}

	if silent && result != nil {
		if err := outputJSON(c, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	return runErr
}

func showStatus(c *cli.Context) error {
	_, state, err := setup(c)
	if err != nil {
		return err
	}
	defer state.Close()

	if c.Bool("output-json") {
		out, err := orchestrator.LastRunJSON(state)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	return orchestrator.ShowStatus(state)
}

func showHistory(c *cli.Context) error {
	_, state, err := setup(c)
	if err != nil {
		return err
	}
	defer state.Close()

	return orchestrator.ShowHistory(state)
}

// setup loads the config and opens the requested state backend.
func setup(c *cli.Context) (*config.Config, checkpoint.StateBackend, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	var state checkpoint.StateBackend
	if stateFile := c.String("state-file"); stateFile != "" {
		state, err = checkpoint.NewFileState(stateFile)
	} else {
		state, err = checkpoint.New(cfg.Pipeline.DataDir)
	}
	if err != nil {
		return nil, nil, err
	}

	return cfg, state, nil
}

func outputJSON(c *cli.Context, result *orchestrator.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	if path := c.String("output-file"); path != "" {
		return os.WriteFile(path, append(data, '\n'), 0644)
	}

	fmt.Println(string(data))
	return nil
}
