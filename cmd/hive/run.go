package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/emit"
	"github.com/dshills/hivegraph/graph/factory"
	"github.com/dshills/hivegraph/graph/model"
	"github.com/dshills/hivegraph/graph/store"
	"github.com/dshills/hivegraph/internal/console"
)

// runCmd runs one workflow with the remaining arguments as the task and
// renders the stream to stdout.
func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var c common
	flags := newFlagSet("run", stderr)
	c.register(flags)
	workflow := flags.String("workflow", "", "workflow to run (defaults to the only declared workflow)")
	dsn := flags.String("store", "", "persist the run (memory, sqlite:PATH, mysql://DSN, postgres://URL)")
	runID := flags.String("run-id", "", "run identifier (generated when empty)")
	timeout := flags.Duration("timeout", 0, "bound the whole run; 0 means no bound")
	trace := flags.Bool("trace", false, "log engine events at debug level")
	if err := parseFlags(flags, args); err != nil {
		return err
	}
	task := strings.TrimSpace(strings.Join(flags.Args(), " "))
	if task == "" {
		fmt.Fprintln(stderr, "hive run: a task is required")
		return errUsage
	}

	costs := model.NewCostTracker()
	f, logger, err := c.setup(stderr, factory.WithCostTracker(costs))
	if err != nil {
		return err
	}
	defer f.Close()

	name, err := pickWorkflow(f, *workflow)
	if err != nil {
		return err
	}

	var opts []graph.Option
	if *trace {
		opts = append(opts, graph.WithEmitter(emit.NewSlogEmitter(logger, slog.LevelDebug)))
	}
	if *dsn != "" {
		st, err := store.Open(ctx, *dsn)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, graph.WithStore(st))
	}
	engine, err := f.Engine(name, opts...)
	if err != nil {
		return err
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	var runOpts []graph.RunOption
	if *runID != "" {
		runOpts = append(runOpts, graph.WithRunID(*runID))
	}

	start := time.Now()
	res := console.Render(stdout, engine.Stream(ctx, task, runOpts...), console.WithCosts(costs))
	logger.Debug("run finished",
		"run_id", res.RunID,
		"workflow", name,
		"status", string(res.Status),
		"duration", time.Since(start),
	)
	if res.Err != nil && res.Status != graph.StatusPartialFailure {
		return res.Err
	}
	return nil
}

// pickWorkflow resolves the -workflow flag, defaulting to the only
// declared workflow.
func pickWorkflow(f *factory.Factory, name string) (string, error) {
	names := f.Workflows()
	if name != "" {
		for _, n := range names {
			if n == name {
				return name, nil
			}
		}
		return "", fmt.Errorf("unknown workflow %q (declared: %s)", name, strings.Join(names, ", "))
	}
	if len(names) == 1 {
		return names[0], nil
	}
	return "", fmt.Errorf("-workflow is required when several workflows are declared (%s)", strings.Join(names, ", "))
}
