package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/emit"
	"github.com/dshills/hivegraph/graph/model"
	"github.com/dshills/hivegraph/graph/factory"
	"github.com/dshills/hivegraph/graph/store"
	"github.com/dshills/hivegraph/internal/server"
)

// serveCmd builds an engine per workflow and serves the run API until ctx
// is cancelled.
func serveCmd(ctx context.Context, args []string, stderr io.Writer) error {
	var c common
	flags := newFlagSet("serve", stderr)
	c.register(flags)
	addr := flags.String("addr", ":8080", "run API listen address")
	metricsAddr := flags.String("metrics-addr", ":9090", "Prometheus metrics listen address; empty disables")
	dsn := flags.String("store", "memory", "run store (memory, sqlite:PATH, mysql://DSN, postgres://URL)")
	runTimeout := flags.Duration("run-timeout", 10*time.Minute, "bound every run; 0 means no bound")
	shutdownTimeout := flags.Duration("shutdown-timeout", 30*time.Second, "grace period for in-flight runs")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	costs := model.NewCostTracker()
	f, logger, err := c.setup(stderr, factory.WithCostTracker(costs))
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := store.Open(ctx, *dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := graph.NewPrometheusMetrics(registry)

	engines := make(map[string]*graph.Engine)
	for _, name := range f.Workflows() {
		engine, err := f.Engine(name,
			graph.WithStore(st),
			graph.WithMetrics(metrics),
			graph.WithEmitter(emit.NewSlogEmitter(logger, slog.LevelDebug)),
		)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", name, err)
		}
		engines[name] = engine
	}

	srv, err := server.New(engines, st, server.WithLogger(logger), server.WithRunTimeout(*runTimeout))
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", "addr", *metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}
	go func() {
		logger.Info("run API listening", "addr", *addr, "workflows", f.Workflows(), "store", *dsn)
		if err := srv.Listen(*addr); err != nil {
			errc <- fmt.Errorf("run API: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	in, out := costs.TokenUsage()
	logger.Info("stopped", "input_tokens", in, "output_tokens", out, "cost_usd", costs.TotalCost())
	return runErr
}
