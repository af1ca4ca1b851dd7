// Package server exposes workflow runs over HTTP.
//
// Routes:
//
//	GET  /healthz                 liveness and store reachability
//	GET  /workflows               names of runnable workflows
//	POST /runs                    start a run: {"workflow": "...", "task": "...", "async": false}
//	GET  /runs?limit=N            most recent runs
//	GET  /runs/:id                one run record
//	GET  /runs/:id/messages       the run's committed messages
//
// Run records are read back from the store the engines persist to.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/store"
)

const defaultListLimit = 50

// Server serves the run API for a fixed set of engines.
type Server struct {
	app        *fiber.App
	engines    map[string]*graph.Engine
	store      store.Store
	logger     *slog.Logger
	runTimeout time.Duration

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and run logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunTimeout bounds every run started through the API. Zero means no
// bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) { s.runTimeout = d }
}

// New returns a Server for engines keyed by workflow name. st must be the
// store the engines were configured with.
func New(engines map[string]*graph.Engine, st store.Store, opts ...Option) (*Server, error) {
	if len(engines) == 0 {
		return nil, errors.New("server: no engines")
	}
	if st == nil {
		return nil, errors.New("server: store is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engines: engines,
		store:   st,
		logger:  slog.Default(),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{AppName: "hive"})
	app.Get("/healthz", s.health)
	app.Get("/workflows", s.listWorkflows)
	app.Post("/runs", s.startRun)
	app.Get("/runs", s.listRuns)
	app.Get("/runs/:id", s.getRun)
	app.Get("/runs/:id/messages", s.getMessages)
	s.app = app
	return s, nil
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests, cancels asynchronous runs and waits
// for them to record their final status.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

type runRequest struct {
	Workflow string `json:"workflow"`
	Task     string `json:"task"`
	RunID    string `json:"run_id"`
	Async    bool   `json:"async"`
}

type runResponse struct {
	RunID       string          `json:"run_id"`
	Workflow    string          `json:"workflow"`
	Status      graph.RunStatus `json:"status,omitempty"`
	Output      string          `json:"output,omitempty"`
	Messages    []graph.Message `json:"messages,omitempty"`
	Invocations map[string]int  `json:"invocations,omitempty"`
	Digest      string          `json:"digest,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func errorJSON(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (s *Server) health(c fiber.Ctx) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) listWorkflows(c fiber.Ctx) error {
	names := make([]string, 0, len(s.engines))
	for n := range s.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return c.JSON(fiber.Map{"workflows": names})
}

func (s *Server) startRun(c fiber.Ctx) error {
	var req runRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid body")
	}
	if req.Task == "" {
		return errorJSON(c, fiber.StatusBadRequest, "task is required")
	}
	engine, ok := s.engines[req.Workflow]
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, fmt.Sprintf("unknown workflow %q", req.Workflow))
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	} else {
		_, err := s.store.LoadRun(c.Context(), req.RunID)
		switch {
		case err == nil:
			return errorJSON(c, fiber.StatusConflict, fmt.Sprintf("run %q already exists", req.RunID))
		case !errors.Is(err, store.ErrNotFound):
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	if req.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(s.baseCtx, engine, req)
		}()
		return c.Status(fiber.StatusAccepted).JSON(runResponse{RunID: req.RunID, Workflow: req.Workflow})
	}

	res := s.execute(c.Context(), engine, req)
	if errors.Is(res.Err, graph.ErrDuplicateRunID) {
		return errorJSON(c, fiber.StatusConflict, fmt.Sprintf("run %q already exists", req.RunID))
	}
	resp := runResponse{
		RunID:       res.RunID,
		Workflow:    req.Workflow,
		Status:      res.Status,
		Output:      res.Output(),
		Messages:    res.Messages,
		Invocations: res.Invocations,
		Digest:      res.Digest(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return c.JSON(resp)
}

func (s *Server) execute(ctx context.Context, engine *graph.Engine, req runRequest) *graph.Result {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := engine.Run(ctx, req.Task, graph.WithRunID(req.RunID))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "run finished",
		slog.String("run_id", req.RunID),
		slog.String("workflow", req.Workflow),
		slog.String("status", string(res.Status)),
		slog.Int("messages", len(res.Messages)),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil && res.Status != graph.StatusPartialFailure {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "run did not complete",
			slog.String("run_id", req.RunID),
			slog.String("error", err.Error()),
		)
	}
	return res
}

func (s *Server) listRuns(c fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return errorJSON(c, fiber.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	runs, err := s.store.ListRuns(c.Context(), limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"runs": runs})
}

func (s *Server) getRun(c fiber.Ctx) error {
	run, err := s.store.LoadRun(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "run not found")
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(run)
}

func (s *Server) getMessages(c fiber.Ctx) error {
	msgs, err := s.store.LoadMessages(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "run not found")
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"run_id": c.Params("id"), "messages": msgs})
}
