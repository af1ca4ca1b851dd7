package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/store"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemStore()

	g, err := graph.Chain(
		graph.NewNode("writer", graph.WorkerFunc(func(_ context.Context, view []graph.Message) (string, error) {
			return "poem about " + view[0].Content, nil
		})),
		graph.NewNode("editor", graph.WorkerFunc(func(_ context.Context, view []graph.Message) (string, error) {
			return "edited " + view[len(view)-1].Content, nil
		})),
	)
	require.NoError(t, err)
	engine, err := graph.New(g, graph.WithStore(st), graph.WithGraphName("poem"))
	require.NoError(t, err)

	broken, err := graph.Chain(graph.NewNode("broken", graph.WorkerFunc(func(context.Context, []graph.Message) (string, error) {
		return "", errors.New("model unavailable")
	})))
	require.NoError(t, err)
	brokenEngine, err := graph.New(broken, graph.WithStore(st), graph.WithGraphName("broken"))
	require.NoError(t, err)

	srv, err := New(map[string]*graph.Engine{"poem": engine, "broken": brokenEngine}, st, opts...)
	require.NoError(t, err)
	return srv, st
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, store.NewMemStore())
	assert.Error(t, err)

	_, err = New(map[string]*graph.Engine{"x": nil}, nil)
	assert.Error(t, err)
}

func TestHealthAndWorkflows(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = do(t, srv, http.MethodGet, "/workflows", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"broken", "poem"}, body["workflows"])
}

func TestStartRun_Sync(t *testing.T) {
	srv, st := newTestServer(t)

	code, body := do(t, srv, http.MethodPost, "/runs", `{"workflow":"poem","task":"autumn","run_id":"run-1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "edited poem about autumn", body["output"])
	assert.Len(t, body["messages"], 2)
	assert.NotEmpty(t, body["digest"])

	run, err := st.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "poem", run.Graph)
	assert.Equal(t, "completed", run.Status)
}

func TestStartRun_Failures(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, srv, http.MethodPost, "/runs", `{"workflow":"broken","task":"go"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "partial_failure", body["status"])
	assert.Contains(t, body["error"], "broken")
	_, err := uuidFrom(body["run_id"])
	assert.NoError(t, err, "generated run IDs are UUIDs")

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"malformed", `{`, http.StatusBadRequest, "invalid body"},
		{"missing task", `{"workflow":"poem"}`, http.StatusBadRequest, "task is required"},
		{"unknown workflow", `{"workflow":"ghost","task":"x"}`, http.StatusNotFound, "unknown workflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodPost, "/runs", tt.body)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestStartRun_DuplicateRunID(t *testing.T) {
	srv, st := newTestServer(t)

	code, _ := do(t, srv, http.MethodPost, "/runs", `{"workflow":"poem","task":"autumn","run_id":"dup"}`)
	require.Equal(t, http.StatusOK, code)

	for _, body := range []string{
		`{"workflow":"poem","task":"winter","run_id":"dup"}`,
		`{"workflow":"poem","task":"winter","run_id":"dup","async":true}`,
	} {
		code, resp := do(t, srv, http.MethodPost, "/runs", body)
		assert.Equal(t, http.StatusConflict, code)
		assert.Contains(t, resp["error"], "already exists")
	}

	run, err := st.LoadRun(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "autumn", run.Task)
	msgs, err := st.LoadMessages(context.Background(), "dup")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "edited poem about autumn", msgs[1].Content)
}

func TestStartRun_Async(t *testing.T) {
	srv, st := newTestServer(t)

	code, body := do(t, srv, http.MethodPost, "/runs", `{"workflow":"poem","task":"winter","run_id":"async-1","async":true}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "async-1", body["run_id"])

	require.Eventually(t, func() bool {
		run, err := st.LoadRun(context.Background(), "async-1")
		return err == nil && run.Finished()
	}, 2*time.Second, 10*time.Millisecond)

	code, body = do(t, srv, http.MethodGet, "/runs/async-1/messages", "")
	require.Equal(t, http.StatusOK, code)
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "edited poem about winter", msgs[1].(map[string]interface{})["content"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestGetRuns(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		code, _ := do(t, srv, http.MethodPost, "/runs", `{"workflow":"poem","task":"x","run_id":"`+id+`"}`)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := do(t, srv, http.MethodGet, "/runs?limit=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["runs"], 2)

	code, _ = do(t, srv, http.MethodGet, "/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, srv, http.MethodGet, "/runs/b", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "b", body["run_id"])
	assert.Equal(t, "x", body["task"])

	code, body = do(t, srv, http.MethodGet, "/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "run not found", body["error"])

	code, _ = do(t, srv, http.MethodGet, "/runs/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunTimeout(t *testing.T) {
	st := store.NewMemStore()
	g, err := graph.Chain(graph.NewNode("slow", graph.WorkerFunc(func(ctx context.Context, _ []graph.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})))
	require.NoError(t, err)
	engine, err := graph.New(g, graph.WithStore(st))
	require.NoError(t, err)
	srv, err := New(map[string]*graph.Engine{"slow": engine}, st, WithRunTimeout(20*time.Millisecond))
	require.NoError(t, err)

	code, body := do(t, srv, http.MethodPost, "/runs", `{"workflow":"slow","task":"x"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, []interface{}{"cancelled", "partial_failure"}, body["status"])
	assert.NotEmpty(t, body["error"])
}

func uuidFrom(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.New("run_id is not a string")
	}
	_, err := uuid.Parse(s)
	return s, err
}
