package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testStoreContract runs the behaviour every Store implementation shares.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("save and load run", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		runID := uniqueRunID(t, "save")

		started := time.Unix(1_700_000_000, 123)
		if err := st.SaveRun(ctx, RunRecord{RunID: runID, Graph: "g", Task: "write", Status: "running", StartedAt: started}); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		got, err := st.LoadRun(ctx, runID)
		if err != nil {
			t.Fatalf("LoadRun failed: %v", err)
		}
		if got.Task != "write" || got.Status != "running" || got.Graph != "g" {
			t.Errorf("unexpected run %+v", got)
		}
		if !got.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
		}
		if got.Finished() {
			t.Error("run without FinishedAt must not report finished")
		}

		// Second save replaces the record.
		finished := started.Add(time.Second)
		err = st.SaveRun(ctx, RunRecord{
			RunID: runID, Graph: "g", Task: "write", Status: "completed",
			Digest: "abc", StartedAt: started, FinishedAt: finished,
		})
		if err != nil {
			t.Fatalf("SaveRun (update) failed: %v", err)
		}
		got, err = st.LoadRun(ctx, runID)
		if err != nil {
			t.Fatalf("LoadRun failed: %v", err)
		}
		if got.Status != "completed" || got.Digest != "abc" || !got.FinishedAt.Equal(finished) {
			t.Errorf("update not applied: %+v", got)
		}
	})

	t.Run("create run rejects a taken ID", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		runID := uniqueRunID(t, "create")

		first := RunRecord{RunID: runID, Graph: "g", Task: "first", Status: "running", StartedAt: time.Unix(1_700_000_000, 0)}
		if err := st.CreateRun(ctx, first); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if err := st.AppendMessages(ctx, runID, []MessageRecord{{Seq: 1, Source: "writer", Content: "first", Status: "complete"}}); err != nil {
			t.Fatal(err)
		}

		second := RunRecord{RunID: runID, Graph: "other", Task: "second", Status: "running", StartedAt: time.Unix(1_800_000_000, 0)}
		if err := st.CreateRun(ctx, second); !errors.Is(err, ErrRunExists) {
			t.Fatalf("second CreateRun: expected ErrRunExists, got %v", err)
		}

		got, err := st.LoadRun(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Task != "first" || got.Graph != "g" || !got.StartedAt.Equal(first.StartedAt) {
			t.Errorf("rejected create changed the record: %+v", got)
		}
		msgs, err := st.LoadMessages(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 || msgs[0].Content != "first" {
			t.Errorf("rejected create changed the log: %+v", msgs)
		}

		// SaveRun still updates the record the create inserted.
		if err := st.SaveRun(ctx, RunRecord{RunID: runID, Graph: "g", Task: "first", Status: "completed", StartedAt: first.StartedAt, FinishedAt: first.StartedAt.Add(time.Second)}); err != nil {
			t.Fatal(err)
		}
		if got, _ := st.LoadRun(ctx, runID); got.Status != "completed" {
			t.Errorf("status after SaveRun = %q", got.Status)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		missing := uniqueRunID(t, "missing")

		if _, err := st.LoadRun(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadRun: expected ErrNotFound, got %v", err)
		}
		if _, err := st.LoadMessages(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadMessages: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("append is ordered and idempotent", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		runID := uniqueRunID(t, "append")
		if err := st.SaveRun(ctx, RunRecord{RunID: runID, Status: "running", StartedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}

		empty, err := st.LoadMessages(ctx, runID)
		if err != nil {
			t.Fatalf("LoadMessages failed: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected no messages, got %+v", empty)
		}

		batch1 := []MessageRecord{
			{Seq: 2, Source: "critic", Content: "ok", Status: "complete"},
			{Seq: 1, Source: "writer", Content: "draft", Status: "complete"},
		}
		if err := st.AppendMessages(ctx, runID, batch1); err != nil {
			t.Fatalf("AppendMessages failed: %v", err)
		}
		// Replaying seq 2 with different content must not overwrite it.
		batch2 := []MessageRecord{
			{Seq: 2, Source: "critic", Content: "changed", Status: "failed"},
			{Seq: 3, Source: "writer", Content: "final", Status: "complete"},
		}
		if err := st.AppendMessages(ctx, runID, batch2); err != nil {
			t.Fatalf("AppendMessages failed: %v", err)
		}
		if err := st.AppendMessages(ctx, runID, nil); err != nil {
			t.Fatalf("empty AppendMessages failed: %v", err)
		}

		msgs, err := st.LoadMessages(ctx, runID)
		if err != nil {
			t.Fatalf("LoadMessages failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %+v", msgs)
		}
		for i, m := range msgs {
			if m.Seq != i+1 {
				t.Errorf("message %d has seq %d", i, m.Seq)
			}
		}
		if msgs[1].Content != "ok" || msgs[1].Status != "complete" {
			t.Errorf("duplicate seq overwrote entry: %+v", msgs[1])
		}
	})

	t.Run("list runs newest first", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		base := time.Unix(1_900_000_000, 0)
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = uniqueRunID(t, fmt.Sprintf("list-%d", i))
			rec := RunRecord{RunID: ids[i], Status: "completed", StartedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := st.SaveRun(ctx, rec); err != nil {
				t.Fatal(err)
			}
		}

		runs, err := st.ListRuns(ctx, 2)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].RunID != ids[2] || runs[1].RunID != ids[1] {
			t.Errorf("unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
		}

		all, err := st.ListRuns(ctx, 0)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(all) < 3 {
			t.Errorf("limit 0 should return every run, got %d", len(all))
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		runID := uniqueRunID(t, "concurrent")
		if err := st.SaveRun(ctx, RunRecord{RunID: runID, Status: "running", StartedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 1; i <= 10; i++ {
			wg.Add(1)
			go func(seq int) {
				defer wg.Done()
				errs <- st.AppendMessages(ctx, runID, []MessageRecord{{Seq: seq, Source: "n", Content: "c", Status: "complete"}})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("concurrent append failed: %v", err)
			}
		}

		msgs, err := st.LoadMessages(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 10 {
			t.Errorf("expected 10 messages, got %d", len(msgs))
		}
	})
}

// uniqueRunID keeps shared databases (MySQL, Postgres) isolated between test runs.
func uniqueRunID(t *testing.T, prefix string) string {
	return fmt.Sprintf("%s-%s-%d", prefix, filepath.Base(t.Name()), time.Now().UnixNano())
}

func TestMemStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		st := NewMemStore()
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "hive.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("HIVE_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL integration test: set HIVE_MYSQL_DSN to run")
	}
	testStoreContract(t, func(t *testing.T) Store {
		st, err := NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("HIVE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres integration test: set HIVE_POSTGRES_DSN to run")
	}
	testStoreContract(t, func(t *testing.T) Store {
		st, err := NewPostgresStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewPostgresStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestClosedStores(t *testing.T) {
	ctx := context.Background()

	mem := NewMemStore()
	sqlite, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	for name, st := range map[string]Store{"memory": mem, "sqlite": sqlite} {
		if err := st.Close(); err != nil {
			t.Fatalf("%s: Close failed: %v", name, err)
		}
		if err := st.SaveRun(ctx, RunRecord{RunID: "r"}); !errors.Is(err, ErrClosed) {
			t.Errorf("%s: SaveRun after close: expected ErrClosed, got %v", name, err)
		}
		if err := st.CreateRun(ctx, RunRecord{RunID: "r"}); !errors.Is(err, ErrClosed) {
			t.Errorf("%s: CreateRun after close: expected ErrClosed, got %v", name, err)
		}
		if _, err := st.ListRuns(ctx, 0); !errors.Is(err, ErrClosed) {
			t.Errorf("%s: ListRuns after close: expected ErrClosed, got %v", name, err)
		}
	}
	if err := sqlite.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Path() != path {
		t.Errorf("Path() = %q", st.Path())
	}
	_ = st.SaveRun(ctx, RunRecord{RunID: "persisted", Status: "completed", StartedAt: time.Now()})
	_ = st.AppendMessages(ctx, "persisted", []MessageRecord{{Seq: 1, Source: "a", Content: "x", Status: "complete"}})
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	msgs, err := st.LoadMessages(ctx, "persisted")
	if err != nil {
		t.Fatalf("LoadMessages after reopen failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "x" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{dsn: "", want: "*store.MemStore"},
		{dsn: "memory", want: "*store.MemStore"},
		{dsn: "sqlite:" + filepath.Join(t.TempDir(), "a.db"), want: "*store.SQLiteStore"},
		{dsn: "sqlite://" + filepath.Join(t.TempDir(), "b.db"), want: "*store.SQLiteStore"},
		{dsn: "redis://localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			st, err := Open(ctx, tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer st.Close()
			if got := fmt.Sprintf("%T", st); got != tt.want {
				t.Errorf("Open(%q) = %s, want %s", tt.dsn, got, tt.want)
			}
		})
	}
}
