package graph

import (
	"sync"
	"testing"
)

func TestLog_Append(t *testing.T) {
	t.Run("assigns increasing sequence numbers from 1", func(t *testing.T) {
		l := NewLog()
		a := l.Append("a", "one", MessageComplete)
		b := l.Append("b", "two", MessageFailed)

		if a.Seq != 1 || b.Seq != 2 {
			t.Fatalf("expected seqs 1,2, got %d,%d", a.Seq, b.Seq)
		}
		if !b.Failed() {
			t.Error("expected second message to be failed")
		}
		if l.Len() != 2 {
			t.Errorf("expected Len 2, got %d", l.Len())
		}
	})

	t.Run("concurrent appends never reuse a sequence number", func(t *testing.T) {
		l := NewLog()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Append("w", "x", MessageComplete)
			}()
		}
		wg.Wait()

		for i, m := range l.Snapshot() {
			if m.Seq != i+1 {
				t.Fatalf("position %d has seq %d", i, m.Seq)
			}
		}
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		l := NewLog()
		l.Append("a", "one", MessageComplete)
		snap := l.Snapshot()
		snap[0].Content = "mutated"

		if got := l.Snapshot()[0].Content; got != "one" {
			t.Errorf("log mutated through snapshot: %q", got)
		}
	})
}

func TestLog_Since(t *testing.T) {
	l := NewLog()
	for _, s := range []string{"a", "b", "c"} {
		l.Append(s, s, MessageComplete)
	}

	tests := []struct {
		seq  int
		want []string
	}{
		{seq: 0, want: []string{"a", "b", "c"}},
		{seq: 1, want: []string{"b", "c"}},
		{seq: 3, want: nil},
		{seq: -5, want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		got := l.Since(tt.seq)
		if len(got) != len(tt.want) {
			t.Fatalf("Since(%d): expected %d messages, got %d", tt.seq, len(tt.want), len(got))
		}
		for i := range got {
			if got[i].Source != tt.want[i] {
				t.Errorf("Since(%d)[%d] = %q, want %q", tt.seq, i, got[i].Source, tt.want[i])
			}
		}
	}
}

func TestDigestMessages(t *testing.T) {
	base := []Message{
		{Seq: 1, Source: "a", Content: "hello", Status: MessageComplete},
		{Seq: 2, Source: "b", Content: "world", Status: MessageComplete},
	}

	if digestMessages(base) != digestMessages(append([]Message(nil), base...)) {
		t.Error("equal logs produced different digests")
	}

	shifted := []Message{
		{Seq: 1, Source: "a", Content: "hellow", Status: MessageComplete},
		{Seq: 2, Source: "b", Content: "orld", Status: MessageComplete},
	}
	if digestMessages(base) == digestMessages(shifted) {
		t.Error("field boundaries must affect the digest")
	}

	failed := []Message{base[0], {Seq: 2, Source: "b", Content: "world", Status: MessageFailed}}
	if digestMessages(base) == digestMessages(failed) {
		t.Error("status must affect the digest")
	}
}
