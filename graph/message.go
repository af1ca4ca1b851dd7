package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
)

// UserSource is the source name attached to task messages that enter a run
// from outside the graph.
const UserSource = "user"

// MessageStatus is the completion marker carried by every committed message.
type MessageStatus string

const (
	// MessageComplete marks a message produced by a successful invocation.
	MessageComplete MessageStatus = "complete"

	// MessageFailed marks a message recording a failed invocation. Its
	// Content is the error description.
	MessageFailed MessageStatus = "failed"
)

// Message is one immutable entry of a run's message log.
//
// Seq is assigned by the engine when the message is committed and is strictly
// increasing within a run, starting at 1. Task messages supplied by the caller
// carry Seq 0 and never appear in the Log.
type Message struct {
	Seq     int           `json:"seq"`
	Source  string        `json:"source"`
	Content string        `json:"content"`
	Status  MessageStatus `json:"status"`
}

// Failed reports whether the message records a failed invocation.
func (m Message) Failed() bool {
	return m.Status == MessageFailed
}

// TextMessage returns a complete message from source with the given content.
// Useful for building task seeds.
func TextMessage(source, content string) Message {
	return Message{Source: source, Content: content, Status: MessageComplete}
}

// Log is the append-only record of messages committed during one run.
//
// Appends are serialized and sequence numbers are never reused. Readers get
// copies, so a snapshot taken by one goroutine is never mutated by another.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{messages: make([]Message, 0, 16)}
}

// Append commits a message, assigning the next sequence number. The stored
// message is returned.
func (l *Log) Append(source, content string, status MessageStatus) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{
		Seq:     len(l.messages) + 1,
		Source:  source,
		Content: content,
		Status:  status,
	}
	l.messages = append(l.messages, msg)
	return msg
}

// Len returns the number of committed messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Snapshot returns a copy of all committed messages in sequence order.
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Since returns a copy of the messages with Seq greater than seq.
func (l *Log) Since(seq int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.messages) {
		return nil
	}
	out := make([]Message, len(l.messages)-seq)
	copy(out, l.messages[seq:])
	return out
}

// digestMessages computes a stable hex digest over an ordered message list.
//
// Two runs with byte-identical logs produce the same digest. The encoding is
// length-prefixed so that field boundaries cannot be confused.
func digestMessages(msgs []Message) string {
	h := sha256.New()
	buf := make([]byte, 8)

	writeField := func(s string) {
		binary.BigEndian.PutUint64(buf, uint64(len(s)))
		h.Write(buf)
		h.Write([]byte(s))
	}

	for _, m := range msgs {
		binary.BigEndian.PutUint64(buf, uint64(m.Seq))
		h.Write(buf)
		writeField(m.Source)
		writeField(string(m.Status))
		writeField(m.Content)
	}

	return hex.EncodeToString(h.Sum(nil))
}
