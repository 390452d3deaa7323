package session

import (
	"sync"
	"time"
)

// Thread is one participant's bounded conversation history.
type Thread struct {
	owner string
	conv  *Conversation
	mu    sync.RWMutex
}

// NewThread creates an empty thread for owner.
func NewThread(owner string, capacity int) *Thread {
	return &Thread{
		owner: owner,
		conv:  NewConversation(capacity),
	}
}

// Owner returns the participant id that owns the thread.
func (t *Thread) Owner() string { return t.owner }

// Capacity returns the maximum number of retained messages.
func (t *Thread) Capacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conv.Cap()
}

// AddMessage inserts msg unless its id is already present.
func (t *Thread) AddMessage(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv.Add(msg)
}

// Contains reports whether the thread holds a message with id.
func (t *Thread) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conv.Contains(id)
}

// Messages returns a copy of the history, oldest first.
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conv.Messages()
}

// Recent returns up to n of the newest messages, oldest first.
func (t *Thread) Recent(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conv.Recent(n)
}

// Len returns the number of stored messages.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conv.Len()
}

// DeleteMessageByID removes one message by id.
func (t *Thread) DeleteMessageByID(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv.DeleteByID(id)
}

// DeleteMessageByTimestamp removes messages within tolerance of ts.
func (t *Thread) DeleteMessageByTimestamp(ts time.Time, tolerance time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv.DeleteByTimestamp(ts, tolerance)
}

// Clear empties the thread. False when it was already empty.
func (t *Thread) Clear() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv.Clear()
}

func (t *Thread) pruneBefore(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv.PruneBefore(cutoff)
}
