package session

import (
	"container/list"
	"time"
)

// DefaultDeleteTolerance is the window used when deleting by timestamp.
const DefaultDeleteTolerance = 100 * time.Millisecond

// Conversation is a fixed-capacity, insertion-ordered sequence of messages
// with no two entries sharing a MessageID. Once full, the oldest entry is
// dropped silently on each insert. Conversation is not safe for concurrent
// use; Thread provides the locking.
type Conversation struct {
	order    *list.List // oldest at front
	byID     map[string]*list.Element
	capacity int
}

// NewConversation creates an empty conversation holding at most capacity
// messages. A non-positive capacity is treated as 1.
func NewConversation(capacity int) *Conversation {
	if capacity <= 0 {
		capacity = 1
	}
	return &Conversation{
		order:    list.New(),
		byID:     make(map[string]*list.Element),
		capacity: capacity,
	}
}

// Add appends msg. It returns false without changing anything when a
// message with the same id is already present.
func (c *Conversation) Add(msg Message) bool {
	if _, exists := c.byID[msg.MessageID]; exists {
		return false
	}
	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.byID[msg.MessageID] = c.order.PushBack(msg)
	return true
}

func (c *Conversation) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	msg, _ := front.Value.(Message)
	c.order.Remove(front)
	delete(c.byID, msg.MessageID)
}

// Contains reports whether a message with id is present.
func (c *Conversation) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Messages returns a copy of all messages, oldest first.
func (c *Conversation) Messages() []Message {
	out := make([]Message, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Message))
	}
	return out
}

// Recent returns up to n of the newest messages, oldest first.
func (c *Conversation) Recent(n int) []Message {
	if n <= 0 || n >= c.order.Len() {
		return c.Messages()
	}
	out := make([]Message, n)
	i := n - 1
	for e := c.order.Back(); e != nil && i >= 0; e = e.Prev() {
		out[i] = e.Value.(Message)
		i--
	}
	return out
}

// DeleteByID removes the message with id. False when not found.
func (c *Conversation) DeleteByID(id string) bool {
	elem, ok := c.byID[id]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.byID, id)
	return true
}

// DeleteByTimestamp removes every message whose timestamp lies within
// tolerance of ts. False when nothing matched.
func (c *Conversation) DeleteByTimestamp(ts time.Time, tolerance time.Duration) bool {
	if tolerance < 0 {
		tolerance = -tolerance
	}
	return c.removeWhere(func(m Message) bool {
		d := m.Timestamp.Sub(ts)
		if d < 0 {
			d = -d
		}
		return d <= tolerance
	}) > 0
}

// PruneBefore removes messages older than cutoff and returns how many went.
func (c *Conversation) PruneBefore(cutoff time.Time) int {
	return c.removeWhere(func(m Message) bool {
		return m.Timestamp.Before(cutoff)
	})
}

func (c *Conversation) removeWhere(match func(Message) bool) int {
	removed := 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		msg := e.Value.(Message)
		if match(msg) {
			c.order.Remove(e)
			delete(c.byID, msg.MessageID)
			removed++
		}
		e = next
	}
	return removed
}

// Clear empties the conversation. False when it was already empty.
func (c *Conversation) Clear() bool {
	if c.order.Len() == 0 {
		return false
	}
	c.order.Init()
	c.byID = make(map[string]*list.Element)
	return true
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int { return c.order.Len() }

// Cap returns the configured capacity.
func (c *Conversation) Cap() int { return c.capacity }
