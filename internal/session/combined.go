package session

import (
	"errors"
	"sort"
)

// ErrNoThreads is returned when combining an empty set of threads.
var ErrNoThreads = errors.New("session: at least one thread is required")

// CombinedThread is a transient, read-only chronological merge of several
// threads. It borrows the underlying messages and never writes back.
type CombinedThread struct {
	owners []string
	conv   *Conversation
}

// Combine merges the given threads into one chronologically sorted view
// bounded by the largest constituent capacity. A message present in more
// than one thread appears once.
func Combine(threads ...*Thread) (*CombinedThread, error) {
	if len(threads) == 0 {
		return nil, ErrNoThreads
	}

	capacity := 0
	owners := make([]string, 0, len(threads))
	var all []Message
	for _, t := range threads {
		if t == nil {
			continue
		}
		owners = append(owners, t.Owner())
		if c := t.Capacity(); c > capacity {
			capacity = c
		}
		all = append(all, t.Messages()...)
	}
	if len(owners) == 0 {
		return nil, ErrNoThreads
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Before(all[j])
	})

	conv := NewConversation(capacity)
	for _, m := range all {
		conv.Add(m)
	}
	return &CombinedThread{owners: owners, conv: conv}, nil
}

// Messages returns the merged history, oldest first.
func (c *CombinedThread) Messages() []Message {
	return c.conv.Messages()
}

// Recent returns up to n of the newest merged messages.
func (c *CombinedThread) Recent(n int) []Message {
	return c.conv.Recent(n)
}

// Owners returns the participant ids of the merged threads.
func (c *CombinedThread) Owners() []string {
	out := make([]string, len(c.owners))
	copy(out, c.owners)
	return out
}
