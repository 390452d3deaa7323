package agent

import (
	"context"
	"sync"
)

// sequencer hands out turns in issue order. Work between issue and commit
// runs concurrently; commits happen strictly one after another, in the
// order turns were issued.
type sequencer struct {
	tail chan struct{}
}

func newSequencer() *sequencer {
	done := make(chan struct{})
	close(done)
	return &sequencer{tail: done}
}

// turn is one slot in the commit order.
type turn struct {
	prev chan struct{}
	next chan struct{}
	once sync.Once
}

// issue must be called from a single goroutine, in arrival order.
func (s *sequencer) issue() *turn {
	t := &turn{prev: s.tail, next: make(chan struct{})}
	s.tail = t.next
	return t
}

// wait blocks until every earlier turn has finished.
func (t *turn) wait(ctx context.Context) error {
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish releases the next turn once every earlier turn has finished.
// Every turn must be finished, also when it committed nothing; repeated
// calls are no-ops.
func (t *turn) finish(ctx context.Context) {
	t.once.Do(func() {
		_ = t.wait(ctx)
		close(t.next)
	})
}
