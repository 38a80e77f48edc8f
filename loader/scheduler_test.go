package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(limit int, order ExecutionOrder) (*scheduler, chan *transfer) {
	started := make(chan *transfer, 16)
	return newScheduler(limit, order, func(t *transfer) { started <- t }), started
}

func nextStarted(t *testing.T, started chan *transfer) *transfer {
	t.Helper()
	select {
	case tr := <-started:
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("no transfer started")
		return nil
	}
}

func queued(key string, p Priority) *transfer {
	return &transfer{key: key, priority: p}
}

func TestScheduler_Order(t *testing.T) {
	tests := []struct {
		order ExecutionOrder
		want  []string
	}{
		{order: FIFO, want: []string{"d", "a", "b", "c"}},
		{order: LIFO, want: []string{"d", "b", "a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			s, started := newTestScheduler(1, tt.order)
			s.setSuspended(true)
			s.enqueue(queued("a", PriorityDefault))
			s.enqueue(queued("b", PriorityDefault))
			s.enqueue(queued("c", PriorityLow))
			s.enqueue(queued("d", PriorityHigh))

			running, waiting := s.counts()
			assert.Equal(t, 0, running)
			assert.Equal(t, 4, waiting)
			assert.True(t, s.isSuspended())

			s.setSuspended(false)
			var got []string
			for range tt.want {
				got = append(got, nextStarted(t, started).key)
				s.done()
			}
			assert.Equal(t, tt.want, got)

			running, waiting = s.counts()
			assert.Equal(t, 0, running)
			assert.Equal(t, 0, waiting)
		})
	}
}

func TestScheduler_Limit(t *testing.T) {
	s, started := newTestScheduler(2, FIFO)
	s.enqueue(queued("a", PriorityDefault))
	s.enqueue(queued("b", PriorityDefault))
	s.enqueue(queued("c", PriorityDefault))

	keys := []string{nextStarted(t, started).key, nextStarted(t, started).key}
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	running, waiting := s.counts()
	assert.Equal(t, 2, running)
	assert.Equal(t, 1, waiting)

	s.done()
	assert.Equal(t, "c", nextStarted(t, started).key)
}

func TestScheduler_Promote(t *testing.T) {
	s, started := newTestScheduler(1, FIFO)
	s.setSuspended(true)
	a := queued("a", PriorityDefault)
	b := queued("b", PriorityLow)
	s.enqueue(a)
	s.enqueue(b)

	s.promote(b, PriorityHigh)
	assert.Equal(t, PriorityHigh, b.priority)
	s.promote(a, PriorityLow)
	assert.Equal(t, PriorityDefault, a.priority, "promote never lowers priority")

	s.setSuspended(false)
	assert.Equal(t, "b", nextStarted(t, started).key)
	s.done()
	assert.Equal(t, "a", nextStarted(t, started).key)
}

func TestScheduler_Remove(t *testing.T) {
	s, started := newTestScheduler(1, FIFO)
	running := queued("running", PriorityDefault)
	waiting := queued("waiting", PriorityDefault)
	s.enqueue(running)
	s.enqueue(waiting)
	require.Equal(t, "running", nextStarted(t, started).key)

	assert.False(t, s.remove(running), "started transfers are not in the queue")
	assert.True(t, s.remove(waiting))
	assert.False(t, s.remove(waiting))

	s.done()
	select {
	case tr := <-started:
		t.Fatalf("unexpected start of %s", tr.key)
	case <-time.After(50 * time.Millisecond):
	}
}
