package loader

import "sync"

// scheduler runs transfers with bounded concurrency. Queued transfers sit
// in one lane per priority; high drains before default, default before
// low, and the execution order picks within a lane.
type scheduler struct {
	mu        sync.Mutex
	order     ExecutionOrder
	limit     int
	running   int
	suspended bool
	lanes     [3][]*transfer
	start     func(*transfer)
}

func newScheduler(limit int, order ExecutionOrder, start func(*transfer)) *scheduler {
	if limit < 1 {
		limit = 1
	}
	return &scheduler{order: order, limit: limit, start: start}
}

func lane(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// enqueue queues t and starts whatever fits.
func (s *scheduler) enqueue(t *transfer) {
	s.mu.Lock()
	l := lane(t.priority)
	s.lanes[l] = append(s.lanes[l], t)
	ready := s.takeLocked()
	s.mu.Unlock()
	s.launch(ready)
}

// promote moves a queued transfer to a higher priority lane.
func (s *scheduler) promote(t *transfer, p Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := lane(t.priority), lane(p)
	if to >= from {
		return
	}
	if !s.removeLocked(t) {
		return
	}
	t.priority = p
	s.lanes[to] = append(s.lanes[to], t)
}

// remove drops a queued transfer. It reports false if t already started.
func (s *scheduler) remove(t *transfer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(t)
}

func (s *scheduler) removeLocked(t *transfer) bool {
	l := lane(t.priority)
	for i, q := range s.lanes[l] {
		if q == t {
			s.lanes[l] = append(s.lanes[l][:i], s.lanes[l][i+1:]...)
			return true
		}
	}
	return false
}

// done releases the slot of a finished transfer.
func (s *scheduler) done() {
	s.mu.Lock()
	s.running--
	ready := s.takeLocked()
	s.mu.Unlock()
	s.launch(ready)
}

func (s *scheduler) setSuspended(suspended bool) {
	s.mu.Lock()
	s.suspended = suspended
	var ready []*transfer
	if !suspended {
		ready = s.takeLocked()
	}
	s.mu.Unlock()
	s.launch(ready)
}

func (s *scheduler) isSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// counts returns the running and queued transfers.
func (s *scheduler) counts() (running, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		queued += len(l)
	}
	return s.running, queued
}

func (s *scheduler) takeLocked() []*transfer {
	var ready []*transfer
	for !s.suspended && s.running < s.limit {
		t := s.popLocked()
		if t == nil {
			break
		}
		s.running++
		ready = append(ready, t)
	}
	return ready
}

func (s *scheduler) popLocked() *transfer {
	for l := range s.lanes {
		q := s.lanes[l]
		if len(q) == 0 {
			continue
		}
		var t *transfer
		if s.order == LIFO {
			t = q[len(q)-1]
			s.lanes[l] = q[:len(q)-1]
		} else {
			t = q[0]
			q[0] = nil
			s.lanes[l] = q[1:]
		}
		return t
	}
	return nil
}

func (s *scheduler) launch(ready []*transfer) {
	for _, t := range ready {
		go s.start(t)
	}
}
