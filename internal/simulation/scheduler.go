package simulation

import (
	"container/heap"
	"time"
)

// Task is a continuation registered with a Scheduler.
type Task struct {
	seq       uint64
	due       time.Duration
	every     time.Duration
	fn        func()
	index     int
	cancelled bool
	owner     *Scheduler
}

// Cancel prevents the task from firing again. Cancelling twice or after firing is safe.
func (t *Task) Cancel() {
	if t == nil || t.cancelled {
		return
	}
	t.cancelled = true
	if t.owner != nil && t.index >= 0 {
		heap.Remove(&t.owner.queue, t.index)
	}
}

// Pending reports whether the task will still fire.
func (t *Task) Pending() bool {
	return t != nil && !t.cancelled && t.index >= 0
}

// Due returns the virtual time at which the task fires next.
func (t *Task) Due() time.Duration {
	if t == nil {
		return 0
	}
	return t.due
}

// Scheduler runs delayed and repeating continuations against a virtual clock that only moves
// when Advance is called. It is not safe for concurrent use; the owning simulation drives it.
type Scheduler struct {
	now   time.Duration
	seq   uint64
	queue taskQueue
}

// NewScheduler returns a scheduler whose clock starts at zero.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the virtual time.
func (s *Scheduler) Now() time.Duration {
	if s == nil {
		return 0
	}
	return s.now
}

// After runs fn once the virtual clock has moved forward by delay.
func (s *Scheduler) After(delay time.Duration, fn func()) *Task {
	return s.schedule(delay, 0, fn)
}

// Every runs fn each interval until the returned task is cancelled. The first run happens
// one interval from now.
func (s *Scheduler) Every(interval time.Duration, fn func()) *Task {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return s.schedule(interval, interval, fn)
}

func (s *Scheduler) schedule(delay, every time.Duration, fn func()) *Task {
	if s == nil || fn == nil {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	s.seq++
	task := &Task{seq: s.seq, due: s.now + delay, every: every, fn: fn, owner: s}
	heap.Push(&s.queue, task)
	return task
}

// Advance moves the clock forward by dt, running every task that falls due in order. Tasks
// scheduled by a running task fire in the same call when they fall inside the window.
func (s *Scheduler) Advance(dt time.Duration) {
	if s == nil {
		return
	}
	target := s.now + dt
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.due > target {
			break
		}
		//1.- Pop the earliest task and move the clock to its due time before running it.
		heap.Pop(&s.queue)
		s.now = next.due
		if next.every > 0 {
			//2.- Re-arm repeating tasks before running so the callback may cancel them.
			next.due += next.every
			s.seq++
			next.seq = s.seq
			heap.Push(&s.queue, next)
		}
		next.fn()
	}
	s.now = target
}

// Pending returns the number of armed tasks.
func (s *Scheduler) Pending() int {
	if s == nil {
		return 0
	}
	return s.queue.Len()
}

// CancelAll disarms every pending task.
func (s *Scheduler) CancelAll() {
	if s == nil {
		return
	}
	for _, task := range s.queue {
		task.cancelled = true
		task.index = -1
	}
	s.queue = nil
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due == q[j].due {
		return q[i].seq < q[j].seq
	}
	return q[i].due < q[j].due
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	task := x.(*Task)
	task.index = len(*q)
	*q = append(*q, task)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[:n-1]
	return task
}
