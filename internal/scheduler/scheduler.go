// Package scheduler implements the cooperative task scheduler (spec §5):
// priority queues, bounded concurrency, bounded queue overflow policy,
// per-task timeout, and recurring task registration.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/errs"
)

// Priority is the strict dequeue ordering class.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// OverflowPolicy controls what happens when the bounded queue is full.
type OverflowPolicy int

const (
	RejectNew OverflowPolicy = iota
	DropLowest
	DropOldest
)

// Config bounds scheduler resource usage.
type Config struct {
	MaxConcurrentTasks int
	MaxQueueSize       int
	OverflowPolicy     OverflowPolicy
	DefaultTimeout     time.Duration
}

// DefaultConfig matches spec §5's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 16,
		MaxQueueSize:       1024,
		OverflowPolicy:     RejectNew,
		DefaultTimeout:     30 * time.Second,
	}
}

// TaskFunc is the unit of work a task executes.
type TaskFunc func(ctx context.Context) error

type task struct {
	priority  Priority
	fn        TaskFunc
	timeout   time.Duration
	seq       uint64
	done      chan error
	submitted time.Time
}

// taskHeap is a max-heap by (priority, then FIFO within priority).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Scheduler runs submitted tasks under a bounded-concurrency semaphore,
// dequeuing in strict priority order.
type Scheduler struct {
	cfg Config
	log *logrus.Logger

	mu      sync.Mutex
	queue   taskHeap
	nextSeq uint64
	sem     chan struct{}

	recurring []*recurringTask
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type recurringTask struct {
	priority Priority
	interval time.Duration
	factory  func() TaskFunc
	lastRun  time.Time
}

// New builds a scheduler. Call Run to start dispatching.
func New(cfg Config, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	return &Scheduler{
		cfg:    cfg,
		log:    log,
		sem:    make(chan struct{}, cfg.MaxConcurrentTasks),
		stopCh: make(chan struct{}),
	}
}

// Submit enqueues fn at priority, waits for a worker slot, runs it with
// timeout (or cfg.DefaultTimeout if zero), and returns its result.
// Blocks until the task completes, is cancelled, or times out.
func (s *Scheduler) Submit(priority Priority, timeout time.Duration, fn TaskFunc) error {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	t := &task{priority: priority, fn: fn, timeout: timeout, done: make(chan error, 1), submitted: time.Now()}

	s.mu.Lock()
	if s.cfg.MaxQueueSize > 0 && len(s.queue) >= s.cfg.MaxQueueSize {
		switch s.cfg.OverflowPolicy {
		case DropOldest:
			if len(s.queue) > 0 {
				oldest := s.dequeueOldestLocked()
				oldest.done <- errs.New(errs.TaskCancelled, "dropped: queue overflow (oldest)")
			}
		case DropLowest:
			if len(s.queue) > 0 {
				lowest := s.dequeueLowestPriorityLocked()
				lowest.done <- errs.New(errs.TaskCancelled, "dropped: queue overflow (lowest priority)")
			}
		default: // RejectNew
			s.mu.Unlock()
			return errs.New(errs.QueueFull, "task queue full")
		}
	}
	t.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.queue, t)
	s.mu.Unlock()

	go s.dispatchLoop()

	return <-t.done
}

func (s *Scheduler) dequeueOldestLocked() *task {
	oldestIdx := 0
	for i, qt := range s.queue {
		if qt.submitted.Before(s.queue[oldestIdx].submitted) {
			oldestIdx = i
		}
	}
	oldest := s.queue[oldestIdx]
	s.queue = append(s.queue[:oldestIdx], s.queue[oldestIdx+1:]...)
	heap.Init(&s.queue)
	return oldest
}

func (s *Scheduler) dequeueLowestPriorityLocked() *task {
	lowestIdx := 0
	for i, qt := range s.queue {
		if qt.priority < s.queue[lowestIdx].priority {
			lowestIdx = i
		}
	}
	lowest := s.queue[lowestIdx]
	s.queue = append(s.queue[:lowestIdx], s.queue[lowestIdx+1:]...)
	heap.Init(&s.queue)
	return lowest
}

// dispatchLoop pulls at most one task per call under a free semaphore
// slot; Submit spawns one goroutine per enqueue, which is safe because
// the semaphore bounds actual concurrent execution regardless of how
// many dispatch goroutines are in flight.
func (s *Scheduler) dispatchLoop() {
	select {
	case s.sem <- struct{}{}:
	case <-s.stopCh:
		return
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	t := heap.Pop(&s.queue).(*task)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() { resultCh <- t.fn(ctx) }()

	select {
	case err := <-resultCh:
		t.done <- err
	case <-ctx.Done():
		t.done <- errs.New(errs.Timeout, "task exceeded timeout")
	case <-s.stopCh:
		t.done <- errs.New(errs.TaskCancelled, "scheduler stopped")
	}
}

// RegisterRecurring schedules factory to run at priority every interval.
// Must be called before Run.
func (s *Scheduler) RegisterRecurring(priority Priority, interval time.Duration, factory func() TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring = append(s.recurring, &recurringTask{priority: priority, interval: interval, factory: factory})
}

// Run drives the recurring-task tick loop until Stop is called.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			due := make([]*recurringTask, 0)
			for _, rt := range s.recurring {
				if rt.lastRun.IsZero() || now.Sub(rt.lastRun) >= rt.interval {
					rt.lastRun = now
					due = append(due, rt)
				}
			}
			s.mu.Unlock()
			for _, rt := range due {
				fn := rt.factory()
				priority := rt.priority
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					if err := s.Submit(priority, 0, fn); err != nil {
						s.log.WithFields(logrus.Fields{"error": err}).Warn("scheduler: recurring task failed")
					}
				}()
			}
		}
	}
}

// Stop halts the Run tick loop and in-flight dispatch; it does not wait
// for already-running task bodies to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// QueueLen reports the current pending queue length.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
