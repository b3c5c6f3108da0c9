package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dsm-storage-node/internal/errs"
)

func TestSubmitRunsTask(t *testing.T) {
	s := New(DefaultConfig(), nil)
	var ran atomic.Bool
	err := s.Submit(Normal, time.Second, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("expected task to run")
	}
}

func TestSubmitTimeout(t *testing.T) {
	s := New(DefaultConfig(), nil)
	err := s.Submit(Normal, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errs.Is(err, errs.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestSubmitRejectsWhenQueueFullUnderRejectPolicy(t *testing.T) {
	cfg := Config{MaxConcurrentTasks: 1, MaxQueueSize: 1, OverflowPolicy: RejectNew, DefaultTimeout: time.Second}
	s := New(cfg, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	go s.Submit(Normal, time.Second, func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	// One slot occupied running, queue capacity 1: fill it, then the next
	// submit should observe the queue full and reject.
	go s.Submit(Normal, time.Second, func(ctx context.Context) error { return nil })
	time.Sleep(50 * time.Millisecond)

	err := s.Submit(Normal, time.Second, func(ctx context.Context) error { return nil })
	close(block)
	if !errs.Is(err, errs.QueueFull) {
		t.Fatalf("expected QueueFull, got %v", err)
	}
}

func TestRegisterRecurringRunsOnTick(t *testing.T) {
	s := New(DefaultConfig(), nil)
	var count atomic.Int32
	s.RegisterRecurring(Normal, 0, func() TaskFunc {
		return func(ctx context.Context) error {
			count.Add(1)
			return nil
		}
	})
	go s.Run()
	defer s.Stop()
	time.Sleep(1200 * time.Millisecond)
	if count.Load() == 0 {
		t.Fatalf("expected recurring task to have run at least once")
	}
}
