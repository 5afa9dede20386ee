package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllTasksExecute(t *testing.T) {
	p := New(Config{Name: "test", Workers: 4, QueueDepth: 8})

	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		if err := p.Submit(context.Background(), func(context.Context) {
			ran.Add(1)
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if got := p.Stop(); got != 100 {
		t.Errorf("Stop reported %d tasks, want 100", got)
	}
	if got := ran.Load(); got != 100 {
		t.Errorf("ran %d tasks, want 100", got)
	}
}

func TestSubmitBlocksWhenQueueFull(t *testing.T) {
	p := New(Config{Name: "test", Workers: 1, QueueDepth: 1})
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})

	// Occupy the single worker.
	if err := p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	// Fill the queue.
	if err := p.Submit(context.Background(), func(context.Context) { <-release }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The next submit must block until the worker frees queue space.
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- p.Submit(context.Background(), func(context.Context) {})
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("Submit returned %v before queue drained", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("Submit failed after unblock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not unblock after queue drained")
	}
}

func TestSubmitHonorsCallerContext(t *testing.T) {
	p := New(Config{Name: "test", Workers: 1, QueueDepth: 1})
	defer p.Abort()

	release := make(chan struct{})
	defer close(release)
	_ = p.Submit(context.Background(), func(context.Context) { <-release })
	_ = p.Submit(context.Background(), func(context.Context) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, func(context.Context) {}); err != context.Canceled {
		t.Errorf("Submit = %v, want context.Canceled", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := New(Config{Name: "test", Workers: 1, QueueDepth: 1})
	p.Stop()

	if err := p.Submit(context.Background(), func(context.Context) {}); err != ErrStopped {
		t.Errorf("Submit = %v, want ErrStopped", err)
	}
}

func TestUrgentRunsBeforeQueued(t *testing.T) {
	p := New(Config{Name: "test", Workers: 1, QueueDepth: 16})

	var mu sync.Mutex
	var order []string
	record := func(label string) Task {
		return func(context.Context) {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
		}
	}

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started

	// Both queues populated while the worker is busy.
	for i := 0; i < 3; i++ {
		_ = p.Submit(context.Background(), record("normal"))
	}
	_ = p.SubmitUrgent(context.Background(), record("urgent"))

	close(release)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("executed %d tasks, want 4", len(order))
	}
	if order[0] != "urgent" {
		t.Errorf("first executed = %q, want urgent", order[0])
	}
}

func TestAbortCancelsRunningTasks(t *testing.T) {
	p := New(Config{Name: "test", Workers: 2, QueueDepth: 2})

	observed := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		close(observed)
	})

	done := make(chan struct{})
	go func() {
		p.Abort()
		close(done)
	}()

	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Fatal("running task never observed cancellation")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Abort did not return")
	}
}
