package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueRunsSameKeyInSubmissionOrder(t *testing.T) {
	queue := NewQueue()
	release := make(chan struct{})
	started := make(chan struct{})

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = queue.Do(context.Background(), "campaign-1", func(context.Context) error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-started

	for index := 1; index <= 5; index++ {
		index := index
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = queue.Do(context.Background(), "campaign-1", func(context.Context) error {
				mu.Lock()
				order = append(order, index)
				mu.Unlock()
				return nil
			})
		}()
		waitForPending(t, queue, "campaign-1", index+1)
	}

	close(release)
	wg.Wait()

	for index, value := range order {
		if value != index {
			t.Fatalf("expected submission order, got %v", order)
		}
	}
	if len(order) != 6 {
		t.Fatalf("expected 6 jobs, got %v", order)
	}
	if queue.Pending("campaign-1") != 0 {
		t.Fatalf("expected lane to be released")
	}
}

func TestQueueRunsDifferentKeysConcurrently(t *testing.T) {
	queue := NewQueue()
	blocked := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = queue.Do(context.Background(), "campaign-1", func(context.Context) error {
			close(started)
			<-blocked
			return nil
		})
	}()
	<-started

	done := make(chan error, 1)
	go func() {
		done <- queue.Do(context.Background(), "campaign-2", func(context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an independent key to run while another is blocked")
	}
	close(blocked)
}

func TestQueueSkipsCancelledJobs(t *testing.T) {
	queue := NewQueue()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = queue.Do(context.Background(), "campaign-1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	result := make(chan error, 1)
	go func() {
		result <- queue.Do(ctx, "campaign-1", func(context.Context) error {
			ran = true
			return nil
		})
	}()
	waitForPending(t, queue, "campaign-1", 2)
	cancel()
	close(release)

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Fatalf("expected cancelled job to be skipped")
	}
}

func TestRunReturnsValueAndError(t *testing.T) {
	queue := NewQueue()

	value, err := Run(context.Background(), queue, "key", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || value != 42 {
		t.Fatalf("expected 42, got %d (%v)", value, err)
	}

	failure := errors.New("boom")
	value, err = Run(context.Background(), queue, "key", func(context.Context) (int, error) {
		return 7, failure
	})
	if !errors.Is(err, failure) || value != 0 {
		t.Fatalf("expected failure and zero value, got %d (%v)", value, err)
	}
}

func waitForPending(t *testing.T, queue *Queue, key string, expected int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for queue.Pending(key) < expected {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d pending jobs", expected)
		}
		time.Sleep(time.Millisecond)
	}
}
