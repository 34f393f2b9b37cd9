// Package serial runs jobs one at a time per serialization key.
package serial

import (
	"context"
	"sync"
)

// Queue executes jobs sharing a key in submission order. Jobs with different keys
// run concurrently. The zero value is not usable; call NewQueue.
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	pending []*job
}

type job struct {
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	return &Queue{lanes: make(map[string]*lane)}
}

// Do submits fn under key and waits for it to finish. A job whose context is done
// before its turn is skipped and Do returns the context error.
func (q *Queue) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	submitted := &job{ctx: ctx, run: fn, done: make(chan error, 1)}

	q.mu.Lock()
	current, busy := q.lanes[key]
	if !busy {
		current = &lane{}
		q.lanes[key] = current
	}
	current.pending = append(current.pending, submitted)
	q.mu.Unlock()

	if !busy {
		go q.drain(key, current)
	}
	return <-submitted.done
}

// Run is Do for jobs producing a value.
func Run[T any](ctx context.Context, q *Queue, key string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := q.Do(ctx, key, func(jobCtx context.Context) error {
		value, err := fn(jobCtx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// Pending returns the number of jobs queued or running under key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.lanes[key]; ok {
		return len(current.pending)
	}
	return 0
}

func (q *Queue) drain(key string, current *lane) {
	for {
		q.mu.Lock()
		if len(current.pending) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		next := current.pending[0]
		q.mu.Unlock()

		next.done <- execute(next)

		q.mu.Lock()
		current.pending = current.pending[1:]
		q.mu.Unlock()
	}
}

func execute(next *job) error {
	if err := next.ctx.Err(); err != nil {
		return err
	}
	return next.run(next.ctx)
}
