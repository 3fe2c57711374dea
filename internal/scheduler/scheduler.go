// Package scheduler runs compile and publish work off the request path
// on a small shared worker pool. Tasks carry a key so a burst of edits
// to one unit collapses into a single pending recompute.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var logger = commonlog.GetLogger("typstd.scheduler")

// ErrStopped is returned when submitting to a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Task is a unit of background work.
type Task struct {
	// Key deduplicates queued work; an empty key never deduplicates.
	Key string
	Run func(ctx context.Context) error
}

// Scheduler owns the worker pool.
type Scheduler struct {
	tasks  chan Task
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]struct{}
	stopped bool
	// senders counts Submit calls past the stopped check; Stop closes
	// the queue only once they have all left.
	senders sync.WaitGroup
}

// New starts workers goroutines draining a queue of the given size.
func New(workers, queueSize int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	s := &Scheduler{
		tasks:   make(chan Task, queueSize),
		group:   group,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
	for range workers {
		group.Go(s.work)
	}
	return s
}

func (s *Scheduler) work() error {
	for {
		select {
		case task, ok := <-s.tasks:
			if !ok {
				return nil
			}
			s.clearPending(task.Key)
			if err := task.Run(s.ctx); err != nil {
				// A failed task is scoped to its unit; the pool keeps going.
				logger.Warningf("task %s: %v", task.Key, err)
			}
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// Submit queues a task. A task whose key is already queued is dropped,
// since the queued run will observe the newer state anyway.
func (s *Scheduler) Submit(task Task) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if task.Key != "" {
		if _, queued := s.pending[task.Key]; queued {
			s.mu.Unlock()
			return nil
		}
		s.pending[task.Key] = struct{}{}
	}
	// Registered under the same lock that guards the stopped flag, so a
	// concurrent Stop either sees this sender or rejects the next one.
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case s.tasks <- task:
		return nil
	case <-s.ctx.Done():
		s.clearPending(task.Key)
		return ErrStopped
	}
}

func (s *Scheduler) clearPending(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

// Stop drains queued tasks and waits for the workers to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	// Senders that passed the stopped check may still be blocked in the
	// queue send. The workers keep draining until every one of them has
	// left; only then is closing the channel safe.
	s.senders.Wait()
	close(s.tasks)
	err := s.group.Wait()
	s.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
