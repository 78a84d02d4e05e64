package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/forest-iot/forest/internal/apperr"
)

// taskExit is sent by a supervised goroutine when it returns, whether
// normally or with an error. Unexpected exit (ctx not yet cancelled)
// is treated as fatal, per spec.md §4.3's task-supervision rule.
type taskExit struct {
	name string
	err  error
}

// supervisor runs a fixed set of long-lived goroutines and watches
// for any of them exiting before cancellation. The nearest teacher
// analog is internal/connwatch's watch-a-long-lived-dependency loop;
// here the thing being watched is the adapter's own goroutines rather
// than an external service.
type supervisor struct {
	logger *slog.Logger
	wg     sync.WaitGroup
	exits  chan taskExit

	mu      sync.Mutex
	fatal   error
	fatalCh chan struct{}
}

func newSupervisor(logger *slog.Logger) *supervisor {
	return &supervisor{
		logger:  logger,
		exits:   make(chan taskExit, 8),
		fatalCh: make(chan struct{}),
	}
}

// spawn runs fn in a tracked goroutine. fn should return only when ctx
// is done; any other return is reported as an unexpected exit.
func (s *supervisor) spawn(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := fn(ctx)
		s.exits <- taskExit{name: name, err: err}
	}()
}

// watch blocks until ctx is cancelled or a tracked goroutine exits
// unexpectedly, in which case it records a FatalTaskExit error,
// signals fatalCh, and returns. Run this in its own goroutine.
func (s *supervisor) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case exit := <-s.exits:
		if ctx.Err() != nil {
			return
		}
		err := apperr.FatalTaskExit("broker.supervisor", fatalExitError{task: exit.name, cause: exit.err})
		s.mu.Lock()
		s.fatal = err
		s.mu.Unlock()
		s.logger.Error("broker task exited unexpectedly, tripping cancellation",
			"task", exit.name, "error", exit.err)
		close(s.fatalCh)
	}
}

// FatalErr returns the recorded fatal error, if any goroutine exited
// unexpectedly.
func (s *supervisor) FatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Wait blocks until every spawned goroutine has returned.
func (s *supervisor) Wait() {
	s.wg.Wait()
}

type fatalExitError struct {
	task  string
	cause error
}

func (e fatalExitError) Error() string {
	if e.cause == nil {
		return "task " + e.task + " exited unexpectedly"
	}
	return "task " + e.task + " exited unexpectedly: " + e.cause.Error()
}

func (e fatalExitError) Unwrap() error { return e.cause }
