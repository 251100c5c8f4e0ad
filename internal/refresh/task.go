package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrClosed is returned by tasks started after Close.
var ErrClosed = errors.New("refresh: repository closed")

// Task is a handle on a refresh running in the background.
type Task struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel asks the task to stop. A cancelled task does not touch the cache.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// StartWeatherRefresh runs RefreshWeather, or ForceRefreshWeather when force is
// set, in the background.
func (r *Repository) StartWeatherRefresh(ctx context.Context, req Request, force bool) *Task {
	return r.start(ctx, func(ctx context.Context) error {
		var err error
		if force {
			_, err = r.ForceRefreshWeather(ctx, req)
		} else {
			_, err = r.RefreshWeather(ctx, req)
		}
		return err
	})
}

// StartForecastRefresh is StartWeatherRefresh for the forecast.
func (r *Repository) StartForecastRefresh(ctx context.Context, req Request, force bool) *Task {
	return r.start(ctx, func(ctx context.Context) error {
		var err error
		if force {
			_, err = r.ForceRefreshForecast(ctx, req)
		} else {
			_, err = r.RefreshForecast(ctx, req)
		}
		return err
	})
}

// StartTask runs fn in the background under a context derived from parent.
// A panic in fn becomes the task's error.
func StartTask(parent context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.err = fmt.Errorf("refresh task panicked: %v", rec)
			}
			cancel()
			close(t.done)
		}()

		t.err = fn(ctx)
	}()

	return t
}

func finishedTask(err error) *Task {
	t := &Task{ID: uuid.NewString(), cancel: func() {}, done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (r *Repository) start(parent context.Context, fn func(ctx context.Context) error) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return finishedTask(ErrClosed)
	}

	t := StartTask(parent, fn)
	r.tasks[t.ID] = t
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		<-t.done
		r.mu.Lock()
		delete(r.tasks, t.ID)
		r.mu.Unlock()
	}()

	return t
}

// Close cancels every running task and waits for them to finish. Tasks started
// afterwards fail with ErrClosed.
func (r *Repository) Close() {
	r.mu.Lock()
	r.closed = true
	for _, t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}
