// Package lazy provides a process-wide load-once cache with explicit
// success, failure and in-flight states.
package lazy

import "sync"

// State reports where a Once is in its lifecycle.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateFailed
)

// Once loads a value at most once per outcome. Concurrent callers of Get
// block until the in-flight load settles; a failed load is cached and
// returned to subsequent callers rather than retried, so a broken resource
// fails fast everywhere. Reset clears a failure when a retry is wanted.
type Once[T any] struct {
	load func() (T, error)

	mu    sync.Mutex
	state State
	done  chan struct{}
	value T
	err   error
}

// New creates a Once around load. load runs on the first Get, never in New.
func New[T any](load func() (T, error)) *Once[T] {
	return &Once[T]{load: load}
}

// State returns the current lifecycle state.
func (o *Once[T]) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Get returns the loaded value, loading it on first use.
func (o *Once[T]) Get() (T, error) {
	o.mu.Lock()
	switch o.state {
	case StateLoaded, StateFailed:
		v, err := o.value, o.err
		o.mu.Unlock()
		return v, err
	case StateLoading:
		done := o.done
		o.mu.Unlock()
		<-done
		return o.Get()
	}

	o.state = StateLoading
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	v, err := o.load()

	o.mu.Lock()
	o.value, o.err = v, err
	if err != nil {
		o.state = StateFailed
	} else {
		o.state = StateLoaded
	}
	o.mu.Unlock()
	close(done)
	return v, err
}

// Reset drops a cached failure so the next Get retries the load. A loaded
// value is kept.
func (o *Once[T]) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateFailed {
		var zero T
		o.state = StateUnloaded
		o.value, o.err = zero, nil
	}
}
