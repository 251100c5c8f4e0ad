package refresh

import (
	"sync"
	"time"
)

// Source tells where a published value came from.
type Source string

const (
	SourceNone   Source = ""
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// State is what a Feed publishes: the last good value plus the loading and
// fetch-succeeded signals of the most recent refresh.
type State[T any] struct {
	Value     T
	Loading   bool
	Fetched   bool
	Source    Source
	UpdatedAt time.Time
}

// Feed holds the latest State of one entity and fans changes out to subscribers.
// Subscribers that fall behind only see the most recent state.
type Feed[T any] struct {
	mu     sync.Mutex
	state  State[T]
	subs   map[uint64]chan State[T]
	nextID uint64
}

// NewFeed returns an empty Feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[uint64]chan State[T])}
}

// Current returns the latest published state.
func (f *Feed[T]) Current() State[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe returns a channel that immediately receives the current state and then
// every later one, and a func that unsubscribes and closes the channel.
func (f *Feed[T]) Subscribe() (<-chan State[T], func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan State[T], 1)
	ch <- f.state
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

func (f *Feed[T]) update(fn func(s *State[T])) State[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn(&f.state)
	s := f.state
	for _, ch := range f.subs {
		offer(ch, s)
	}
	return s
}

func (f *Feed[T]) setLoading() State[T] {
	return f.update(func(s *State[T]) { s.Loading = true })
}

// fail keeps the previous value and clears the loading flag.
func (f *Feed[T]) fail() State[T] {
	return f.update(func(s *State[T]) {
		s.Loading = false
		s.Fetched = false
	})
}

func (f *Feed[T]) succeed(v T, src Source, at time.Time) State[T] {
	return f.update(func(s *State[T]) {
		s.Value = v
		s.Loading = false
		s.Fetched = true
		s.Source = src
		s.UpdatedAt = at
	})
}

// offer replaces whatever is buffered in ch with s without blocking.
func offer[T any](ch chan State[T], s State[T]) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
