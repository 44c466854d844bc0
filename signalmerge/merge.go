// Package signalmerge joins the terminal events of several concurrently running sources into
// a single event that is delivered exactly once.
package signalmerge

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrFull      = errors.New("all sources are already connected")
	ErrDuplicate = errors.New("source is already connected")
)

// Merge fires once every connected source has reported. Reports may come from any goroutine
type Merge struct {
	n int

	mtx     sync.Mutex
	sources map[string]*Source

	reported atomic.Int32
	fired    atomic.Bool
	merged   chan struct{}
}

// Source is the handle that one upstream uses to report to a Merge
type Source struct {
	name     string
	merge    *Merge
	reported atomic.Bool
}

// New creates a Merge that fires after n distinct sources have reported
func New(n int) *Merge {
	return &Merge{
		n:       n,
		sources: make(map[string]*Source, n),
		merged:  make(chan struct{}, 1),
	}
}

// Connect registers a named source. It must be called n times before the Merge can fire
func (m *Merge) Connect(name string) (*Source, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.sources[name]; ok {
		return nil, ErrDuplicate
	}
	if len(m.sources) >= m.n {
		return nil, ErrFull
	}

	s := &Source{name: name, merge: m}
	m.sources[name] = s
	return s, nil
}

// Armed is true once all n sources are connected
func (m *Merge) Armed() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.sources) == m.n
}

// Merged receives exactly one value each time the Merge fires
func (m *Merge) Merged() <-chan struct{} {
	return m.merged
}

// Fired is true if the Merge fired since the last Reset
func (m *Merge) Fired() bool {
	return m.fired.Load()
}

// Count is the number of distinct sources that reported since the last Reset
func (m *Merge) Count() int {
	return int(m.reported.Load())
}

// Reset clears all reports so the Merge can fire again. It must only be called when no
// source can be reporting, which is between runs
func (m *Merge) Reset() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, s := range m.sources {
		s.reported.Store(false)
	}
	m.reported.Store(0)
	m.fired.Store(false)

	select {
	case <-m.merged:
	default:
	}
}

func (s *Source) Name() string {
	return s.name
}

// Report marks this source as done. Only the first Report since the last Reset counts, and
// the report that completes the set fires the Merge
func (s *Source) Report() {
	if !s.reported.CompareAndSwap(false, true) {
		return
	}

	m := s.merge
	if int(m.reported.Add(1)) != m.n {
		return
	}

	m.fired.Store(true)
	m.merged <- struct{}{}
}
