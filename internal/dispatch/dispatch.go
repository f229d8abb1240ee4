// Package dispatch provides the single-threaded context that owns target
// mutation. Background work hands results back by posting closures to it.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher runs posted functions in order on one logical thread
type Dispatcher interface {
	// Post schedules fn and reports whether it was accepted
	Post(fn func()) bool
}

// Loop is a Dispatcher backed by one goroutine draining a FIFO queue
type Loop struct {
	mu     sync.RWMutex
	queue  chan func()
	closed bool
	done   chan struct{}
	logger *slog.Logger

	executed atomic.Uint64
	panics   atomic.Uint64
}

// NewLoop starts a loop whose queue holds up to size pending functions.
// Post blocks while the queue is full.
func NewLoop(size int, logger *slog.Logger) *Loop {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger.With("component", "dispatcher"),
	}
	go l.run()
	return l
}

// Post queues fn. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.queue <- fn
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a function already running on the loop.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Executed returns how many functions the loop has run
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}

// Close stops accepting work, runs what is already queued and waits for the loop to exit
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.queue {
		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		l.executed.Add(1)
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("Recovered from dispatched function panic", "panic", r)
		}
	}()
	fn()
}

// Inline runs every posted function immediately on the caller's goroutine.
// It suits tests and headless tools that have no separate UI thread.
type Inline struct{}

// Post runs fn before returning
func (Inline) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Manual holds posted functions until Drain is called
type Manual struct {
	mu      sync.Mutex
	pending []func()
}

// Post queues fn
func (m *Manual) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
	return true
}

// Pending returns the number of queued functions
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Drain runs queued functions, including any they post, until none remain.
// It returns how many ran.
func (m *Manual) Drain() int {
	ran := 0
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}
