// Package circuit decides whether remote artwork lookups may touch the network.
//
// Each provider gets its own breaker. A breaker opens after a run of
// consecutive failures, rejects calls while open, and lets a single probe
// through once its timeout elapses. The Gate adds a process-wide offline switch.
package circuit

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven/artcache/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Consecutive failures that open the breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// How long an open breaker rejects calls before allowing a probe
	Timeout time.Duration `yaml:"timeout"`

	// Called with the breaker mutex held whenever the state changes
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// Now replaces time.Now in tests
	Now func() time.Time `yaml:"-"`
}

// Counts holds the numbers of requests and their outcomes since the last state change
type Counts struct {
	Requests            uint32    `json:"requests"`
	Successes           uint32    `json:"successes"`
	Failures            uint32    `json:"failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastActivity        time.Time `json:"last_activity"`
}

// Breaker guards calls to one remote provider
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Breaker{name: name, config: config}
}

// Name returns the provider name the breaker guards
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn if the breaker allows it and records the outcome.
// Cancellation and "no artwork" outcomes are not failures.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterRequest(err)
	return err
}

// Allow reports whether a call would currently be let through
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.currentState(b.config.Now())
	return state == StateClosed || (state == StateHalfOpen && !b.probing)
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.config.Now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.setState(StateClosed, b.config.Now())
	b.counts = Counts{}
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Now()
	switch b.currentState(now) {
	case StateOpen:
		return b.openError()
	case StateHalfOpen:
		if b.probing {
			return b.openError()
		}
		b.probing = true
	}

	b.counts.Requests++
	b.counts.LastActivity = now
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Now()
	state := b.currentState(now)
	if state == StateHalfOpen {
		b.probing = false
	}

	if isFailure(err) {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		switch state {
		case StateClosed:
			if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
				b.setState(StateOpen, now)
			}
		case StateHalfOpen:
			b.setState(StateOpen, now)
		}
		return
	}

	b.counts.Successes++
	b.counts.ConsecutiveFailures = 0
	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.config.Timeout)) {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	prev := b.state
	if prev == state {
		return
	}

	b.state = state
	b.counts = Counts{}
	if state == StateOpen {
		b.openedAt = now
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

func (b *Breaker) openError() error {
	return errors.NewError(errors.ErrCodeCircuitOpen, "remote provider temporarily disabled").
		WithComponent("circuit").
		WithContext("provider", b.name)
}

// isFailure classifies an outcome. Only transport-level problems count.
func isFailure(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || errors.IsCanceled(err) {
		return false
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeArtUnavailable, errors.ErrCodeNotAnImage, errors.ErrCodeArtTooLarge:
		return false
	}
	return true
}

// Stats represents statistics for a single breaker
type Stats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// Gate combines an offline switch with one breaker per provider
type Gate struct {
	config  Config
	offline atomic.Bool

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewGate creates a gate. Breakers are created on first use.
func NewGate(config Config, offline bool) *Gate {
	g := &Gate{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
	g.offline.Store(offline)
	return g
}

// SetOffline switches all remote access off or back on
func (g *Gate) SetOffline(offline bool) {
	g.offline.Store(offline)
}

// Offline reports whether remote access is switched off
func (g *Gate) Offline() bool {
	return g.offline.Load()
}

// Reachable reports whether any remote call could currently be made
func (g *Gate) Reachable() bool {
	return !g.offline.Load()
}

// Breaker returns the breaker for provider, creating it if needed
func (g *Gate) Breaker(provider string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[provider]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, g.config)
	g.breakers[provider] = b
	return b
}

// Execute runs fn through provider's breaker unless the gate is offline
func (g *Gate) Execute(ctx context.Context, provider string, fn func(context.Context) error) error {
	if g.offline.Load() {
		return errors.NewError(errors.ErrCodeNetworkError, "offline mode").
			WithComponent("circuit").
			WithContext("provider", provider)
	}
	return g.Breaker(provider).Execute(ctx, fn)
}

// ResetAll closes every breaker
func (g *Gate) ResetAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, b := range g.breakers {
		b.Reset()
	}
}

// Stats returns per-provider breaker statistics sorted by name
func (g *Gate) Stats() []Stats {
	g.mu.RLock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, Stats{Name: b.Name(), State: b.State(), Counts: b.Counts()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
