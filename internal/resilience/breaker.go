// Package resilience fails calls to unhealthy upstreams fast instead of
// stacking timeouts. Nothing here retries: a failed call is reported once.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is a breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cool-down elapses.
	Open
	// HalfOpen lets probe calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = eris.New("resilience: circuit open")

// Config controls a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default 5.
	FailureThreshold int
	// CoolDown is how long the breaker stays open. Default 30s.
	CoolDown time.Duration
	// Probes is the number of successful half-open calls that close it, and
	// the most half-open calls allowed in flight at once. Default 1.
	Probes int
	// Counts decides whether err is a failure. Nil counts upstream faults
	// only (see IsUpstreamFault).
	Counts func(err error) bool
	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)
}

// NewConfig fills a Config from plain config values, keeping defaults for
// zero values.
func NewConfig(failureThreshold int, coolDown time.Duration) Config {
	cfg := Config{FailureThreshold: 5, CoolDown: 30 * time.Second, Probes: 1}
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if coolDown > 0 {
		cfg.CoolDown = coolDown
	}
	return cfg
}

// Breaker guards one upstream.
type Breaker struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	successes int
	probing   int

	now func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg Config) *Breaker {
	def := NewConfig(cfg.FailureThreshold, cfg.CoolDown)
	cfg.FailureThreshold, cfg.CoolDown = def.FailureThreshold, def.CoolDown
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Counts == nil {
		cfg.Counts = IsUpstreamFault
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the guarded upstream's name.
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through b and returns its value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := b.admit()
	if err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(ctx, err, probe)
	return v, err
}

// State returns the current state, reporting HalfOpen once the cool-down
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.moveTo(Closed)
}

// admit reports whether the call may run and whether it is a half-open
// probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false, eris.Wrapf(ErrOpen, "resilience: %s", b.name)
		}
		b.moveTo(HalfOpen)
	}
	if b.probing >= b.cfg.Probes {
		return false, eris.Wrapf(ErrOpen, "resilience: %s probing", b.name)
	}
	b.probing++
	return true, nil
}

func (b *Breaker) record(ctx context.Context, err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probing > 0 {
		b.probing--
	}

	// A caller giving up is not the upstream's fault.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	if err == nil || !b.cfg.Counts(err) {
		switch b.state {
		case HalfOpen:
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.failures, b.successes = 0, 0
				b.moveTo(Closed)
			}
		case Closed:
			b.failures = 0
		}
		return
	}

	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.moveTo(Open)
		}
	case HalfOpen:
		b.successes = 0
		b.openedAt = b.now()
		b.moveTo(Open)
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to != HalfOpen {
		b.probing = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Set holds one breaker per upstream.
type Set struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet returns an empty Set sharing cfg.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg)
		s.breakers[name] = b
	}
	return b
}

// States snapshots every breaker's state.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for _, b := range breakers {
		out[b.name] = b.State()
	}
	return out
}
