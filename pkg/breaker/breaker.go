// Package breaker implements the Closed/Open/HalfOpen circuit breaker from
// spec.md §4.11, ported from
// original_source/cyxcloud-core/src/circuit_breaker.rs's CircuitBreaker
// (RwLock<CircuitState> + AtomicU64 counters), rendered with sync.RWMutex
// and sync/atomic in place of Rust's primitives.
package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parameterizes one named breaker.
type Config struct {
	Name             string
	FailureThreshold uint64
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns the spec.md default (threshold 5, recovery 30s).
func DefaultConfig(name string) Config {
	return Config{Name: name, FailureThreshold: 5, RecoveryTimeout: 30 * time.Second}
}

// Breaker wraps calls to one external resource (a DB, an RPC peer).
type Breaker struct {
	config Config

	mu              sync.RWMutex
	state           State
	lastFailureTime time.Time

	failureCount atomic.Uint64
	successCount atomic.Uint64
}

func New(config Config) *Breaker {
	return &Breaker{config: config, state: Closed}
}

// State returns the breaker's current state without side effects.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// AllowRequest reports whether a call may proceed. In Open it returns false
// until RecoveryTimeout has elapsed since the last failure, at which point
// it atomically transitions to HalfOpen and returns true exactly once per
// recovery window.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return false
	case Open:
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In HalfOpen this closes the
// breaker and resets the failure counter; in Closed it just resets the
// counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount.Add(1)
	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.failureCount.Store(0)
	case Closed:
		b.failureCount.Store(0)
	}
}

// RecordFailure reports a failed call. In Closed, it trips to Open once
// FailureThreshold consecutive failures have been recorded. In HalfOpen, a
// single failure reopens the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case HalfOpen:
		b.state = Open
	case Closed:
		n := b.failureCount.Add(1)
		if n >= b.config.FailureThreshold {
			b.state = Open
		}
	}
}

// Call wraps fn with the breaker: it refuses to run fn and returns a
// KindServiceUnavailable error when the breaker is Open, and records the
// outcome of fn otherwise.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.AllowRequest() {
		return cyxerr.New(cyxerr.KindServiceUnavailable, "circuit breaker open: "+b.config.Name)
	}

	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Registry is a process-wide, named collection of breakers, matching
// spec.md §9's "the circuit-breaker registry are process-wide... initialized
// at startup... neither carries business state, only caches."
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the named breaker, creating it with DefaultConfig if absent.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(DefaultConfig(name))
	r.breakers[name] = b
	return b
}
