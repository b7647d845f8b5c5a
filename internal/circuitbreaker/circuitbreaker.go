// Package circuitbreaker wraps github.com/sony/gobreaker/v2 with one
// breaker per domain, created lazily and evicted on idle TTL — a map
// owned by a single component rather than a module-level global, per
// §9's "global registries" guidance.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/crawlcore/ingestion/internal/errkind"
)

const (
	failureThreshold = 5
	openTimeout      = 60 * time.Second
	successThreshold = 2
	idleEviction      = 10 * time.Minute
)

// Registry owns one gobreaker.CircuitBreaker per domain.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*entry
}

type entry struct {
	cb       *gobreaker.CircuitBreaker[any]
	lastUsed time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{breakers: make(map[string]*entry)}
}

func (r *Registry) breakerFor(domain string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictIdleLocked()
	e, ok := r.breakers[domain]
	if !ok {
		settings := gobreaker.Settings{
			Name:        domain,
			MaxRequests: successThreshold,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failureThreshold
			},
		}
		e = &entry{cb: gobreaker.NewCircuitBreaker[any](settings)}
		r.breakers[domain] = e
	}
	e.lastUsed = time.Now()
	return e.cb
}

func (r *Registry) evictIdleLocked() {
	now := time.Now()
	for domain, e := range r.breakers {
		if now.Sub(e.lastUsed) > idleEviction {
			delete(r.breakers, domain)
		}
	}
}

// Execute runs fn through domain's breaker. If the breaker is open, it
// returns an *errkind.Error of kind CircuitOpen without calling fn.
func (r *Registry) Execute(ctx context.Context, domain string, fn func(ctx context.Context) (any, error)) (any, error) {
	cb := r.breakerFor(domain)
	result, err := cb.Execute(func() (any, error) { return fn(ctx) })
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errkind.New(errkind.CircuitOpen, "Execute", domain, err)
	}
	return result, err
}

// State reports the current breaker state for domain ("closed" if no
// breaker has been created yet).
func (r *Registry) State(domain string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.breakers[domain]; ok {
		return e.cb.State()
	}
	return gobreaker.StateClosed
}
