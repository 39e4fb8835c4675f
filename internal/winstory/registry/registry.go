// Package registry keeps one attached Coordinator per record for the HTTP
// API. Coordinators are created on first use and primed with a fetch.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/coordinator"
	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
)

// DefaultPrimeTimeout bounds the first fetch of a new record.
const DefaultPrimeTimeout = 10 * time.Second

// Registry maps record ids to coordinators built from a shared Deps template.
type Registry struct {
	deps         coordinator.Deps
	group        singleflight.Group
	logger       *slog.Logger
	primeTimeout time.Duration

	mu     sync.RWMutex
	coords map[string]*coordinator.Coordinator
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithPrimeTimeout overrides DefaultPrimeTimeout.
func WithPrimeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.primeTimeout = d
		}
	}
}

func New(deps coordinator.Deps, opts ...Option) *Registry {
	r := &Registry{
		deps:         deps,
		logger:       logger.WithComponent("registry"),
		primeTimeout: DefaultPrimeTimeout,
		coords:       make(map[string]*coordinator.Coordinator),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var errClosed = errors.New("registry closed")

// Get returns the coordinator for recordID, creating, attaching, and priming
// it on first use. A record the source does not know is
// apperrors.ErrRecordNotFound and is not registered; other priming failures
// land in the coordinator's error state. The first fetch is shared by every
// concurrent caller, so it runs detached from ctx's cancellation and is bounded
// by the prime timeout instead.
func (r *Registry) Get(ctx context.Context, recordID string) (*coordinator.Coordinator, error) {
	if recordID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "record id is required")
	}
	r.mu.RLock()
	c, ok := r.coords[recordID]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return c, nil
	}
	if closed {
		return nil, errClosed
	}

	v, err, _ := r.group.Do(recordID, func() (any, error) {
		primeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.primeTimeout)
		defer cancel()
		return r.create(primeCtx, recordID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*coordinator.Coordinator), nil
}

func (r *Registry) create(ctx context.Context, recordID string) (*coordinator.Coordinator, error) {
	r.mu.RLock()
	existing, ok := r.coords[recordID]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	c := coordinator.New(recordID, r.deps)
	if err := c.Attach(); err != nil {
		return nil, err
	}
	if err := r.deps.Source.Refetch(ctx, recordID); err != nil {
		// Unknown records and timed-out primes are not registered, so the
		// next Get starts over instead of inheriting the failure.
		if errors.Is(err, apperrors.ErrRecordNotFound) || ctx.Err() != nil {
			c.Close()
			return nil, err
		}
		c.OnRecordEvent(winstory.RecordEvent{Err: err})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		c.Close()
		return nil, errClosed
	}
	r.coords[recordID] = c
	r.logger.Debug("coordinator created", "record_id", recordID, "records", len(r.coords))
	return c, nil
}

// Len returns the number of registered coordinators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.coords)
}

// Close detaches every coordinator. Later Gets fail.
func (r *Registry) Close() {
	r.mu.Lock()
	coords := r.coords
	r.coords = make(map[string]*coordinator.Coordinator)
	r.closed = true
	r.mu.Unlock()

	for _, c := range coords {
		c.Close()
	}
}
