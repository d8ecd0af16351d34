package guest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
)

// Registry holds live flows in memory and expires idle ones.
type Registry struct {
	mu      sync.RWMutex
	flows   map[uuid.UUID]*Flow
	matcher Matcher
	ttl     time.Duration
	now     func() time.Time
}

func NewRegistry(matcher Matcher, ttl time.Duration) *Registry {
	return &Registry{
		flows:   make(map[uuid.UUID]*Flow),
		matcher: matcher,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Start opens a new flow for folderID.
func (r *Registry) Start(folderID uuid.UUID) *Flow {
	f := newFlow(folderID, r.matcher, r.now)

	r.mu.Lock()
	r.flows[f.id] = f
	n := len(r.flows)
	r.mu.Unlock()

	observability.GuestSessions.Set(float64(n))
	return f
}

// Get returns a live flow or models.ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (*Flow, error) {
	r.mu.RLock()
	f, ok := r.flows[id]
	r.mu.RUnlock()

	if !ok || r.expired(f) {
		return nil, fmt.Errorf("guest session %s: %w", id, models.ErrNotFound)
	}
	return f, nil
}

// Sweep drops flows idle for longer than the TTL and returns how many went.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	removed := 0
	for id, f := range r.flows {
		if r.expired(f) {
			delete(r.flows, id)
			removed++
		}
	}
	n := len(r.flows)
	r.mu.Unlock()

	observability.GuestSessions.Set(float64(n))
	return removed
}

// Run sweeps on interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("expired guest sessions", "count", n)
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

func (r *Registry) expired(f *Flow) bool {
	return r.ttl > 0 && r.now().Sub(f.lastActivity()) > r.ttl
}
