package ratelimit

import (
	"context"
	"sort"
	"sync"
)

// Registry owns one Limiter per provider identity. The registry lock only
// guards the map; admission runs under each limiter's own lock.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Quota
	opts     []Option
}

// NewRegistry creates a registry. Unregistered identities get the default quota.
func NewRegistry(defaults Quota, opts ...Option) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
		opts:     opts,
	}
}

// Register creates (or replaces) the limiter for id with its own quota.
func (r *Registry) Register(id string, quota Quota) *Limiter {
	l := NewLimiter(id, quota, r.opts...)
	r.mu.Lock()
	r.limiters[id] = l
	r.mu.Unlock()
	return l
}

// Limiter returns the limiter for id, creating it with the default quota.
func (r *Registry) Limiter(id string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[id]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[id]; ok {
		return l
	}
	l = NewLimiter(id, r.defaults, r.opts...)
	r.limiters[id] = l
	return l
}

// TryAdmit admits a request for id.
func (r *Registry) TryAdmit(id string) bool {
	return r.Limiter(id).TryAdmit()
}

// AwaitSlot waits for id's blocking quota to free a slot.
func (r *Registry) AwaitSlot(ctx context.Context, id string) error {
	return r.Limiter(id).AwaitSlot(ctx)
}

// Remaining reports id's unused quota.
func (r *Registry) Remaining(id string) Remaining {
	return r.Limiter(id).Remaining()
}

// IDs returns the registered identities in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.limiters))
	for id := range r.limiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
