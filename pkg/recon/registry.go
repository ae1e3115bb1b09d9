package recon

import (
	"context"
	"fmt"
	"sync"

	"github.com/estmeter/estmeter/pkg/portal"
	"github.com/estmeter/estmeter/pkg/types"
)

// Registry caches the meter list of every account between runs so API reads
// don't hit the portal on every request.
type Registry struct {
	mu     sync.Mutex
	meters map[string][]types.Meter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{meters: make(map[string][]types.Meter)}
}

// Refresh fetches the account's meters from the portal and replaces the
// cached list.
func (r *Registry) Refresh(ctx context.Context, account string, src portal.Source) ([]types.Meter, error) {
	meters, err := src.Meters(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.meters[account] = meters
	r.mu.Unlock()
	return meters, nil
}

// Cached returns the meters stored by the most recent refresh of the
// account.
func (r *Registry) Cached(account string) ([]types.Meter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meters, ok := r.meters[account]
	if !ok {
		return nil, false
	}
	return append([]types.Meter(nil), meters...), true
}

// ListMeters returns the meter list of every account, preferring the cache
// from the most recent run and falling back to a live fetch for accounts
// that have not been refreshed yet.
func (e *Engine) ListMeters(ctx context.Context) (map[string][]types.Meter, error) {
	out := make(map[string][]types.Meter)
	for _, account := range e.portals.Accounts() {
		if meters, ok := e.registry.Cached(account); ok {
			out[account] = meters
			continue
		}
		src, ok := e.portals.Source(account)
		if !ok {
			continue
		}
		meters, err := e.registry.Refresh(ctx, account, src)
		if err != nil {
			return nil, fmt.Errorf("failed to list meters for %s: %w", account, err)
		}
		out[account] = meters
	}
	return out, nil
}
