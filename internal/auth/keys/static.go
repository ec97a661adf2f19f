package keys

import (
	"context"
	"sync"
)

// staticResolver serves a fixed key map. Used for symmetric setups and
// tests.
type staticResolver struct {
	mu   sync.RWMutex
	keys map[string]any
}

// NewStaticResolver creates a resolver over a fixed kid to key map.
func NewStaticResolver(keys map[string]any) Resolver {
	cp := make(map[string]any, len(keys))
	for kid, key := range keys {
		cp[kid] = key
	}
	return &staticResolver{keys: cp}
}

// Resolve returns the key registered for kid. An empty kid selects the
// only key of a single-key map.
func (r *staticResolver) Resolve(_ context.Context, kid string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if key, ok := r.keys[kid]; ok {
		return key, nil
	}
	if kid == "" && len(r.keys) == 1 {
		for _, key := range r.keys {
			return key, nil
		}
	}
	return nil, NewKeyError(kid, ErrKeyNotFound)
}

var _ Resolver = (*staticResolver)(nil)
