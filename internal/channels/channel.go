// Package channels delivers rendered alerts to third-party services.
package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
)

// Channel is a notification destination type. Deliver returns nil only when the
// remote service accepted the message; every failure is returned as an error.
type Channel interface {
	Kind() string
	Deliver(ctx context.Context, destination string, msg formatter.Message) error
}

// Registry holds the channel adapters available to the dispatcher
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates a registry from the given adapters
func NewRegistry(chs ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel)}
	for _, ch := range chs {
		r.Register(ch)
	}
	return r
}

// Register adds or replaces the adapter for its kind
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Kind()] = ch
}

// Get returns the adapter for kind
func (r *Registry) Get(kind string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotConfigured)
	}
	return ch, nil
}

// Kinds lists the registered channel kinds
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.channels))
	for k := range r.channels {
		kinds = append(kinds, k)
	}
	return kinds
}
