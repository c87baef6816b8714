package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mealiemate/internal/container"
)

// Registry indexes plugin factories by plugin id, preserving registration
// order. Consumers that need deterministic ordering (entity setup, dispatch
// prefix matching) iterate in that order.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Named("registry"),
	}
}

// Register adds a plugin factory under its id. A duplicate id overwrites the
// previous registration with a warning; the original registration position
// is kept.
func (r *Registry) Register(id string, factory Factory) {
	if id == "" || factory == nil {
		r.logger.Warn("Ignoring registration with empty id or nil factory")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		r.logger.Warn("Plugin already registered, overwriting", zap.String("plugin_id", id))
	} else {
		r.order = append(r.order, id)
	}
	r.factories[id] = factory
	r.logger.Info("Registered plugin", zap.String("plugin_id", id))
}

// Get returns the factory for a plugin id, or false when unknown.
func (r *Registry) Get(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// IDs returns all registered plugin ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Build constructs a transient instance of the plugin via its factory.
func (r *Registry) Build(id string, c *container.Container) (Plugin, error) {
	factory, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("plugin %s not found in registry", id)
	}

	p, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("failed to construct plugin %s: %w", id, err)
	}
	return p, nil
}

// Discover registers a set of factories keyed by plugin id, in the order
// given. Individual construction checks happen lazily at Build time; a
// factory that fails never aborts registration of the others.
func (r *Registry) Discover(factories []NamedFactory) {
	for _, nf := range factories {
		r.Register(nf.ID, nf.Factory)
	}
	r.logger.Info("Plugin discovery complete", zap.Int("count", len(r.IDs())))
}

// NamedFactory pairs a plugin id with its factory for discovery.
type NamedFactory struct {
	ID      string
	Factory Factory
}
