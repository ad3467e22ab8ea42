package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
)

// ErrUnknownBackend is returned by Select for names nobody registered.
var ErrUnknownBackend = errors.New("unknown backend")

// Registry holds the engine factories sessions can run on.
type Registry struct {
	factories map[string]engine.Factory
	fallback  string
	mu        sync.RWMutex
	log       logrus.FieldLogger
}

// NewRegistry creates a registry whose empty-name selection resolves to
// fallback. fallback must be registered before the first Select.
func NewRegistry(fallback string, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		factories: make(map[string]engine.Factory),
		fallback:  fallback,
		log:       log,
	}
}

// Register adds f under its name, replacing an earlier factory of the same name.
func (r *Registry) Register(f engine.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.factories[f.Name()]; ok && old != f {
		r.log.WithField("backend", f.Name()).Warn("replacing registered backend")
	}
	r.factories[f.Name()] = f
}

// Select returns the factory registered as name, or the default one when
// name is empty.
func (r *Registry) Select(name string) (engine.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.fallback
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return f, nil
}

// Default returns the name used when a request names no backend.
func (r *Registry) Default() string {
	return r.fallback
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prepare readies every backend, e.g. pulling browser images.
func (r *Registry) Prepare(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, f := range r.factories {
		if err := f.Prepare(ctx); err != nil {
			return fmt.Errorf("failed to prepare backend %s: %w", name, err)
		}
		r.log.WithField("backend", name).Info("backend ready")
	}
	return nil
}

// Close closes all backends.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, f := range r.factories {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
