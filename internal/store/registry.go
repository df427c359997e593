package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/logging"
)

const defaultProbeTimeout = 2 * time.Second

// Opener opens the store a descriptor points at.
type Opener func(ctx context.Context, d Descriptor) (Store, error)

type entry struct {
	desc  Descriptor
	store Store
}

// Registry holds named store handles and their liveness.
//
// Registration is expected during platform initialization; lookups and health
// sweeps are safe for concurrent use at any time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	opener       Opener
	probeTimeout time.Duration
	concurrency  int
	logger       *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpener sets how descriptors are turned into stores.
func WithOpener(o Opener) Option {
	return func(r *Registry) { r.opener = o }
}

// WithProbeTimeout bounds each store probe during a health sweep.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithProbeConcurrency caps concurrent probes in a sweep.
func WithProbeConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		opener:       NewOpener(OpenOptions{}),
		probeTimeout: defaultProbeTimeout,
		concurrency:  8,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register opens d and adds it, replacing any store with the same name.
// The replaced store is closed.
func (r *Registry) Register(ctx context.Context, d Descriptor) error {
	if d.Name == "" {
		return apperr.Errorf("store.Register", apperr.ErrInvalidInput, "store name is required")
	}
	s, err := r.opener(ctx, d)
	if err != nil {
		return fmt.Errorf("open store %s (%s): %w", d.Name, d.Kind, err)
	}
	r.Attach(d, s)
	return nil
}

// Attach adds an already opened store under d.Name.
func (r *Registry) Attach(d Descriptor, s Store) {
	d.Online = false
	d.LastChecked = 0
	d.LastError = ""

	r.mu.Lock()
	old := r.entries[d.Name]
	r.entries[d.Name] = &entry{desc: d, store: s}
	r.mu.Unlock()

	if old != nil && old.store != s {
		if err := old.store.Close(); err != nil {
			r.logger.Warn(context.Background(), "closing replaced store failed",
				zap.String("store", d.Name), zap.Error(err))
		}
	}
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, apperr.Errorf("store.Get", apperr.ErrNotFound, "store %q", name)
	}
	return e.desc, nil
}

// Store returns the open handle registered under name.
func (r *Registry) Store(name string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, apperr.Errorf("store.Store", apperr.ErrNotFound, "store %q", name)
	}
	return e.store, nil
}

// Contains reports whether name is registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered store names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Descriptors returns every descriptor in name order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Online returns the names of stores whose latest probe succeeded, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	var names []string
	for name, e := range r.entries {
		if e.desc.Online {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered stores.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close closes every store. Stores stay registered.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for name, e := range r.entries {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
