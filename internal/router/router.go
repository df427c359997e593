// Package router maps logical collections to registered stores.
package router

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/federated/internal/apperr"
)

// Routing errors. Both wrap apperr.ErrRouting.
var (
	ErrNoRuleDefined        = fmt.Errorf("no sharding rule defined: %w", apperr.ErrRouting)
	ErrRoutingTargetUnknown = fmt.Errorf("routing target is not a registered store: %w", apperr.ErrRouting)
)

// RuleFunc picks a store name for a request's params.
type RuleFunc func(params map[string]any) (string, error)

// StoreSet reports which store names exist. *store.Registry satisfies it.
type StoreSet interface {
	Contains(name string) bool
}

// Router resolves collections to store names.
type Router interface {
	// AddRule registers fn for collection. The last registration wins.
	AddRule(collection string, fn RuleFunc)

	// Resolve returns the store name for collection and params. It fails
	// closed: a missing rule, a rule error or an unregistered target is an
	// error wrapping apperr.ErrRouting.
	Resolve(collection string, params map[string]any) (string, error)

	// Collections returns collections with a rule, sorted.
	Collections() []string
}

type router struct {
	mu     sync.RWMutex
	rules  map[string]RuleFunc
	stores StoreSet
}

// New creates a router validating targets against stores.
func New(stores StoreSet) Router {
	return &router{
		rules:  make(map[string]RuleFunc),
		stores: stores,
	}
}

func (r *router) AddRule(collection string, fn RuleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[collection] = fn
}

func (r *router) Resolve(collection string, params map[string]any) (string, error) {
	r.mu.RLock()
	fn, ok := r.rules[collection]
	r.mu.RUnlock()
	if !ok {
		return "", apperr.E("router.Resolve", ErrNoRuleDefined, fmt.Errorf("collection %q", collection))
	}

	name, err := fn(params)
	if err != nil {
		return "", apperr.E("router.Resolve", apperr.ErrRouting, fmt.Errorf("collection %q: %w", collection, err))
	}
	if !r.stores.Contains(name) {
		return "", apperr.E("router.Resolve", ErrRoutingTargetUnknown, fmt.Errorf("collection %q resolved to %q", collection, name))
	}
	return name, nil
}

func (r *router) Collections() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.rules))
	for c := range r.rules {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ErrMissingKey is returned by ShardRule when params lacks the routing key.
var ErrMissingKey = errors.New("routing key missing")

// ShardRule routes to prefix_i where i = fnv32a(params[key]) mod n.
func ShardRule(prefix string, n int, key string) RuleFunc {
	return func(params map[string]any) (string, error) {
		v, ok := params[key]
		if !ok || v == nil {
			return "", fmt.Errorf("%w: %q", ErrMissingKey, key)
		}
		return fmt.Sprintf("%s_%d", prefix, Shard(fmt.Sprint(v), n)), nil
	}
}

// Shard returns fnv32a(key) mod n. n must be positive.
func Shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
