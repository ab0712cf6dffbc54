//go:build linux

// Package registry tracks the hooks owned by one bridge.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sliverarmory/nativehook/internal/hookerr"
)

// Registry maps symbol names to hooks. The operation lock serialises whole
// install and uninstall sequences; the index lock only guards the map.
type Registry struct {
	op sync.Mutex

	mu    sync.RWMutex
	hooks map[string]*Hook
}

func New() *Registry {
	return &Registry{hooks: make(map[string]*Hook)}
}

// Exclusive runs fn with the operation lock held.
func (r *Registry) Exclusive(fn func() error) error {
	r.op.Lock()
	defer r.op.Unlock()
	return fn()
}

// Register stores h under name, replacing a stale entry. An Installed entry
// is never replaced.
func (r *Registry) Register(name string, h *Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.hooks[name]; ok && cur.State() == Installed {
		return fmt.Errorf("%w: %s", hookerr.ErrDuplicateHook, name)
	}
	r.hooks[name] = h
	return nil
}

func (r *Registry) Lookup(name string) (*Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[name]
	return h, ok
}

func (r *Registry) Unregister(name string) (*Hook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[name]
	delete(r.hooks, name)
	return h, ok
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForEach visits a name-ordered snapshot, so visit may unregister.
func (r *Registry) ForEach(visit func(name string, h *Hook)) {
	for _, name := range r.Names() {
		if h, ok := r.Lookup(name); ok {
			visit(name, h)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}
