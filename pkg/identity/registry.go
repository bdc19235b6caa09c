// Package identity assigns and retains exactly one stable key per logical
// resource. Keys are resolvable by (type, id) and by lid independently, and
// survive id assignment after create.
package identity

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aretw0/strata/pkg/core"
)

// Registry is the per-store identity arena. Keys handed out by one registry
// are never shared with another; each store owns its own.
type Registry struct {
	mu       sync.RWMutex
	byTypeID map[typeID]*core.Key
	byLid    map[string]*core.Key
}

type typeID struct {
	typ string
	id  string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byTypeID: make(map[typeID]*core.Key),
		byLid:    make(map[string]*core.Key),
	}
}

// GetOrCreate resolves the key for (type, id), creating it on first
// reference. id may be empty only for lid-only lookups via CreateLocal;
// passing an empty id here always creates a fresh key.
func (r *Registry) GetOrCreate(typ, id string) *core.Key {
	if id != "" {
		r.mu.RLock()
		if k, ok := r.byTypeID[typeID{typ, id}]; ok {
			r.mu.RUnlock()
			return k
		}
		r.mu.RUnlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another caller may have won.
	if id != "" {
		if k, ok := r.byTypeID[typeID{typ, id}]; ok {
			return k
		}
	}

	k := &core.Key{Type: typ, ID: id, Lid: uuid.NewString()}
	r.byLid[k.Lid] = k
	if id != "" {
		r.byTypeID[typeID{typ, id}] = k
	}
	return k
}

// CreateLocal creates a lid-only key for a client-generated record (no
// server id yet).
func (r *Registry) CreateLocal(typ string) *core.Key {
	return r.GetOrCreate(typ, "")
}

// ForLid resolves a key by its lid.
func (r *Registry) ForLid(lid string) (*core.Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byLid[lid]
	return k, ok
}

// Lookup resolves a key by (type, id) without creating one.
func (r *Registry) Lookup(typ, id string) (*core.Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byTypeID[typeID{typ, id}]
	return k, ok
}

// UpdateID binds a server-assigned id to a key that had none. A key's id
// transitions at most once; binding an id that already belongs to a
// different key, or rebinding to a different value, is a conflict.
func (r *Registry) UpdateID(k *core.Key, newID string) error {
	if newID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byTypeID[typeID{k.Type, newID}]; ok && existing != k {
		return &core.ConflictError{Type: k.Type, ID: newID}
	}
	if k.ID != "" {
		if k.ID == newID {
			return nil
		}
		return &core.ConflictError{Type: k.Type, ID: newID}
	}

	k.ID = newID
	r.byTypeID[typeID{k.Type, newID}] = k
	return nil
}

// Forget removes a key from the lookup tables. The caller is responsible
// for ensuring no cache entry, edge or pending request still references it.
func (r *Registry) Forget(k *core.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byLid, k.Lid)
	if k.ID != "" {
		if cur, ok := r.byTypeID[typeID{k.Type, k.ID}]; ok && cur == k {
			delete(r.byTypeID, typeID{k.Type, k.ID})
		}
	}
}

// Len returns the number of live keys (for introspection).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLid)
}
