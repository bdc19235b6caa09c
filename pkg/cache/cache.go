// Package cache holds the canonical normalized attributes per identity, as
// last received from a successful request, with uncommitted local mutations
// layered on top. Entries are mutated only through the operations defined
// here, never by direct external writes.
package cache

import (
	"reflect"
	"sync"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/schema"
)

// entry is the per-key cache record.
type entry struct {
	key *core.Key

	// canonical is the last server-confirmed attribute state.
	canonical map[string]any

	// local layers uncommitted changes over canonical. A field present here
	// is "dirty"; reads prefer it, background upserts never clobber it.
	local map[string]any

	isNew             bool
	isDeleted         bool
	deletionCommitted bool

	// populated flips when attributes were ever received; it never unflips.
	populated bool

	errors []core.FieldError
}

// Flags is the cache's contribution to the derived lifecycle view.
type Flags struct {
	Exists            bool
	IsNew             bool
	IsDeleted         bool
	DeletionCommitted bool
	Populated         bool
	Dirty             bool
	Errors            []core.FieldError
}

// Store is the per-store cache arena.
type Store struct {
	mu      sync.RWMutex
	schema  *schema.Registry
	bus     *notify.Bus
	entries map[string]*entry // by lid
}

// New creates an empty cache backed by the given schema and bus.
func New(reg *schema.Registry, bus *notify.Bus) *Store {
	return &Store{
		schema:  reg,
		bus:     bus,
		entries: make(map[string]*entry),
	}
}

// Upsert merges canonical attributes for the key, last-write-wins per field.
// Locally dirty fields are never silently overwritten: canonical state still
// updates underneath, but the local value keeps shadowing it until rollback
// or save. A local value that now matches the incoming canonical one is no
// longer a change and is dropped.
func (s *Store) Upsert(key *core.Key, attrs map[string]any) {
	s.mu.Lock()

	e, existed := s.entries[key.Lid]
	if !existed {
		e = &entry{
			key:       key,
			canonical: make(map[string]any),
			local:     make(map[string]any),
		}
		s.entries[key.Lid] = e
	}

	var changed []string
	for field, value := range attrs {
		if lv, dirty := e.local[field]; dirty {
			e.canonical[field] = value
			if reflect.DeepEqual(lv, value) {
				delete(e.local, field)
				changed = append(changed, field)
			}
			continue
		}
		if old, ok := e.canonical[field]; !ok || !reflect.DeepEqual(old, value) {
			changed = append(changed, field)
		}
		e.canonical[field] = value
	}
	if len(attrs) > 0 {
		e.populated = true
	}

	s.mu.Unlock()

	if !existed {
		s.bus.Notify(key, notify.KindAdded, "")
	}
	for _, field := range changed {
		s.bus.Notify(key, notify.KindAttributes, field)
	}
	s.bus.Notify(key, notify.KindState, "")
}

// Touch ensures an entry exists for the key without populating attributes.
// Used when a key is first materialized through a relationship linkage; the
// record stays "empty" until real attributes arrive.
func (s *Store) Touch(key *core.Key) {
	s.mu.Lock()
	_, existed := s.entries[key.Lid]
	if !existed {
		s.entries[key.Lid] = &entry{
			key:       key,
			canonical: make(map[string]any),
			local:     make(map[string]any),
		}
	}
	s.mu.Unlock()

	if !existed {
		s.bus.Notify(key, notify.KindAdded, "")
	}
}

// CreateLocal registers a client-created record. The given attributes land
// in the local layer: they are uncommitted until the first successful save.
func (s *Store) CreateLocal(key *core.Key, attrs map[string]any) error {
	t, ok := s.schema.Lookup(key.Type)
	if !ok {
		return core.ErrUnknownResource
	}
	for field := range attrs {
		if !t.HasAttribute(field) {
			return core.ErrUnknownAttribute
		}
	}

	s.mu.Lock()
	e := &entry{
		key:       key,
		canonical: make(map[string]any),
		local:     make(map[string]any, len(attrs)),
		isNew:     true,
	}
	for field, value := range attrs {
		e.local[field] = value
	}
	s.entries[key.Lid] = e
	s.mu.Unlock()

	s.bus.Notify(key, notify.KindAdded, "")
	for field := range attrs {
		s.bus.Notify(key, notify.KindAttributes, field)
	}
	s.bus.Notify(key, notify.KindState, "")
	return nil
}

// SetLocalAttr layers an uncommitted value over canonical state. Setting a
// field back to its canonical value clears the mutation.
func (s *Store) SetLocalAttr(key *core.Key, field string, value any) error {
	t, ok := s.schema.Lookup(key.Type)
	if !ok {
		return core.ErrUnknownResource
	}
	if !t.HasAttribute(field) {
		return core.ErrUnknownAttribute
	}

	s.mu.Lock()
	e, ok := s.entries[key.Lid]
	if !ok {
		s.mu.Unlock()
		return core.ErrUnknownResource
	}
	if canonical, has := e.canonical[field]; has && reflect.DeepEqual(canonical, value) {
		delete(e.local, field)
	} else {
		e.local[field] = value
	}
	s.mu.Unlock()

	s.bus.Notify(key, notify.KindAttributes, field)
	s.bus.Notify(key, notify.KindState, "")
	return nil
}

// Attr reads the effective value of a field: local over canonical.
func (s *Store) Attr(key *core.Key, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	if !ok {
		return nil, false
	}
	if v, dirty := e.local[field]; dirty {
		return v, true
	}
	v, has := e.canonical[field]
	return v, has
}

// Rollback discards local mutations, validation errors and an uncommitted
// deletion flag. It reports whether the record was new; new records have no
// canonical state to return to, so the caller unloads them.
func (s *Store) Rollback(key *core.Key) (wasNew bool, err error) {
	s.mu.Lock()
	e, ok := s.entries[key.Lid]
	if !ok {
		s.mu.Unlock()
		return false, core.ErrUnknownResource
	}
	wasNew = e.isNew
	fields := make([]string, 0, len(e.local))
	for field := range e.local {
		fields = append(fields, field)
	}
	hadErrors := len(e.errors) > 0
	e.local = make(map[string]any)
	e.errors = nil
	if !e.deletionCommitted {
		e.isDeleted = false
	}
	s.mu.Unlock()

	for _, field := range fields {
		s.bus.Notify(key, notify.KindAttributes, field)
	}
	if hadErrors {
		s.bus.Notify(key, notify.KindErrors, "")
	}
	s.bus.Notify(key, notify.KindState, "")
	return wasNew, nil
}

// MarkDeleted flags the record for deletion. The deletion is uncommitted
// until a save settles.
func (s *Store) MarkDeleted(key *core.Key) error {
	s.mu.Lock()
	e, ok := s.entries[key.Lid]
	if !ok {
		s.mu.Unlock()
		return core.ErrUnknownResource
	}
	e.isDeleted = true
	s.mu.Unlock()

	s.bus.Notify(key, notify.KindState, "")
	return nil
}

// CommitSave applies a successful save: local mutations become canonical,
// errors clear, the record is no longer new, and a pending deletion becomes
// server-committed.
func (s *Store) CommitSave(key *core.Key) {
	s.mu.Lock()
	e, ok := s.entries[key.Lid]
	if !ok {
		s.mu.Unlock()
		return
	}
	for field, value := range e.local {
		e.canonical[field] = value
	}
	e.local = make(map[string]any)
	e.isNew = false
	e.populated = true
	hadErrors := len(e.errors) > 0
	e.errors = nil
	if e.isDeleted {
		e.deletionCommitted = true
	}
	s.mu.Unlock()

	if hadErrors {
		s.bus.Notify(key, notify.KindErrors, "")
	}
	s.bus.Notify(key, notify.KindState, "")
}

// SetErrors replaces the validation error list (rejected save classified as
// invalid).
func (s *Store) SetErrors(key *core.Key, errs []core.FieldError) {
	s.mu.Lock()
	e, ok := s.entries[key.Lid]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.errors = append([]core.FieldError(nil), errs...)
	s.mu.Unlock()

	s.bus.Notify(key, notify.KindErrors, "")
	s.bus.Notify(key, notify.KindState, "")
}

// ErrorsFor returns the messages recorded for one field.
func (s *Store) ErrorsFor(key *core.Key, field string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	if !ok {
		return nil
	}
	var msgs []string
	for _, fe := range e.errors {
		if fe.Field == field {
			msgs = append(msgs, fe.Message)
		}
	}
	return msgs
}

// HasChangedAttrs reports whether any local mutation is outstanding.
func (s *Store) HasChangedAttrs(key *core.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	if !ok {
		return false, core.ErrUnknownResource
	}
	return len(e.local) > 0, nil
}

// ChangedAttrs returns the outstanding mutations as field -> [old, new].
func (s *Store) ChangedAttrs(key *core.Key) (map[string][2]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	if !ok {
		return nil, core.ErrUnknownResource
	}
	changes := make(map[string][2]any, len(e.local))
	for field, value := range e.local {
		changes[field] = [2]any{e.canonical[field], value}
	}
	return changes, nil
}

// LocalAttrs returns a copy of the effective attributes (canonical with the
// local layer applied). Used to build save requests.
func (s *Store) LocalAttrs(key *core.Key) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	if !ok {
		return nil
	}
	attrs := make(map[string]any, len(e.canonical)+len(e.local))
	for field, value := range e.canonical {
		attrs[field] = value
	}
	for field, value := range e.local {
		attrs[field] = value
	}
	return attrs
}

// Flags returns the cache's lifecycle inputs for the key.
func (s *Store) Flags(key *core.Key) Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	if !ok {
		return Flags{}
	}
	return Flags{
		Exists:            true,
		IsNew:             e.isNew,
		IsDeleted:         e.isDeleted,
		DeletionCommitted: e.deletionCommitted,
		Populated:         e.populated,
		Dirty:             len(e.local) > 0,
		Errors:            append([]core.FieldError(nil), e.errors...),
	}
}

// Populated reports whether attributes were ever received for the key.
func (s *Store) Populated(key *core.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.Lid]
	return ok && (e.populated || e.isNew)
}

// Has reports whether an entry exists for the key.
func (s *Store) Has(key *core.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key.Lid]
	return ok
}

// Delete removes the entry entirely (unload).
func (s *Store) Delete(key *core.Key) {
	s.mu.Lock()
	delete(s.entries, key.Lid)
	s.mu.Unlock()
}

// Len returns the number of live entries (for introspection).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
