package store

import (
	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/notify"
)

// CreateRecord registers a client-created record with a lid-only identity.
// The attributes are local (uncommitted) until the first successful save.
func (s *Store) CreateRecord(typ string, attrs map[string]any) (*core.Key, error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	if _, ok := s.schema.Lookup(typ); !ok {
		return nil, core.ErrUnknownResource
	}

	s.mu.Lock()
	key := s.idents.CreateLocal(typ)
	err := s.cache.CreateLocal(key, attrs)
	if err != nil {
		s.idents.Forget(key)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.bus.Flush()
	return key, nil
}

// Attr reads the effective value of an attribute (local edit over canonical).
func (s *Store) Attr(key *core.Key, field string) (any, bool) {
	return s.cache.Attr(key, field)
}

// SetAttr layers an uncommitted attribute change over canonical state.
func (s *Store) SetAttr(key *core.Key, field string, value any) error {
	if s.closed.Load() {
		return core.ErrStoreClosed
	}

	s.mu.Lock()
	err := s.cache.SetLocalAttr(key, field, value)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.bus.Flush()
	return nil
}

// Attrs returns the record's effective attributes (local edits over
// canonical). Unknown records return nil.
func (s *Store) Attrs(key *core.Key) map[string]any {
	return s.cache.LocalAttrs(key)
}

// HasChangedAttrs reports whether the record carries uncommitted changes.
func (s *Store) HasChangedAttrs(key *core.Key) (bool, error) {
	return s.cache.HasChangedAttrs(key)
}

// ChangedAttrs returns the uncommitted changes as field -> [old, new].
func (s *Store) ChangedAttrs(key *core.Key) (map[string][2]any, error) {
	return s.cache.ChangedAttrs(key)
}

// Rollback discards local mutations and validation errors. A never-saved
// record has no canonical state to return to, so it is unloaded instead.
func (s *Store) Rollback(key *core.Key) error {
	if s.closed.Load() {
		return core.ErrStoreClosed
	}

	s.mu.Lock()
	wasNew, err := s.cache.Rollback(key)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if wasNew {
		s.Unload(key)
		return nil
	}
	s.bus.Flush()
	return nil
}

// DeleteRecord flags the record for deletion. The deletion is local until a
// save commits it server-side.
func (s *Store) DeleteRecord(key *core.Key) error {
	if s.closed.Load() {
		return core.ErrStoreClosed
	}

	s.mu.Lock()
	err := s.cache.MarkDeleted(key)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.bus.Flush()
	return nil
}

// ErrorsFor returns the validation messages recorded for one field.
func (s *Store) ErrorsFor(key *core.Key, field string) []string {
	return s.cache.ErrorsFor(key, field)
}

// Subscribe registers a change callback for one identity. The callback
// observes attribute, relationship, state, errors and identity changes,
// coalesced per mutation batch.
func (s *Store) Subscribe(key *core.Key, cb notify.Callback) notify.Token {
	return s.bus.Subscribe(key, cb)
}

// Unsubscribe removes a change subscription.
func (s *Store) Unsubscribe(tok notify.Token) {
	s.bus.Unsubscribe(tok)
}
