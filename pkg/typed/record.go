// Package typed provides generic, struct-based access to records. It maps a
// record's attributes onto a user type via JSON round-tripping, so callers
// work with fields instead of map lookups while the store keeps owning the
// canonical state.
package typed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/store"
)

// RecordModel wraps a record identity with a typed view of its attributes.
type RecordModel[T any] struct {
	Key   *core.Key
	Data  T        // The typed attributes
	Saver Saver[T] // Active Record reference interface
}

// Saver interface avoids tight coupling between the model and the store
// wrapper.
type Saver[T any] interface {
	Save(ctx context.Context, rec *RecordModel[T]) error
}

// Save persists the record using the attached saver.
func (r *RecordModel[T]) Save(ctx context.Context) error {
	if r.Saver == nil {
		return fmt.Errorf("record is detached (missing Saver)")
	}
	return r.Saver.Save(ctx, r)
}

// Store wraps a record store to provide type-safe access to one resource
// type.
type Store[T any] struct {
	st  *store.Store
	typ string
}

// NewStore creates a type-safe wrapper for one resource type.
func NewStore[T any](st *store.Store, typeName string) *Store[T] {
	return &Store[T]{st: st, typ: typeName}
}

// Create registers a new client-created record from typed data. The record
// is local until Save commits it.
func (s *Store[T]) Create(data T) (*RecordModel[T], error) {
	attrs, err := toAttrs(data)
	if err != nil {
		return nil, err
	}
	key, err := s.st.CreateRecord(s.typ, attrs)
	if err != nil {
		return nil, err
	}
	return &RecordModel[T]{Key: key, Data: data, Saver: s}, nil
}

// Find fetches a record by id and returns its typed view once the fetch
// settles.
func (s *Store[T]) Find(ctx context.Context, id string) (*RecordModel[T], error) {
	fut, err := s.st.FindRecord(ctx, s.typ, id, nil)
	if err != nil {
		return nil, err
	}
	if _, err := fut.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Get(fut.Key())
}

// Get returns the typed view of a cached record without fetching.
func (s *Store[T]) Get(key *core.Key) (*RecordModel[T], error) {
	attrs := s.st.Attrs(key)
	if attrs == nil {
		return nil, core.ErrUnknownResource
	}
	return fromAttrs(key, attrs, s)
}

// Save writes the typed data back as local edits and commits them with a
// save request, waiting for settlement.
func (s *Store[T]) Save(ctx context.Context, rec *RecordModel[T]) error {
	attrs, err := toAttrs(rec.Data)
	if err != nil {
		return err
	}
	for field, value := range attrs {
		if err := s.st.SetAttr(rec.Key, field, value); err != nil {
			return err
		}
	}

	if rec.Saver == nil {
		rec.Saver = s
	}

	fut, err := s.st.Save(ctx, rec.Key, nil)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

// Delete flags the record for deletion and commits it server-side.
func (s *Store[T]) Delete(ctx context.Context, rec *RecordModel[T]) error {
	if err := s.st.DeleteRecord(rec.Key); err != nil {
		return err
	}
	fut, err := s.st.Save(ctx, rec.Key, nil)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

func toAttrs[T any](data T) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("failed to convert typed data to attributes: %w", err)
	}
	return attrs, nil
}

// Helper to convert attributes to a RecordModel
func fromAttrs[T any](key *core.Key, attrs map[string]any, saver Saver[T]) (*RecordModel[T], error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("attributes marshal failed: %w", err)
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal to target type failed: %w", err)
	}
	return &RecordModel[T]{Key: key, Data: data, Saver: saver}, nil
}
