package store

import (
	"context"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/graph"
	"github.com/aretw0/strata/pkg/request"
	"github.com/aretw0/strata/pkg/schema"
)

// RelatedOne is the read result of a to-one relationship: the best known
// content now, plus the future of the fetch if one was needed.
type RelatedOne struct {
	// Data is the currently known related key (nil for explicit null or
	// never fetched; Known distinguishes).
	Data  *core.Key
	Known bool

	// Future is non-nil when the read triggered (or joined) a fetch.
	Future *request.Future
}

// RelatedMany is the read result of a to-many relationship.
type RelatedMany struct {
	Data   []*core.Key
	Future *request.Future
}

// ReplaceRelated sets a to-one relationship locally, mirroring the declared
// inverse atomically.
func (s *Store) ReplaceRelated(key *core.Key, field string, value *core.Key) error {
	if s.closed.Load() {
		return core.ErrStoreClosed
	}

	s.mu.Lock()
	err := s.graph.ReplaceRelated(key, field, value)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.bus.Flush()
	return nil
}

// AddToRelated inserts members into a to-many relationship at index (append
// for a negative index), de-duplicated, mirroring inverses.
func (s *Store) AddToRelated(key *core.Key, field string, values []*core.Key, index int) error {
	if s.closed.Load() {
		return core.ErrStoreClosed
	}

	s.mu.Lock()
	err := s.graph.AddToRelated(key, field, values, index)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.bus.Flush()
	return nil
}

// RemoveFromRelated removes members from a to-many relationship, mirroring
// inverses.
func (s *Store) RemoveFromRelated(key *core.Key, field string, values []*core.Key) error {
	if s.closed.Load() {
		return core.ErrStoreClosed
	}

	s.mu.Lock()
	err := s.graph.RemoveFromRelated(key, field, values)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.bus.Flush()
	return nil
}

// RelatedRecord reads a to-one relationship. The local snapshot is returned
// synchronously; if the edge is stale, dematerialized or never fetched, a
// fetch is started (or joined) and returned alongside.
func (s *Store) RelatedRecord(ctx context.Context, key *core.Key, field string) (RelatedOne, error) {
	snap, err := s.graph.RelatedOne(key, field)
	if err != nil {
		return RelatedOne{}, err
	}

	result := RelatedOne{Data: snap.Data, Known: snap.Known}
	fut, err := s.maybeFetchRelated(ctx, key, field, request.OpFindBelongsTo, snap.Links)
	if err != nil {
		return RelatedOne{}, err
	}
	result.Future = fut
	return result, nil
}

// RelatedRecords reads a to-many relationship; same contract as
// RelatedRecord.
func (s *Store) RelatedRecords(ctx context.Context, key *core.Key, field string) (RelatedMany, error) {
	snap, err := s.graph.RelatedMany(key, field)
	if err != nil {
		return RelatedMany{}, err
	}

	result := RelatedMany{Data: snap.Data}
	fut, err := s.maybeFetchRelated(ctx, key, field, request.OpFindHasMany, snap.Links)
	if err != nil {
		return RelatedMany{}, err
	}
	result.Future = fut
	return result, nil
}

// ReloadRelated forces a refetch of a relationship regardless of edge state.
func (s *Store) ReloadRelated(ctx context.Context, key *core.Key, field string) (*request.Future, error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	if err := s.graph.MarkForceReload(key, field); err != nil {
		return nil, err
	}
	s.bus.Flush()

	fut, err := s.maybeFetchRelated(ctx, key, field, s.relationshipOp(key, field), nil)
	if err != nil {
		return nil, err
	}
	return fut, nil
}

// MarkRelatedStale flags a relationship so the next read refetches.
func (s *Store) MarkRelatedStale(key *core.Key, field string) error {
	if err := s.graph.MarkStale(key, field); err != nil {
		return err
	}
	s.bus.Flush()
	return nil
}

// maybeFetchRelated consults the edge state and starts (or joins) a fetch
// when needed. Returns nil when the local data is good enough.
func (s *Store) maybeFetchRelated(ctx context.Context, key *core.Key, field string, op request.Operation, links map[string]string) (*request.Future, error) {
	if s.closed.Load() {
		return nil, nil
	}
	needs, err := s.graph.NeedsFetch(key, field)
	if err != nil {
		return nil, err
	}
	if !needs {
		return nil, nil
	}

	req := request.Request{
		Op:    op,
		Key:   key,
		Field: field,
	}
	if len(links) > 0 {
		req.UseLink = true
		req.Links = links
	}
	return s.coord.Do(ctx, req), nil
}

// relationshipOp picks the fetch operation matching the field's declared
// cardinality.
func (s *Store) relationshipOp(key *core.Key, field string) request.Operation {
	if rel, ok := s.schema.Relationship(key.Type, field); ok && rel.Kind == schema.HasMany {
		return request.OpFindHasMany
	}
	return request.OpFindBelongsTo
}

// RelationshipFlags exposes the per-edge state for diagnostics and tests.
func (s *Store) RelationshipFlags(key *core.Key, field string) (graph.Flags, error) {
	return s.graph.FlagsFor(key, field)
}
