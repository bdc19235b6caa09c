package store

import (
	"context"
	"errors"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/request"
	"github.com/aretw0/strata/pkg/schema"
)

// FindRecord fetches a record by (type, id), joining an identical in-flight
// fetch if one exists. The record's cached state stays readable while the
// fetch is pending.
func (s *Store) FindRecord(ctx context.Context, typ, id string, opts request.Options) (*request.Future, error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	if _, ok := s.schema.Lookup(typ); !ok {
		return nil, core.ErrUnknownResource
	}

	key := s.idents.GetOrCreate(typ, id)
	fut := s.coord.Do(ctx, request.Request{
		Op:      request.OpFindRecord,
		Key:     key,
		Options: opts,
	})
	s.bus.Notify(key, notify.KindState, "")
	s.bus.Flush()
	return fut, nil
}

// Save issues a saveRecord for the record's current local state: creation
// for new records, update for dirty ones, deletion for deleted ones. The
// record reports IsSaving until settlement.
func (s *Store) Save(ctx context.Context, key *core.Key, opts request.Options) (*request.Future, error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	if !s.cache.Has(key) {
		return nil, core.ErrUnknownResource
	}

	payload := s.snapshotResource(key)
	fut := s.coord.Do(ctx, request.Request{
		Op:      request.OpSaveRecord,
		Key:     key,
		Options: opts,
		Payload: &payload,
	})
	s.bus.Notify(key, notify.KindState, "")
	s.bus.Flush()
	return fut, nil
}

// SubscribeRequests delivers every pending→settled transition of the
// identity's requests, in causal order; an already-pending request is
// reported synchronously.
func (s *Store) SubscribeRequests(key *core.Key, fn request.Subscriber) request.SubToken {
	return s.coord.SubscribeForRecord(key, fn)
}

// UnsubscribeRequests removes a request subscription.
func (s *Store) UnsubscribeRequests(tok request.SubToken) {
	s.coord.Unsubscribe(tok)
}

// LastRequest returns the terminal snapshot of the most recent settled
// request for the identity, until superseded.
func (s *Store) LastRequest(key *core.Key) (*request.Future, bool) {
	return s.coord.LastFor(key)
}

// snapshotResource captures the record's effective state for a save payload.
func (s *Store) snapshotResource(key *core.Key) core.Resource {
	res := core.Resource{
		Type:       key.Type,
		ID:         key.ID,
		Lid:        key.Lid,
		Attributes: s.cache.LocalAttrs(key),
	}

	t, ok := s.schema.Lookup(key.Type)
	if !ok {
		return res
	}
	res.Relationships = make(map[string]core.RelationshipPayload, len(t.Relationships))
	for field, rel := range t.Relationships {
		switch rel.Kind {
		case schema.BelongsTo:
			snap, err := s.graph.RelatedOne(key, field)
			if err != nil || !snap.Known {
				continue
			}
			payload := core.RelationshipPayload{HasData: true}
			if snap.Data != nil {
				payload.One = &core.Linkage{Type: snap.Data.Type, ID: snap.Data.ID, Lid: snap.Data.Lid}
			}
			res.Relationships[field] = payload
		case schema.HasMany:
			snap, err := s.graph.RelatedMany(key, field)
			if err != nil || !snap.Flags.HasReceivedData && len(snap.Data) == 0 {
				continue
			}
			payload := core.RelationshipPayload{HasData: true, ToMany: true}
			for _, member := range snap.Data {
				payload.Many = append(payload.Many, core.Linkage{Type: member.Type, ID: member.ID, Lid: member.Lid})
			}
			res.Relationships[field] = payload
		}
	}
	return res
}

// settle is the coordinator's write-back sink. It runs before the future
// resolves: by the time a waiter unblocks, the cache reflects the result.
// Settlements against a torn-down identity or a closed store are no-ops.
func (s *Store) settle(req request.Request, doc core.Document, err error) {
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	if !s.alive(req.Key) {
		s.mu.Unlock()
		s.logger.Debug("dropping settlement for unloaded record",
			"op", string(req.Op), "key", req.Key.String())
		return
	}

	switch {
	case err == nil:
		s.settleFulfilled(req, doc)
	default:
		s.settleRejected(req, err)
	}
	s.mu.Unlock()

	s.bus.Flush()
}

func (s *Store) settleFulfilled(req request.Request, doc core.Document) {
	key := req.Key

	switch req.Op {
	case request.OpSaveRecord:
		wasDeleted := s.cache.Flags(key).IsDeleted

		// Bind the server-assigned id before merging, so the response
		// resource (carrying the lid) resolves back to this record.
		if doc.One != nil && doc.One.ID != "" && !key.HasID() {
			if idErr := s.idents.UpdateID(key, doc.One.ID); idErr != nil {
				s.logger.Error("id assignment conflict on save", "key", key.String(), "error", idErr)
			} else {
				s.bus.Notify(key, notify.KindIdentity, "")
			}
		}

		s.cache.CommitSave(key)

		if !doc.IsEmpty() {
			if _, pushErr := s.pushLocked(doc); pushErr != nil {
				s.logger.Error("failed to merge save response", "key", key.String(), "error", pushErr)
			}
		}

		if wasDeleted {
			// Server confirmed the deletion: clean removal from every
			// inverse collection, nothing flagged for refetch.
			s.graph.Disconnect(key, false)
		}
		s.bus.Notify(key, notify.KindState, "")

	case request.OpFindRecord:
		if _, pushErr := s.pushLocked(doc); pushErr != nil {
			s.logger.Error("failed to merge fetch response", "key", key.String(), "error", pushErr)
		}
		s.bus.Notify(key, notify.KindState, "")

	case request.OpFindBelongsTo, request.OpFindHasMany:
		keys, pushErr := s.pushLocked(doc)
		if pushErr != nil {
			s.logger.Error("failed to merge relationship response", "key", key.String(), "error", pushErr)
			return
		}
		payload := linkagePayload(req.Op, keys)
		if upErr := s.graph.UpdateFromPayload(key, req.Field, payload); upErr != nil {
			s.logger.Error("failed to apply relationship response", "key", key.String(), "field", req.Field, "error", upErr)
			return
		}
		if mErr := s.graph.MarkLoaded(key, req.Field); mErr != nil {
			s.logger.Error("failed to mark relationship loaded", "key", key.String(), "field", req.Field, "error", mErr)
		}
	}
}

func (s *Store) settleRejected(req request.Request, err error) {
	key := req.Key

	var ve *core.ValidationError
	if errors.As(err, &ve) && req.Op.IsMutation() {
		// Invalid, not errored: populate the per-field messages and leave
		// the record editable.
		s.cache.SetErrors(key, ve.Errors)
		return
	}

	if req.Field != "" {
		if mErr := s.graph.MarkFailed(key, req.Field); mErr != nil {
			s.logger.Debug("failed to mark relationship failed", "key", key.String(), "field", req.Field, "error", mErr)
		}
	}
	s.bus.Notify(key, notify.KindState, "")
}

// linkagePayload rebuilds the relationship linkage from the fetched primary
// resources.
func linkagePayload(op request.Operation, keys []*core.Key) core.RelationshipPayload {
	if op == request.OpFindHasMany {
		payload := core.RelationshipPayload{HasData: true, ToMany: true}
		for _, k := range keys {
			payload.Many = append(payload.Many, core.Linkage{Type: k.Type, ID: k.ID, Lid: k.Lid})
		}
		return payload
	}

	payload := core.RelationshipPayload{HasData: true}
	if len(keys) > 0 {
		payload.One = &core.Linkage{Type: keys[0].Type, ID: keys[0].ID, Lid: keys[0].Lid}
	}
	return payload
}
