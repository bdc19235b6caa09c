// Package store ties the identity registry, cache, relationship graph,
// request coordinator and notification bus together behind the public API.
// Each Store instance owns a fully isolated arena: keys from one store never
// resolve in another.
package store

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/strata/pkg/cache"
	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/graph"
	"github.com/aretw0/strata/pkg/identity"
	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/record"
	"github.com/aretw0/strata/pkg/request"
	"github.com/aretw0/strata/pkg/schema"
)

// Config assembles a store. Schema and Handler are required.
type Config struct {
	// Schema declares the resource types this store caches.
	Schema *schema.Registry

	// Handler is the transport boundary requests are issued to.
	Handler request.Handler

	// Logger for internal chatter. Nil falls back to slog.Default.
	Logger *slog.Logger

	// Debug makes teardown loud: Close returns MemoryLeakError when
	// requests are still pending instead of just logging.
	Debug bool

	// EventBuffer sizes the Watch channel. Zero means default (100).
	EventBuffer int
}

// Store is the public face of the record cache.
type Store struct {
	schema *schema.Registry
	idents *identity.Registry
	cache  *cache.Store
	graph  *graph.Graph
	bus    *notify.Bus
	coord  *request.Coordinator
	logger *slog.Logger

	// mu serializes mutation turns: every public mutation (and every
	// settlement write-back) runs to completion before the next starts.
	mu sync.Mutex

	debug       bool
	eventBuffer int
	closed      atomic.Bool

	watchMu  sync.Mutex
	watchers map[int]watcher
	nextTap  int
}

// watcher pairs a Watch channel with its bus tap so teardown can detach
// the tap before closing the channel.
type watcher struct {
	ch    chan ChangeEvent
	tapID int
}

// New builds a store, validating the schema's inverse declarations up
// front so mismatches fail here rather than at mutation time.
func New(cfg Config) (*Store, error) {
	if cfg.Schema == nil {
		return nil, errors.New("store requires a schema")
	}
	if cfg.Handler == nil {
		return nil, errors.New("store requires a request handler")
	}
	if err := cfg.Schema.Check(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufSize := cfg.EventBuffer
	if bufSize <= 0 {
		bufSize = 100
	}

	bus := notify.New(logger)
	idents := identity.New()
	cacheStore := cache.New(cfg.Schema, bus)
	g := graph.New(cfg.Schema, idents, bus)
	g.SetMaterializedFunc(cacheStore.Populated)

	s := &Store{
		schema:      cfg.Schema,
		idents:      idents,
		cache:       cacheStore,
		graph:       g,
		bus:         bus,
		logger:      logger,
		debug:       cfg.Debug,
		eventBuffer: bufSize,
		watchers:    make(map[int]watcher),
	}
	s.coord = request.New(cfg.Handler, logger)
	s.coord.SetSettleFunc(s.settle)
	return s, nil
}

// Push merges a normalized document into the cache synchronously (no
// network). It returns the keys of the primary resources, in document
// order. Identity conflicts (duplicate ids) surface to the caller.
func (s *Store) Push(doc core.Document) ([]*core.Key, error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}

	s.mu.Lock()
	keys, err := s.pushLocked(doc)
	s.mu.Unlock()

	s.bus.Flush()
	return keys, err
}

// pushLocked applies a document under the mutation lock.
func (s *Store) pushLocked(doc core.Document) ([]*core.Key, error) {
	var primary []*core.Key

	apply := func(res core.Resource) (*core.Key, error) {
		return s.applyResource(res)
	}

	if doc.One != nil {
		k, err := apply(*doc.One)
		if err != nil {
			return nil, err
		}
		primary = append(primary, k)
	}
	for _, res := range doc.Many {
		k, err := apply(res)
		if err != nil {
			return nil, err
		}
		primary = append(primary, k)
	}
	for _, res := range doc.Included {
		if _, err := apply(res); err != nil {
			return nil, err
		}
	}
	return primary, nil
}

// applyResource resolves/creates the identity for one resource object,
// merges its attributes and forwards relationship payloads to the graph.
func (s *Store) applyResource(res core.Resource) (*core.Key, error) {
	if res.Type == "" {
		return nil, errors.New("resource without a type")
	}
	if _, ok := s.schema.Lookup(res.Type); !ok {
		return nil, core.ErrUnknownResource
	}

	var key *core.Key
	if res.Lid != "" {
		if k, ok := s.idents.ForLid(res.Lid); ok {
			key = k
			if res.ID != "" {
				hadID := k.HasID()
				if err := s.idents.UpdateID(k, res.ID); err != nil {
					return nil, err
				}
				if !hadID {
					s.bus.Notify(k, notify.KindIdentity, "")
				}
			}
		}
	}
	if key == nil {
		if res.ID == "" {
			return nil, errors.New("resource without an id or known lid")
		}
		key = s.idents.GetOrCreate(res.Type, res.ID)
	}

	s.cache.Upsert(key, res.Attributes)

	for field, payload := range res.Relationships {
		if err := s.graph.UpdateFromPayload(key, field, payload); err != nil {
			// Server documents may carry fields the client schema doesn't
			// declare; skip them rather than poisoning the whole push.
			s.logger.Debug("skipping undeclared relationship in document",
				"type", res.Type, "field", field, "error", err)
		}
	}
	return key, nil
}

// Key resolves the identity for (type, id) without fetching, creating it on
// first reference.
func (s *Store) Key(typ, id string) *core.Key {
	return s.idents.GetOrCreate(typ, id)
}

// KeyForLid resolves an identity by its lid.
func (s *Store) KeyForLid(lid string) (*core.Key, bool) {
	return s.idents.ForLid(lid)
}

// Unload tears one record down: its cache entry, its edges (counterpart
// edges are flagged dematerialized so they refetch), its request
// bookkeeping and finally its identity. In-flight requests for it still
// settle, but their write-backs detect the missing identity and no-op.
func (s *Store) Unload(key *core.Key) {
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	s.graph.Disconnect(key, true)
	s.cache.Delete(key)
	s.coord.Release(key)
	s.idents.Forget(key)
	s.mu.Unlock()

	s.bus.Notify(key, notify.KindState, "")
	s.bus.Flush()
}

// Close tears the store down. With Debug set, pending requests make it
// return MemoryLeakError loudly; otherwise they are logged and ignored
// (their settlements will no-op against the closed store).
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.watchMu.Lock()
	for id, w := range s.watchers {
		s.bus.Untap(w.tapID)
		close(w.ch)
		delete(s.watchers, id)
	}
	s.watchMu.Unlock()

	if pending := s.coord.Pending(); pending > 0 {
		if s.debug {
			return &core.MemoryLeakError{Pending: pending}
		}
		s.logger.Warn("store closed with pending requests", "pending", pending)
	}
	return nil
}

// alive reports whether the identity still resolves in this store; torn
// down identities make settlements no-ops instead of resurrecting records.
func (s *Store) alive(key *core.Key) bool {
	_, ok := s.idents.ForLid(key.Lid)
	return ok
}

// Lifecycle returns the derived lifecycle snapshot for a record.
func (s *Store) Lifecycle(key *core.Key) record.Snapshot {
	flags := s.cache.Flags(key)
	pending, fulfilled, saving, errored := s.coord.Signals(key)

	return record.Derive(record.Inputs{
		Exists:             flags.Exists,
		IsNew:              flags.IsNew,
		IsDeleted:          flags.IsDeleted,
		DeletionCommitted:  flags.DeletionCommitted,
		Populated:          flags.Populated,
		Dirty:              flags.Dirty,
		Errors:             flags.Errors,
		PendingFetches:     pending,
		FulfilledFetches:   fulfilled,
		Saving:             saving,
		LastRequestErrored: errored,
	})
}
