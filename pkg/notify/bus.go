// Package notify fans change events out from the cache, graph and request
// coordinator to external subscribers (typically a UI layer), coalesced per
// flush. It replaces framework change-tracking with an explicit per-identity
// subscriber list and a small queue drained at the end of each mutation
// batch.
package notify

import (
	"log/slog"
	"sync"

	"github.com/aretw0/strata/pkg/core"
)

// Kind classifies a change notification.
type Kind string

const (
	// KindAdded fires once when a record first enters the cache.
	KindAdded Kind = "added"
	// KindAttributes fires when an attribute changed; field names it.
	KindAttributes Kind = "attributes"
	// KindRelationships fires when a relationship edge changed; field names it.
	KindRelationships Kind = "relationships"
	// KindState fires when the derived lifecycle state may have changed.
	KindState Kind = "state"
	// KindErrors fires when the validation error list changed.
	KindErrors Kind = "errors"
	// KindIdentity fires when the key's server id was assigned.
	KindIdentity Kind = "identity"
)

// Callback receives notifications for one identity.
type Callback func(kind Kind, field string)

// Token identifies a subscription for Unsubscribe.
type Token struct {
	lid string
	id  int
}

type signature struct {
	lid   string
	kind  Kind
	field string
}

type queued struct {
	key   *core.Key
	kind  Kind
	field string
}

// Bus is the per-store notification fan-out.
type Bus struct {
	mu     sync.Mutex
	logger *slog.Logger

	nextID int
	subs   map[string]map[int]Callback
	taps   map[int]TapFunc

	// queue holds pending notifications in arrival order; seen coalesces
	// duplicates of the same (key, kind, field) within one flush.
	queue []queued
	seen  map[signature]bool
}

// New creates a bus. logger may be nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string]map[int]Callback),
		taps:   make(map[int]TapFunc),
		seen:   make(map[signature]bool),
	}
}

// TapFunc observes the full notification stream, all identities included.
// Taps back the store-level event feed; per-identity consumers should use
// Subscribe instead.
type TapFunc func(key *core.Key, kind Kind, field string)

// Tap registers a firehose observer and returns its handle.
func (b *Bus) Tap(fn TapFunc) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.taps[b.nextID] = fn
	return b.nextID
}

// Untap removes a firehose observer.
func (b *Bus) Untap(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.taps, id)
}

// Subscribe registers a callback for one identity. A subscriber for key K
// never receives notifications for another identity.
func (b *Bus) Subscribe(key *core.Key, cb Callback) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	tok := Token{lid: key.Lid, id: b.nextID}
	if b.subs[key.Lid] == nil {
		b.subs[key.Lid] = make(map[int]Callback)
	}
	b.subs[key.Lid][tok.id] = cb
	return tok
}

// Unsubscribe removes a subscription. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m, ok := b.subs[tok.lid]; ok {
		delete(m, tok.id)
		if len(m) == 0 {
			delete(b.subs, tok.lid)
		}
	}
}

// HasSubscribers reports whether any subscriber is registered for the key.
func (b *Bus) HasSubscribers(key *core.Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key.Lid]) > 0
}

// Notify queues one notification. Repeats of the same (key, kind, field)
// before the next flush coalesce into a single delivery; arrival order per
// key is preserved.
func (b *Bus) Notify(key *core.Key, kind Kind, field string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sig := signature{lid: key.Lid, kind: kind, field: field}
	if b.seen[sig] {
		return
	}
	b.seen[sig] = true
	b.queue = append(b.queue, queued{key: key, kind: kind, field: field})
}

// Flush drains the queue and delivers to subscribers. Notifications raised
// by a callback land in the next batch; Flush keeps draining until the
// queue is empty so a mutation turn always ends quiesced.
func (b *Bus) Flush() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		batch := b.queue
		b.queue = nil
		b.seen = make(map[signature]bool)
		b.mu.Unlock()

		for _, q := range batch {
			b.deliver(q)
		}
	}
}

func (b *Bus) deliver(q queued) {
	b.mu.Lock()
	targets := make([]Callback, 0, len(b.subs[q.key.Lid]))
	for _, cb := range b.subs[q.key.Lid] {
		targets = append(targets, cb)
	}
	taps := make([]TapFunc, 0, len(b.taps))
	for _, fn := range b.taps {
		taps = append(taps, fn)
	}
	b.mu.Unlock()

	for _, cb := range targets {
		b.safeCall(cb, q)
	}
	for _, fn := range taps {
		b.safeTap(fn, q)
	}
}

func (b *Bus) safeTap(fn TapFunc, q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification tap panicked",
				"key", q.key.String(),
				"kind", string(q.kind),
				"panic", r,
			)
		}
	}()
	fn(q.key, q.kind, q.field)
}

// safeCall shields delivery: a panicking subscriber must not prevent other
// subscribers or settlement bookkeeping from completing.
func (b *Bus) safeCall(cb Callback, q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification subscriber panicked",
				"key", q.key.String(),
				"kind", string(q.kind),
				"field", q.field,
				"panic", r,
			)
		}
	}()
	cb(q.kind, q.field)
}
