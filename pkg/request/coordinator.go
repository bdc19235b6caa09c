// Package request coordinates in-flight fetches: concurrent equivalent
// requests join one underlying fetch, settlements write back into the cache
// through an injected sink, and per-identity subscribers observe every
// pending→settled transition in causal order.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/strata/pkg/core"
)

// Operation is the request kind issued to the transport boundary.
type Operation string

const (
	OpFindRecord    Operation = "findRecord"
	OpFindBelongsTo Operation = "findBelongsTo"
	OpFindHasMany   Operation = "findHasMany"
	OpSaveRecord    Operation = "saveRecord"
)

// IsFetch reports whether the operation reads remote state.
func (op Operation) IsFetch() bool {
	return op == OpFindRecord || op == OpFindBelongsTo || op == OpFindHasMany
}

// IsMutation reports whether the operation writes remote state.
func (op Operation) IsMutation() bool {
	return op == OpSaveRecord
}

// Options are request options (include, adapter hints...). Two requests with
// the same operation and key but different options are different requests.
type Options map[string]any

// canonical renders options deterministically for the dedup key.
func (o Options) canonical() string {
	if len(o) == 0 {
		return ""
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, o[k]))
	}
	return strings.Join(parts, "&")
}

// Request is the outbound fetch contract handed to the transport boundary.
type Request struct {
	Op      Operation
	Key     *core.Key
	Field   string
	Options Options

	// UseLink asks the transport to follow a relationship link instead of
	// building a URL from type/id.
	UseLink bool
	Links   map[string]string

	// Payload carries the record snapshot for mutations.
	Payload *core.Resource
}

// dedupKey identifies "the same logical request" for coalescing.
func (r Request) dedupKey() string {
	return string(r.Op) + "\x1f" + r.Key.Lid + "\x1f" + r.Field + "\x1f" + r.Options.canonical()
}

// Handler is the transport boundary: given a request, return a normalized
// document or an error. Concrete transports live outside the core.
type Handler interface {
	Request(ctx context.Context, req Request) (core.Document, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (core.Document, error)

func (fn HandlerFunc) Request(ctx context.Context, req Request) (core.Document, error) {
	return fn(ctx, req)
}

// Event is delivered to per-record subscribers on every request transition.
type Event struct {
	Key     *core.Key
	Request Request
	State   State
	Err     error
}

// Subscriber receives request lifecycle events for one identity.
type Subscriber func(Event)

// SubToken identifies a subscription.
type SubToken struct {
	lid string
	id  int
}

// counters aggregates per-identity request signals for the lifecycle view.
type counters struct {
	pendingFetches   int
	fulfilledFetches int
	saving           int

	// errored tracks "most recent request rejected with a non-validation
	// error, no later request fulfilled".
	errored bool
}

// SettleFunc is the write-back sink invoked on every settlement, before the
// future resolves and subscribers are told. The store uses it to upsert the
// result and run save bookkeeping.
type SettleFunc func(req Request, doc core.Document, err error)

// Coordinator deduplicates and tracks in-flight requests for one store.
type Coordinator struct {
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]*Future // by dedup key
	last     map[string]*Future // terminal snapshot, by lid
	counts   map[string]*counters
	subs     map[string]map[int]Subscriber
	nextSub  int
	pending  int

	settleFn SettleFunc
}

// New creates a coordinator. logger may be nil.
func New(handler Handler, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		handler:  handler,
		logger:   logger,
		inflight: make(map[string]*Future),
		last:     make(map[string]*Future),
		counts:   make(map[string]*counters),
		subs:     make(map[string]map[int]Subscriber),
	}
}

// SetSettleFunc wires the write-back sink. Must be called before the first
// request (the store factory does).
func (c *Coordinator) SetSettleFunc(fn SettleFunc) {
	c.mu.Lock()
	c.settleFn = fn
	c.mu.Unlock()
}

// Do issues a request, joining an identical in-flight one when possible.
// Two calls with the same (op, key, field, options) before the first settles
// return the same Future; any difference in options forks a distinct fetch.
func (c *Coordinator) Do(ctx context.Context, req Request) *Future {
	dk := req.dedupKey()

	c.mu.Lock()
	if f, ok := c.inflight[dk]; ok {
		c.mu.Unlock()
		return f
	}

	f := newFuture(req)
	c.inflight[dk] = f
	c.pending++

	cnt := c.countersFor(req.Key.Lid)
	if req.Op.IsFetch() {
		cnt.pendingFetches++
	}
	if req.Op.IsMutation() {
		cnt.saving++
	}
	targets := c.subscribersFor(req.Key.Lid)
	c.mu.Unlock()

	// Pending is observable synchronously, before the fetch goroutine runs.
	c.dispatch(targets, Event{Key: req.Key, Request: req, State: Pending})

	go c.run(ctx, f)
	return f
}

func (c *Coordinator) run(ctx context.Context, f *Future) {
	doc, err := c.handler.Request(ctx, f.req)
	c.settle(f, doc, err)
}

func (c *Coordinator) settle(f *Future, doc core.Document, err error) {
	req := f.req

	c.mu.Lock()
	settleFn := c.settleFn
	c.mu.Unlock()

	// Write-back first: by the time a waiter unblocks, the cache already
	// reflects the result.
	if settleFn != nil {
		settleFn(req, doc, err)
	}

	c.mu.Lock()
	delete(c.inflight, req.dedupKey())
	c.pending--
	c.last[req.Key.Lid] = f

	cnt := c.countersFor(req.Key.Lid)
	if req.Op.IsFetch() {
		cnt.pendingFetches--
	}
	if req.Op.IsMutation() {
		cnt.saving--
	}
	if err == nil {
		if req.Op.IsFetch() {
			cnt.fulfilledFetches++
		}
		cnt.errored = false
	} else if !isValidation(err) {
		cnt.errored = true
	}
	targets := c.subscribersFor(req.Key.Lid)
	c.mu.Unlock()

	f.settle(doc, err)

	state := Fulfilled
	if err != nil {
		state = Rejected
		c.logger.Debug("request rejected", "op", string(req.Op), "key", req.Key.String(), "error", err)
	}
	c.dispatch(targets, Event{Key: req.Key, Request: req, State: state, Err: err})
}

func isValidation(err error) bool {
	var ve *core.ValidationError
	return errors.As(err, &ve)
}

// SubscribeForRecord registers a subscriber for one identity's requests. If
// requests are already pending, the subscriber is informed of each pending
// transition synchronously so it never misses the start of a fetch.
func (c *Coordinator) SubscribeForRecord(key *core.Key, fn Subscriber) SubToken {
	c.mu.Lock()
	c.nextSub++
	tok := SubToken{lid: key.Lid, id: c.nextSub}
	if c.subs[key.Lid] == nil {
		c.subs[key.Lid] = make(map[int]Subscriber)
	}
	c.subs[key.Lid][tok.id] = fn

	var backlog []Event
	for _, f := range c.inflight {
		if f.req.Key.Lid == key.Lid {
			backlog = append(backlog, Event{Key: key, Request: f.req, State: Pending})
		}
	}
	c.mu.Unlock()

	for _, ev := range backlog {
		c.dispatch([]Subscriber{fn}, ev)
	}
	return tok
}

// Unsubscribe removes a request subscriber.
func (c *Coordinator) Unsubscribe(tok SubToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.subs[tok.lid]; ok {
		delete(m, tok.id)
		if len(m) == 0 {
			delete(c.subs, tok.lid)
		}
	}
}

// Signals returns the per-identity request inputs for the lifecycle view.
func (c *Coordinator) Signals(key *core.Key) (pendingFetches, fulfilledFetches int, saving, errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt, ok := c.counts[key.Lid]
	if !ok {
		return 0, 0, false, false
	}
	return cnt.pendingFetches, cnt.fulfilledFetches, cnt.saving > 0, cnt.errored
}

// LastFor returns the terminal snapshot of the most recent settled request
// for the identity, until superseded.
func (c *Coordinator) LastFor(key *core.Key) (*Future, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.last[key.Lid]
	return f, ok
}

// Release drops counters, snapshots and subscribers for an unloaded
// identity. In-flight futures still settle, but their key no longer resolves
// so write-backs no-op.
func (c *Coordinator) Release(key *core.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key.Lid)
	delete(c.last, key.Lid)
	delete(c.subs, key.Lid)
}

// Pending returns the number of in-flight requests across all identities.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) countersFor(lid string) *counters {
	cnt, ok := c.counts[lid]
	if !ok {
		cnt = &counters{}
		c.counts[lid] = cnt
	}
	return cnt
}

func (c *Coordinator) subscribersFor(lid string) []Subscriber {
	targets := make([]Subscriber, 0, len(c.subs[lid]))
	for _, fn := range c.subs[lid] {
		targets = append(targets, fn)
	}
	return targets
}

// dispatch delivers events, shielding the coordinator from subscriber
// panics: a failing subscriber never blocks settlement bookkeeping.
func (c *Coordinator) dispatch(targets []Subscriber, ev Event) {
	for _, fn := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("request subscriber panicked",
						"key", ev.Key.String(),
						"state", ev.State.String(),
						"panic", r,
					)
				}
			}()
			fn(ev)
		}()
	}
}
