// Package memory implements the request handler boundary against an
// in-process document table. It backs tests and the CLI, where a real
// transport would be noise: documents are seeded up front and served
// with optional latency, holds and per-record failures.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/request"
)

// SaveFunc lets a test take over mutation handling entirely.
type SaveFunc func(req request.Request) (core.Document, error)

// Handler serves requests from seeded documents.
type Handler struct {
	mu      sync.Mutex
	docs    map[string]core.Document // by "type\x1fid"
	related map[string]core.Document // by "type\x1fid\x1ffield"
	fail    map[string]error         // by dedup-ish "op\x1ftype\x1fid\x1ffield"

	saveFn  SaveFunc
	latency time.Duration
	nextID  int

	hold   chan struct{}
	counts map[string]int
	total  int
}

// New creates an empty handler.
func New() *Handler {
	return &Handler{
		docs:    make(map[string]core.Document),
		related: make(map[string]core.Document),
		fail:    make(map[string]error),
		counts:  make(map[string]int),
	}
}

// Seed registers the primary resources of a document so findRecord can serve
// them. Included resources ride along with each primary they were seeded with.
func (h *Handler) Seed(doc core.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if doc.One != nil {
		h.docs[recordKey(doc.One.Type, doc.One.ID)] = core.Document{One: doc.One, Included: doc.Included}
	}
	for i := range doc.Many {
		res := doc.Many[i]
		h.docs[recordKey(res.Type, res.ID)] = core.Document{One: &res, Included: doc.Included}
	}
}

// SeedRelated registers the document served for a relationship fetch of
// (type, id).field.
func (h *Handler) SeedRelated(typ, id, field string, doc core.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.related[relatedKey(typ, id, field)] = doc
}

// FailWith makes the next requests matching (op, type, id, field) reject with
// err. Field is empty for record-level operations.
func (h *Handler) FailWith(op request.Operation, typ, id, field string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[failKey(op, typ, id, field)] = err
}

// ClearFailure removes a programmed failure.
func (h *Handler) ClearFailure(op request.Operation, typ, id, field string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.fail, failKey(op, typ, id, field))
}

// OnSave overrides mutation handling.
func (h *Handler) OnSave(fn SaveFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saveFn = fn
}

// SetLatency makes every request sleep before answering.
func (h *Handler) SetLatency(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latency = d
}

// Hold blocks every request until the returned release func is called. Used
// by dedup tests to keep several callers in flight at once.
func (h *Handler) Hold() (release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	gate := make(chan struct{})
	h.hold = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.hold == gate {
				h.hold = nil
			}
			h.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns the total number of requests that reached the handler.
func (h *Handler) Requests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// RequestsFor counts requests for one (op, type, id, field) combination.
func (h *Handler) RequestsFor(op request.Operation, typ, id, field string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[failKey(op, typ, id, field)]
}

// Request implements request.Handler.
func (h *Handler) Request(ctx context.Context, req request.Request) (core.Document, error) {
	h.mu.Lock()
	h.total++
	h.counts[failKey(req.Op, req.Key.Type, req.Key.ID, req.Field)]++
	gate := h.hold
	latency := h.latency
	failErr := h.fail[failKey(req.Op, req.Key.Type, req.Key.ID, req.Field)]
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.Document{}, ctx.Err()
		}
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return core.Document{}, ctx.Err()
		}
	}
	if failErr != nil {
		return core.Document{}, failErr
	}

	switch req.Op {
	case request.OpFindRecord:
		return h.findRecord(req)
	case request.OpFindBelongsTo, request.OpFindHasMany:
		return h.findRelated(req)
	case request.OpSaveRecord:
		return h.saveRecord(req)
	default:
		return core.Document{}, &core.TransportError{Op: string(req.Op), Err: fmt.Errorf("unsupported operation")}
	}
}

func (h *Handler) findRecord(req request.Request) (core.Document, error) {
	h.mu.Lock()
	doc, ok := h.docs[recordKey(req.Key.Type, req.Key.ID)]
	h.mu.Unlock()
	if !ok {
		return core.Document{}, &core.TransportError{
			Op:  string(req.Op),
			Err: fmt.Errorf("no document for %s:%s", req.Key.Type, req.Key.ID),
		}
	}
	return doc, nil
}

func (h *Handler) findRelated(req request.Request) (core.Document, error) {
	h.mu.Lock()
	doc, ok := h.related[relatedKey(req.Key.Type, req.Key.ID, req.Field)]
	h.mu.Unlock()
	if !ok {
		return core.Document{}, &core.TransportError{
			Op:  string(req.Op),
			Err: fmt.Errorf("no related document for %s:%s.%s", req.Key.Type, req.Key.ID, req.Field),
		}
	}
	return doc, nil
}

// saveRecord echoes the payload back as the canonical server answer,
// assigning an id to new records. A seeded save function takes precedence.
func (h *Handler) saveRecord(req request.Request) (core.Document, error) {
	h.mu.Lock()
	saveFn := h.saveFn
	h.mu.Unlock()
	if saveFn != nil {
		return saveFn(req)
	}
	if req.Payload == nil {
		return core.Document{}, &core.TransportError{Op: string(req.Op), Err: fmt.Errorf("save without a payload")}
	}

	res := *req.Payload
	if res.ID == "" {
		h.mu.Lock()
		h.nextID++
		res.ID = fmt.Sprintf("srv-%d-%s", h.nextID, uuid.NewString()[:8])
		h.mu.Unlock()
	}

	doc := core.Document{One: &res}
	h.mu.Lock()
	h.docs[recordKey(res.Type, res.ID)] = doc
	h.mu.Unlock()
	return doc, nil
}

func recordKey(typ, id string) string {
	return typ + "\x1f" + id
}

func relatedKey(typ, id, field string) string {
	return typ + "\x1f" + id + "\x1f" + field
}

func failKey(op request.Operation, typ, id, field string) string {
	return string(op) + "\x1f" + typ + "\x1f" + id + "\x1f" + field
}

var _ request.Handler = (*Handler)(nil)
