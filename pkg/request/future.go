package request

import (
	"context"
	"sync"

	"github.com/aretw0/strata/pkg/core"
)

// State is the observable lifecycle of a request future.
type State int

const (
	// Pending means the underlying fetch has not settled.
	Pending State = iota
	// Fulfilled means the fetch succeeded and the result was written back.
	Fulfilled
	// Rejected means the fetch failed.
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Future is the handle returned for an in-flight request. It deliberately
// separates "await the outcome" (Wait/Done) from "best known content right
// now" (Key, Content) instead of overloading one thenable object.
type Future struct {
	req Request

	mu    sync.Mutex
	state State
	doc   core.Document
	err   error
	done  chan struct{}
}

func newFuture(req Request) *Future {
	return &Future{req: req, done: make(chan struct{})}
}

// Request returns the request this future tracks.
func (f *Future) Request() Request { return f.req }

// Key returns the identity the request targets. This is the synchronously
// readable "best known content": the cached record behind the key stays
// readable while the fetch is in flight.
func (f *Future) Key() *core.Key { return f.req.Key }

// State returns the current observable state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Content returns the settled document, if any. Pending and rejected
// futures report ok=false.
func (f *Future) Content() (core.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc, f.state == Fulfilled
}

// Err returns the rejection error, nil while pending or fulfilled.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until settlement or context cancellation. Cancelling the wait
// does not cancel the underlying fetch; settlement still completes and its
// write-back still happens.
func (f *Future) Wait(ctx context.Context) (core.Document, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return core.Document{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc, f.err
}

// settle transitions the future exactly once.
func (f *Future) settle(doc core.Document, err error) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.state = Rejected
		f.err = err
	} else {
		f.state = Fulfilled
		f.doc = doc
	}
	f.mu.Unlock()
	close(f.done)
}
