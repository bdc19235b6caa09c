package store

import (
	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Keys            int  `json:"keys"`
	Records         int  `json:"records"`
	Edges           int  `json:"edges"`
	PendingRequests int  `json:"pending_requests"`
	EventBufferSize int  `json:"event_buffer_size"`
	Closed          bool `json:"closed"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	return StoreState{
		Keys:            s.idents.Len(),
		Records:         s.cache.Len(),
		Edges:           s.graph.EdgeCount(),
		PendingRequests: s.coord.Pending(),
		EventBufferSize: s.eventBuffer,
		Closed:          s.closed.Load(),
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
