package memory

import (
	"github.com/aretw0/introspection"
)

// HandlerState exposes internal state for observability.
type HandlerState struct {
	SeededDocuments int  `json:"seeded_documents"`
	SeededRelated   int  `json:"seeded_related"`
	TotalRequests   int  `json:"total_requests"`
	Holding         bool `json:"holding"`
}

// State implements introspection.Introspectable.
func (h *Handler) State() any {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HandlerState{
		SeededDocuments: len(h.docs),
		SeededRelated:   len(h.related),
		TotalRequests:   h.total,
		Holding:         h.hold != nil,
	}
}

// ComponentType implements introspection.Component.
func (h *Handler) ComponentType() string {
	return "memory-handler"
}

var _ introspection.Introspectable = (*Handler)(nil)
var _ introspection.Component = (*Handler)(nil)
