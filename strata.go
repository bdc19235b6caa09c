package strata

import (
	"log/slog"

	"github.com/aretw0/strata/internal/platform"
	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/request"
	"github.com/aretw0/strata/pkg/schema"
	"github.com/aretw0/strata/pkg/store"
	"github.com/aretw0/strata/pkg/typed"
)

// Version exposes the version of the library.
// See version.go for the implementation using go:embed.

// --- Types ---

// Key is a public alias for the stable record identity.
type Key = core.Key

// Document is a public alias for the normalized document shape.
type Document = core.Document

// Resource is a public alias for one normalized resource object.
type Resource = core.Resource

// Store is a public alias for the record store.
type Store = store.Store

// Schema is a public alias for the schema registry.
type Schema = schema.Registry

// Handler is a public alias for the transport boundary.
type Handler = request.Handler

// HandlerFunc adapts a function to the transport boundary.
type HandlerFunc = request.HandlerFunc

// RecordModel is a public alias for the typed record model.
type RecordModel[T any] = typed.RecordModel[T]

// TypedStore is a public alias for the typed store wrapper.
type TypedStore[T any] = typed.Store[T]

// --- Configuration ---

// Option defines a functional option for configuring a store.
type Option = platform.Option

// WithSchema sets the schema registry the store validates against.
func WithSchema(reg *schema.Registry) Option {
	return platform.WithSchema(reg)
}

// WithSchemaFile loads the schema from a YAML file at build time.
func WithSchemaFile(path string) Option {
	return platform.WithSchemaFile(path)
}

// WithHandler sets the transport boundary requests are issued to.
func WithHandler(h request.Handler) Option {
	return platform.WithHandler(h)
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithDebug makes teardown strict about pending requests.
func WithDebug(debug bool) Option {
	return platform.WithDebug(debug)
}

// WithEventBuffer sets the size of the Watch channel buffer.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// --- Factory ---

// New creates a new record Store.
func New(opts ...Option) (*store.Store, error) {
	return platform.New(opts...)
}

// --- Typed Factories ---

// NewTypedStore creates a type-safe wrapper for one resource type on an
// existing store.
func NewTypedStore[T any](st *store.Store, typeName string) *typed.Store[T] {
	return typed.NewStore[T](st, typeName)
}
