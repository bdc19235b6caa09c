package platform

import (
	"log/slog"

	"github.com/aretw0/strata/pkg/request"
	"github.com/aretw0/strata/pkg/schema"
)

// options holds the internal configuration for a store.
type options struct {
	schema     *schema.Registry
	schemaFile string
	handler    request.Handler
	logger     *slog.Logger
	debug      bool
	buffer     int
}

// Option defines a functional option for configuring a store.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{}
}

// WithSchema sets the schema registry the store validates against.
// Required unless WithSchemaFile is used.
func WithSchema(reg *schema.Registry) Option {
	return func(o *options) {
		o.schema = reg
	}
}

// WithSchemaFile loads the schema from a YAML file at build time.
// Ignored when WithSchema is also given.
func WithSchemaFile(path string) Option {
	return func(o *options) {
		o.schemaFile = path
	}
}

// WithHandler sets the transport boundary requests are issued to. Required.
func WithHandler(h request.Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDebug makes teardown loud: closing a store with pending requests
// returns an error instead of logging a warning.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithEventBuffer sets the size of the Watch channel buffer.
// Zero means default (100).
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.buffer = size
	}
}
