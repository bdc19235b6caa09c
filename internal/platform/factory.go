// Package platform assembles stores from functional options. It is the glue
// between the public facade and the core packages; applications normally go
// through the root package instead of importing this directly.
package platform

import (
	"errors"
	"fmt"

	"github.com/aretw0/strata/pkg/schema"
	"github.com/aretw0/strata/pkg/store"
)

// New builds a store from options. A schema (inline or from file) and a
// request handler are required.
func New(opts ...Option) (*store.Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	reg := o.schema
	if reg == nil && o.schemaFile != "" {
		loaded, err := schema.LoadFile(o.schemaFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		reg = loaded
	}
	if reg == nil {
		return nil, errors.New("a schema is required (WithSchema or WithSchemaFile)")
	}
	if o.handler == nil {
		return nil, errors.New("a request handler is required (WithHandler)")
	}

	return store.New(store.Config{
		Schema:      reg,
		Handler:     o.handler,
		Logger:      o.logger,
		Debug:       o.debug,
		EventBuffer: o.buffer,
	})
}
