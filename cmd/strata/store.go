package main

import (
	"log/slog"
	"os"

	"github.com/aretw0/strata"
	"github.com/aretw0/strata/pkg/adapters/jsonapi"
	"github.com/aretw0/strata/pkg/adapters/memory"
)

// buildStore assembles a store for CLI use: schema from --schema, in-process
// handler (the CLI works on pushed documents, not a live backend).
func buildStore() (*strata.Store, error) {
	return strata.New(
		strata.WithSchemaFile(schemaPath),
		strata.WithHandler(memory.New()),
		strata.WithLogger(slog.Default()),
	)
}

// pushFile loads one JSON:API document file into the store.
func pushFile(st *strata.Store, path string) ([]*strata.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := jsonapi.Decode(data)
	if err != nil {
		return nil, err
	}
	return st.Push(doc)
}
