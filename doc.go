// Package strata is the Composition Root for the Strata library.
//
// It connects the core caching logic (identity, cache, graph, request,
// notify) with the boundary adapters (transport, serialization, filesystem
// feeds) using the Hexagonal Architecture pattern.
//
// Philosophy:
//
// Strata is a normalized in-memory record cache for API clients. It keeps one
// canonical copy of every resource, layers unsaved local edits above it, and
// mirrors relationships in both directions, so application code reads
// consistent records while fetches and saves settle in the background. The
// core is transport-agnostic: JSON:API over HTTP, a directory of documents,
// or an in-process table all feed the same cache through the Handler port.
//
// Features:
//
//   - **Stable identity**: one Key per resource, valid before the server
//     assigns an id and unchanged after it does.
//   - **Canonical/local layering**: background refreshes never clobber
//     unsaved edits; saves promote edits to canonical atomically.
//   - **Bidirectional relationships**: updating one side of an inverse pair
//     updates the other in the same turn.
//   - **Request dedup**: concurrent equivalent fetches share one transport
//     call and one Future.
//   - **Derived lifecycle**: a record's state (loading, dirty, saved...) is
//     computed from cache and request signals, never stored.
//   - **Extensible**: any transport via request.Handler; any serialization
//     that produces core.Document.
//
// Usage:
//
//	// Build a store with functional options
//	st, err := strata.New(
//		strata.WithSchemaFile("schema.yaml"),
//		strata.WithHandler(myTransport),
//		strata.WithLogger(logger),
//	)
//
//	// Fetch a record
//	fut, err := st.FindRecord(ctx, "articles", "1", nil)
//	doc, err := fut.Wait(ctx)
package strata
