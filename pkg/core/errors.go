package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for structural misuse. These indicate a programming error
// at the call site; they surface synchronously and are never retried.
var (
	// ErrUnknownResource means an operation referenced an identity with no
	// cache entry.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrUnknownRelationship means a relationship field is not declared in
	// the resource's schema.
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrUnknownAttribute means an attribute field is not declared in the
	// resource's schema.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrStoreClosed means the store has been torn down.
	ErrStoreClosed = errors.New("store is closed")
)

// ConflictError reports an id collision in the identity registry: two
// distinct keys claiming the same (type, id). Fatal for that resource's
// creation path.
type ConflictError struct {
	Type string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity conflict: %s:%s is already bound to another record", e.Type, e.ID)
}

// FieldError is one per-field validation message.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is a mutation request rejected by the server with
// per-field messages. It is recovered locally: the record's errors are
// populated and it returns to an editable "invalid" state. It never marks
// the record as errored (IsError stays false).
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldFromPointer derives the attribute name from a source-pointer-like
// identifier ("data/attributes/name" or "/data/attributes/name" -> "name").
// Unrecognized pointers fall back to the last path segment.
func FieldFromPointer(pointer string) string {
	p := strings.Trim(pointer, "/")
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	return segs[len(segs)-1]
}

// TransportError is any non-validation request rejection. The record keeps
// its prior dirty/loaded state so local edits are not lost; the lifecycle
// view exposes it via IsError.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MemoryLeakError reports that a store was torn down while requests were
// still pending. Debug builds surface it loudly to catch unawaited async
// work; production teardown logs and moves on.
type MemoryLeakError struct {
	Pending int
}

func (e *MemoryLeakError) Error() string {
	return fmt.Sprintf("store closed with %d request(s) still pending", e.Pending)
}
