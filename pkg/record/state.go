// Package record derives the composite lifecycle view of a record from the
// cache's dirty-tracking, the request coordinator's signals and the
// validation error list. Nothing here is stored; every snapshot is computed
// on demand so there is no state to drift.
package record

import "github.com/aretw0/strata/pkg/core"

// Inputs collects everything the derivation needs. The store assembles it
// from the cache flags and request counters.
type Inputs struct {
	// From the cache entry.
	Exists            bool
	IsNew             bool
	IsDeleted         bool
	DeletionCommitted bool
	Populated         bool
	Dirty             bool
	Errors            []core.FieldError

	// From the request coordinator.
	PendingFetches   int
	FulfilledFetches int
	Saving           bool

	// LastRequestErrored means the most recent request rejected with a
	// non-validation error and no later request has fulfilled.
	LastRequestErrored bool
}

// Snapshot is the derived lifecycle view exposed to consumers.
type Snapshot struct {
	IsNew     bool
	IsDeleted bool
	IsEmpty   bool
	IsLoading bool
	IsLoaded  bool
	IsDirty   bool
	IsSaving  bool
	IsValid   bool
	IsError   bool
	IsSaved   bool

	// StateName is the composite state path; exactly one applies at any
	// instant (totality is the invariant the precedence chain preserves).
	StateName string

	// DirtyType is "", "created", "updated" or "deleted".
	DirtyType string

	Errors []core.FieldError
}

// State names, in precedence order.
const (
	StateLoading            = "root.loading"
	StateEmpty              = "root.empty"
	StateDeletedInFlight    = "root.deleted.inFlight"
	StateDeletedSaved       = "root.deleted.saved"
	StateDeletedInvalid     = "root.deleted.invalid"
	StateDeletedUncommitted = "root.deleted.uncommitted"
	StateCreatedInFlight    = "root.loaded.created.inFlight"
	StateCreatedInvalid     = "root.loaded.created.invalid"
	StateCreatedUncommitted = "root.loaded.created.uncommitted"
	StateUpdatedInFlight    = "root.loaded.updated.inFlight"
	StateUpdatedInvalid     = "root.loaded.updated.invalid"
	StateUpdatedUncommitted = "root.loaded.updated.uncommitted"
	StateSaved              = "root.loaded.saved"
)

// Derive computes the snapshot. The boolean flags follow the definitions in
// the component contract; StateName/DirtyType apply the precedence order
// loading → empty → deleted.* → created.* → updated.* → saved.
func Derive(in Inputs) Snapshot {
	s := Snapshot{
		IsNew:     in.IsNew,
		IsDeleted: in.IsDeleted,
		IsSaving:  in.Saving,
		IsValid:   len(in.Errors) == 0,
		IsError:   in.LastRequestErrored,
		Errors:    append([]core.FieldError(nil), in.Errors...),
	}

	s.IsEmpty = !in.IsNew && !in.Populated
	s.IsLoaded = in.IsNew || in.FulfilledFetches > 0 || !s.IsEmpty
	s.IsLoading = !s.IsLoaded && in.PendingFetches > 0 && in.FulfilledFetches == 0
	s.IsDirty = !s.IsEmpty &&
		!in.DeletionCommitted &&
		!(in.IsDeleted && in.IsNew) &&
		(in.IsDeleted || in.IsNew || in.Dirty)
	s.IsSaved = !in.IsNew && !s.IsEmpty && s.IsValid && !s.IsDirty && !s.IsLoading &&
		(!in.IsDeleted || in.DeletionCommitted)

	switch {
	case s.IsLoading:
		s.StateName = StateLoading

	case s.IsEmpty:
		s.StateName = StateEmpty

	case in.IsDeleted:
		switch {
		case in.DeletionCommitted || in.IsNew:
			// A never-saved record deleted locally has nothing to persist;
			// it jumps straight to deleted.saved.
			s.StateName = StateDeletedSaved
		case in.Saving:
			s.StateName = StateDeletedInFlight
			s.DirtyType = "deleted"
		case !s.IsValid:
			s.StateName = StateDeletedInvalid
			s.DirtyType = "deleted"
		default:
			s.StateName = StateDeletedUncommitted
			s.DirtyType = "deleted"
		}

	case in.IsNew:
		switch {
		case in.Saving:
			s.StateName = StateCreatedInFlight
		case !s.IsValid:
			s.StateName = StateCreatedInvalid
		default:
			s.StateName = StateCreatedUncommitted
		}
		s.DirtyType = "created"

	case in.Dirty || !s.IsValid:
		switch {
		case in.Saving:
			s.StateName = StateUpdatedInFlight
		case !s.IsValid:
			s.StateName = StateUpdatedInvalid
		default:
			s.StateName = StateUpdatedUncommitted
		}
		s.DirtyType = "updated"

	default:
		s.StateName = StateSaved
	}

	return s
}
