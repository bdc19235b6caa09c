package record

import (
	"testing"

	"github.com/aretw0/strata/pkg/core"
)

func TestDerive_StateNames(t *testing.T) {
	invalid := []core.FieldError{{Field: "title", Message: "too short"}}

	cases := []struct {
		name      string
		in        Inputs
		wantState string
		wantDirty string
	}{
		{
			name:      "loading",
			in:        Inputs{Exists: true, PendingFetches: 1},
			wantState: StateLoading,
		},
		{
			name:      "empty before any data",
			in:        Inputs{Exists: true},
			wantState: StateEmpty,
		},
		{
			name:      "empty for unknown record",
			in:        Inputs{},
			wantState: StateEmpty,
		},
		{
			name:      "saved after load",
			in:        Inputs{Exists: true, Populated: true, FulfilledFetches: 1},
			wantState: StateSaved,
		},
		{
			name:      "created uncommitted",
			in:        Inputs{Exists: true, IsNew: true, Dirty: true},
			wantState: StateCreatedUncommitted,
			wantDirty: "created",
		},
		{
			name:      "created in flight",
			in:        Inputs{Exists: true, IsNew: true, Dirty: true, Saving: true},
			wantState: StateCreatedInFlight,
			wantDirty: "created",
		},
		{
			name:      "created invalid",
			in:        Inputs{Exists: true, IsNew: true, Errors: invalid},
			wantState: StateCreatedInvalid,
			wantDirty: "created",
		},
		{
			name:      "updated uncommitted",
			in:        Inputs{Exists: true, Populated: true, Dirty: true},
			wantState: StateUpdatedUncommitted,
			wantDirty: "updated",
		},
		{
			name:      "updated in flight",
			in:        Inputs{Exists: true, Populated: true, Dirty: true, Saving: true},
			wantState: StateUpdatedInFlight,
			wantDirty: "updated",
		},
		{
			name:      "updated invalid",
			in:        Inputs{Exists: true, Populated: true, Errors: invalid},
			wantState: StateUpdatedInvalid,
			wantDirty: "updated",
		},
		{
			name:      "deleted uncommitted",
			in:        Inputs{Exists: true, Populated: true, IsDeleted: true},
			wantState: StateDeletedUncommitted,
			wantDirty: "deleted",
		},
		{
			name:      "deleted in flight",
			in:        Inputs{Exists: true, Populated: true, IsDeleted: true, Saving: true},
			wantState: StateDeletedInFlight,
			wantDirty: "deleted",
		},
		{
			name:      "deleted saved",
			in:        Inputs{Exists: true, Populated: true, IsDeleted: true, DeletionCommitted: true},
			wantState: StateDeletedSaved,
		},
		{
			name:      "new record deleted locally skips persistence",
			in:        Inputs{Exists: true, IsNew: true, IsDeleted: true},
			wantState: StateDeletedSaved,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(tc.in)
			if got.StateName != tc.wantState {
				t.Errorf("StateName = %s, want %s", got.StateName, tc.wantState)
			}
			if got.DirtyType != tc.wantDirty {
				t.Errorf("DirtyType = %q, want %q", got.DirtyType, tc.wantDirty)
			}
		})
	}
}

func TestDerive_Flags(t *testing.T) {
	// A pending fetch on a loaded record must not report loading.
	s := Derive(Inputs{Exists: true, Populated: true, FulfilledFetches: 1, PendingFetches: 1})
	if s.IsLoading {
		t.Errorf("background refresh must not report IsLoading")
	}
	if !s.IsLoaded {
		t.Errorf("expected IsLoaded")
	}

	// Deleting a new record cancels its dirtiness.
	s = Derive(Inputs{Exists: true, IsNew: true, IsDeleted: true})
	if s.IsDirty {
		t.Errorf("new+deleted must not be dirty")
	}

	// A committed deletion is saved, not dirty.
	s = Derive(Inputs{Exists: true, Populated: true, IsDeleted: true, DeletionCommitted: true})
	if s.IsDirty || !s.IsSaved {
		t.Errorf("committed deletion should be saved, got dirty=%v saved=%v", s.IsDirty, s.IsSaved)
	}

	// Validation errors flip IsValid, transport errors flip IsError.
	s = Derive(Inputs{Exists: true, Populated: true, Errors: []core.FieldError{{Field: "x"}}})
	if s.IsValid {
		t.Errorf("expected IsValid=false with errors present")
	}
	s = Derive(Inputs{Exists: true, Populated: true, LastRequestErrored: true})
	if !s.IsError {
		t.Errorf("expected IsError=true")
	}
}

// TestDerive_Totality sweeps the whole boolean input space: every
// combination must land on exactly one non-empty state name.
func TestDerive_Totality(t *testing.T) {
	names := map[string]bool{
		StateLoading:            true,
		StateEmpty:              true,
		StateDeletedInFlight:    true,
		StateDeletedSaved:       true,
		StateDeletedInvalid:     true,
		StateDeletedUncommitted: true,
		StateCreatedInFlight:    true,
		StateCreatedInvalid:     true,
		StateCreatedUncommitted: true,
		StateUpdatedInFlight:    true,
		StateUpdatedInvalid:     true,
		StateUpdatedUncommitted: true,
		StateSaved:              true,
	}

	for mask := 0; mask < 1<<7; mask++ {
		for _, pending := range []int{0, 1} {
			for _, fulfilled := range []int{0, 1} {
				for _, hasErrors := range []bool{false, true} {
					in := Inputs{
						Exists:             mask&1 != 0,
						IsNew:              mask&2 != 0,
						IsDeleted:          mask&4 != 0,
						DeletionCommitted:  mask&8 != 0,
						Populated:          mask&16 != 0,
						Dirty:              mask&32 != 0,
						Saving:             mask&64 != 0,
						PendingFetches:     pending,
						FulfilledFetches:   fulfilled,
						LastRequestErrored: false,
					}
					if hasErrors {
						in.Errors = []core.FieldError{{Field: "f", Message: "m"}}
					}

					got := Derive(in)
					if !names[got.StateName] {
						t.Fatalf("inputs %+v derived unknown state %q", in, got.StateName)
					}
				}
			}
		}
	}
}
