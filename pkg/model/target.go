package model

import "time"

// TargetRecord is the persisted lock record of a test target. ID is the
// target identifier (an IP address or hostname). Holder is empty when free.
type TargetRecord struct {
	ID        string    `json:"id"`
	Occupied  bool      `json:"occupied"`
	Holder    string    `json:"holder"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State derives the lock state of the record.
func (r *TargetRecord) State() TargetState {
	if r == nil {
		return TargetStateUnknown
	}
	if r.Occupied {
		return TargetStateOccupied
	}
	return TargetStateFree
}

// TargetQuery selects target records. Nil fields match anything.
type TargetQuery struct {
	ID       *string `json:"id,omitempty"`
	Occupied *bool   `json:"occupied,omitempty"`
	Holder   *string `json:"holder,omitempty"`
}

// Matches reports whether rec satisfies every set field of q.
func (q TargetQuery) Matches(rec *TargetRecord) bool {
	if q.ID != nil && rec.ID != *q.ID {
		return false
	}
	if q.Occupied != nil && rec.Occupied != *q.Occupied {
		return false
	}
	if q.Holder != nil && rec.Holder != *q.Holder {
		return false
	}
	return true
}

// TargetPatch lists the fields an update writes. Nil fields are untouched.
type TargetPatch struct {
	Occupied *bool   `json:"occupied,omitempty"`
	Holder   *string `json:"holder,omitempty"`
}

// Apply writes the set fields of p into rec.
func (p TargetPatch) Apply(rec *TargetRecord) {
	if p.Occupied != nil {
		rec.Occupied = *p.Occupied
	}
	if p.Holder != nil {
		rec.Holder = *p.Holder
	}
}

// Projection names the record fields a search returns. Empty means all.
type Projection []string

// Ptr returns a pointer to v. Used to build queries and patches.
func Ptr[T any](v T) *T {
	return &v
}
