package models

import "time"

// RegistrationStatus represents the lifecycle of a registration. Exactly one
// status holds at any time.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "PENDING"
	RegistrationApproved  RegistrationStatus = "APPROVED"
	RegistrationRejected  RegistrationStatus = "REJECTED"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
	RegistrationAttended  RegistrationStatus = "ATTENDED"
	RegistrationAbsent    RegistrationStatus = "ABSENT"
)

// CountsTowardCapacity reports whether a registration in this status occupies
// a slot. Rejected and cancelled registrations free their slot immediately.
func (s RegistrationStatus) CountsTowardCapacity() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationAttended:
		return true
	}
	return false
}

// Decidable reports whether approve/reject is still possible.
func (s RegistrationStatus) Decidable() bool {
	return s == RegistrationPending
}

// BlocksReregistration reports whether a registration in this status stops
// the student from registering for the same activity again. Broader than
// CountsTowardCapacity: an ABSENT row no longer holds a slot but still pins
// the student to the activity; only rejection and cancellation free them.
func (s RegistrationStatus) BlocksReregistration() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationAttended, RegistrationAbsent:
		return true
	}
	return false
}

// Registration is a student's request to take part in an activity. The
// decided_* columns are all null while PENDING and set atomically with the
// first transition out of it.
type Registration struct {
	ID              string             `db:"id" json:"id"`
	ActivityID      string             `db:"activity_id" json:"activity_id"`
	StudentID       string             `db:"student_id" json:"student_id"`
	TermID          string             `db:"term_id" json:"term_id"`
	Status          RegistrationStatus `db:"status" json:"status"`
	DecidedBy       *string            `db:"decided_by" json:"decided_by,omitempty"`
	DecidedByRole   *UserRole          `db:"decided_by_role" json:"decided_by_role,omitempty"`
	DecidedAt       *time.Time         `db:"decided_at" json:"decided_at,omitempty"`
	RejectionReason *string            `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches Registration with activity context needed by
// authorization and display.
type RegistrationDetail struct {
	Registration
	StudentName   string        `db:"student_name" json:"student_name"`
	ActivityTitle string        `db:"activity_title" json:"activity_title"`
	ActivityScope ActivityScope `db:"activity_scope" json:"activity_scope"`
	ClassID       *string       `db:"class_id" json:"class_id,omitempty"`
	// CanProcess is a best-effort display hint ("nobody has decided this
	// yet"); the conditional update remains the sole arbiter of the race.
	CanProcess bool `db:"-" json:"can_process"`
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	ActivityID string
	StudentID  string
	TermID     string
	Status     RegistrationStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// Decision carries the fields written together with a status transition out
// of PENDING.
type Decision struct {
	Status    RegistrationStatus
	DecidedBy string
	Role      UserRole
	DecidedAt time.Time
	Reason    *string
}

// BulkOutcome labels the per-item result of a bulk decision call.
type BulkOutcome string

const (
	BulkOutcomeApproved          BulkOutcome = "approved"
	BulkOutcomeRejected          BulkOutcome = "rejected"
	BulkOutcomeAlreadyProcessed  BulkOutcome = "alreadyProcessed"
	BulkOutcomeInvalidTransition BulkOutcome = "invalidTransition"
	BulkOutcomeForbidden         BulkOutcome = "forbidden"
	BulkOutcomeTermLocked        BulkOutcome = "termLocked"
	BulkOutcomeNotFound          BulkOutcome = "notFound"
	BulkOutcomeError             BulkOutcome = "error"
)

// BulkItemResult is one entry of a bulk decision response. The call as a
// whole succeeds even when individual items fail.
type BulkItemResult struct {
	ID      string      `json:"id"`
	Outcome BulkOutcome `json:"outcome"`
	Message string      `json:"message,omitempty"`
}
