package models

import "time"

// ActivityScope determines who may approve registrations for an activity.
type ActivityScope string

const (
	// ScopeClass restricts the activity to one class; its monitor and the
	// supervising teacher are both entitled to decide registrations.
	ScopeClass ActivityScope = "CLASS"
	// ScopeOpen opens the activity across classes; only teachers and admins
	// may decide registrations.
	ScopeOpen ActivityScope = "OPEN"
)

// ApprovalStatus is the lifecycle of an activity itself: created PENDING by a
// monitor, decided once by a teacher or admin.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Activity is an extracurricular event students may register for.
type Activity struct {
	ID             string         `db:"id" json:"id"`
	TermID         string         `db:"term_id" json:"term_id"`
	ClassID        *string        `db:"class_id" json:"class_id,omitempty"`
	Title          string         `db:"title" json:"title"`
	Description    string         `db:"description" json:"description"`
	Scope          ActivityScope  `db:"scope" json:"scope"`
	Capacity       int            `db:"capacity" json:"capacity"`
	Deadline       time.Time      `db:"deadline" json:"deadline"`
	StartTime      time.Time      `db:"start_time" json:"start_time"`
	EndTime        time.Time      `db:"end_time" json:"end_time"`
	ApprovalStatus ApprovalStatus `db:"approval_status" json:"approval_status"`
	CreatedBy      string         `db:"created_by" json:"created_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ActivityFilter provides filters for listing activities.
type ActivityFilter struct {
	TermID         string
	ClassID        string
	Scope          ActivityScope
	ApprovalStatus ApprovalStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
