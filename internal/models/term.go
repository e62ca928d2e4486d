package models

import "time"

// TermLifecycle represents the write-gate state of an academic term.
type TermLifecycle string

const (
	TermActive     TermLifecycle = "ACTIVE"
	TermClosing    TermLifecycle = "CLOSING"
	TermLockedSoft TermLifecycle = "LOCKED_SOFT"
	TermLockedHard TermLifecycle = "LOCKED_HARD"
	TermArchived   TermLifecycle = "ARCHIVED"
)

// termOrder fixes the monotonic progression of lifecycle states.
var termOrder = map[TermLifecycle]int{
	TermActive:     0,
	TermClosing:    1,
	TermLockedSoft: 2,
	TermLockedHard: 3,
	TermArchived:   4,
}

// Valid reports whether the value is a known lifecycle state.
func (s TermLifecycle) Valid() bool {
	_, ok := termOrder[s]
	return ok
}

// CanAdvanceTo reports whether the state may progress to next. Only single
// forward steps are allowed; backward moves require out-of-band intervention.
func (s TermLifecycle) CanAdvanceTo(next TermLifecycle) bool {
	cur, okCur := termOrder[s]
	nxt, okNext := termOrder[next]
	return okCur && okNext && nxt == cur+1
}

// AllowsWrite applies the write-gate permission matrix: students, monitors and
// teachers may write while the term is ACTIVE or CLOSING, admins additionally
// during the LOCKED_SOFT grace window. LOCKED_HARD and ARCHIVED reject everyone.
func (s TermLifecycle) AllowsWrite(role UserRole) bool {
	switch s {
	case TermActive, TermClosing:
		return true
	case TermLockedSoft:
		return role == RoleAdmin
	default:
		return false
	}
}

// Term models an academic term within the institution calendar.
type Term struct {
	ID           string        `db:"id" json:"id"`
	Name         string        `db:"name" json:"name"`
	AcademicYear string        `db:"academic_year" json:"academic_year"`
	Half         int           `db:"half" json:"half"`
	StartDate    time.Time     `db:"start_date" json:"start_date"`
	EndDate      time.Time     `db:"end_date" json:"end_date"`
	Lifecycle    TermLifecycle `db:"lifecycle" json:"lifecycle"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// TermWritability is the advisory hint returned to read-side callers. Every
// write path re-derives the gate independently; this value is never cached.
type TermWritability struct {
	TermID    string        `json:"term_id"`
	Lifecycle TermLifecycle `json:"lifecycle"`
	Writable  bool          `json:"writable"`
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear string
	Lifecycle    TermLifecycle
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
