package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
)

// RegistrationRepository handles persistence of activity registrations. All
// state transitions are expressed as conditional updates keyed on the expected
// prior status; an update that affects zero rows means another writer won.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// occupiedStatuses are the statuses that hold a capacity slot.
var occupiedStatuses = []models.RegistrationStatus{
	models.RegistrationPending,
	models.RegistrationApproved,
	models.RegistrationAttended,
}

// activeStatuses block a second registration by the same student. ABSENT is
// in here but not in occupiedStatuses: the slot is freed, the student stays
// bound to the activity.
var activeStatuses = []models.RegistrationStatus{
	models.RegistrationPending,
	models.RegistrationApproved,
	models.RegistrationAttended,
	models.RegistrationAbsent,
}

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations g
LEFT JOIN students s ON s.id = g.student_id
LEFT JOIN activities a ON a.id = g.activity_id`
	var conditions []string
	var args []interface{}

	if filter.ActivityID != "" {
		conditions = append(conditions, fmt.Sprintf("g.activity_id = $%d", len(args)+1))
		args = append(args, filter.ActivityID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("g.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("g.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("g.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "g.created_at",
		"decided_at":   "g.decided_at",
		"student_name": "s.full_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "g.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT g.id, g.activity_id, g.student_id, g.term_id, g.status,
        g.decided_by, g.decided_by_role, g.decided_at, g.rejection_reason, g.created_at, g.updated_at,
        s.full_name AS student_name, a.title AS activity_title, a.scope AS activity_scope, a.class_id
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	const query = `SELECT id, activity_id, student_id, term_id, status, decided_by, decided_by_role, decided_at, rejection_reason, created_at, updated_at FROM registrations WHERE id = $1`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		return nil, err
	}
	return &registration, nil
}

// FindDetailByID returns a registration with activity context.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	const query = `SELECT g.id, g.activity_id, g.student_id, g.term_id, g.status,
        g.decided_by, g.decided_by_role, g.decided_at, g.rejection_reason, g.created_at, g.updated_at,
        s.full_name AS student_name, a.title AS activity_title, a.scope AS activity_scope, a.class_id
        FROM registrations g
        LEFT JOIN students s ON s.id = g.student_id
        LEFT JOIN activities a ON a.id = g.activity_id
        WHERE g.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	detail.CanProcess = detail.Status.Decidable() && detail.DecidedBy == nil
	return &detail, nil
}

// ExistsActive checks whether the student already has an active registration
// on the activity, meaning anything other than REJECTED or CANCELLED.
func (r *RegistrationRepository) ExistsActive(ctx context.Context, activityID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM registrations WHERE activity_id = $1 AND student_id = $2 AND status IN ($3, $4, $5, $6) LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, activityID, studentID,
		activeStatuses[0], activeStatuses[1], activeStatuses[2], activeStatuses[3])
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check duplicate registration: %w", err)
	}
	return true, nil
}

// CreateIfCapacity inserts a PENDING registration only while the activity has
// a free slot, counting PENDING, APPROVED and ATTENDED rows. The guard runs
// inside the INSERT so two concurrent registrations cannot both take the last
// slot. Returns false when the activity is full.
func (r *RegistrationRepository) CreateIfCapacity(ctx context.Context, registration *models.Registration, capacity int) (bool, error) {
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = now
	}
	registration.UpdatedAt = registration.CreatedAt
	if registration.Status == "" {
		registration.Status = models.RegistrationPending
	}

	const query = `INSERT INTO registrations (id, activity_id, student_id, term_id, status, created_at, updated_at)
        SELECT $1, $2, $3, $4, $5, $6, $6
        WHERE (SELECT COUNT(*) FROM registrations WHERE activity_id = $2 AND status IN ($7, $8, $9)) < $10`
	res, err := r.db.ExecContext(ctx, query,
		registration.ID, registration.ActivityID, registration.StudentID, registration.TermID,
		registration.Status, registration.CreatedAt,
		occupiedStatuses[0], occupiedStatuses[1], occupiedStatuses[2], capacity)
	if err != nil {
		return false, fmt.Errorf("create registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create registration result: %w", err)
	}
	return affected > 0, nil
}

// CountOccupied returns the number of slot-holding registrations on an activity.
func (r *RegistrationRepository) CountOccupied(ctx context.Context, activityID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE activity_id = $1 AND status IN ($2, $3, $4)`
	var count int
	err := r.db.GetContext(ctx, &count, query, activityID,
		occupiedStatuses[0], occupiedStatuses[1], occupiedStatuses[2])
	if err != nil {
		return 0, fmt.Errorf("count occupied registrations: %w", err)
	}
	return count, nil
}

// ApplyDecision performs the atomic decision transition out of the expected
// status, writing the decider columns in the same statement. Returns false if
// the row was not in the expected status anymore, meaning another writer won.
func (r *RegistrationRepository) ApplyDecision(ctx context.Context, id string, expected models.RegistrationStatus, decision models.Decision) (bool, error) {
	const query = `UPDATE registrations
        SET status = $2, decided_by = $3, decided_by_role = $4, decided_at = $5, rejection_reason = $6, updated_at = $5
        WHERE id = $1 AND status = $7`
	res, err := r.db.ExecContext(ctx, query, id, decision.Status, decision.DecidedBy, decision.Role, decision.DecidedAt, decision.Reason, expected)
	if err != nil {
		return false, fmt.Errorf("apply registration decision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply registration decision result: %w", err)
	}
	return affected > 0, nil
}

// TransitionStatus moves a registration from one of the expected statuses to
// the target without touching the decider columns. Used for cancelling an
// already approved registration and for attendance capture.
func (r *RegistrationRepository) TransitionStatus(ctx context.Context, id string, expected []models.RegistrationStatus, to models.RegistrationStatus) (bool, error) {
	if len(expected) == 0 {
		return false, fmt.Errorf("transition registration: no expected status")
	}
	placeholders := make([]string, len(expected))
	args := []interface{}{id, to, time.Now().UTC()}
	for i, s := range expected {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, s)
	}
	query := fmt.Sprintf(`UPDATE registrations SET status = $2, updated_at = $3 WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition registration result: %w", err)
	}
	return affected > 0, nil
}
