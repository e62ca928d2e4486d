package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
)

// ActivityRepository handles persistence of extracurricular activities.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const activityColumns = `id, term_id, class_id, title, description, scope, capacity, deadline, start_time, end_time, approval_status, created_by, created_at, updated_at`

// List returns activities matching provided filters.
func (r *ActivityRepository) List(ctx context.Context, filter models.ActivityFilter) ([]models.Activity, int, error) {
	base := "FROM activities WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Scope != "" {
		conditions = append(conditions, fmt.Sprintf("scope = $%d", len(args)+1))
		args = append(args, filter.Scope)
	}
	if filter.ApprovalStatus != "" {
		conditions = append(conditions, fmt.Sprintf("approval_status = $%d", len(args)+1))
		args = append(args, filter.ApprovalStatus)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"title":      true,
		"deadline":   true,
		"start_time": true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_time"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", activityColumns, base, sortBy, order, size, offset)

	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}
	return activities, total, nil
}

// FindByID loads an activity by identifier.
func (r *ActivityRepository) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE id = $1`, activityColumns)
	var activity models.Activity
	if err := r.db.GetContext(ctx, &activity, query, id); err != nil {
		return nil, err
	}
	return &activity, nil
}

// Create inserts a new activity record.
func (r *ActivityRepository) Create(ctx context.Context, activity *models.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now
	if activity.ApprovalStatus == "" {
		activity.ApprovalStatus = models.ApprovalPending
	}

	const query = `INSERT INTO activities (id, term_id, class_id, title, description, scope, capacity, deadline, start_time, end_time, approval_status, created_by, created_at, updated_at)
        VALUES (:id, :term_id, :class_id, :title, :description, :scope, :capacity, :deadline, :start_time, :end_time, :approval_status, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

// ApplyApproval decides a PENDING activity, using the same conditional-update
// arbitration as registrations. Returns false when the activity was already
// decided.
func (r *ActivityRepository) ApplyApproval(ctx context.Context, id string, status models.ApprovalStatus) (bool, error) {
	const query = `UPDATE activities SET approval_status = $2, updated_at = $3 WHERE id = $1 AND approval_status = $4`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC(), models.ApprovalPending)
	if err != nil {
		return false, fmt.Errorf("apply activity approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply activity approval result: %w", err)
	}
	return affected > 0, nil
}
