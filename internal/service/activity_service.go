package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	"github.com/noah-isme/sma-ekskul-api/internal/repository"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

type activityRepository interface {
	List(ctx context.Context, filter models.ActivityFilter) ([]models.Activity, int, error)
	FindByID(ctx context.Context, id string) (*models.Activity, error)
	Create(ctx context.Context, activity *models.Activity) error
	ApplyApproval(ctx context.Context, id string, status models.ApprovalStatus) (bool, error)
}

type activityCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CreateActivityRequest describes payload for proposing an activity.
type CreateActivityRequest struct {
	TermID      string               `json:"term_id" validate:"required"`
	ClassID     string               `json:"class_id"`
	Title       string               `json:"title" validate:"required"`
	Description string               `json:"description"`
	Scope       models.ActivityScope `json:"scope" validate:"required,oneof=CLASS OPEN"`
	Capacity    int                  `json:"capacity" validate:"required,gt=0"`
	Deadline    time.Time            `json:"deadline" validate:"required"`
	StartTime   time.Time            `json:"start_time" validate:"required"`
	EndTime     time.Time            `json:"end_time" validate:"required"`
}

// ActivityService orchestrates the activity proposal/approval workflow: a
// monitor proposes for their class, a teacher or admin decides, through the
// same conditional-update arbitration the registrations use.
type ActivityService struct {
	repo      activityRepository
	gate      writeGate
	cache     activityCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewActivityService constructs ActivityService.
func NewActivityService(repo activityRepository, gate writeGate, cache activityCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *ActivityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ActivityService{repo: repo, gate: gate, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns paginated activities.
func (s *ActivityService) List(ctx context.Context, filter models.ActivityFilter) ([]models.Activity, *models.Pagination, error) {
	activities, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list activities")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return activities, pagination, nil
}

// Get returns an activity by ID, served from cache when warm.
func (s *ActivityService) Get(ctx context.Context, id string) (*models.Activity, error) {
	if s.cache != nil {
		var cached models.Activity
		if err := s.cache.Get(ctx, repository.ActivityKey(id), &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("activity cache read failed", zap.String("activity_id", id), zap.Error(err))
		}
	}

	activity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.ActivityKey(id), activity, s.cacheTTL); err != nil {
			s.logger.Warn("activity cache write failed", zap.String("activity_id", id), zap.Error(err))
		}
	}
	return activity, nil
}

// Create proposes a new activity in PENDING approval status. Monitors may
// only propose CLASS activities for a class within their scope.
func (s *ActivityService) Create(ctx context.Context, req CreateActivityRequest, actor models.Actor) (*models.Activity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid activity payload")
	}
	if !req.Deadline.Before(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "registration deadline must precede start time")
	}
	if !req.StartTime.Before(req.EndTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must precede end time")
	}
	if req.Scope == models.ScopeClass && req.ClassID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class activities require a class_id")
	}
	if req.Scope == models.ScopeOpen && req.ClassID != "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "open activities must not carry a class_id")
	}

	switch actor.Role {
	case models.RoleAdmin, models.RoleTeacher:
	case models.RoleMonitor:
		if req.Scope != models.ScopeClass || !actor.HasClass(req.ClassID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "monitors may only propose activities for their own class")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot propose activities")
	}

	if _, err := s.gate.CheckWrite(ctx, req.TermID, actor.Role); err != nil {
		return nil, err
	}

	activity := &models.Activity{
		TermID:         req.TermID,
		Title:          req.Title,
		Description:    req.Description,
		Scope:          req.Scope,
		Capacity:       req.Capacity,
		Deadline:       req.Deadline,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		ApprovalStatus: models.ApprovalPending,
		CreatedBy:      actor.UserID,
	}
	if req.ClassID != "" {
		classID := req.ClassID
		activity.ClassID = &classID
	}

	if err := s.repo.Create(ctx, activity); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create activity")
	}
	return activity, nil
}

// Approve marks a PENDING activity as APPROVED.
func (s *ActivityService) Approve(ctx context.Context, id string, actor models.Actor) (*models.Activity, error) {
	return s.decide(ctx, id, actor, models.ApprovalApproved)
}

// Reject marks a PENDING activity as REJECTED.
func (s *ActivityService) Reject(ctx context.Context, id string, actor models.Actor) (*models.Activity, error) {
	return s.decide(ctx, id, actor, models.ApprovalRejected)
}

func (s *ActivityService) decide(ctx context.Context, id string, actor models.Actor, status models.ApprovalStatus) (*models.Activity, error) {
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "activities are approved by teachers")
	}

	activity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}

	if _, err := s.gate.CheckWrite(ctx, activity.TermID, actor.Role); err != nil {
		return nil, err
	}
	if activity.ApprovalStatus != models.ApprovalPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "activity was already decided")
	}

	ok, err := s.repo.ApplyApproval(ctx, id, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide activity")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "activity was decided concurrently")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, repository.ActivityKey(id)); err != nil {
			s.logger.Warn("activity cache invalidation failed", zap.String("activity_id", id), zap.Error(err))
		}
	}

	return s.Get(ctx, id)
}
