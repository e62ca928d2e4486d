package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

type registrationRepository interface {
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	ExistsActive(ctx context.Context, activityID, studentID string) (bool, error)
	CreateIfCapacity(ctx context.Context, registration *models.Registration, capacity int) (bool, error)
	ApplyDecision(ctx context.Context, id string, expected models.RegistrationStatus, decision models.Decision) (bool, error)
	TransitionStatus(ctx context.Context, id string, expected []models.RegistrationStatus, to models.RegistrationStatus) (bool, error)
}

type activityReader interface {
	FindByID(ctx context.Context, id string) (*models.Activity, error)
}

type writeGate interface {
	CheckWrite(ctx context.Context, termID string, role models.UserRole) (models.TermLifecycle, error)
}

type authorizer interface {
	Authorize(scope models.ActivityScope, classID *string, actor models.Actor) error
	CanProcess(detail *models.RegistrationDetail, actor models.Actor) bool
}

type eventPublisher interface {
	Publish(event models.RegistrationEvent)
}

// RegisterRequest creates a PENDING registration. StudentID is honored only
// for admin callers acting on a student's behalf; students always register
// themselves.
type RegisterRequest struct {
	ActivityID string `json:"activity_id" validate:"required"`
	StudentID  string `json:"student_id"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// AttendanceRequest records presence for an approved registration.
type AttendanceRequest struct {
	Present *bool `json:"present" validate:"required"`
}

// BulkDecisionRequest applies one decision to a batch of registrations.
type BulkDecisionRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1,dive,required"`
	Reason string   `json:"reason"`
}

// RegistrationService is the registration lifecycle engine. Every transition
// is a single conditional update against the store; there is no in-process
// lock, so concurrent workers arbitrate purely through the database.
type RegistrationService struct {
	repo       registrationRepository
	activities activityReader
	gate       writeGate
	authority  authorizer
	events     eventPublisher
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger

	bulkMaxItems int
}

// NewRegistrationService constructs the engine.
func NewRegistrationService(repo registrationRepository, activities activityReader, gate writeGate, authority authorizer, events eventPublisher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, bulkMaxItems int) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bulkMaxItems <= 0 {
		bulkMaxItems = 100
	}
	return &RegistrationService{
		repo:         repo,
		activities:   activities,
		gate:         gate,
		authority:    authority,
		events:       events,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		bulkMaxItems: bulkMaxItems,
	}
}

// List returns registrations with pagination metadata. The CanProcess hint is
// resolved against the calling actor for display purposes only.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter, actor models.Actor) ([]models.RegistrationDetail, *models.Pagination, error) {
	if actor.Role == models.RoleStudent {
		// Students only ever see their own registrations.
		filter.StudentID = actor.UserID
	}
	registrations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	for i := range registrations {
		registrations[i].CanProcess = s.authority.CanProcess(&registrations[i], actor)
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
	return registrations, pagination, nil
}

// Register creates a PENDING registration for an approved activity. The term
// gate is consulted first, then the activity preconditions; the capacity
// guard runs inside the insert itself.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest, actor models.Actor) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	studentID := actor.UserID
	switch actor.Role {
	case models.RoleStudent:
	case models.RoleAdmin:
		if req.StudentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required for admin registration")
		}
		studentID = req.StudentID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students may register")
	}

	activity, err := s.activities.FindByID(ctx, req.ActivityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}

	if err := s.checkGate(ctx, activity.TermID, actor.Role); err != nil {
		return nil, err
	}

	if activity.ApprovalStatus != models.ApprovalApproved {
		return nil, appErrors.Clone(appErrors.ErrActivityNotApproved, "")
	}
	if time.Now().UTC().After(activity.Deadline) {
		return nil, appErrors.Clone(appErrors.ErrDeadlinePassed, "")
	}

	exists, err := s.repo.ExistsActive(ctx, activity.ID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing registration")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateRegistration, "")
	}

	registration := &models.Registration{
		ActivityID: activity.ID,
		StudentID:  studentID,
		TermID:     activity.TermID,
		Status:     models.RegistrationPending,
	}
	created, err := s.repo.CreateIfCapacity(ctx, registration, activity.Capacity)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}
	if !created {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	}

	s.publish(models.EventRegistrationCreated, *registration, actor)
	s.metrics.RecordDecision("registered")

	return s.detail(ctx, registration.ID, actor)
}

// Cancel withdraws the student's own registration while it is still PENDING
// or APPROVED. Admins may cancel any registration.
func (s *RegistrationService) Cancel(ctx context.Context, id string, actor models.Actor) (*models.RegistrationDetail, error) {
	registration, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		if registration.StudentID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another student")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning student may cancel")
	}

	if err := s.checkGate(ctx, registration.TermID, actor.Role); err != nil {
		return nil, err
	}

	var ok bool
	switch registration.Status {
	case models.RegistrationPending:
		// Leaving PENDING writes the decider columns; the student is the
		// one deciding their own registration here.
		ok, err = s.repo.ApplyDecision(ctx, id, models.RegistrationPending, models.Decision{
			Status:    models.RegistrationCancelled,
			DecidedBy: actor.UserID,
			Role:      actor.Role,
			DecidedAt: time.Now().UTC(),
		})
	case models.RegistrationApproved:
		// The original approval audit stays in place.
		ok, err = s.repo.TransitionStatus(ctx, id, []models.RegistrationStatus{models.RegistrationApproved}, models.RegistrationCancelled)
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "registration can no longer be cancelled")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel registration")
	}
	if !ok {
		return nil, s.lostRace(ctx, id)
	}

	detail, err := s.detail(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.publish(models.EventRegistrationCancelled, detail.Registration, actor)
	s.metrics.RecordDecision("cancelled")
	return detail, nil
}

// Approve decides a PENDING registration in the actor's favor.
func (s *RegistrationService) Approve(ctx context.Context, id string, actor models.Actor) (*models.RegistrationDetail, error) {
	return s.decide(ctx, id, actor, models.RegistrationApproved, nil)
}

// Reject decides a PENDING registration negatively. The reason is mandatory
// and is never defaulted.
func (s *RegistrationService) Reject(ctx context.Context, id string, actor models.Actor, req RejectRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection reason is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason must not be empty")
	}
	return s.decide(ctx, id, actor, models.RegistrationRejected, &reason)
}

// RecordAttendance moves an APPROVED registration to ATTENDED or ABSENT. It
// is exposed to the attendance-capture collaborator only.
func (s *RegistrationService) RecordAttendance(ctx context.Context, id string, req AttendanceRequest, actor models.Actor) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attendance is captured by teachers")
	}

	registration, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkGate(ctx, registration.TermID, actor.Role); err != nil {
		return nil, err
	}
	if registration.Status != models.RegistrationApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "attendance requires an approved registration")
	}

	target := models.RegistrationAbsent
	eventType := models.EventRegistrationAbsent
	outcome := "absent"
	if *req.Present {
		target = models.RegistrationAttended
		eventType = models.EventRegistrationAttended
		outcome = "attended"
	}

	ok, err := s.repo.TransitionStatus(ctx, id, []models.RegistrationStatus{models.RegistrationApproved}, target)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	if !ok {
		return nil, s.lostRace(ctx, id)
	}

	detail, err := s.detail(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.publish(eventType, detail.Registration, actor)
	s.metrics.RecordDecision(outcome)
	return detail, nil
}

// BulkApprove applies approve to each id independently. One bad id never
// aborts the rest; the caller receives a per-item breakdown.
func (s *RegistrationService) BulkApprove(ctx context.Context, req BulkDecisionRequest, actor models.Actor) ([]models.BulkItemResult, error) {
	return s.bulkDecide(ctx, req, actor, models.RegistrationApproved)
}

// BulkReject applies reject with a shared reason to each id independently.
func (s *RegistrationService) BulkReject(ctx context.Context, req BulkDecisionRequest, actor models.Actor) ([]models.BulkItemResult, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason must not be empty")
	}
	return s.bulkDecide(ctx, req, actor, models.RegistrationRejected)
}

// Get returns one registration with the actor-specific CanProcess hint.
func (s *RegistrationService) Get(ctx context.Context, id string, actor models.Actor) (*models.RegistrationDetail, error) {
	detail, err := s.detail(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && detail.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another student")
	}
	return detail, nil
}

func (s *RegistrationService) bulkDecide(ctx context.Context, req BulkDecisionRequest, actor models.Actor, target models.RegistrationStatus) ([]models.BulkItemResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if len(req.IDs) > s.bulkMaxItems {
		return nil, appErrors.Clone(appErrors.ErrValidation, "too many items in one bulk call")
	}

	var reason *string
	success := models.BulkOutcomeApproved
	if target == models.RegistrationRejected {
		trimmed := strings.TrimSpace(req.Reason)
		reason = &trimmed
		success = models.BulkOutcomeRejected
	}

	// Each item is its own atomic transition; partial success is the
	// documented contract, so there is no cross-item transaction.
	results := make([]models.BulkItemResult, 0, len(req.IDs))
	for _, id := range req.IDs {
		_, err := s.decide(ctx, id, actor, target, reason)
		if err == nil {
			results = append(results, models.BulkItemResult{ID: id, Outcome: success})
			continue
		}
		results = append(results, models.BulkItemResult{ID: id, Outcome: bulkOutcome(err), Message: appErrors.FromError(err).Message})
	}
	return results, nil
}

// decide is the shared approve/reject path: gate first, then authority, then
// the conditional update that arbitrates concurrent deciders.
func (s *RegistrationService) decide(ctx context.Context, id string, actor models.Actor, target models.RegistrationStatus, reason *string) (*models.RegistrationDetail, error) {
	detail, err := s.detail(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if err := s.checkGate(ctx, detail.TermID, actor.Role); err != nil {
		return nil, err
	}
	if err := s.authority.Authorize(detail.ActivityScope, detail.ClassID, actor); err != nil {
		return nil, err
	}
	if !detail.Status.Decidable() {
		// Reading a decided row means another decider got there first, or
		// this is a retry of a decision that already landed. Either way the
		// caller gets the same answer as a lost conditional update.
		s.metrics.RecordDecision("already_processed")
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "")
	}

	ok, err := s.repo.ApplyDecision(ctx, id, models.RegistrationPending, models.Decision{
		Status:    target,
		DecidedBy: actor.UserID,
		Role:      actor.Role,
		DecidedAt: time.Now().UTC(),
		Reason:    reason,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide registration")
	}
	if !ok {
		return nil, s.lostRace(ctx, id)
	}

	decided, err := s.detail(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	eventType := models.EventRegistrationApproved
	outcome := "approved"
	if target == models.RegistrationRejected {
		eventType = models.EventRegistrationRejected
		outcome = "rejected"
	}
	s.publish(eventType, decided.Registration, actor)
	s.metrics.RecordDecision(outcome)

	s.logger.Info("registration decided",
		zap.String("registration_id", id),
		zap.String("status", string(target)),
		zap.String("decided_by", actor.UserID),
		zap.String("role", string(actor.Role)))

	return decided, nil
}

// lostRace classifies a conditional update that affected zero rows: the row
// is either gone or was concurrently moved to another status. The latter is
// reported as AlreadyProcessed so callers can tell "someone else just decided
// this" apart from "this was never decidable".
func (s *RegistrationService) lostRace(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload registration")
	}
	s.metrics.RecordDecision("already_processed")
	return appErrors.Clone(appErrors.ErrAlreadyProcessed, "")
}

func (s *RegistrationService) checkGate(ctx context.Context, termID string, role models.UserRole) error {
	state, err := s.gate.CheckWrite(ctx, termID, role)
	if err != nil && errors.Is(err, appErrors.ErrTermLocked) {
		s.metrics.RecordGateRejection(string(state))
	}
	return err
}

func (s *RegistrationService) find(ctx context.Context, id string) (*models.Registration, error) {
	registration, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return registration, nil
}

func (s *RegistrationService) detail(ctx context.Context, id string, actor models.Actor) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	detail.CanProcess = s.authority.CanProcess(detail, actor)
	return detail, nil
}

func (s *RegistrationService) publish(eventType models.RegistrationEventType, registration models.Registration, actor models.Actor) {
	if s.events == nil {
		return
	}
	s.events.Publish(models.RegistrationEvent{
		Type:         eventType,
		Registration: registration,
		Actor:        actor,
		OccurredAt:   time.Now().UTC(),
	})
}

func bulkOutcome(err error) models.BulkOutcome {
	switch appErrors.FromError(err).Code {
	case appErrors.ErrNotFound.Code:
		return models.BulkOutcomeNotFound
	case appErrors.ErrAlreadyProcessed.Code:
		return models.BulkOutcomeAlreadyProcessed
	case appErrors.ErrInvalidTransition.Code:
		return models.BulkOutcomeInvalidTransition
	case appErrors.ErrForbidden.Code:
		return models.BulkOutcomeForbidden
	case appErrors.ErrTermLocked.Code:
		return models.BulkOutcomeTermLocked
	default:
		return models.BulkOutcomeError
	}
}
