package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	AdvanceLifecycle(ctx context.Context, id string, from, to models.TermLifecycle) (bool, error)
}

// AdvanceTermRequest moves a term one lifecycle step forward.
type AdvanceTermRequest struct {
	Target models.TermLifecycle `json:"target" validate:"required"`
}

// TermService owns the term write-gate. Every write path consults it with a
// fresh database read; the gate result is never cached across requests.
type TermService struct {
	repo      termRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService creates a new term service instance.
func NewTermService(repo termRepository, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated terms.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
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
	return terms, pagination, nil
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Writability reports whether non-admin writes are currently accepted. The
// result is an advisory hint for clients; every write re-derives the gate.
func (s *TermService) Writability(ctx context.Context, id string) (*models.TermWritability, error) {
	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.TermWritability{
		TermID:    term.ID,
		Lifecycle: term.Lifecycle,
		Writable:  term.Lifecycle.AllowsWrite(models.RoleStudent),
	}, nil
}

// CheckWrite enforces the write-gate for one operation. It returns the term's
// current lifecycle state plus nil when the role may write, or a TermLocked
// error carrying that state otherwise. Evaluated before authorization so a
// locked term rejects even fully entitled actors.
func (s *TermService) CheckWrite(ctx context.Context, termID string, role models.UserRole) (models.TermLifecycle, error) {
	term, err := s.repo.FindByID(ctx, termID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if !term.Lifecycle.AllowsWrite(role) {
		return term.Lifecycle, appErrors.TermLocked(string(term.Lifecycle))
	}
	return term.Lifecycle, nil
}

// Advance moves the term one lifecycle step forward. The progression is
// monotonic; skipping states or moving backward is rejected.
func (s *TermService) Advance(ctx context.Context, id string, req AdvanceTermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid advance payload")
	}
	if !req.Target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle state")
	}

	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !term.Lifecycle.CanAdvanceTo(req.Target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "term lifecycle may only advance one step forward")
	}

	ok, err := s.repo.AdvanceLifecycle(ctx, id, term.Lifecycle, req.Target)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance term")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "term lifecycle changed concurrently")
	}

	s.logger.Info("term lifecycle advanced",
		zap.String("term_id", id),
		zap.String("from", string(term.Lifecycle)),
		zap.String("to", string(req.Target)))

	return s.Get(ctx, id)
}
