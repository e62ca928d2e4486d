package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

type mockTermRepo struct {
	mu    sync.Mutex
	items map[string]*models.Term
}

func newMockTermRepo(terms ...*models.Term) *mockTermRepo {
	repo := &mockTermRepo{items: make(map[string]*models.Term)}
	for _, term := range terms {
		cp := *term
		repo.items[term.ID] = &cp
	}
	return repo
}

func (m *mockTermRepo) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.Term
	for _, term := range m.items {
		if filter.Lifecycle != "" && term.Lifecycle != filter.Lifecycle {
			continue
		}
		result = append(result, *term)
	}
	return result, len(result), nil
}

func (m *mockTermRepo) FindByID(ctx context.Context, id string) (*models.Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *term
	return &cp, nil
}

func (m *mockTermRepo) AdvanceLifecycle(ctx context.Context, id string, from, to models.TermLifecycle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.items[id]
	if !ok || term.Lifecycle != from {
		return false, nil
	}
	term.Lifecycle = to
	return true, nil
}

func newTermFixture(lifecycle models.TermLifecycle) (*TermService, *mockTermRepo) {
	repo := newMockTermRepo(&models.Term{ID: "t1", Name: "Semester 1", AcademicYear: "2026/2027", Half: 1, Lifecycle: lifecycle})
	return NewTermService(repo, validator.New(), zap.NewNop()), repo
}

func TestTermCheckWriteMatrix(t *testing.T) {
	cases := []struct {
		lifecycle models.TermLifecycle
		role      models.UserRole
		allowed   bool
	}{
		{models.TermActive, models.RoleStudent, true},
		{models.TermActive, models.RoleAdmin, true},
		{models.TermClosing, models.RoleMonitor, true},
		{models.TermClosing, models.RoleTeacher, true},
		{models.TermLockedSoft, models.RoleStudent, false},
		{models.TermLockedSoft, models.RoleMonitor, false},
		{models.TermLockedSoft, models.RoleTeacher, false},
		{models.TermLockedSoft, models.RoleAdmin, true},
		{models.TermLockedHard, models.RoleAdmin, false},
		{models.TermArchived, models.RoleAdmin, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.lifecycle)+"/"+string(tc.role), func(t *testing.T) {
			service, _ := newTermFixture(tc.lifecycle)
			state, err := service.CheckWrite(context.Background(), "t1", tc.role)
			assert.Equal(t, tc.lifecycle, state)
			if tc.allowed {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrTermLocked))
			// The rejection names the state so clients can explain it.
			assert.Contains(t, err.Error(), string(tc.lifecycle))
		})
	}
}

func TestTermCheckWriteUnknownTerm(t *testing.T) {
	service, _ := newTermFixture(models.TermActive)
	_, err := service.CheckWrite(context.Background(), "missing", models.RoleAdmin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestTermAdvanceSingleStep(t *testing.T) {
	service, _ := newTermFixture(models.TermActive)

	term, err := service.Advance(context.Background(), "t1", AdvanceTermRequest{Target: models.TermClosing})
	require.NoError(t, err)
	assert.Equal(t, models.TermClosing, term.Lifecycle)

	term, err = service.Advance(context.Background(), "t1", AdvanceTermRequest{Target: models.TermLockedSoft})
	require.NoError(t, err)
	assert.Equal(t, models.TermLockedSoft, term.Lifecycle)
}

func TestTermAdvanceRejectsSkipsAndBackwardMoves(t *testing.T) {
	service, _ := newTermFixture(models.TermActive)

	_, err := service.Advance(context.Background(), "t1", AdvanceTermRequest{Target: models.TermLockedSoft})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	service, _ = newTermFixture(models.TermLockedSoft)
	_, err = service.Advance(context.Background(), "t1", AdvanceTermRequest{Target: models.TermClosing})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestTermAdvanceUnknownTarget(t *testing.T) {
	service, _ := newTermFixture(models.TermActive)

	_, err := service.Advance(context.Background(), "t1", AdvanceTermRequest{Target: "FROZEN"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

// racingTermRepo flips the lifecycle between the service's read and its
// conditional update, like a concurrent admin would.
type racingTermRepo struct {
	*mockTermRepo
}

func (r *racingTermRepo) AdvanceLifecycle(ctx context.Context, id string, from, to models.TermLifecycle) (bool, error) {
	r.mu.Lock()
	r.items[id].Lifecycle = models.TermClosing
	r.mu.Unlock()
	return r.mockTermRepo.AdvanceLifecycle(ctx, id, from, to)
}

func TestTermAdvanceLostRace(t *testing.T) {
	repo := &racingTermRepo{mockTermRepo: newMockTermRepo(&models.Term{ID: "t1", Lifecycle: models.TermActive})}
	service := NewTermService(repo, validator.New(), zap.NewNop())

	_, err := service.Advance(context.Background(), "t1", AdvanceTermRequest{Target: models.TermClosing})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyProcessed))
}

func TestTermWritabilityHint(t *testing.T) {
	service, _ := newTermFixture(models.TermLockedSoft)

	hint, err := service.Writability(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", hint.TermID)
	assert.Equal(t, models.TermLockedSoft, hint.Lifecycle)
	// The hint reflects the non-admin answer; admins re-derive on write.
	assert.False(t, hint.Writable)

	service, _ = newTermFixture(models.TermClosing)
	hint, err = service.Writability(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, hint.Writable)
}
