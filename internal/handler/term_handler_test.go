package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	"github.com/noah-isme/sma-ekskul-api/internal/service"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

type stubTermRepo struct {
	terms map[string]*models.Term
}

func (s *stubTermRepo) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	var result []models.Term
	for _, term := range s.terms {
		result = append(result, *term)
	}
	return result, len(result), nil
}

func (s *stubTermRepo) FindByID(ctx context.Context, id string) (*models.Term, error) {
	term, ok := s.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *term
	return &cp, nil
}

func (s *stubTermRepo) AdvanceLifecycle(ctx context.Context, id string, from, to models.TermLifecycle) (bool, error) {
	term, ok := s.terms[id]
	if !ok || term.Lifecycle != from {
		return false, nil
	}
	term.Lifecycle = to
	return true, nil
}

func newTermHandlerFixture(lifecycle models.TermLifecycle) *TermHandler {
	repo := &stubTermRepo{terms: map[string]*models.Term{
		"term-1": {ID: "term-1", Name: "Semester 1", Lifecycle: lifecycle},
	}}
	return NewTermHandler(service.NewTermService(repo, validator.New(), zap.NewNop()))
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "adm", Role: models.RoleAdmin}
}

func TestTermHandlerWritability(t *testing.T) {
	handler := newTermHandlerFixture(models.TermLockedSoft)

	c, w := newTestContext(t, http.MethodGet, "/terms/term-1/writability", nil, studentClaims())
	c.Params = gin.Params{{Key: "id", Value: "term-1"}}
	handler.Writability(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var hint models.TermWritability
	require.NoError(t, json.Unmarshal(resp.Data, &hint))
	assert.Equal(t, models.TermLockedSoft, hint.Lifecycle)
	assert.False(t, hint.Writable)
}

func TestTermHandlerAdvance(t *testing.T) {
	handler := newTermHandlerFixture(models.TermActive)

	c, w := newTestContext(t, http.MethodPut, "/terms/term-1/advance", service.AdvanceTermRequest{Target: models.TermClosing}, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "term-1"}}
	handler.Advance(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var term models.Term
	require.NoError(t, json.Unmarshal(resp.Data, &term))
	assert.Equal(t, models.TermClosing, term.Lifecycle)
}

func TestTermHandlerAdvanceSkipRejected(t *testing.T) {
	handler := newTermHandlerFixture(models.TermActive)

	c, w := newTestContext(t, http.MethodPut, "/terms/term-1/advance", service.AdvanceTermRequest{Target: models.TermArchived}, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "term-1"}}
	handler.Advance(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, resp.Error.Code)
}

func TestTermHandlerAdvanceInvalidBody(t *testing.T) {
	handler := newTermHandlerFixture(models.TermActive)

	c, w := newTestContext(t, http.MethodPut, "/terms/term-1/advance", []byte(`{`), adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "term-1"}}
	handler.Advance(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTermHandlerGetNotFound(t *testing.T) {
	handler := newTermHandlerFixture(models.TermActive)

	c, w := newTestContext(t, http.MethodGet, "/terms/missing", nil, studentClaims())
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
