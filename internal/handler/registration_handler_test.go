package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/middleware"
	"github.com/noah-isme/sma-ekskul-api/internal/models"
	"github.com/noah-isme/sma-ekskul-api/internal/service"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

// stubRegStore is a tiny in-memory registration store backing handler tests.
type stubRegStore struct {
	mu         sync.Mutex
	items      map[string]*models.Registration
	activities map[string]*models.Activity
}

func (s *stubRegStore) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.RegistrationDetail
	for _, reg := range s.items {
		if filter.StudentID != "" && reg.StudentID != filter.StudentID {
			continue
		}
		result = append(result, s.detailLocked(reg))
	}
	return result, len(result), nil
}

func (s *stubRegStore) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *reg
	return &cp, nil
}

func (s *stubRegStore) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := s.detailLocked(reg)
	return &detail, nil
}

func (s *stubRegStore) detailLocked(reg *models.Registration) models.RegistrationDetail {
	detail := models.RegistrationDetail{Registration: *reg, StudentName: "Student"}
	if activity, ok := s.activities[reg.ActivityID]; ok {
		detail.ActivityTitle = activity.Title
		detail.ActivityScope = activity.Scope
		detail.ClassID = activity.ClassID
	}
	return detail
}

func (s *stubRegStore) ExistsActive(ctx context.Context, activityID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.items {
		if reg.ActivityID == activityID && reg.StudentID == studentID && reg.Status.BlocksReregistration() {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRegStore) CreateIfCapacity(ctx context.Context, registration *models.Registration, capacity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if registration.ID == "" {
		registration.ID = "reg-new"
	}
	registration.CreatedAt = time.Now().UTC()
	registration.UpdatedAt = registration.CreatedAt
	cp := *registration
	s.items[registration.ID] = &cp
	return true, nil
}

func (s *stubRegStore) ApplyDecision(ctx context.Context, id string, expected models.RegistrationStatus, decision models.Decision) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.items[id]
	if !ok || reg.Status != expected {
		return false, nil
	}
	reg.Status = decision.Status
	decidedBy := decision.DecidedBy
	role := decision.Role
	decidedAt := decision.DecidedAt
	reg.DecidedBy = &decidedBy
	reg.DecidedByRole = &role
	reg.DecidedAt = &decidedAt
	reg.RejectionReason = decision.Reason
	return true, nil
}

func (s *stubRegStore) TransitionStatus(ctx context.Context, id string, expected []models.RegistrationStatus, to models.RegistrationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.items[id]
	if !ok {
		return false, nil
	}
	for _, status := range expected {
		if reg.Status == status {
			reg.Status = to
			return true, nil
		}
	}
	return false, nil
}

type stubActivityReader struct {
	items map[string]*models.Activity
}

func (s *stubActivityReader) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	activity, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *activity
	return &cp, nil
}

type openGate struct{}

func (openGate) CheckWrite(ctx context.Context, termID string, role models.UserRole) (models.TermLifecycle, error) {
	return models.TermActive, nil
}

type dropEvents struct{}

func (dropEvents) Publish(event models.RegistrationEvent) {}

func newRegistrationHandlerFixture() (*RegistrationHandler, *stubRegStore) {
	activities := map[string]*models.Activity{
		"act-1": {
			ID: "act-1", TermID: "term-1", Title: "Robotics", Scope: models.ScopeOpen,
			Capacity: 20, Deadline: time.Now().UTC().Add(24 * time.Hour),
			ApprovalStatus: models.ApprovalApproved,
		},
	}
	store := &stubRegStore{
		items:      make(map[string]*models.Registration),
		activities: activities,
	}
	svc := service.NewRegistrationService(
		store,
		&stubActivityReader{items: activities},
		openGate{},
		service.NewAuthorityService(),
		dropEvents{},
		nil,
		validator.New(),
		zap.NewNop(),
		100,
	)
	return NewRegistrationHandler(svc), store
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

func newTestContext(t *testing.T, method, path string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher}
}

func TestRegistrationHandlerCreate(t *testing.T) {
	handler, _ := newRegistrationHandlerFixture()

	c, w := newTestContext(t, http.MethodPost, "/registrations", service.RegisterRequest{ActivityID: "act-1"}, studentClaims())
	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var detail models.RegistrationDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, models.RegistrationPending, detail.Status)
	assert.Equal(t, "stu-1", detail.StudentID)
}

func TestRegistrationHandlerCreateInvalidBody(t *testing.T) {
	handler, _ := newRegistrationHandlerFixture()

	c, w := newTestContext(t, http.MethodPost, "/registrations", []byte(`not json`), studentClaims())
	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerApprove(t *testing.T) {
	handler, store := newRegistrationHandlerFixture()
	store.items["reg-1"] = &models.Registration{
		ID: "reg-1", ActivityID: "act-1", StudentID: "stu-1", TermID: "term-1",
		Status: models.RegistrationPending,
	}

	c, w := newTestContext(t, http.MethodPut, "/registrations/reg-1/approve", nil, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "reg-1"}}
	handler.Approve(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var detail models.RegistrationDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, models.RegistrationApproved, detail.Status)
	require.NotNil(t, detail.DecidedBy)
	assert.Equal(t, "t-1", *detail.DecidedBy)
}

func TestRegistrationHandlerRejectRequiresReason(t *testing.T) {
	handler, store := newRegistrationHandlerFixture()
	store.items["reg-1"] = &models.Registration{
		ID: "reg-1", ActivityID: "act-1", StudentID: "stu-1", TermID: "term-1",
		Status: models.RegistrationPending,
	}

	c, w := newTestContext(t, http.MethodPut, "/registrations/reg-1/reject", service.RejectRequest{}, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "reg-1"}}
	handler.Reject(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerApproveConflict(t *testing.T) {
	handler, store := newRegistrationHandlerFixture()
	decidedBy := "t-9"
	store.items["reg-1"] = &models.Registration{
		ID: "reg-1", ActivityID: "act-1", StudentID: "stu-1", TermID: "term-1",
		Status: models.RegistrationApproved, DecidedBy: &decidedBy,
	}

	c, w := newTestContext(t, http.MethodPut, "/registrations/reg-1/approve", nil, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "reg-1"}}
	handler.Approve(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, appErrors.ErrAlreadyProcessed.Code, resp.Error.Code)
}

func TestRegistrationHandlerBulkApprove(t *testing.T) {
	handler, store := newRegistrationHandlerFixture()
	store.items["reg-1"] = &models.Registration{
		ID: "reg-1", ActivityID: "act-1", StudentID: "stu-1", TermID: "term-1",
		Status: models.RegistrationPending,
	}

	c, w := newTestContext(t, http.MethodPost, "/registrations/bulk-approve", service.BulkDecisionRequest{
		IDs: []string{"reg-1", "reg-missing"},
	}, teacherClaims())
	handler.BulkApprove(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var results []models.BulkItemResult
	require.NoError(t, json.Unmarshal(resp.Data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, models.BulkOutcomeApproved, results[0].Outcome)
	assert.Equal(t, models.BulkOutcomeNotFound, results[1].Outcome)
}

func TestRegistrationHandlerBulkApproveInvalidBody(t *testing.T) {
	handler, _ := newRegistrationHandlerFixture()

	c, w := newTestContext(t, http.MethodPost, "/registrations/bulk-approve", []byte(`{`), teacherClaims())
	handler.BulkApprove(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerAttendanceInvalidPayload(t *testing.T) {
	handler, store := newRegistrationHandlerFixture()
	store.items["reg-1"] = &models.Registration{
		ID: "reg-1", ActivityID: "act-1", StudentID: "stu-1", TermID: "term-1",
		Status: models.RegistrationApproved,
	}

	c, w := newTestContext(t, http.MethodPut, "/registrations/reg-1/attendance", map[string]interface{}{}, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "reg-1"}}
	handler.Attendance(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerListScopedForStudents(t *testing.T) {
	handler, store := newRegistrationHandlerFixture()
	store.items["reg-1"] = &models.Registration{ID: "reg-1", ActivityID: "act-1", StudentID: "stu-1", TermID: "term-1", Status: models.RegistrationPending}
	store.items["reg-2"] = &models.Registration{ID: "reg-2", ActivityID: "act-1", StudentID: "stu-2", TermID: "term-1", Status: models.RegistrationPending}

	c, w := newTestContext(t, http.MethodGet, "/registrations", nil, studentClaims())
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var details []models.RegistrationDetail
	require.NoError(t, json.Unmarshal(resp.Data, &details))
	require.Len(t, details, 1)
	assert.Equal(t, "stu-1", details[0].StudentID)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 1, resp.Pagination.TotalCount)
}
