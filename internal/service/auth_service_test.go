package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]*models.User
	classes map[string][]string
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *user
	return &cp, nil
}

func (m *mockUserRepo) ListClassIDs(ctx context.Context, userID string) ([]string, error) {
	return m.classes[userID], nil
}

func newAuthFixture(t *testing.T) (*AuthService, *mockUserRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &mockUserRepo{
		users: map[string]*models.User{
			"monitor@sma.sch.id": {
				ID: "u1", Email: "monitor@sma.sch.id", PasswordHash: string(hash),
				FullName: "Monitor One", Role: models.RoleMonitor, Active: true,
			},
			"inactive@sma.sch.id": {
				ID: "u2", Email: "inactive@sma.sch.id", PasswordHash: string(hash),
				FullName: "Inactive", Role: models.RoleStudent, Active: false,
			},
		},
		classes: map[string][]string{"u1": {"c1", "c2"}},
	}
	service := NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "sma-ekskul-api",
	})
	return service, repo
}

func TestLoginResolvesClassScope(t *testing.T) {
	service, _ := newAuthFixture(t)

	resp, err := service.Login(context.Background(), models.LoginRequest{
		Email:    "monitor@sma.sch.id",
		Password: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleMonitor, resp.User.Role)
	assert.NotEmpty(t, resp.AccessToken)

	claims, err := service.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleMonitor, claims.Role)
	assert.Equal(t, []string{"c1", "c2"}, claims.ClassIDs)

	actor := models.ActorFromClaims(claims)
	assert.True(t, actor.HasClass("c1"))
	assert.False(t, actor.HasClass("c9"))
}

func TestLoginFailures(t *testing.T) {
	service, _ := newAuthFixture(t)

	_, err := service.Login(context.Background(), models.LoginRequest{Email: "monitor@sma.sch.id", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = service.Login(context.Background(), models.LoginRequest{Email: "nobody@sma.sch.id", Password: "s3cret"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = service.Login(context.Background(), models.LoginRequest{Email: "inactive@sma.sch.id", Password: "s3cret"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInactiveAccount))

	_, err = service.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "s3cret"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	service, _ := newAuthFixture(t)

	resp, err := service.Login(context.Background(), models.LoginRequest{
		Email:    "monitor@sma.sch.id",
		Password: "s3cret",
	})
	require.NoError(t, err)

	_, err = service.ValidateToken(resp.AccessToken + "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	other := NewAuthService(nil, validator.New(), zap.NewNop(), AuthConfig{Secret: "different", Expiration: time.Hour})
	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}
