package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
)

// UserRepository handles persistence for users and their class scope.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT id, email, password_hash, full_name, role, active, created_at, updated_at FROM users WHERE email = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, email, password_hash, full_name, role, active, created_at, updated_at FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListClassIDs resolves the class scope for a user: the classes a student or
// monitor belongs to, or the classes a teacher supervises. The scope is baked
// into the access token at login so request handling never re-queries rosters.
func (r *UserRepository) ListClassIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT class_id FROM class_members WHERE user_id = $1 ORDER BY class_id`
	var classIDs []string
	if err := r.db.SelectContext(ctx, &classIDs, query, userID); err != nil {
		return nil, fmt.Errorf("list user class ids: %w", err)
	}
	return classIDs, nil
}
