package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// JWTClaims represents the JWT payload for access tokens. ClassIDs carries the
// class scope resolved at login time so downstream authorization never touches
// raw credentials or roster tables.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	ClassIDs []string `json:"class_ids,omitempty"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor is the canonical already-authenticated identity consumed by the
// approval engine: one role plus the class scope it is authorized over.
type Actor struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	ClassIDs []string `json:"class_ids,omitempty"`
}

// ActorFromClaims converts validated JWT claims into an Actor.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role, ClassIDs: claims.ClassIDs}
}

// HasClass reports whether the actor's scope covers the given class.
func (a Actor) HasClass(classID string) bool {
	for _, id := range a.ClassIDs {
		if id == classID {
			return true
		}
	}
	return false
}
