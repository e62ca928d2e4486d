package service

import (
	"github.com/noah-isme/sma-ekskul-api/internal/models"
	appErrors "github.com/noah-isme/sma-ekskul-api/pkg/errors"
)

// AuthorityService decides whether an actor is entitled to decide a
// registration. Entitlement is necessary but not sufficient: the conditional
// update in the repository remains the sole arbiter when two entitled actors
// race.
type AuthorityService struct{}

// NewAuthorityService constructs the resolver.
func NewAuthorityService() *AuthorityService {
	return &AuthorityService{}
}

// Authorize checks the actor against the activity's scope. Rules in order:
// students are never entitled, admins always are, CLASS activities accept the
// class's monitor or teacher, OPEN activities accept any teacher.
func (s *AuthorityService) Authorize(scope models.ActivityScope, classID *string, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		return appErrors.Clone(appErrors.ErrForbidden, "students cannot decide registrations")
	}

	switch scope {
	case models.ScopeClass:
		if classID == nil {
			return appErrors.Clone(appErrors.ErrForbidden, "class activity has no class")
		}
		if (actor.Role == models.RoleMonitor || actor.Role == models.RoleTeacher) && actor.HasClass(*classID) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "actor is not assigned to the activity's class")
	case models.ScopeOpen:
		if actor.Role == models.RoleTeacher {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "open activities are decided by teachers only")
	}
	return appErrors.Clone(appErrors.ErrForbidden, "unknown activity scope")
}

// CanProcess is the non-binding display hint: true when the registration still
// looks decidable by this actor. Callers must not treat it as authoritative;
// it is a best-effort read that may be stale by the time a decision lands.
func (s *AuthorityService) CanProcess(detail *models.RegistrationDetail, actor models.Actor) bool {
	if detail == nil || !detail.Status.Decidable() || detail.DecidedBy != nil {
		return false
	}
	return s.Authorize(detail.ActivityScope, detail.ClassID, actor) == nil
}
