package lifecycle

import (
	"errors"

	"reqboard/internal/domain"
)

var ErrPermissionDenied = errors.New("permission denied")

// IsAdmin reports whether actor holds the ADMIN role.
func IsAdmin(actor *domain.Actor) bool {
	return actor != nil && actor.RoleCode == domain.RoleAdmin
}

// CanMutate decides whether actor may edit or move req. Admins may always;
// anyone else only when they are the current assignee. assignee overrides the
// value embedded on the request when given. Never cache the answer: the
// assignee can change between two attempts.
func CanMutate(req domain.Request, actor *domain.Actor, assignee *string) bool {
	if actor == nil {
		return false
	}
	if IsAdmin(actor) {
		return true
	}
	id := assignee
	if id == nil {
		id = req.AssignedToUserID
	}
	if id == nil || *id == "" {
		return false
	}
	return *id == actor.ID
}

// CanAdminister gates assignment and deletion.
func CanAdminister(actor *domain.Actor) bool {
	return IsAdmin(actor)
}
