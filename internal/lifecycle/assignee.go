package lifecycle

import (
	"time"

	"reqboard/internal/domain"
)

// IsOpen reports whether an assignment record is still in force.
func IsOpen(a domain.Assignment) bool {
	return a.IsActive && (a.UnassignedAt == nil || *a.UnassignedAt == "")
}

// CurrentAssignee derives the current assignee from an assignment history:
// the assignee of the open record with the latest assigned_at. Records sharing
// a timestamp are ordered by id, highest first, so the answer never depends on
// the order the server returned them in. The slice is not modified.
func CurrentAssignee(assignments []domain.Assignment) *string {
	var (
		best   *domain.Assignment
		bestAt time.Time
	)
	for i := range assignments {
		a := &assignments[i]
		if !IsOpen(*a) {
			continue
		}
		at := ParseTime(a.AssignedAt)
		if best == nil || at.After(bestAt) || (at.Equal(bestAt) && a.ID > best.ID) {
			best, bestAt = a, at
		}
	}
	if best == nil || best.AssignedTo == nil || *best.AssignedTo == "" {
		return nil
	}
	id := *best.AssignedTo
	return &id
}

// ResolveAssignee prefers the assignee already embedded on the request and
// falls back to the assignment history.
func ResolveAssignee(req domain.Request, assignments []domain.Assignment) *string {
	if req.AssignedToUserID != nil && *req.AssignedToUserID != "" {
		id := *req.AssignedToUserID
		return &id
	}
	return CurrentAssignee(assignments)
}

// ParseTime reads an RFC 3339 timestamp. Unparseable values sort as the zero
// time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
