package lifecycle

import (
	"fmt"

	"reqboard/internal/domain"
)

type Reason string

const (
	ReasonNotAdjacent     Reason = "NOT_ADJACENT"
	ReasonUnassignedBlock Reason = "UNASSIGNED_BLOCK"
)

// TransitionError rejects a status change before it reaches the server.
type TransitionError struct {
	Reason Reason
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	switch e.Reason {
	case ReasonUnassignedBlock:
		return fmt.Sprintf("request must be assigned before leaving %s", e.From)
	default:
		return fmt.Sprintf("status %s is not adjacent to %s; move one step at a time", e.To, e.From)
	}
}

// ValidateTransition accepts a move only to the status directly before or
// after the current one. A request in UNASSIGNED with no assignee cannot move
// at all. assignee is the resolved current assignee; when nil the value
// embedded on the request is used.
func ValidateTransition(statuses []domain.Status, req domain.Request, assignee *string, targetStatusID string) error {
	adj := FindAdjacent(statuses, req.StatusID)
	oneStep := (adj.Previous != nil && adj.Previous.ID == targetStatusID) ||
		(adj.Next != nil && adj.Next.ID == targetStatusID)
	if !oneStep {
		return &TransitionError{Reason: ReasonNotAdjacent, From: req.StatusID, To: targetStatusID}
	}
	if assignee == nil {
		assignee = req.AssignedToUserID
	}
	if adj.Current.Code == domain.StatusUnassigned && (assignee == nil || *assignee == "") {
		return &TransitionError{Reason: ReasonUnassignedBlock, From: adj.Current.Code, To: targetStatusID}
	}
	return nil
}
