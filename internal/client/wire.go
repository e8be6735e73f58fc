package client

import "reqboard/internal/domain"

type idRef struct {
	ID *string `json:"id"`
}

// wireRequest is a request as servers send it. Deployments disagree on the
// name of the assignee field, so every known spelling is read here and folded
// into AssignedToUserID.
type wireRequest struct {
	domain.Request
	AssigneeUserID        *string `json:"assignee_user_id"`
	AssigneeID            *string `json:"assigneeId"`
	AssignedToUserIDCamel *string `json:"assignedToUserId"`
	AssignedTo            *string `json:"assigned_to"`
	Assignee              *idRef  `json:"assignee"`
	AssignedToUser        *idRef  `json:"assigned_to_user"`
}

func (w wireRequest) normalize() domain.Request {
	r := w.Request
	candidates := []*string{
		r.AssignedToUserID,
		w.AssigneeUserID,
		w.AssigneeID,
		w.AssignedToUserIDCamel,
		w.AssignedTo,
	}
	if w.Assignee != nil {
		candidates = append(candidates, w.Assignee.ID)
	}
	if w.AssignedToUser != nil {
		candidates = append(candidates, w.AssignedToUser.ID)
	}
	r.AssignedToUserID = nil
	for _, c := range candidates {
		if c != nil && *c != "" {
			id := *c
			r.AssignedToUserID = &id
			break
		}
	}
	return r
}

type assignBody struct {
	AssignedTo string  `json:"assigned_to"`
	Note       *string `json:"note,omitempty"`
}

type statusBody struct {
	ToStatusID string  `json:"to_status_id"`
	Note       *string `json:"note,omitempty"`
}
