package server

import "reqboard/internal/domain"

// Request payloads

type LoginRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type AssignRequest struct {
	AssignedTo string  `json:"assigned_to" minLength:"1"`
	Note       *string `json:"note,omitempty"`
}

type ChangeStatusRequest struct {
	ToStatusID string  `json:"to_status_id" minLength:"1"`
	Note       *string `json:"note,omitempty"`
}

// Response payloads. Every body carries success=true; failures use apiError.

type SuccessResponse struct {
	Success bool `json:"success"`
}

type AuthUserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	RoleCode string `json:"roleCode"`
}

type LoginData struct {
	AccessToken string           `json:"accessToken"`
	User        AuthUserResponse `json:"user"`
}

type LoginResponse struct {
	Success bool      `json:"success"`
	Data    LoginData `json:"data"`
}

type StatusListResponse struct {
	Success bool            `json:"success"`
	Items   []domain.Status `json:"items"`
}

type RequestTypeListResponse struct {
	Success bool                 `json:"success"`
	Items   []domain.RequestType `json:"items"`
}

type PriorityListResponse struct {
	Success bool              `json:"success"`
	Items   []domain.Priority `json:"items"`
}

type UserListResponse struct {
	Success bool          `json:"success"`
	Items   []domain.User `json:"items"`
}

type RequestListResponse struct {
	Success bool             `json:"success"`
	Items   []domain.Request `json:"items"`
}

type RequestDataResponse struct {
	Success bool           `json:"success"`
	Data    domain.Request `json:"data"`
}

type RequestItemResponse struct {
	Success bool           `json:"success"`
	Item    domain.Request `json:"item"`
}

type AssignmentListResponse struct {
	Success bool                `json:"success"`
	Data    []domain.Assignment `json:"data"`
}

type AssignmentDataResponse struct {
	Success bool              `json:"success"`
	Data    domain.Assignment `json:"data"`
}

type EventListResponse struct {
	Success bool           `json:"success"`
	Items   []domain.Event `json:"items"`
}

type MeResponse struct {
	Success bool        `json:"success"`
	Data    domain.User `json:"data"`
}

func authUserResponse(u domain.User) AuthUserResponse {
	return AuthUserResponse{ID: u.ID, Username: u.Username, FullName: u.FullName, Email: u.Email, RoleCode: u.RoleCode}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
