package domain

// Status codes of the built-in catalog. Only UNASSIGNED carries behavior:
// it is the initial state and cannot be left without an assignee.
const (
	StatusUnassigned = "UNASSIGNED"
	StatusAssigned   = "ASSIGNED"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// RoleAdmin is the role code allowed to mutate any request.
const RoleAdmin = "ADMIN"

type Status struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	SortOrder  int    `json:"sort_order"`
	IsTerminal bool   `json:"is_terminal"`
	IsActive   bool   `json:"is_active"`
	CreatedAt  string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
}

// Request is the normalized request record. AssignedToUserID is resolved once
// when the record enters the process; nothing downstream probes other fields.
type Request struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	StatusID         string  `json:"status_id"`
	RequestTypeID    string  `json:"request_type_id"`
	PriorityID       string  `json:"priority_id"`
	IsActive         bool    `json:"is_active"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
	FirstAssignedAt  *string `json:"first_assigned_at" format:"date-time"`
	ClosedAt         *string `json:"closed_at" format:"date-time"`
	AssignedToUserID *string `json:"assigned_to_user_id,omitempty"`

	StatusCode      string `json:"status_code,omitempty"`
	StatusName      string `json:"status_name,omitempty"`
	StatusSortOrder *int   `json:"status_sort_order,omitempty"`
	IsTerminal      *bool  `json:"is_terminal,omitempty"`
	TypeCode        string `json:"type_code,omitempty"`
	TypeName        string `json:"type_name,omitempty"`
	PriorityCode    string `json:"priority_code,omitempty"`
	PriorityName    string `json:"priority_name,omitempty"`
}

// RequestPatch carries the editable request fields; nil means unchanged.
type RequestPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	StatusID    *string `json:"status_id,omitempty"`
}

type NewRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	RequestTypeID string `json:"request_type_id,omitempty"`
	PriorityID    string `json:"priority_id,omitempty"`
	StatusID      string `json:"status_id,omitempty"`
}

// Assignment is one entry of a request's assignment history. A nil AssignedTo
// records an unassignment. Records are closed, never deleted.
type Assignment struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	AssignedTo   *string `json:"assigned_to"`
	AssignedBy   string  `json:"assigned_by"`
	AssignedAt   string  `json:"assigned_at" format:"date-time"`
	UnassignedAt *string `json:"unassigned_at" format:"date-time"`
	Note         *string `json:"note"`
	IsActive     bool    `json:"is_active"`
	CreatedAt    string  `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt    string  `json:"updated_at,omitempty" format:"date-time"`
}

// Actor is the authenticated user attempting an operation.
type Actor struct {
	ID          string `json:"id"`
	RoleCode    string `json:"role_code"`
	DisplayName string `json:"display_name,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	RoleCode string `json:"role_code"`
	IsActive bool   `json:"is_active"`
}

// Actor returns the acting identity of u.
func (u User) Actor() Actor {
	return Actor{ID: u.ID, RoleCode: u.RoleCode, DisplayName: u.FullName}
}

type RequestType struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

type Priority struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
	IsActive  bool   `json:"is_active"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Transition is a journal entry for one board move as seen by the client.
type Transition struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	RequestID    string `json:"request_id"`
	FromStatusID string `json:"from_status_id"`
	ToStatusID   string `json:"to_status_id"`
	ActorID      string `json:"actor_id,omitempty"`
	State        string `json:"state"`
	Detail       string `json:"detail,omitempty"`
}
