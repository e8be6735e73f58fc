package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reqboard/internal/domain"
)

// requestSelect joins the denormalized status, type and priority fields and
// the current assignee: the latest open assignment, ties broken by id.
const requestSelect = `
SELECT r.id, r.title, r.description, r.status_id,
  COALESCE(r.request_type_id,''), COALESCE(r.priority_id,''),
  r.is_active, r.created_by, r.created_at, r.updated_at,
  r.first_assigned_at, r.closed_at,
  (SELECT a.assigned_to FROM request_assignments a
    WHERE a.request_id=r.id AND a.is_active=1 AND a.unassigned_at IS NULL
    ORDER BY a.assigned_at DESC, a.id DESC LIMIT 1),
  s.code, s.name, s.sort_order, s.is_terminal,
  COALESCE(t.code,''), COALESCE(t.name,''), COALESCE(p.code,''), COALESCE(p.name,'')
FROM requests r
JOIN request_statuses s ON s.id=r.status_id
LEFT JOIN request_types t ON t.id=r.request_type_id
LEFT JOIN request_priorities p ON p.id=r.priority_id`

func scanRequest(row interface{ Scan(...any) error }) (domain.Request, error) {
	var (
		req                       domain.Request
		firstAssigned, closed, to sql.NullString
		sortOrder                 int
		terminal                  bool
	)
	err := row.Scan(&req.ID, &req.Title, &req.Description, &req.StatusID,
		&req.RequestTypeID, &req.PriorityID,
		&req.IsActive, &req.CreatedBy, &req.CreatedAt, &req.UpdatedAt,
		&firstAssigned, &closed, &to,
		&req.StatusCode, &req.StatusName, &sortOrder, &terminal,
		&req.TypeCode, &req.TypeName, &req.PriorityCode, &req.PriorityName)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.FirstAssignedAt = ptrOf(firstAssigned)
	req.ClosedAt = ptrOf(closed)
	req.AssignedToUserID = ptrOf(to)
	req.StatusSortOrder = &sortOrder
	req.IsTerminal = &terminal
	return req, nil
}

// ListRequests returns every request, soft deleted ones included.
func (r Repo) ListRequests(ctx context.Context) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, requestSelect+` ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, requestSelect+` WHERE r.id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, requestSelect+` WHERE r.id=?`, id))
}

func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO requests(id,title,description,status_id,request_type_id,priority_id,is_active,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Title, req.Description, req.StatusID, nullable(req.RequestTypeID), nullable(req.PriorityID),
		req.IsActive, req.CreatedBy, req.CreatedAt, req.UpdatedAt)
	return err
}

// UpdateRequestFieldsTx writes the non-nil title and description.
func (r Repo) UpdateRequestFieldsTx(ctx context.Context, tx *sql.Tx, id string, title, description *string, now string) error {
	var (
		fields []string
		args   []any
	)
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, *description)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE requests SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r Repo) SetRequestStatusTx(ctx context.Context, tx *sql.Tx, id, statusID string, closedAt *string, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status_id=?, closed_at=?, updated_at=? WHERE id=?`,
		statusID, nullablePtr(closedAt), now, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// MarkFirstAssignedTx sets first_assigned_at unless it is already set.
func (r Repo) MarkFirstAssignedTx(ctx context.Context, tx *sql.Tx, id, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE requests SET first_assigned_at=COALESCE(first_assigned_at, ?), updated_at=? WHERE id=?`, ts, ts, id)
	return err
}

func (r Repo) SoftDeleteRequestTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET is_active=0, updated_at=? WHERE id=? AND is_active=1`, now, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Assignments

func (r Repo) ListAssignments(ctx context.Context, requestID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id,request_id,assigned_to,assigned_by,assigned_at,unassigned_at,note,is_active,created_at,updated_at
FROM request_assignments WHERE request_id=? ORDER BY assigned_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assignment{}
	for rows.Next() {
		var (
			a                      domain.Assignment
			to, unassigned, noteNS sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RequestID, &to, &a.AssignedBy, &a.AssignedAt, &unassigned, &noteNS, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.AssignedTo = ptrOf(to)
		a.UnassignedAt = ptrOf(unassigned)
		a.Note = ptrOf(noteNS)
		res = append(res, a)
	}
	return res, rows.Err()
}

// CloseActiveAssignmentsTx ends every open assignment of a request.
func (r Repo) CloseActiveAssignmentsTx(ctx context.Context, tx *sql.Tx, requestID, ts string) error {
	_, err := tx.ExecContext(ctx, `
UPDATE request_assignments SET is_active=0, unassigned_at=?, updated_at=?
WHERE request_id=? AND is_active=1 AND unassigned_at IS NULL`, ts, ts, requestID)
	return err
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO request_assignments(id,request_id,assigned_to,assigned_by,assigned_at,unassigned_at,note,is_active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.RequestID, nullablePtr(a.AssignedTo), a.AssignedBy, a.AssignedAt, nullablePtr(a.UnassignedAt),
		nullablePtr(a.Note), a.IsActive, a.CreatedAt, a.UpdatedAt)
	return err
}
