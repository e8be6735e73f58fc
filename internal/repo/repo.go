package repo

import (
	"context"
	"database/sql"
	"errors"

	"reqboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return nullable(*v)
}

func ptrOf(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Statuses

func (r Repo) UpsertStatusTx(ctx context.Context, tx *sql.Tx, s domain.Status) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO request_statuses(id,code,name,sort_order,is_terminal,is_active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name, sort_order=excluded.sort_order,
  is_terminal=excluded.is_terminal, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		s.ID, s.Code, s.Name, s.SortOrder, s.IsTerminal, s.IsActive, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) ListStatuses(ctx context.Context) ([]domain.Status, error) {
	return listStatuses(ctx, r.DB)
}

func (r Repo) ListStatusesTx(ctx context.Context, tx *sql.Tx) ([]domain.Status, error) {
	return listStatuses(ctx, tx)
}

func listStatuses(ctx context.Context, q querier) ([]domain.Status, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,code,name,sort_order,is_terminal,is_active,created_at,updated_at FROM request_statuses ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Status
	for rows.Next() {
		var s domain.Status
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.SortOrder, &s.IsTerminal, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Lookups

func (r Repo) UpsertRequestTypeTx(ctx context.Context, tx *sql.Tx, t domain.RequestType) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO request_types(id,code,name,description,is_active) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name, description=excluded.description, is_active=excluded.is_active`,
		t.ID, t.Code, t.Name, t.Description, t.IsActive)
	return err
}

func (r Repo) ListRequestTypes(ctx context.Context) ([]domain.RequestType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,description,is_active FROM request_types WHERE is_active=1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RequestType
	for rows.Next() {
		var t domain.RequestType
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.Description, &t.IsActive); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpsertPriorityTx(ctx context.Context, tx *sql.Tx, p domain.Priority) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO request_priorities(id,code,name,sort_order,is_active) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name, sort_order=excluded.sort_order, is_active=excluded.is_active`,
		p.ID, p.Code, p.Name, p.SortOrder, p.IsActive)
	return err
}

func (r Repo) ListPriorities(ctx context.Context) ([]domain.Priority, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,sort_order,is_active FROM request_priorities WHERE is_active=1 ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Priority
	for rows.Next() {
		var p domain.Priority
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.SortOrder, &p.IsActive); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Users

func (r Repo) UpsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash, now string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO users(id,username,full_name,email,role_code,password_hash,is_active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET username=excluded.username, full_name=excluded.full_name, email=excluded.email,
  role_code=excluded.role_code, password_hash=excluded.password_hash, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		u.ID, u.Username, u.FullName, u.Email, u.RoleCode, passwordHash, u.IsActive, now, now)
	return err
}

const userColumns = `id,username,full_name,email,role_code,is_active`

func scanUser(row interface{ Scan(...any) error }, extra ...any) (domain.User, error) {
	var u domain.User
	dest := append([]any{&u.ID, &u.Username, &u.FullName, &u.Email, &u.RoleCode, &u.IsActive}, extra...)
	err := row.Scan(dest...)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// UserCredentials returns an active user and its password hash.
func (r Repo) UserCredentials(ctx context.Context, username string) (domain.User, string, error) {
	var hash string
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+`,password_hash FROM users WHERE username=? AND is_active=1`, username), &hash)
	return u, hash, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
