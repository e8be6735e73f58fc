// Package journal keeps the local record of board moves.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	"reqboard/internal/db"
	"reqboard/internal/domain"
	"reqboard/internal/migrate"
)

type Journal struct {
	DB *sql.DB
}

// Open opens the journal database of workspace, creating it when missing.
func Open(workspace string) (*Journal, error) {
	conn, err := db.Open(db.Config{Workspace: workspace, Name: db.JournalDB})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, migrate.Client); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{DB: conn}, nil
}

func (j *Journal) Close() error { return j.DB.Close() }

// Record appends t.
func (j *Journal) Record(ctx context.Context, t domain.Transition) error {
	_, err := j.DB.ExecContext(ctx, `INSERT INTO transitions(ts,request_id,from_status_id,to_status_id,actor_id,state,detail) VALUES (?,?,?,?,?,?,?)`,
		t.TS, t.RequestID, t.FromStatusID, t.ToStatusID, t.ActorID, t.State, t.Detail)
	return err
}

// List returns the latest entries, newest first. An empty requestID lists
// every request.
func (j *Journal) List(ctx context.Context, requestID string, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,request_id,from_status_id,to_status_id,actor_id,state,detail FROM transitions`
	var args []any
	if requestID != "" {
		query += ` WHERE request_id=?`
		args = append(args, requestID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := j.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Transition
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.ID, &t.TS, &t.RequestID, &t.FromStatusID, &t.ToStatusID, &t.ActorID, &t.State, &t.Detail); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
