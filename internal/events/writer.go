package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"reqboard/internal/domain"
)

const (
	RequestCreated       = "request.created"
	RequestUpdated       = "request.updated"
	RequestDeleted       = "request.deleted"
	RequestAssigned      = "request.assigned"
	RequestStatusChanged = "request.status_changed"
)

// Writer appends audit records and reads them back.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is one audit entry about an entity.
type Record struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// ForRequest builds a Record about a request.
func ForRequest(evtType, requestID, actorID string, payload EventPayload) Record {
	return Record{Type: evtType, EntityKind: "request", EntityID: requestID, ActorID: actorID, Payload: payload}
}

// Append stores r inside tx so the record commits with the change it
// describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, r Record) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if r.Payload == nil {
		r.Payload = EventPayload{}
	}
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", r.Type, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts, type, entity_kind, entity_id, actor_id, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
		now().UTC().Format(time.RFC3339), r.Type, r.EntityKind, nullable(r.EntityID), r.ActorID, string(data))
	return err
}

// List returns the events of one entity, oldest first. An empty entityID
// lists every event of the kind.
func (w Writer) List(ctx context.Context, entityKind, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE entity_kind=?`
	args := []any{entityKind}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
