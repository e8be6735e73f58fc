package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"reqboard/internal/config"
	"reqboard/internal/domain"
	"reqboard/internal/engine/auth"
	"reqboard/internal/events"
	"reqboard/internal/lifecycle"
	"reqboard/internal/obs"
	"reqboard/internal/repo"
)

// ErrInvalidInput marks requests the server refuses to process as sent.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Tokens  auth.Tokens
	Metrics *obs.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
	if cfg != nil {
		e.Tokens = auth.Tokens{Secret: cfg.Auth.JWTSecret, TTL: cfg.Auth.TokenTTL}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// SeedID derives a stable id for a seeded catalog entry.
func SeedID(kind, code string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("reqboard|"+kind+"|"+code)).String()
}

// Seed writes the configured catalog and users. Running it again updates the
// existing rows in place.
func (e Engine) Seed(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range e.Config.SeedStatuses() {
		s.ID = SeedID("status", s.Code)
		s.CreatedAt, s.UpdatedAt = now, now
		if err := e.Repo.UpsertStatusTx(ctx, tx, s); err != nil {
			return fmt.Errorf("seed status %s: %w", s.Code, err)
		}
	}
	for _, t := range e.Config.Catalog.RequestTypes {
		rt := domain.RequestType{ID: SeedID("type", t.Code), Code: t.Code, Name: t.Name, Description: t.Description, IsActive: true}
		if err := e.Repo.UpsertRequestTypeTx(ctx, tx, rt); err != nil {
			return fmt.Errorf("seed request type %s: %w", t.Code, err)
		}
	}
	for _, p := range e.Config.Catalog.Priorities {
		pr := domain.Priority{ID: SeedID("priority", p.Code), Code: p.Code, Name: p.Name, SortOrder: p.SortOrder, IsActive: true}
		if err := e.Repo.UpsertPriorityTx(ctx, tx, pr); err != nil {
			return fmt.Errorf("seed priority %s: %w", p.Code, err)
		}
	}
	for _, u := range e.Config.Users {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return err
		}
		user := domain.User{
			ID:       SeedID("user", u.Username),
			Username: u.Username,
			FullName: u.FullName,
			Email:    u.Email,
			RoleCode: u.Role,
			IsActive: true,
		}
		if err := e.Repo.UpsertUserTx(ctx, tx, user, hash, now); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return tx.Commit()
}

// Login checks credentials and issues an access token.
func (e Engine) Login(ctx context.Context, username, password string) (domain.User, string, error) {
	user, hash, err := e.Repo.UserCredentials(ctx, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, "", auth.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, "", err
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return domain.User{}, "", err
	}
	token, err := e.Tokens.Issue(user.ID, user.RoleCode)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Actor resolves an access token to the acting user. The role is read from
// the database so demoted users lose rights before their token expires.
func (e Engine) Actor(ctx context.Context, token string) (domain.Actor, error) {
	claims, err := e.Tokens.Verify(token)
	if err != nil {
		return domain.Actor{}, err
	}
	user, err := e.Repo.GetUser(ctx, claims.Subject)
	if err != nil {
		return domain.Actor{}, err
	}
	if !user.IsActive {
		return domain.Actor{}, errors.New("user is inactive")
	}
	return user.Actor(), nil
}

// CreateRequest opens a request in the initial status.
func (e Engine) CreateRequest(ctx context.Context, actor domain.Actor, in domain.NewRequest) (domain.Request, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Request{}, invalid("title is required")
	}
	statuses, err := e.Repo.ListStatuses(ctx)
	if err != nil {
		return domain.Request{}, err
	}
	initial, err := lifecycle.InitialStatus(lifecycle.ActiveSorted(statuses))
	if err != nil {
		return domain.Request{}, err
	}
	if in.StatusID != "" && in.StatusID != initial.ID {
		return domain.Request{}, invalid("new requests start in %s", initial.Code)
	}
	now := e.stamp()
	req := domain.Request{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   in.Description,
		StatusID:      initial.ID,
		RequestTypeID: in.RequestTypeID,
		PriorityID:    in.PriorityID,
		IsActive:      true,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequestTx(ctx, tx, req); err != nil {
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ForRequest(events.RequestCreated, req.ID, actor.ID, events.EventPayload{"title": req.Title, "status_id": req.StatusID})); err != nil {
		return domain.Request{}, err
	}
	created, err := e.Repo.GetRequestTx(ctx, tx, req.ID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return created, nil
}

// UpdateRequest edits title and description and, when the patch carries one,
// moves the request to a new status under the same rules as ChangeStatus.
func (e Engine) UpdateRequest(ctx context.Context, actor domain.Actor, id string, patch domain.RequestPatch) (domain.Request, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Request{}, invalid("title cannot be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req, err := e.activeRequest(ctx, tx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if !lifecycle.CanMutate(req, &actor, req.AssignedToUserID) {
		return domain.Request{}, auth.ForbiddenError{Action: "edit this request"}
	}
	now := e.stamp()
	if err := e.Repo.UpdateRequestFieldsTx(ctx, tx, id, patch.Title, patch.Description, now); err != nil {
		return domain.Request{}, err
	}
	if patch.Title != nil || patch.Description != nil {
		if err := e.Events.Append(ctx, tx, events.ForRequest(events.RequestUpdated, id, actor.ID, events.EventPayload{"title": patch.Title, "description": patch.Description})); err != nil {
			return domain.Request{}, err
		}
	}
	if patch.StatusID != nil && *patch.StatusID != req.StatusID {
		if err := e.moveTx(ctx, tx, actor, req, *patch.StatusID, nil, now); err != nil {
			return domain.Request{}, err
		}
	}
	updated, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return updated, nil
}

// DeleteRequest soft deletes a request. Administrators only.
func (e Engine) DeleteRequest(ctx context.Context, actor domain.Actor, id string) error {
	if !lifecycle.CanAdminister(&actor) {
		return auth.ForbiddenError{Action: "delete requests"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.activeRequest(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.SoftDeleteRequestTx(ctx, tx, id, e.stamp()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ForRequest(events.RequestDeleted, id, actor.ID, nil)); err != nil {
		return err
	}
	return tx.Commit()
}

// Assign closes the current assignment of a request and opens a new one for
// assigneeID. Administrators only.
func (e Engine) Assign(ctx context.Context, actor domain.Actor, id, assigneeID string, note *string) (domain.Assignment, error) {
	if !lifecycle.CanAdminister(&actor) {
		return domain.Assignment{}, auth.ForbiddenError{Action: "assign requests"}
	}
	if strings.TrimSpace(assigneeID) == "" {
		return domain.Assignment{}, invalid("assigned_to is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	if _, err := e.activeRequest(ctx, tx, id); err != nil {
		return domain.Assignment{}, err
	}
	assignee, err := e.Repo.GetUserTx(ctx, tx, assigneeID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !assignee.IsActive) {
		return domain.Assignment{}, invalid("unknown assignee %s", assigneeID)
	}
	if err != nil {
		return domain.Assignment{}, err
	}
	now := e.stamp()
	if err := e.Repo.CloseActiveAssignmentsTx(ctx, tx, id, now); err != nil {
		return domain.Assignment{}, err
	}
	a := domain.Assignment{
		ID:         uuid.NewString(),
		RequestID:  id,
		AssignedTo: &assignee.ID,
		AssignedBy: actor.ID,
		AssignedAt: now,
		Note:       note,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Repo.MarkFirstAssignedTx(ctx, tx, id, now); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ForRequest(events.RequestAssigned, id, actor.ID, events.EventPayload{"assigned_to": assignee.ID, "note": note})); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// ChangeStatus moves a request one step along the catalog.
func (e Engine) ChangeStatus(ctx context.Context, actor domain.Actor, id, toStatusID string, note *string) (domain.Request, error) {
	if strings.TrimSpace(toStatusID) == "" {
		return domain.Request{}, invalid("to_status_id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req, err := e.activeRequest(ctx, tx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.moveTx(ctx, tx, actor, req, toStatusID, note, e.stamp()); err != nil {
		return domain.Request{}, err
	}
	updated, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return updated, nil
}

func (e Engine) moveTx(ctx context.Context, tx *sql.Tx, actor domain.Actor, req domain.Request, toStatusID string, note *string, now string) error {
	statuses, err := e.Repo.ListStatusesTx(ctx, tx)
	if err != nil {
		return err
	}
	active := lifecycle.ActiveSorted(statuses)
	from, to := req.StatusCode, toStatusID
	if st, ok := lifecycle.StatusByID(active, toStatusID); ok {
		to = st.Code
	}
	log := e.logger().With("request_id", req.ID, "from", from, "to", to, "actor_id", actor.ID)

	if !lifecycle.CanMutate(req, &actor, req.AssignedToUserID) {
		e.Metrics.Transition(from, to, "denied")
		log.Info("status change denied")
		return auth.ForbiddenError{Action: "move this request"}
	}
	if err := lifecycle.ValidateTransition(active, req, req.AssignedToUserID, toStatusID); err != nil {
		e.Metrics.Transition(from, to, "rejected")
		log.Info("status change rejected", "error", err)
		return err
	}
	target, _ := lifecycle.StatusByID(active, toStatusID)
	var closedAt *string
	if target.IsTerminal {
		closedAt = &now
	}
	if err := e.Repo.SetRequestStatusTx(ctx, tx, req.ID, target.ID, closedAt, now); err != nil {
		return err
	}
	payload := events.EventPayload{"from_status_id": req.StatusID, "to_status_id": target.ID, "note": note}
	if err := e.Events.Append(ctx, tx, events.ForRequest(events.RequestStatusChanged, req.ID, actor.ID, payload)); err != nil {
		return err
	}
	e.Metrics.Transition(from, to, "committed")
	log.Info("status changed")
	return nil
}

func (e Engine) activeRequest(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	req, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if !req.IsActive {
		return domain.Request{}, fmt.Errorf("request %s: %w", id, repo.ErrNotFound)
	}
	return req, nil
}
