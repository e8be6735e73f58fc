// Package board drives mutations of requests shown on the board: status moves
// with an optimistic local update and rollback, plus assignment, edit, create
// and delete.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"reqboard/internal/domain"
	"reqboard/internal/lifecycle"
	"reqboard/internal/notify"
	"reqboard/internal/store"
)

var (
	ErrTransitionInFlight = errors.New("a status change for this request is already in progress")
	ErrClosed             = errors.New("board is closed")
	ErrInconsistentState  = errors.New("server state does not match the requested change")
	ErrRequestNotFound    = errors.New("request not found")
)

// TransportError wraps a failed server call made after local checks passed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// API is the server side of the board.
type API interface {
	GetRequest(ctx context.Context, id string) (domain.Request, error)
	Assign(ctx context.Context, requestID, assigneeID string, note *string) error
	ChangeStatus(ctx context.Context, requestID, targetStatusID string, note *string) error
	UpdateRequest(ctx context.Context, id string, patch domain.RequestPatch) (domain.Request, error)
	CreateRequest(ctx context.Context, in domain.NewRequest) (domain.Request, error)
	DeleteRequest(ctx context.Context, id string) error
}

// Collection is the local request collection the board reads and republishes.
type Collection interface {
	Snapshot() store.Snapshot
	ReplaceRequest(id string, fn func(domain.Request) domain.Request) (domain.Request, bool)
	AddRequest(r domain.Request)
	RemoveRequest(id string) bool
	Assignments(ctx context.Context, requestID string) ([]domain.Assignment, error)
	InvalidateAssignments(requestID string)
}

// Journal records the outcome of every move.
type Journal interface {
	Record(ctx context.Context, t domain.Transition) error
}

type Synchronizer struct {
	API        API
	Collection Collection
	Notifier   notify.Notifier
	// Actor returns the signed-in actor, or nil.
	Actor   func() *domain.Actor
	Journal Journal
	Logger  *slog.Logger
	Now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   atomic.Bool
	// applyMu orders collection writes against Close.
	applyMu sync.RWMutex
}

// Close marks the board as torn down. Calls that finish afterwards leave the
// collection untouched and raise no notifications. A collection write that
// has already started completes before Close returns.
// Close must not be called from a store subscriber.
func (s *Synchronizer) Close() {
	s.applyMu.Lock()
	s.closed.Store(true)
	s.applyMu.Unlock()
}

func (s *Synchronizer) alive() bool { return !s.closed.Load() }

// apply runs fn against the collection unless the board is closed, and
// reports whether it ran.
func (s *Synchronizer) apply(fn func()) bool {
	s.applyMu.RLock()
	defer s.applyMu.RUnlock()
	if !s.alive() {
		return false
	}
	fn()
	return true
}

func (s *Synchronizer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Synchronizer) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Synchronizer) actor() *domain.Actor {
	if s.Actor == nil {
		return nil
	}
	return s.Actor()
}

func (s *Synchronizer) acquire(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		s.inFlight = map[string]struct{}{}
	}
	if _, busy := s.inFlight[requestID]; busy {
		return false
	}
	s.inFlight[requestID] = struct{}{}
	return true
}

func (s *Synchronizer) release(requestID string) {
	s.mu.Lock()
	delete(s.inFlight, requestID)
	s.mu.Unlock()
}

func (s *Synchronizer) notifyError(title, detail string) {
	if s.alive() {
		s.Notifier.Error(title, detail)
	}
}

func (s *Synchronizer) notifySuccess(title string) {
	if s.alive() {
		s.Notifier.Success(title)
	}
}

// RollbackPoint holds the status fields of a request before an optimistic
// move.
type RollbackPoint struct {
	StatusID        string
	StatusCode      string
	StatusName      string
	StatusSortOrder *int
	IsTerminal      *bool
}

func rollbackPointOf(r domain.Request) RollbackPoint {
	return RollbackPoint{
		StatusID:        r.StatusID,
		StatusCode:      r.StatusCode,
		StatusName:      r.StatusName,
		StatusSortOrder: r.StatusSortOrder,
		IsTerminal:      r.IsTerminal,
	}
}

// Restore puts the saved status fields back on r and leaves the rest alone.
func (p RollbackPoint) Restore(r domain.Request) domain.Request {
	r.StatusID = p.StatusID
	r.StatusCode = p.StatusCode
	r.StatusName = p.StatusName
	r.StatusSortOrder = p.StatusSortOrder
	r.IsTerminal = p.IsTerminal
	return r
}

func withStatus(r domain.Request, st domain.Status) domain.Request {
	order := st.SortOrder
	terminal := st.IsTerminal
	r.StatusID = st.ID
	r.StatusCode = st.Code
	r.StatusName = st.Name
	r.StatusSortOrder = &order
	r.IsTerminal = &terminal
	return r
}

// decorate fills the denormalized status fields from the catalog when the
// server left them out.
func decorate(statuses []domain.Status, r domain.Request) domain.Request {
	if r.StatusCode != "" {
		return r
	}
	if st, ok := lifecycle.StatusByID(statuses, r.StatusID); ok {
		return withStatus(r, st)
	}
	return r
}

func statusLabel(statuses []domain.Status, id string) string {
	if st, ok := lifecycle.StatusByID(statuses, id); ok && st.Name != "" {
		return st.Name
	}
	return id
}

// assignee resolves the current assignee of req. A failed history fetch falls
// back to the assignee carried on the request.
func (s *Synchronizer) assignee(ctx context.Context, req domain.Request) *string {
	items, err := s.Collection.Assignments(ctx, req.ID)
	if err != nil {
		s.logger().Warn("assignment history unavailable", "request_id", req.ID, "error", err)
		return req.AssignedToUserID
	}
	return lifecycle.ResolveAssignee(req, items)
}

// Move changes the status of a request by one step.
func (s *Synchronizer) Move(ctx context.Context, requestID, targetStatusID string) (Outcome, error) {
	return s.MoveWithNote(ctx, requestID, targetStatusID, nil)
}

// MoveWithNote is Move with a note stored alongside the status change.
func (s *Synchronizer) MoveWithNote(ctx context.Context, requestID, targetStatusID string, note *string) (Outcome, error) {
	if !s.alive() {
		return Outcome{}, ErrClosed
	}
	snap := s.Collection.Snapshot()
	req, ok := snap.Request(requestID)
	if !ok {
		s.notifyError("Request not found", "Refresh the board and try again.")
		return Outcome{}, ErrRequestNotFound
	}
	out := newOutcome(requestID, req.StatusID, targetStatusID)
	log := s.logger().With("request_id", requestID, "from", req.StatusID, "to", targetStatusID)

	if targetStatusID == req.StatusID {
		out.fire(EventNoop)
		return *out, nil
	}

	actor := s.actor()
	assignee := s.assignee(ctx, req)
	if !lifecycle.CanMutate(req, actor, assignee) {
		out.fire(EventDenied)
		log.Info("move denied")
		s.notifyError("Action not allowed", "Only the assignee or an administrator can move this request.")
		s.record(ctx, out, actor, lifecycle.ErrPermissionDenied)
		return *out, lifecycle.ErrPermissionDenied
	}
	if err := lifecycle.ValidateTransition(snap.Statuses, req, assignee, targetStatusID); err != nil {
		out.fire(EventRejected)
		log.Info("move rejected", "error", err)
		s.notifyError("Invalid status change", err.Error())
		s.record(ctx, out, actor, err)
		return *out, err
	}
	target, _ := lifecycle.StatusByID(snap.Statuses, targetStatusID)

	if !s.acquire(requestID) {
		out.fire(EventBusy)
		log.Info("move refused, another change is in flight")
		s.notifyError("Status change in progress", "Wait for the current change to finish.")
		s.record(ctx, out, actor, ErrTransitionInFlight)
		return *out, ErrTransitionInFlight
	}
	defer s.release(requestID)

	out.fire(EventDrop)
	text := fmt.Sprintf("Move %q from %s to %s?", req.Title, statusLabel(snap.Statuses, req.StatusID), target.Name)
	ok, err := s.Notifier.Confirm(ctx, "Confirm status change", text)
	if err != nil || !ok {
		out.fire(EventDeclined)
		log.Debug("move declined")
		s.record(ctx, out, actor, err)
		return *out, err
	}

	point := rollbackPointOf(req)
	applied := s.apply(func() {
		s.Collection.ReplaceRequest(requestID, func(r domain.Request) domain.Request {
			return withStatus(r, target)
		})
	})
	if !applied {
		out.fire(EventDeclined)
		log.Debug("move dropped, board closed during confirmation")
		s.record(ctx, out, actor, ErrClosed)
		return *out, ErrClosed
	}
	out.fire(EventConfirmed)

	if err := s.API.ChangeStatus(ctx, requestID, targetStatusID, note); err != nil {
		out.fire(EventFailed)
		terr := &TransportError{Op: "change status", Err: err}
		s.apply(func() { s.Collection.ReplaceRequest(requestID, point.Restore) })
		log.Warn("move rolled back", "error", err)
		s.notifyError("Could not change status", notify.Message(err, "The status change was not saved. Please try again."))
		s.record(ctx, out, actor, err)
		return *out, terr
	}

	out.fire(EventSucceeded)
	log.Info("move committed")
	s.notifySuccess("Status updated")
	s.record(ctx, out, actor, nil)
	return *out, nil
}

func (s *Synchronizer) record(ctx context.Context, out *Outcome, actor *domain.Actor, cause error) {
	if s.Journal == nil {
		return
	}
	t := domain.Transition{
		TS:           s.now().Format(time.RFC3339Nano),
		RequestID:    out.RequestID,
		FromStatusID: out.From,
		ToStatusID:   out.To,
		State:        string(out.Result),
	}
	if actor != nil {
		t.ActorID = actor.ID
	}
	if cause != nil {
		t.Detail = cause.Error()
	}
	if err := s.Journal.Record(ctx, t); err != nil {
		s.logger().Warn("journal write failed", "request_id", out.RequestID, "error", err)
	}
}

// Assign hands a request to assigneeID. Administrators only.
func (s *Synchronizer) Assign(ctx context.Context, requestID, assigneeID string, note *string) error {
	if !s.alive() {
		return ErrClosed
	}
	req, ok := s.Collection.Snapshot().Request(requestID)
	if !ok {
		s.notifyError("Request not found", "Refresh the board and try again.")
		return ErrRequestNotFound
	}
	if !lifecycle.CanAdminister(s.actor()) {
		s.notifyError("Action not allowed", "Only administrators can assign requests.")
		return lifecycle.ErrPermissionDenied
	}
	ok, err := s.Notifier.Confirm(ctx, "Confirm assignment", fmt.Sprintf("Assign %q to %s?", req.Title, assigneeID))
	if err != nil || !ok {
		return err
	}
	if err := s.API.Assign(ctx, requestID, assigneeID, note); err != nil {
		s.notifyError("Could not assign request", notify.Message(err, "The assignment was not saved. Please try again."))
		return &TransportError{Op: "assign", Err: err}
	}
	if !s.apply(func() { s.Collection.InvalidateAssignments(requestID) }) {
		return nil
	}
	s.reload(ctx, requestID)
	s.notifySuccess("Request assigned")
	return nil
}

// reload replaces the local copy of a request with the server's.
func (s *Synchronizer) reload(ctx context.Context, requestID string) {
	fresh, err := s.API.GetRequest(ctx, requestID)
	if err != nil {
		s.logger().Warn("reload failed", "request_id", requestID, "error", err)
		return
	}
	statuses := s.Collection.Snapshot().Statuses
	s.apply(func() {
		s.Collection.ReplaceRequest(requestID, func(domain.Request) domain.Request {
			return decorate(statuses, fresh)
		})
	})
}

// Save applies patch to a request. A status change in the patch obeys the
// same one-step rules as Move.
func (s *Synchronizer) Save(ctx context.Context, requestID string, patch domain.RequestPatch) (domain.Request, error) {
	if !s.alive() {
		return domain.Request{}, ErrClosed
	}
	snap := s.Collection.Snapshot()
	req, ok := snap.Request(requestID)
	if !ok {
		s.notifyError("Request not found", "Refresh the board and try again.")
		return domain.Request{}, ErrRequestNotFound
	}
	assignee := s.assignee(ctx, req)
	if !lifecycle.CanMutate(req, s.actor(), assignee) {
		s.notifyError("Action not allowed", "Only the assignee or an administrator can edit this request.")
		return req, lifecycle.ErrPermissionDenied
	}
	if patch.StatusID != nil && *patch.StatusID != req.StatusID {
		if err := lifecycle.ValidateTransition(snap.Statuses, req, assignee, *patch.StatusID); err != nil {
			s.notifyError("Invalid status change", err.Error())
			return req, err
		}
	}
	ok, err := s.Notifier.Confirm(ctx, "Save changes", fmt.Sprintf("Save changes to %q?", req.Title))
	if err != nil || !ok {
		return req, err
	}
	updated, err := s.API.UpdateRequest(ctx, requestID, patch)
	if err != nil {
		s.notifyError("Could not save request", notify.Message(err, "The changes were not saved. Please try again."))
		return req, &TransportError{Op: "update request", Err: err}
	}
	updated = decorate(snap.Statuses, updated)
	if updated.AssignedToUserID == nil {
		updated.AssignedToUserID = req.AssignedToUserID
	}
	s.apply(func() {
		s.Collection.ReplaceRequest(requestID, func(domain.Request) domain.Request { return updated })
	})
	s.notifySuccess("Request saved")
	return updated, nil
}

// Delete soft deletes a request and checks with the server that it is gone.
// Administrators only.
func (s *Synchronizer) Delete(ctx context.Context, requestID string) error {
	if !s.alive() {
		return ErrClosed
	}
	req, ok := s.Collection.Snapshot().Request(requestID)
	if !ok {
		s.notifyError("Request not found", "Refresh the board and try again.")
		return ErrRequestNotFound
	}
	if !lifecycle.CanAdminister(s.actor()) {
		s.notifyError("Action not allowed", "Only administrators can delete requests.")
		return lifecycle.ErrPermissionDenied
	}
	ok, err := s.Notifier.Confirm(ctx, "Delete request", fmt.Sprintf("Delete %q? This cannot be undone.", req.Title))
	if err != nil || !ok {
		return err
	}
	if err := s.API.DeleteRequest(ctx, requestID); err != nil {
		s.notifyError("Could not delete request", notify.Message(err, "The request was not deleted. Please try again."))
		return &TransportError{Op: "delete request", Err: err}
	}
	check, err := s.API.GetRequest(ctx, requestID)
	if err != nil {
		s.notifyError("Could not verify deletion", notify.Message(err, "Refresh the board to see the current state."))
		return &TransportError{Op: "verify delete", Err: err}
	}
	if check.IsActive {
		s.logger().Error("request still active after delete", "request_id", requestID)
		s.notifyError("Could not delete request", "The server still reports the request as active.")
		return ErrInconsistentState
	}
	s.apply(func() { s.Collection.RemoveRequest(requestID) })
	s.notifySuccess("Request deleted")
	return nil
}

// Create opens a new request in the initial status.
func (s *Synchronizer) Create(ctx context.Context, in domain.NewRequest) (domain.Request, error) {
	if !s.alive() {
		return domain.Request{}, ErrClosed
	}
	if s.actor() == nil {
		s.notifyError("Action not allowed", "Sign in to create requests.")
		return domain.Request{}, lifecycle.ErrPermissionDenied
	}
	statuses := s.Collection.Snapshot().Statuses
	initial, err := lifecycle.InitialStatus(statuses)
	if err != nil {
		s.notifyError("Could not create request", "No initial status is configured.")
		return domain.Request{}, err
	}
	in.StatusID = initial.ID
	created, err := s.API.CreateRequest(ctx, in)
	if err != nil {
		s.notifyError("Could not create request", notify.Message(err, "The request was not created. Please try again."))
		return domain.Request{}, &TransportError{Op: "create request", Err: err}
	}
	created = decorate(statuses, created)
	s.apply(func() { s.Collection.AddRequest(created) })
	s.notifySuccess("Request created")
	return created, nil
}
