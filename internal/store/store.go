// Package store keeps the client-side copy of the status catalog and the
// active requests for one view session.
//
// Snapshots are immutable. Every change builds a new Snapshot and publishes it
// in one step, so a reader sees either the old collection or the new one,
// never a mix.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reqboard/internal/domain"
	"reqboard/internal/lifecycle"
	"reqboard/internal/notify"
)

// Source is the remote side of the store.
type Source interface {
	ListStatuses(ctx context.Context) ([]domain.Status, error)
	ListRequests(ctx context.Context) ([]domain.Request, error)
	ListAssignmentsByRequest(ctx context.Context, requestID string) ([]domain.Assignment, error)
}

type Snapshot struct {
	Statuses  []domain.Status
	Requests  []domain.Request
	Version   uint64
	FetchedAt time.Time
}

// Request looks up an active request by id.
func (s Snapshot) Request(id string) (domain.Request, bool) {
	for _, r := range s.Requests {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Request{}, false
}

// Column is one board lane.
type Column struct {
	Status   domain.Status
	Requests []domain.Request
}

// Columns groups requests by status in catalog order. Requests whose status
// is not in the active catalog are left out.
func (s Snapshot) Columns() []Column {
	cols := make([]Column, len(s.Statuses))
	index := make(map[string]int, len(s.Statuses))
	for i, st := range s.Statuses {
		cols[i] = Column{Status: st, Requests: []domain.Request{}}
		index[st.ID] = i
	}
	for _, r := range s.Requests {
		if i, ok := index[r.StatusID]; ok {
			cols[i].Requests = append(cols[i].Requests, r)
		}
	}
	return cols
}

type Store struct {
	src      Source
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	snap    Snapshot
	loading int
	// refreshSeq numbers refresh calls; applied is the newest one published.
	refreshSeq  uint64
	applied     uint64
	assignments map[string][]domain.Assignment
	// assignGen changes whenever cached histories may be stale.
	assignGen uint64
	subs      map[int]func(Snapshot)
	nextSub   int
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(src Source, n notify.Notifier, opts ...Option) *Store {
	s := &Store{
		src:         src,
		notifier:    n,
		logger:      slog.Default(),
		now:         time.Now,
		assignments: map[string][]domain.Assignment{},
		subs:        map[int]func(Snapshot){},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Refresh fetches the catalog and the requests concurrently and swaps them in
// as one snapshot. On failure the previous snapshot stays in place, the error
// is reported to the notifier and returned. There is no automatic retry.
//
// When refreshes overlap, a result older than the last published one is
// dropped and the current snapshot is returned instead.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.loading++
	s.refreshSeq++
	seq := s.refreshSeq
	s.mu.Unlock()
	defer s.setLoading(-1)

	var (
		statuses []domain.Status
		requests []domain.Request
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statuses, err = s.src.ListStatuses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		requests, err = s.src.ListRequests(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("refresh failed", "error", err)
		s.notifier.Error("Could not load requests", notify.Message(err, "Please try again."))
		return s.Snapshot(), err
	}

	active := make([]domain.Request, 0, len(requests))
	for _, r := range requests {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sorted := lifecycle.ActiveSorted(statuses)

	s.mu.Lock()
	if seq < s.applied {
		snap, applied := s.snap, s.applied
		s.mu.Unlock()
		s.logger.Debug("stale refresh dropped", "seq", seq, "applied", applied)
		return snap, nil
	}
	s.applied = seq
	s.snap = Snapshot{
		Statuses:  sorted,
		Requests:  active,
		Version:   s.snap.Version + 1,
		FetchedAt: s.now(),
	}
	s.assignments = map[string][]domain.Assignment{}
	s.assignGen++
	snap := s.snap
	subs := s.subscribers()
	s.mu.Unlock()

	s.logger.Debug("refreshed", "statuses", len(sorted), "requests", len(active), "version", snap.Version)
	publish(subs, snap)
	return snap, nil
}

// Snapshot returns the current collection. Callers must not modify its
// slices.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Loading reports whether a refresh is in progress.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

func (s *Store) setLoading(delta int) {
	s.mu.Lock()
	s.loading += delta
	s.mu.Unlock()
}

// ReplaceRequest publishes a new snapshot in which request id is replaced by
// fn's result. It returns the request as it was before the change.
func (s *Store) ReplaceRequest(id string, fn func(domain.Request) domain.Request) (domain.Request, bool) {
	s.mu.Lock()
	idx := -1
	for i, r := range s.snap.Requests {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return domain.Request{}, false
	}
	prev := s.snap.Requests[idx]
	next := make([]domain.Request, len(s.snap.Requests))
	copy(next, s.snap.Requests)
	next[idx] = fn(prev)
	snap := s.commitLocked(next)
	subs := s.subscribers()
	s.mu.Unlock()

	publish(subs, snap)
	return prev, true
}

// AddRequest publishes a snapshot with r appended.
func (s *Store) AddRequest(r domain.Request) {
	s.mu.Lock()
	next := make([]domain.Request, 0, len(s.snap.Requests)+1)
	next = append(next, s.snap.Requests...)
	next = append(next, r)
	snap := s.commitLocked(next)
	subs := s.subscribers()
	s.mu.Unlock()

	publish(subs, snap)
}

// RemoveRequest publishes a snapshot without request id.
func (s *Store) RemoveRequest(id string) bool {
	s.mu.Lock()
	next := make([]domain.Request, 0, len(s.snap.Requests))
	for _, r := range s.snap.Requests {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(s.snap.Requests) {
		s.mu.Unlock()
		return false
	}
	delete(s.assignments, id)
	s.assignGen++
	snap := s.commitLocked(next)
	subs := s.subscribers()
	s.mu.Unlock()

	publish(subs, snap)
	return true
}

func (s *Store) commitLocked(requests []domain.Request) Snapshot {
	s.snap = Snapshot{
		Statuses:  s.snap.Statuses,
		Requests:  requests,
		Version:   s.snap.Version + 1,
		FetchedAt: s.snap.FetchedAt,
	}
	return s.snap
}

// Subscribe registers fn to receive every published snapshot. The returned
// func unregisters it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) subscribers() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func publish(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Assignments returns the assignment history of a request, fetching it on
// first use after a refresh or invalidation. A fetch that overlaps a refresh
// or invalidation is returned to the caller but not cached.
func (s *Store) Assignments(ctx context.Context, requestID string) ([]domain.Assignment, error) {
	s.mu.RLock()
	cached, ok := s.assignments[requestID]
	gen := s.assignGen
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}
	items, err := s.src.ListAssignmentsByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.assignGen == gen {
		s.assignments[requestID] = items
	}
	s.mu.Unlock()
	return items, nil
}

// InvalidateAssignments drops the cached history of a request.
func (s *Store) InvalidateAssignments(requestID string) {
	s.mu.Lock()
	delete(s.assignments, requestID)
	s.assignGen++
	s.mu.Unlock()
}
