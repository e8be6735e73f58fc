package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqboard/internal/domain"
	"reqboard/internal/store"
)

type fakeSource struct {
	mu          sync.Mutex
	statuses    []domain.Status
	requests    []domain.Request
	assignments map[string][]domain.Assignment
	statusErr   error
	requestErr  error
	assignCalls int
}

func (f *fakeSource) ListStatuses(ctx context.Context) ([]domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses, f.statusErr
}

func (f *fakeSource) ListRequests(ctx context.Context) ([]domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.requestErr
}

func (f *fakeSource) ListAssignmentsByRequest(ctx context.Context, id string) ([]domain.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls++
	return f.assignments[id], nil
}

type recorder struct {
	mu     sync.Mutex
	errors []string
}

func (r *recorder) Confirm(ctx context.Context, title, text string) (bool, error) { return true, nil }
func (r *recorder) Success(title string)                                          {}
func (r *recorder) Error(title, detail string) {
	r.mu.Lock()
	r.errors = append(r.errors, title+": "+detail)
	r.mu.Unlock()
}

func seeded() *fakeSource {
	return &fakeSource{
		statuses: []domain.Status{
			{ID: "s3", Code: domain.StatusInProgress, SortOrder: 3, IsActive: true},
			{ID: "s1", Code: domain.StatusUnassigned, SortOrder: 1, IsActive: true},
			{ID: "old", Code: "LEGACY", SortOrder: 9, IsActive: false},
			{ID: "s2", Code: domain.StatusAssigned, SortOrder: 2, IsActive: true},
		},
		requests: []domain.Request{
			{ID: "r1", StatusID: "s1", IsActive: true},
			{ID: "r2", StatusID: "s2", IsActive: true},
			{ID: "r3", StatusID: "s2", IsActive: false},
			{ID: "r4", StatusID: "old", IsActive: true},
		},
		assignments: map[string][]domain.Assignment{
			"r2": {{ID: "a1", RequestID: "r2", IsActive: true}},
		},
	}
}

func TestRefreshFiltersAndSorts(t *testing.T) {
	src := seeded()
	s := store.New(src, &recorder{})

	snap, err := s.Refresh(context.Background())
	require.NoError(t, err)

	ids := func(items []domain.Status) []string {
		out := []string{}
		for _, st := range items {
			out = append(out, st.ID)
		}
		return out
	}
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids(snap.Statuses))
	require.Len(t, snap.Requests, 3)
	_, ok := snap.Request("r3")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), snap.Version)
	assert.False(t, s.Loading())
}

func TestColumnsDropUnknownStatus(t *testing.T) {
	s := store.New(seeded(), &recorder{})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	cols := s.Snapshot().Columns()
	require.Len(t, cols, 3)
	assert.Len(t, cols[0].Requests, 1)
	assert.Len(t, cols[1].Requests, 1)
	assert.Empty(t, cols[2].Requests)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	src := seeded()
	rec := &recorder{}
	s := store.New(src, rec)
	first, err := s.Refresh(context.Background())
	require.NoError(t, err)

	src.requestErr = errors.New("connection reset")
	snap, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, first, snap)
	assert.Equal(t, first, s.Snapshot())
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "Could not load requests")
}

func TestReplaceRequestIsCopyOnWrite(t *testing.T) {
	s := store.New(seeded(), &recorder{})
	before, err := s.Refresh(context.Background())
	require.NoError(t, err)

	var published []store.Snapshot
	cancel := s.Subscribe(func(snap store.Snapshot) { published = append(published, snap) })

	prev, ok := s.ReplaceRequest("r1", func(r domain.Request) domain.Request {
		r.StatusID = "s2"
		return r
	})
	require.True(t, ok)
	assert.Equal(t, "s1", prev.StatusID)

	got, _ := before.Request("r1")
	assert.Equal(t, "s1", got.StatusID, "earlier snapshot must not change")
	now, _ := s.Snapshot().Request("r1")
	assert.Equal(t, "s2", now.StatusID)
	require.Len(t, published, 1)

	cancel()
	_, ok = s.ReplaceRequest("missing", func(r domain.Request) domain.Request { return r })
	assert.False(t, ok)
	assert.True(t, s.RemoveRequest("r1"))
	assert.Len(t, published, 1)
}

func TestAddAndRemoveRequest(t *testing.T) {
	s := store.New(seeded(), &recorder{})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	s.AddRequest(domain.Request{ID: "r9", StatusID: "s1", IsActive: true})
	_, ok := s.Snapshot().Request("r9")
	assert.True(t, ok)
	assert.True(t, s.RemoveRequest("r9"))
	assert.False(t, s.RemoveRequest("r9"))
}

func TestAssignmentsCache(t *testing.T) {
	src := seeded()
	s := store.New(src, &recorder{})
	ctx := context.Background()

	items, err := s.Assignments(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, err = s.Assignments(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 1, src.assignCalls)

	s.InvalidateAssignments("r2")
	_, err = s.Assignments(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 2, src.assignCalls)

	_, err = s.Refresh(ctx)
	require.NoError(t, err)
	_, err = s.Assignments(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 3, src.assignCalls)
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	s := store.New(seeded(), &recorder{})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.ReplaceRequest("r1", func(r domain.Request) domain.Request {
				r.Title += "x"
				return r
			})
		}()
		go func() {
			defer wg.Done()
			snap := s.Snapshot()
			assert.Len(t, snap.Requests, 3)
		}()
	}
	wg.Wait()
	r, _ := s.Snapshot().Request("r1")
	assert.Equal(t, "xxxxxxxx", r.Title)
}

// gatedSource parks the first ListRequests or ListAssignmentsByRequest call
// until its hold channel is closed. Results are read when the call starts.
type gatedSource struct {
	*fakeSource
	entered         chan struct{}
	holdRequests    chan struct{}
	holdAssignments chan struct{}

	gmu                   sync.Mutex
	requestCalls, assigns int
}

func (g *gatedSource) first(n *int) bool {
	g.gmu.Lock()
	defer g.gmu.Unlock()
	*n++
	return *n == 1
}

func (g *gatedSource) ListRequests(ctx context.Context) ([]domain.Request, error) {
	items, err := g.fakeSource.ListRequests(ctx)
	if g.holdRequests != nil && g.first(&g.requestCalls) {
		g.entered <- struct{}{}
		<-g.holdRequests
	}
	return items, err
}

func (g *gatedSource) ListAssignmentsByRequest(ctx context.Context, id string) ([]domain.Assignment, error) {
	items, err := g.fakeSource.ListAssignmentsByRequest(ctx, id)
	if g.holdAssignments != nil && g.first(&g.assigns) {
		g.entered <- struct{}{}
		<-g.holdAssignments
	}
	return items, err
}

func TestOverlappingRefreshKeepsNewestResult(t *testing.T) {
	src := &gatedSource{fakeSource: seeded(), entered: make(chan struct{}), holdRequests: make(chan struct{})}
	s := store.New(src, &recorder{})
	ctx := context.Background()

	type result struct {
		snap store.Snapshot
		err  error
	}
	slow := make(chan result, 1)
	go func() {
		snap, err := s.Refresh(ctx)
		slow <- result{snap, err}
	}()
	<-src.entered

	src.mu.Lock()
	src.requests = []domain.Request{{ID: "r5", StatusID: "s1", IsActive: true}}
	src.mu.Unlock()
	fresh, err := s.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, fresh.Requests, 1)

	close(src.holdRequests)
	late := <-slow
	require.NoError(t, late.err)
	assert.Equal(t, fresh.Version, late.snap.Version)

	snap := s.Snapshot()
	assert.Equal(t, fresh.Version, snap.Version)
	_, ok := snap.Request("r5")
	assert.True(t, ok)
	_, ok = snap.Request("r1")
	assert.False(t, ok)
	assert.False(t, s.Loading())
}

func TestInvalidationDuringFetchIsNotOverwritten(t *testing.T) {
	src := &gatedSource{fakeSource: seeded(), entered: make(chan struct{}), holdAssignments: make(chan struct{})}
	s := store.New(src, &recorder{})
	ctx := context.Background()

	slow := make(chan []domain.Assignment, 1)
	go func() {
		items, _ := s.Assignments(ctx, "r2")
		slow <- items
	}()
	<-src.entered

	src.mu.Lock()
	src.assignments["r2"] = append(src.assignments["r2"], domain.Assignment{ID: "a2", RequestID: "r2", IsActive: true})
	src.mu.Unlock()
	s.InvalidateAssignments("r2")

	close(src.holdAssignments)
	assert.Len(t, <-slow, 1)

	items, err := s.Assignments(ctx, "r2")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, src.assignCalls)
}
