package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reqboard/internal/board"
	"reqboard/internal/client"
	"reqboard/internal/config"
	"reqboard/internal/db"
	"reqboard/internal/domain"
	"reqboard/internal/engine"
	"reqboard/internal/migrate"
	"reqboard/internal/notify"
	"reqboard/internal/obs"
	"reqboard/internal/session"
	"reqboard/internal/store"
)

const testConfigYAML = `auth: {jwt_secret: server-test-secret}
catalog:
  statuses:
    - {code: UNASSIGNED, name: Unassigned, sort_order: 0}
    - {code: ASSIGNED, name: Assigned, sort_order: 1}
    - {code: IN_PROGRESS, name: In progress, sort_order: 2}
    - {code: DONE, name: Done, sort_order: 3, terminal: true}
  request_types: [{code: SUPPORT, name: Support}]
  priorities: [{code: LOW, name: Low, sort_order: 0}]
users:
  - {username: admin, full_name: Admin, role: ADMIN, password: admin}
  - {username: maria, full_name: Maria, role: AGENT, password: maria}
  - {username: tom, full_name: Tom, role: AGENT, password: tom}
`

type testServer struct {
	URL     string
	Engine  engine.Engine
	Metrics *obs.Metrics
}

func newTestServer(t *testing.T, limit RateLimit) *testServer {
	t.Helper()
	cfg, err := config.FromYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, migrate.Server); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	metrics := obs.NewMetrics()
	e.Metrics = metrics
	handler, err := New(Config{
		Engine:       e,
		BasePath:     "/api",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      metrics,
		RateLimit:    limit,
		MaxBodyBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Engine: e, Metrics: metrics}
}

func (s *testServer) login(t *testing.T, username string) *client.Client {
	t.Helper()
	c := client.New(s.URL+"/api", &session.MemoryProvider{})
	if _, err := c.Login(context.Background(), username, username); err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return c
}

func statusIDs(t *testing.T, c *client.Client) map[string]string {
	t.Helper()
	items, err := c.ListStatuses(context.Background())
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	out := map[string]string{}
	for _, s := range items {
		out[s.Code] = s.ID
	}
	return out
}

func userID(t *testing.T, c *client.Client, username string) string {
	t.Helper()
	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, u := range users {
		if u.Username == username {
			return u.ID
		}
	}
	t.Fatalf("user %s not found", username)
	return ""
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	res, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
}

func TestRequestsRequireToken(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	res, body := doJSON(t, http.MethodGet, srv.URL+"/api/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, body)
	}
	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if envelope.Success || envelope.Error != "unauthorized" || envelope.Message == "" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/api/requests", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	c := client.New(srv.URL+"/api", &session.MemoryProvider{})
	_, err := c.Login(context.Background(), "admin", "wrong")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}
	if apiErr.UserMessage() != "invalid username or password" {
		t.Fatalf("unexpected message %q", apiErr.UserMessage())
	}
}

func TestLoginStoresSession(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	provider := &session.MemoryProvider{}
	c := client.New(srv.URL+"/api", provider)
	s, err := c.Login(context.Background(), "maria", "maria")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.User.Username != "maria" || s.User.RoleCode != "AGENT" || s.Token == "" {
		t.Fatalf("unexpected session %+v", s)
	}
	actor := session.ActorOf(provider)
	if actor == nil || actor.ID != s.User.ID {
		t.Fatalf("expected actor from session, got %+v", actor)
	}
}

func TestServerRejectsSkippedColumn(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	c := srv.login(t, "admin")
	ids := statusIDs(t, c)
	req, err := c.CreateRequest(ctx, domain.NewRequest{Title: "Printer jammed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.StatusID != ids[domain.StatusUnassigned] {
		t.Fatalf("expected initial status, got %s", req.StatusID)
	}
	err = c.ChangeStatus(ctx, req.ID, ids[domain.StatusDone], nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	if !strings.Contains(apiErr.Body, "NOT_ADJACENT") {
		t.Fatalf("expected NOT_ADJACENT code, got %s", apiErr.Body)
	}
	err = c.ChangeStatus(ctx, req.ID, ids[domain.StatusAssigned], nil)
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Body, "UNASSIGNED_BLOCK") {
		t.Fatalf("expected UNASSIGNED_BLOCK, got %v", err)
	}
}

func TestAgentCannotTouchOthersRequest(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	admin := srv.login(t, "admin")
	tom := srv.login(t, "tom")
	ids := statusIDs(t, admin)
	req, err := admin.CreateRequest(ctx, domain.NewRequest{Title: "VPN down"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := admin.Assign(ctx, req.ID, userID(t, admin, "maria"), nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	err = tom.ChangeStatus(ctx, req.ID, ids[domain.StatusAssigned], nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	err = tom.Assign(ctx, req.ID, userID(t, admin, "tom"), nil)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on assign, got %v", err)
	}
}

func TestAssignmentHistoryAndEvents(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	c := srv.login(t, "admin")
	req, err := c.CreateRequest(ctx, domain.NewRequest{Title: "New laptop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	note := "first pass"
	if err := c.Assign(ctx, req.ID, userID(t, c, "maria"), &note); err != nil {
		t.Fatalf("assign maria: %v", err)
	}
	if err := c.Assign(ctx, req.ID, userID(t, c, "tom"), nil); err != nil {
		t.Fatalf("assign tom: %v", err)
	}
	history, err := c.ListAssignmentsByRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(history))
	}
	active := 0
	for _, a := range history {
		if a.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active assignment, got %d", active)
	}
	fetched, err := c.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.AssignedToUserID == nil || *fetched.AssignedToUserID != userID(t, c, "tom") {
		t.Fatalf("expected tom as assignee, got %v", fetched.AssignedToUserID)
	}

	res, body := doJSON(t, http.MethodGet, srv.URL+"/api/request-assignments", nil, map[string]string{"Authorization": "Bearer " + token(t, c)})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without requestId, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, http.MethodGet, srv.URL+"/api/requests/"+req.ID+"/events", nil, map[string]string{"Authorization": "Bearer " + token(t, c)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, body)
	}
	var events EventListResponse
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events.Items) != 3 {
		t.Fatalf("expected created plus two assignments, got %d", len(events.Items))
	}
}

func token(t *testing.T, c *client.Client) string {
	t.Helper()
	s, err := c.Session.Get()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s.Token
}

func TestBoardAgainstServer(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	admin := srv.login(t, "admin")
	ids := statusIDs(t, admin)
	req, err := admin.CreateRequest(ctx, domain.NewRequest{Title: "Badge reader"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := admin.Assign(ctx, req.ID, userID(t, admin, "maria"), nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	maria := srv.login(t, "maria")
	var out bytes.Buffer
	notes := &notify.Terminal{Out: &out, AssumeYes: true}
	st := store.New(maria, notes)
	if _, err := st.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	sync := &board.Synchronizer{
		API:        maria,
		Collection: st,
		Notifier:   notes,
		Actor:      func() *domain.Actor { return session.ActorOf(maria.Session) },
	}

	for _, code := range []string{domain.StatusAssigned, domain.StatusInProgress, domain.StatusDone} {
		outcome, err := sync.Move(ctx, req.ID, ids[code])
		if err != nil {
			t.Fatalf("move to %s: %v", code, err)
		}
		if outcome.Result != board.ResultCommitted {
			t.Fatalf("move to %s: result %s", code, outcome.Result)
		}
	}
	local, ok := st.Snapshot().Request(req.ID)
	if !ok || local.StatusID != ids[domain.StatusDone] {
		t.Fatalf("expected local copy in DONE, got %+v", local)
	}
	remote, err := admin.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if remote.StatusID != ids[domain.StatusDone] || remote.ClosedAt == nil {
		t.Fatalf("expected closed request on server, got %+v", remote)
	}
	if !strings.Contains(out.String(), "Status updated") {
		t.Fatalf("expected success notices, got %q", out.String())
	}
}

func TestBoardRollsBackOnServerRefusal(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	admin := srv.login(t, "admin")
	ids := statusIDs(t, admin)
	req, err := admin.CreateRequest(ctx, domain.NewRequest{Title: "Desk move"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := admin.Assign(ctx, req.ID, userID(t, admin, "maria"), nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	maria := srv.login(t, "maria")
	var out bytes.Buffer
	notes := &notify.Terminal{Out: &out, AssumeYes: true}
	st := store.New(maria, notes)
	if _, err := st.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	sync := &board.Synchronizer{
		API:        maria,
		Collection: st,
		Notifier:   notes,
		Actor:      func() *domain.Actor { return session.ActorOf(maria.Session) },
	}

	if _, err := st.Assignments(ctx, req.ID); err != nil {
		t.Fatalf("prime history: %v", err)
	}
	// Reassigned on the server after maria's history was cached.
	if err := admin.Assign(ctx, req.ID, userID(t, admin, "tom"), nil); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	outcome, err := sync.Move(ctx, req.ID, ids[domain.StatusAssigned])
	var te *board.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if outcome.Result != board.ResultRolledBack {
		t.Fatalf("expected rollback, got %s", outcome.Result)
	}
	local, _ := st.Snapshot().Request(req.ID)
	if local.StatusID != ids[domain.StatusUnassigned] {
		t.Fatalf("expected status restored, got %s", local.StatusID)
	}
	if !strings.Contains(out.String(), "Could not change status") {
		t.Fatalf("expected error notice, got %q", out.String())
	}
}

func TestDeleteHidesRequestFromBoard(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	admin := srv.login(t, "admin")
	req, err := admin.CreateRequest(ctx, domain.NewRequest{Title: "Old ticket"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := admin.DeleteRequest(ctx, req.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deleted, err := admin.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	if deleted.IsActive {
		t.Fatalf("expected soft deleted request")
	}
	st := store.New(admin, &notify.Terminal{Out: io.Discard})
	snap, err := st.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := snap.Request(req.ID); ok {
		t.Fatalf("deleted request still on the board")
	}
	err = admin.DeleteRequest(ctx, req.ID)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %v", err)
	}
}

func TestUpdateRequestReturnsItem(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	admin := srv.login(t, "admin")
	req, err := admin.CreateRequest(ctx, domain.NewRequest{Title: "Typo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	title := "Typo in footer"
	updated, err := admin.UpdateRequest(ctx, req.ID, domain.RequestPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("expected new title, got %q", updated.Title)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, RateLimit{PerSecond: 0.001, Burst: 2})
	codes := []int{}
	for i := 0; i < 3; i++ {
		res, _ := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, nil)
		codes = append(codes, res.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
}

func TestMetricsCountTransitions(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	ctx := context.Background()
	admin := srv.login(t, "admin")
	ids := statusIDs(t, admin)
	req, err := admin.CreateRequest(ctx, domain.NewRequest{Title: "Metrics"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = admin.ChangeStatus(ctx, req.ID, ids[domain.StatusDone], nil)

	res, body := doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	for _, want := range []string{"http_requests_total", `reqboard_status_transitions_total{from="UNASSIGNED",outcome="rejected",to="DONE"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, RateLimit{})
	res, body := doJSON(t, http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, p := range []string{"/api/board/{id}/status", "/api/request-assignments", "bearerAuth"} {
		if !strings.Contains(string(body), p) {
			t.Fatalf("openapi document missing %s", p)
		}
	}
}
