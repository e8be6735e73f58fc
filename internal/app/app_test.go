package app_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqboard/internal/app"
	"reqboard/internal/board"
	"reqboard/internal/config"
	"reqboard/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestInitWorkspaceKeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path, created, err := app.InitWorkspace(dir, false)
	require.NoError(t, err)
	assert.True(t, created)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, created, err = app.InitWorkspace(dir, false)
	require.NoError(t, err)
	assert.False(t, created)
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)
}

func TestDashboardAgainstServer(t *testing.T) {
	ctx := context.Background()
	serverDir := t.TempDir()
	_, _, err := app.InitWorkspace(serverDir, false)
	require.NoError(t, err)
	srv, err := app.OpenServer(ctx, serverDir, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	handler, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	dash, err := app.Open(app.Options{
		Workspace: t.TempDir(),
		APIURL:    ts.URL + srv.Config.Server.BasePath,
		AssumeYes: true,
		Out:       &out,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { dash.Close() })

	_, err = dash.Load(ctx)
	require.ErrorIs(t, err, app.ErrNotSignedIn)

	s, err := dash.Client.Login(ctx, "admin", "admin")
	require.NoError(t, err)
	_, err = dash.RequireSession()
	require.NoError(t, err)

	snap, err := dash.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Statuses, 5)

	created, err := dash.Board.Create(ctx, domain.NewRequest{Title: "Replace monitor"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnassigned, created.StatusCode)

	require.NoError(t, dash.Board.Assign(ctx, created.ID, s.User.ID, nil))
	assigned := ""
	for _, st := range dash.Store.Snapshot().Statuses {
		if st.Code == domain.StatusAssigned {
			assigned = st.ID
		}
	}
	outcome, err := dash.Board.Move(ctx, created.ID, assigned)
	require.NoError(t, err)
	assert.Equal(t, board.ResultCommitted, outcome.Result)

	entries, err := dash.Journal.List(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "committed", entries[0].State)
	assert.Equal(t, s.User.ID, entries[0].ActorID)

	require.NoError(t, dash.Client.Logout())
	_, err = dash.RequireSession()
	assert.ErrorIs(t, err, app.ErrNotSignedIn)
}
