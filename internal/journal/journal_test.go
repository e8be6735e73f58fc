package journal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqboard/internal/domain"
	"reqboard/internal/journal"
	"reqboard/internal/migrate"
)

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	entries := []domain.Transition{
		{TS: "2024-06-01T10:00:00Z", RequestID: "r1", FromStatusID: "s1", ToStatusID: "s2", ActorID: "u1", State: "committed"},
		{TS: "2024-06-01T10:01:00Z", RequestID: "r2", FromStatusID: "s1", ToStatusID: "s3", ActorID: "u1", State: "rejected", Detail: "NOT_ADJACENT"},
		{TS: "2024-06-01T10:02:00Z", RequestID: "r1", FromStatusID: "s2", ToStatusID: "s3", ActorID: "u1", State: "rolled_back", Detail: "status locked"},
	}
	for _, e := range entries {
		require.NoError(t, j.Record(ctx, e))
	}

	all, err := j.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rolled_back", all[0].State)

	r1, err := j.List(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, r1, 2)
	assert.Equal(t, "status locked", r1[0].Detail)
	assert.Equal(t, "committed", r1[1].State)

	latest, err := j.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := journal.Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, domain.Transition{TS: "2024-06-01T10:00:00Z", RequestID: "r1", FromStatusID: "s1", ToStatusID: "s2", State: "committed"}))
	require.NoError(t, j.Close())

	j, err = journal.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	v, err := migrate.Version(j.DB)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	items, err := j.List(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
