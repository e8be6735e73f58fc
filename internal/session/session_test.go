package session_test

import (
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqboard/internal/domain"
	"reqboard/internal/session"
)

func token(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(exp)}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestFileProviderRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := session.NewFileProvider(t.TempDir())
	p.Now = func() time.Time { return now }

	_, err := p.Get()
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Nil(t, session.ActorOf(p))

	s := session.Session{
		Token: token(t, now.Add(time.Hour)),
		User:  domain.User{ID: "u1", Username: "ana", FullName: "Ana", RoleCode: domain.RoleAdmin},
	}
	require.NoError(t, p.Set(s))
	info, err := os.Stat(p.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, s, got)
	actor := session.ActorOf(p)
	require.NotNil(t, actor)
	assert.Equal(t, domain.Actor{ID: "u1", RoleCode: domain.RoleAdmin, DisplayName: "Ana"}, *actor)

	require.NoError(t, p.Clear())
	require.NoError(t, p.Clear())
	_, err = p.Get()
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestExpiredTokenIsNoSession(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &session.MemoryProvider{Now: func() time.Time { return now }}
	require.NoError(t, p.Set(session.Session{Token: token(t, now.Add(-time.Minute))}))
	_, err := p.Get()
	assert.ErrorIs(t, err, session.ErrNoSession)

	require.NoError(t, p.Set(session.Session{Token: "opaque-token"}))
	_, err = p.Get()
	assert.NoError(t, err)
}

func TestExpiresAt(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := session.ExpiresAt(token(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = session.ExpiresAt("not-a-jwt")
	assert.False(t, ok)
}
