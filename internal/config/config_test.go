package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqboard/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default("s3cret")
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	statuses := cfg.SeedStatuses()
	require.Len(t, statuses, 5)
	assert.Equal(t, domain.StatusUnassigned, statuses[0].Code)
	assert.True(t, statuses[4].IsTerminal)
	assert.True(t, statuses[0].IsActive)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, domain.RoleAdmin, cfg.Users[0].Role)
}

func TestValidateRejects(t *testing.T) {
	base := `auth: {jwt_secret: x}
users: [{username: a, role: ADMIN, password: p}]
`
	cases := map[string]string{
		"missing initial status": base + `catalog:
  statuses: [{code: ASSIGNED, name: A, sort_order: 1}]`,
		"duplicate sort order": base + `catalog:
  statuses:
    - {code: UNASSIGNED, name: U, sort_order: 0}
    - {code: ASSIGNED, name: A, sort_order: 0}`,
		"duplicate code": base + `catalog:
  statuses:
    - {code: UNASSIGNED, name: U, sort_order: 0}
    - {code: UNASSIGNED, name: U2, sort_order: 1, active: false}`,
		"no admin": `auth: {jwt_secret: x}
users: [{username: a, role: AGENT, password: p}]
catalog:
  statuses: [{code: UNASSIGNED, name: U, sort_order: 0}]`,
		"no secret": `catalog:
  statuses: [{code: UNASSIGNED, name: U, sort_order: 0}]`,
		"bad base path": base + `server: {base_path: api}
catalog:
  statuses: [{code: UNASSIGNED, name: U, sort_order: 0}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestInactiveStatusMayReuseSortOrder(t *testing.T) {
	doc := `auth: {jwt_secret: x}
catalog:
  statuses:
    - {code: UNASSIGNED, name: U, sort_order: 0}
    - {code: LEGACY, name: L, sort_order: 0, active: false}`
	cfg, err := FromYAML([]byte(doc))
	require.NoError(t, err)
	assert.False(t, cfg.SeedStatuses()[1].IsActive)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "reqboard.yml"), []byte(GenerateDefault("k")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Auth.JWTSecret)
}
