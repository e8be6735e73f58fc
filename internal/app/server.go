// Package app wires the packages of reqboard into the two processes it runs:
// the reference API server and the operator dashboard.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"reqboard/internal/config"
	"reqboard/internal/db"
	"reqboard/internal/engine"
	"reqboard/internal/migrate"
	"reqboard/internal/obs"
	"reqboard/internal/server"
)

// InitWorkspace writes a default reqboard.yml with a fresh JWT secret. An
// existing file is kept unless force is set.
func InitWorkspace(workspace string, force bool) (string, bool, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", false, err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return path, false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}
	secret := uuid.NewString() + uuid.NewString()
	if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o600); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Server is an opened reference API: migrated, seeded and ready to serve.
type Server struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Metrics *obs.Metrics
	Logger  *slog.Logger
}

// OpenServer loads the workspace config, migrates the server database and
// seeds the configured catalog and users.
func OpenServer(ctx context.Context, workspace string, logger *slog.Logger) (*Server, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return OpenServerWithConfig(ctx, workspace, cfg, logger)
}

func OpenServerWithConfig(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dbc := db.Config{Workspace: workspace, Name: db.ServerDB}
	conn, err := db.Open(dbc)
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", dbc.Path())
	if err := migrate.Migrate(conn, migrate.Server); err != nil {
		conn.Close()
		return nil, err
	}
	metrics := obs.NewMetrics()
	e := engine.New(conn, cfg)
	e.Metrics = metrics
	e.Logger = logger
	if err := e.Seed(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}
	return &Server{DB: conn, Config: cfg, Engine: e, Metrics: metrics, Logger: logger}, nil
}

// Handler builds the HTTP handler from the server section of the config.
func (s *Server) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:       s.Engine,
		BasePath:     s.Config.Server.BasePath,
		Logger:       s.Logger,
		Metrics:      s.Metrics,
		RateLimit:    server.RateLimit{PerSecond: s.Config.Server.RateLimit.PerSecond, Burst: s.Config.Server.RateLimit.Burst},
		MaxBodyBytes: s.Config.Server.MaxBodyBytes,
	})
}

func (s *Server) Close() error { return s.DB.Close() }
