package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reqboard/internal/domain"
	"reqboard/internal/lifecycle"
)

// Config models reqboard.yml, the reference server's configuration and seed
// catalog.
type Config struct {
	Server  ServerConfig `yaml:"server"`
	Auth    AuthConfig   `yaml:"auth"`
	Log     LogConfig    `yaml:"log"`
	Catalog Catalog      `yaml:"catalog"`
	Users   []SeedUser   `yaml:"users"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	BasePath     string `yaml:"base_path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	RateLimit    struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Catalog struct {
	Statuses     []SeedStatus      `yaml:"statuses"`
	RequestTypes []SeedRequestType `yaml:"request_types"`
	Priorities   []SeedPriority    `yaml:"priorities"`
}

type SeedStatus struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	SortOrder int    `yaml:"sort_order"`
	Terminal  bool   `yaml:"terminal"`
	Active    *bool  `yaml:"active"`
}

// IsActive defaults to true when the entry does not say otherwise.
func (s SeedStatus) IsActive() bool { return s.Active == nil || *s.Active }

type SeedRequestType struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SeedPriority struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	SortOrder int    `yaml:"sort_order"`
}

type SeedUser struct {
	Username string `yaml:"username"`
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// applyDefaults fills settings left empty in the file.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.RateLimit.PerSecond == 0 {
		c.Server.RateLimit.PerSecond = 20
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 40
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// SeedStatuses converts the catalog entries into statuses keyed by code.
func (c *Config) SeedStatuses() []domain.Status {
	out := make([]domain.Status, 0, len(c.Catalog.Statuses))
	for _, s := range c.Catalog.Statuses {
		out = append(out, domain.Status{
			ID:         s.Code,
			Code:       s.Code,
			Name:       s.Name,
			SortOrder:  s.SortOrder,
			IsTerminal: s.Terminal,
			IsActive:   s.IsActive(),
		})
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	if len(c.Catalog.Statuses) == 0 {
		return fmt.Errorf("config.catalog.statuses is required")
	}
	codes := map[string]bool{}
	for _, s := range c.Catalog.Statuses {
		if codes[s.Code] {
			return fmt.Errorf("status code %s is declared twice", s.Code)
		}
		codes[s.Code] = true
	}
	if err := lifecycle.ValidateCatalog(c.SeedStatuses()); err != nil {
		return fmt.Errorf("config.catalog.statuses: %w", err)
	}
	for _, t := range c.Catalog.RequestTypes {
		if t.Code == "" || t.Name == "" {
			return fmt.Errorf("request type needs code and name")
		}
	}
	for _, p := range c.Catalog.Priorities {
		if p.Code == "" || p.Name == "" {
			return fmt.Errorf("priority needs code and name")
		}
	}
	usernames := map[string]bool{}
	hasAdmin := false
	for _, u := range c.Users {
		if u.Username == "" {
			return fmt.Errorf("config.users contains an empty username")
		}
		if usernames[u.Username] {
			return fmt.Errorf("user %s is declared twice", u.Username)
		}
		usernames[u.Username] = true
		if u.Role == "" {
			return fmt.Errorf("user %s has no role", u.Username)
		}
		if u.Password == "" {
			return fmt.Errorf("user %s has no password", u.Username)
		}
		if u.Role == domain.RoleAdmin {
			hasAdmin = true
		}
	}
	if len(c.Users) > 0 && !hasAdmin {
		return fmt.Errorf("config.users must include an %s", domain.RoleAdmin)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reqboard.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found; create one with rb init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault(jwtSecret string) string {
	return fmt.Sprintf(defaultTemplate, jwtSecret)
}

// Default returns the default Config.
func Default(jwtSecret string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(jwtSecret)))
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  rate_limit:
    per_second: 20
    burst: 40

auth:
  jwt_secret: %q
  token_ttl: 12h

log:
  level: info
  format: text

catalog:
  statuses:
    - {code: UNASSIGNED, name: Unassigned, sort_order: 0}
    - {code: ASSIGNED, name: Assigned, sort_order: 1}
    - {code: IN_PROGRESS, name: In progress, sort_order: 2}
    - {code: IN_REVIEW, name: In review, sort_order: 3}
    - {code: DONE, name: Done, sort_order: 4, terminal: true}
  request_types:
    - {code: SUPPORT, name: Support, description: "Help with an existing system"}
    - {code: ACCESS, name: Access, description: "Grant or revoke access"}
    - {code: PURCHASE, name: Purchase, description: "Buy equipment or licences"}
  priorities:
    - {code: LOW, name: Low, sort_order: 0}
    - {code: MEDIUM, name: Medium, sort_order: 1}
    - {code: HIGH, name: High, sort_order: 2}

users:
  - username: admin
    full_name: Administrator
    email: admin@example.com
    role: ADMIN
    password: admin
`
