// Package session holds the signed-in user of the dashboard and the bearer
// token used for API calls.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reqboard/internal/domain"
)

var ErrNoSession = errors.New("not signed in")

type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Provider stores the current session. Get returns ErrNoSession when nobody is
// signed in or the token has expired.
type Provider interface {
	Get() (Session, error)
	Set(Session) error
	Clear() error
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// ok is false for tokens without a readable exp.
func ExpiresAt(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func expired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	return ok && !now.Before(exp)
}

// ActorOf returns the actor of the current session, or nil.
func ActorOf(p Provider) *domain.Actor {
	s, err := p.Get()
	if err != nil {
		return nil
	}
	a := s.User.Actor()
	return &a
}

// FileProvider keeps the session in a JSON file readable only by its owner.
type FileProvider struct {
	Path string
	Now  func() time.Time

	mu sync.Mutex
}

func NewFileProvider(workspace string) *FileProvider {
	return &FileProvider{Path: filepath.Join(workspace, ".reqboard", "session.json")}
}

func (p *FileProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *FileProvider) Get() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	if s.Token == "" || expired(s.Token, p.now()) {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (p *FileProvider) Set(s Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.Path, b, 0o600)
}

func (p *FileProvider) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryProvider keeps the session in process memory.
type MemoryProvider struct {
	Now func() time.Time

	mu      sync.Mutex
	current *Session
}

func (p *MemoryProvider) Get() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	if p.current == nil || expired(p.current.Token, now) {
		return Session{}, ErrNoSession
	}
	return *p.current, nil
}

func (p *MemoryProvider) Set(s Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &s
	return nil
}

func (p *MemoryProvider) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	return nil
}
