package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// ErrNoSession is returned when an operation needs an authenticated session
var ErrNoSession = errors.New("no active session")

// Session is the authenticated user's identity and bearer token
type Session struct {
	UserID    string    `yaml:"user_id"`
	Username  string    `yaml:"username,omitempty"`
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// Active reports whether both the user identifier and the token are present
func (s Session) Active() bool {
	return s.UserID != "" && s.Token != ""
}

// Expired reports whether the token has a known expiry in the past
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Provider gives access to the current session
type Provider interface {
	Current() Session
}

// Static is a Provider that always returns the same session
type Static Session

// Current implements Provider
func (s Static) Current() Session { return Session(s) }

// Store holds the session for the lifetime of a login
type Store struct {
	mu      sync.RWMutex
	current Session
	onClear []func()
}

// NewStore creates a store, optionally seeded with a session
func NewStore(initial ...Session) *Store {
	s := &Store{}
	if len(initial) > 0 {
		s.current = initial[0]
	}
	return s
}

// Current implements Provider
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the current session
func (s *Store) Set(sess Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

// OnClear registers a callback invoked after the session is cleared
func (s *Store) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}

// Clear ends the session and runs the registered callbacks
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = Session{}
	callbacks := append([]func(){}, s.onClear...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// claims is the subset of token claims the client reads
type claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// FromToken builds a session from a bearer token. The signature is not
// verified; the client has no key and the backend verifies every request.
func FromToken(token string) (Session, error) {
	c := &claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, c); err != nil {
		return Session{}, fmt.Errorf("failed to parse token: %w", err)
	}

	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return Session{}, fmt.Errorf("token carries no user identifier")
	}

	sess := Session{
		UserID:   userID,
		Username: c.Username,
		Token:    token,
	}
	if c.ExpiresAt != nil {
		sess.ExpiresAt = c.ExpiresAt.Time
	}
	return sess, nil
}

// Load reads a session file. A missing file yields an empty session.
func Load(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, nil
		}
		return Session{}, fmt.Errorf("error reading session file: %w", err)
	}

	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("error parsing session file: %w", err)
	}
	return sess, nil
}

// Save writes the session to path with owner-only permissions
func Save(path string, sess Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// replace atomically so watchers never read a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Remove deletes the session file if it exists
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
