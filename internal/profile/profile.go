// Package profile handles local account registration and login. Passwords
// are bcrypt-hashed at rest; logins yield opaque session tokens with a
// bounded lifetime.
package profile

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aurachat/aura/internal/storage"
	"github.com/aurachat/aura/internal/util"
)

// SessionTTL is how long a login token stays valid.
const SessionTTL = 30 * 24 * time.Hour

var (
	// ErrBadCredentials is returned for unknown users and wrong passwords
	// alike, so login probing can't tell the two apart.
	ErrBadCredentials = errors.New("invalid username or password")

	// ErrWeakPassword is returned when the password is too short.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// Account is the authenticated view of a profile.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Manager wraps the profile tables.
type Manager struct {
	db *storage.DB
}

// NewManager creates a manager over db.
func NewManager(db *storage.DB) *Manager {
	return &Manager{db: db}
}

// Register creates a new account and logs it in.
func (m *Manager) Register(username, password, avatar string) (Account, string, error) {
	username, err := util.ValidateUsername(username)
	if err != nil {
		return Account{}, "", err
	}
	if len(password) < 8 {
		return Account{}, "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, "", fmt.Errorf("hash password: %w", err)
	}
	if avatar == "" {
		avatar = "https://api.dicebear.com/8.x/initials/svg?seed=" + url.QueryEscape(username)
	}
	p := storage.Profile{
		ID:           uuid.NewString(),
		Username:     username,
		Avatar:       avatar,
		PasswordHash: string(hash),
	}
	if err := m.db.CreateProfile(p); err != nil {
		return Account{}, "", err
	}
	token, err := m.issueToken(p.ID)
	if err != nil {
		return Account{}, "", err
	}
	return Account{ID: p.ID, Username: p.Username, Avatar: p.Avatar}, token, nil
}

// Login verifies credentials and issues a session token.
func (m *Manager) Login(username, password string) (Account, string, error) {
	p, ok := m.db.GetProfileByUsername(username)
	if !ok {
		// Burn comparable time so the response doesn't reveal whether
		// the username exists.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uGZv1x5cMYYYYYYYYYYYYYYYYYYYYYY"), []byte(password))
		return Account{}, "", ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return Account{}, "", ErrBadCredentials
	}
	token, err := m.issueToken(p.ID)
	if err != nil {
		return Account{}, "", err
	}
	return Account{ID: p.ID, Username: p.Username, Avatar: p.Avatar}, token, nil
}

// Logout invalidates a session token.
func (m *Manager) Logout(token string) error {
	return m.db.DeleteSession(token)
}

// Authenticate resolves a session token to its account.
func (m *Manager) Authenticate(token string) (Account, bool) {
	id, ok := m.db.GetSession(token)
	if !ok {
		return Account{}, false
	}
	p, ok := m.db.GetProfile(id)
	if !ok {
		return Account{}, false
	}
	return Account{ID: p.ID, Username: p.Username, Avatar: p.Avatar}, true
}

// SetAvatar updates the account's avatar reference.
func (m *Manager) SetAvatar(id, avatar string) error {
	return m.db.SetProfileAvatar(id, avatar)
}

func (m *Manager) issueToken(profileID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := m.db.CreateSession(token, profileID, time.Now().Add(SessionTTL)); err != nil {
		return "", err
	}
	return token, nil
}
