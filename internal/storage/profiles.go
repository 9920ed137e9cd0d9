package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrProfileExists is returned when registering a taken username.
var ErrProfileExists = errors.New("username already registered")

// Profile is one local login identity.
type Profile struct {
	ID           string
	Username     string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateProfile stores a new profile.
func (d *DB) CreateProfile(p Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO profiles (id, username, avatar, password_hash)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.Username, p.Avatar, p.PasswordHash)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrProfileExists
	}
	return err
}

// GetProfileByUsername looks a profile up by its login name.
func (d *DB) GetProfileByUsername(username string) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanProfile(d.db.QueryRow(`
		SELECT id, username, avatar, password_hash, created_at
		FROM profiles WHERE username = ?`, username))
}

// GetProfile looks a profile up by ID.
func (d *DB) GetProfile(id string) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanProfile(d.db.QueryRow(`
		SELECT id, username, avatar, password_hash, created_at
		FROM profiles WHERE id = ?`, id))
}

// FirstProfile returns the oldest registered profile, if any. A fresh
// install has none.
func (d *DB) FirstProfile() (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanProfile(d.db.QueryRow(`
		SELECT id, username, avatar, password_hash, created_at
		FROM profiles ORDER BY created_at ASC LIMIT 1`))
}

// SetProfileAvatar updates the avatar reference.
func (d *DB) SetProfileAvatar(id, avatar string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE profiles SET avatar = ? WHERE id = ?`, avatar, id)
	return err
}

func (d *DB) scanProfile(row *sql.Row) (Profile, bool) {
	var p Profile
	var created string
	if err := row.Scan(&p.ID, &p.Username, &p.Avatar, &p.PasswordHash, &created); err != nil {
		return Profile{}, false
	}
	p.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
	return p, true
}

// CreateSession stores a login token.
func (d *DB) CreateSession(token, profileID string, expires time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO sessions (token, profile_id, expires_at) VALUES (?, ?, ?)`,
		token, profileID, expires.UnixMilli())
	return err
}

// GetSession resolves a token to a profile ID; expired tokens are removed.
func (d *DB) GetSession(token string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var profileID string
	var expires int64
	err := d.db.QueryRow(`
		SELECT profile_id, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&profileID, &expires)
	if err != nil {
		return "", false
	}
	if time.Now().UnixMilli() > expires {
		d.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
		return "", false
	}
	return profileID, true
}

// DeleteSession logs a token out.
func (d *DB) DeleteSession(token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}
