package profile

import (
	"errors"
	"testing"

	"github.com/aurachat/aura/internal/storage"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db)
}

func TestRegisterLoginFlow(t *testing.T) {
	m := newManager(t)

	acct, token, err := m.Register("alice", "correct horse", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acct.Username != "alice" || token == "" {
		t.Fatalf("account = %+v, token = %q", acct, token)
	}

	got, ok := m.Authenticate(token)
	if !ok || got.ID != acct.ID {
		t.Fatalf("Authenticate = %+v, %v", got, ok)
	}

	acct2, token2, err := m.Login("alice", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if acct2.ID != acct.ID || token2 == token {
		t.Fatal("login should issue a fresh token for the same account")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	m := newManager(t)
	m.Register("alice", "correct horse", "")

	if _, _, err := m.Login("alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("err = %v, want ErrBadCredentials", err)
	}
	if _, _, err := m.Login("nobody", "whatever"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("unknown user err = %v, want ErrBadCredentials", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	m := newManager(t)

	if _, _, err := m.Register("alice", "short", ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}
	if _, _, err := m.Register("", "long enough", ""); err == nil {
		t.Fatal("empty username accepted")
	}

	m.Register("alice", "long enough", "")
	if _, _, err := m.Register("alice", "long enough", ""); !errors.Is(err, storage.ErrProfileExists) {
		t.Fatalf("duplicate err = %v, want ErrProfileExists", err)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	m := newManager(t)
	_, token, _ := m.Register("alice", "correct horse", "")

	if err := m.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := m.Authenticate(token); ok {
		t.Fatal("token valid after logout")
	}
}
