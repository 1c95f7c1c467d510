package authstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCreateAndAuthenticate(t *testing.T) {
	s := New()
	if err := s.CreateAccount("alice", "correct-horse-battery", "alice@example.com"); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	token, err := s.Authenticate("alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token == "" {
		t.Fatal("Authenticate() returned empty token")
	}

	username, ok := s.VerifySession(token)
	if !ok || username != "alice" {
		t.Errorf("VerifySession() = (%q, %v), want (alice, true)", username, ok)
	}
}

func TestCreateAccountDuplicateUsername(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")
	if err := s.CreateAccount("alice", "another-password", ""); err != ErrUsernameTaken {
		t.Errorf("CreateAccount() error = %v, want ErrUsernameTaken", err)
	}
}

func TestCreateAccountWeakPassword(t *testing.T) {
	s := New()
	if err := s.CreateAccount("alice", "short", ""); err == nil {
		t.Fatal("CreateAccount() succeeded with a too-short password")
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")
	if _, err := s.Authenticate("alice", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	s := New()
	if _, err := s.Authenticate("nobody", "whatever"); err != ErrInvalidCredentials {
		t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")

	for i := 0; i < 5; i++ {
		if _, err := s.Authenticate("alice", "wrong-password"); err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: error = %v, want ErrInvalidCredentials", i, err)
		}
	}

	// The 6th attempt, even with correct credentials, must report locked.
	if _, err := s.Authenticate("alice", "correct-horse-battery"); err != ErrAccountLocked {
		t.Errorf("Authenticate() after lockout error = %v, want ErrAccountLocked", err)
	}
}

func TestLockoutClearsAfterDuration(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")

	s.mu.Lock()
	acct := s.accounts["alice"]
	acct.FailedAttempts = LockoutThreshold
	acct.LastFailedAt = time.Now().Add(-LockoutWindow * 2)
	acct.LockedUntil = time.Now().Add(-time.Minute) // lock already expired
	s.mu.Unlock()

	if _, err := s.Authenticate("alice", "correct-horse-battery"); err != nil {
		t.Errorf("Authenticate() after lock expiry error = %v, want nil", err)
	}
}

func TestChangePassword(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")

	if err := s.ChangePassword("alice", "correct-horse-battery", "new-password-123"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := s.Authenticate("alice", "correct-horse-battery"); err != ErrInvalidCredentials {
		t.Error("old password should no longer authenticate")
	}
	if _, err := s.Authenticate("alice", "new-password-123"); err != nil {
		t.Errorf("new password should authenticate, got error = %v", err)
	}
}

func TestChangePasswordRequiresOldPassword(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")
	if err := s.ChangePassword("alice", "wrong-old-password", "new-password-123"); err != ErrInvalidCredentials {
		t.Errorf("ChangePassword() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	s := New()
	s.CreateAccount("alice", "correct-horse-battery", "")
	token, _ := s.Authenticate("alice", "correct-horse-battery")

	s.Logout(token)
	if _, ok := s.VerifySession(token); ok {
		t.Error("session should be invalid after Logout")
	}
}

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := s.Authenticate("alice", "whatever"); err != ErrInvalidCredentials {
		t.Errorf("empty store Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestPersistenceAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.CreateAccount("alice", "correct-horse-battery", ""); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() reload error = %v", err)
	}
	if _, err := reloaded.Authenticate("alice", "correct-horse-battery"); err != nil {
		t.Errorf("Authenticate() after reload error = %v", err)
	}
}
