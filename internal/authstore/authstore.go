// Package authstore implements JustIRC's account subsystem: PBKDF2-hashed
// passwords, in-memory session tokens, and failed-attempt lockout, backed by
// an atomically-persisted JSON file.
package authstore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/larry-lines/justIRC/internal/persist"
	"github.com/larry-lines/justIRC/internal/validator"
)

// dummyHash is compared against on every lookup of an unknown username, so
// the cost of Authenticate doesn't reveal whether the username exists.
var dummyHash = mustDummyHash()

func mustDummyHash() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("justirc-dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}

const (
	// Iterations is the PBKDF2 round count for account passwords
	// (OWASP recommends at least 100000 for PBKDF2-HMAC-SHA256).
	Iterations = 100000

	// SaltSize is the size of a freshly-drawn password salt.
	SaltSize = 32

	// TokenSize is the size of a session token before base64 encoding.
	TokenSize = 32

	// LockoutThreshold is the number of failed attempts within
	// LockoutWindow that locks an account.
	LockoutThreshold = 5

	// LockoutWindow bounds how far back failed attempts count toward the
	// threshold.
	LockoutWindow = 15 * time.Minute

	// LockoutDuration is how long an account stays locked after the last
	// qualifying failed attempt.
	LockoutDuration = 15 * time.Minute
)

var (
	ErrUsernameTaken      = errors.New("authstore: username taken")
	ErrWeakPassword       = errors.New("authstore: password does not meet policy")
	ErrInvalidCredentials = errors.New("authstore: invalid credentials")
	ErrAccountLocked      = errors.New("authstore: account locked")
	ErrUnknownUser        = errors.New("authstore: unknown user")
)

// account is the persisted record for one user.
type account struct {
	Username       string    `json:"username"`
	Hash           string    `json:"hash"`
	Salt           string    `json:"salt"`
	Iterations     int       `json:"iterations"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	FailedAttempts int       `json:"failed_attempts"`
	LastFailedAt   time.Time `json:"last_failed_at,omitempty"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
}

// session is an in-memory-only proof of a prior successful auth_request.
type session struct {
	Username  string
	CreatedAt time.Time
}

// Store holds accounts and sessions and persists account mutations to a
// JSON file. Sessions never touch disk: they're valid only until logout or
// server restart.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
	sessions map[string]*session
	path     string
}

// New builds an empty in-memory Store with no persistence.
func New() *Store {
	return &Store{
		accounts: make(map[string]*account),
		sessions: make(map[string]*session),
	}
}

// Load restores a Store from path. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := New()
	s.path = path

	var accounts map[string]*account
	if err := persist.ReadJSON(path, &accounts); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	s.accounts = accounts
	return s, nil
}

// CreateAccount validates username/password, draws a fresh salt, derives
// the PBKDF2 hash, and persists the new account.
func (s *Store) CreateAccount(username, password, email string) error {
	if v := validator.Nickname(username); !v.Ok {
		return fmt.Errorf("%w: %s", ErrWeakPassword, v.Reason)
	}
	if v := validator.Password(password); !v.Ok {
		return fmt.Errorf("%w: %s", ErrWeakPassword, v.Reason)
	}
	if v := validator.Email(email); !v.Ok {
		return fmt.Errorf("%w: %s", ErrWeakPassword, v.Reason)
	}
	normalizedEmail, err := validator.NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, Iterations, sha256.Size, sha256.New)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[username]; exists {
		return ErrUsernameTaken
	}
	s.accounts[username] = &account{
		Username:   username,
		Hash:       base64.StdEncoding.EncodeToString(hash),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: Iterations,
		Email:      normalizedEmail,
		CreatedAt:  time.Now(),
	}
	return s.saveLocked()
}

// Authenticate verifies username/password, applying the lockout policy and
// minting a session token on success.
func (s *Store) Authenticate(username, password string) (token string, err error) {
	s.mu.Lock()
	acct, ok := s.accounts[username]
	if !ok {
		s.mu.Unlock()
		// bcrypt dummy-hash comparison so username enumeration can't be
		// inferred from timing.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	if !acct.LockedUntil.IsZero() && now.Before(acct.LockedUntil) {
		s.mu.Unlock()
		return "", ErrAccountLocked
	}

	salt, _ := base64.StdEncoding.DecodeString(acct.Salt)
	wantHash, _ := base64.StdEncoding.DecodeString(acct.Hash)
	gotHash := pbkdf2.Key([]byte(password), salt, acct.Iterations, sha256.Size, sha256.New)

	if subtle.ConstantTimeCompare(wantHash, gotHash) != 1 {
		s.recordFailureLocked(acct, now)
		s.mu.Unlock()
		s.save()
		return "", ErrInvalidCredentials
	}

	acct.FailedAttempts = 0
	acct.LockedUntil = time.Time{}

	tok := make([]byte, TokenSize)
	if _, err := io.ReadFull(rand.Reader, tok); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("generate session token: %w", err)
	}
	tokenStr := base64.URLEncoding.EncodeToString(tok)
	s.sessions[tokenStr] = &session{Username: username, CreatedAt: now}
	s.mu.Unlock()

	s.save()
	return tokenStr, nil
}

func (s *Store) recordFailureLocked(acct *account, now time.Time) {
	if !acct.LastFailedAt.IsZero() && now.Sub(acct.LastFailedAt) > LockoutWindow {
		acct.FailedAttempts = 0
	}
	acct.FailedAttempts++
	acct.LastFailedAt = now
	if acct.FailedAttempts >= LockoutThreshold {
		acct.LockedUntil = now.Add(LockoutDuration)
	}
}

// VerifySession returns the username bound to token, if any.
func (s *Store) VerifySession(token string) (username string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	return sess.Username, true
}

// Logout invalidates token.
func (s *Store) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// ChangePassword requires the old password and replaces it with new,
// drawing a fresh salt.
func (s *Store) ChangePassword(username, oldPassword, newPassword string) error {
	if v := validator.Password(newPassword); !v.Ok {
		return fmt.Errorf("%w: %s", ErrWeakPassword, v.Reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	if !ok {
		return ErrUnknownUser
	}

	salt, _ := base64.StdEncoding.DecodeString(acct.Salt)
	wantHash, _ := base64.StdEncoding.DecodeString(acct.Hash)
	gotHash := pbkdf2.Key([]byte(oldPassword), salt, acct.Iterations, sha256.Size, sha256.New)
	if subtle.ConstantTimeCompare(wantHash, gotHash) != 1 {
		return ErrInvalidCredentials
	}

	newSalt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, newSalt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	newHash := pbkdf2.Key([]byte(newPassword), newSalt, Iterations, sha256.Size, sha256.New)
	acct.Salt = base64.StdEncoding.EncodeToString(newSalt)
	acct.Hash = base64.StdEncoding.EncodeToString(newHash)
	acct.Iterations = Iterations
	return s.saveLocked()
}

func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	return persist.WriteJSON(s.path, s.accounts)
}
