// Package sessiontable implements the in-memory registry of connected
// clients the router consults on every frame: identity, public key, the
// per-connection writer handle, and joined channels.
package sessiontable

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNicknameTaken is returned by Register when the nickname is
	// already in use by another connected client.
	ErrNicknameTaken = errors.New("sessiontable: nickname taken")

	// ErrNotFound is returned when a lookup finds no session for the id
	// or nickname.
	ErrNotFound = errors.New("sessiontable: not found")
)

// Writer is the minimal outbound handle a session needs: something the
// router can hand an encoded frame to. Concrete connections implement it by
// wrapping a wire.Writer with a bounded queue (see internal/router).
type Writer interface {
	Enqueue(frame any) bool
	Close() error
}

// Session is one connected client's routing-relevant state.
type Session[W Writer] struct {
	UserID         string
	Nickname       string
	PublicKeyB64   string
	Writer         W
	AccountName    string
	ConnectedSince time.Time
	LastActivity   time.Time

	mu       sync.Mutex
	channels map[string]struct{}
}

// JoinedChannels returns a snapshot of the channel names this session
// currently belongs to.
func (s *Session[W]) JoinedChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

func (s *Session[W]) addChannel(channel string) {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()
}

func (s *Session[W]) removeChannel(channel string) {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

func (s *Session[W]) inChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *Session[W]) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// Table is the thread-safe map of connected sessions, keyed by user_id,
// with a secondary case-sensitive nickname index.
type Table[W Writer] struct {
	mu        sync.RWMutex
	byUserID  map[string]*Session[W]
	byNick    map[string]string // nickname -> user_id
	userCount atomic.Int64
}

// New builds an empty Table.
func New[W Writer]() *Table[W] {
	return &Table[W]{
		byUserID: make(map[string]*Session[W]),
		byNick:   make(map[string]string),
	}
}

// Register inserts a new session, rejecting a nickname already in use.
// Registration and the uniqueness check happen under the same lock, so
// concurrent Register calls with the same nickname yield exactly one
// success.
func (t *Table[W]) Register(userID, nickname, publicKeyB64 string, writer W) (*Session[W], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, taken := t.byNick[nickname]; taken {
		return nil, ErrNicknameTaken
	}

	now := time.Now()
	sess := &Session[W]{
		UserID:         userID,
		Nickname:       nickname,
		PublicKeyB64:   publicKeyB64,
		Writer:         writer,
		ConnectedSince: now,
		LastActivity:   now,
		channels:       make(map[string]struct{}),
	}
	t.byUserID[userID] = sess
	t.byNick[nickname] = userID
	t.userCount.Add(1)
	return sess, nil
}

// Unregister removes a session by user_id, returning it (and the channels
// it was in) so the caller can broadcast UserLeft. Safe to call more than
// once; the second call returns ErrNotFound.
func (t *Table[W]) Unregister(userID string) (*Session[W], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.byUserID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(t.byUserID, userID)
	delete(t.byNick, sess.Nickname)
	t.userCount.Add(-1)
	return sess, nil
}

// ByUserID looks up a session by user_id.
func (t *Table[W]) ByUserID(userID string) (*Session[W], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.byUserID[userID]
	return sess, ok
}

// ByNickname looks up a session by nickname.
func (t *Table[W]) ByNickname(nickname string) (*Session[W], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	userID, ok := t.byNick[nickname]
	if !ok {
		return nil, false
	}
	sess := t.byUserID[userID]
	return sess, sess != nil
}

// NicknameTaken reports whether nickname is currently in use.
func (t *Table[W]) NicknameTaken(nickname string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byNick[nickname]
	return ok
}

// Count returns the number of currently registered sessions.
func (t *Table[W]) Count() int64 {
	return t.userCount.Load()
}

// JoinChannel records that userID has joined channel.
func (t *Table[W]) JoinChannel(userID, channel string) {
	if sess, ok := t.ByUserID(userID); ok {
		sess.addChannel(channel)
	}
}

// LeaveChannel records that userID has left channel.
func (t *Table[W]) LeaveChannel(userID, channel string) {
	if sess, ok := t.ByUserID(userID); ok {
		sess.removeChannel(channel)
	}
}

// InChannel reports whether userID is currently a member of channel.
func (t *Table[W]) InChannel(userID, channel string) bool {
	sess, ok := t.ByUserID(userID)
	return ok && sess.inChannel(channel)
}

// Touch updates a session's last-activity timestamp. Idle and read
// timeouts do not read it; the router enforces them with read deadlines.
func (t *Table[W]) Touch(userID string) {
	if sess, ok := t.ByUserID(userID); ok {
		sess.touch()
	}
}

// Snapshot returns every currently registered session, for building a
// user_list frame.
func (t *Table[W]) Snapshot() []*Session[W] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session[W], 0, len(t.byUserID))
	for _, sess := range t.byUserID {
		out = append(out, sess)
	}
	return out
}
