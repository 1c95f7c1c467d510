package sessiontable

import "testing"

type fakeWriter struct {
	closed bool
	frames []any
}

func (f *fakeWriter) Enqueue(frame any) bool {
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	tbl := New[*fakeWriter]()
	sess, err := tbl.Register("u1", "alice", "pubkey", &fakeWriter{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if sess.Nickname != "alice" {
		t.Errorf("Nickname = %q, want alice", sess.Nickname)
	}

	byID, ok := tbl.ByUserID("u1")
	if !ok || byID != sess {
		t.Error("ByUserID() did not return the registered session")
	}
	byNick, ok := tbl.ByNickname("alice")
	if !ok || byNick != sess {
		t.Error("ByNickname() did not return the registered session")
	}
}

func TestRegisterDuplicateNickname(t *testing.T) {
	tbl := New[*fakeWriter]()
	tbl.Register("u1", "alice", "pubkey1", &fakeWriter{})
	_, err := tbl.Register("u2", "alice", "pubkey2", &fakeWriter{})
	if err != ErrNicknameTaken {
		t.Errorf("Register() error = %v, want ErrNicknameTaken", err)
	}
}

func TestUnregisterRemovesBothIndices(t *testing.T) {
	tbl := New[*fakeWriter]()
	tbl.Register("u1", "alice", "pubkey", &fakeWriter{})

	sess, err := tbl.Unregister("u1")
	if err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if sess.Nickname != "alice" {
		t.Errorf("Unregister() returned session with nickname %q", sess.Nickname)
	}

	if _, ok := tbl.ByUserID("u1"); ok {
		t.Error("ByUserID() found session after Unregister")
	}
	if _, ok := tbl.ByNickname("alice"); ok {
		t.Error("ByNickname() found session after Unregister")
	}
	if tbl.NicknameTaken("alice") {
		t.Error("nickname should be free after Unregister")
	}
}

func TestUnregisterTwiceFails(t *testing.T) {
	tbl := New[*fakeWriter]()
	tbl.Register("u1", "alice", "pubkey", &fakeWriter{})
	tbl.Unregister("u1")
	if _, err := tbl.Unregister("u1"); err != ErrNotFound {
		t.Errorf("second Unregister() error = %v, want ErrNotFound", err)
	}
}

func TestJoinLeaveChannel(t *testing.T) {
	tbl := New[*fakeWriter]()
	tbl.Register("u1", "alice", "pubkey", &fakeWriter{})

	tbl.JoinChannel("u1", "#team")
	if !tbl.InChannel("u1", "#team") {
		t.Error("InChannel() = false after JoinChannel")
	}

	tbl.LeaveChannel("u1", "#team")
	if tbl.InChannel("u1", "#team") {
		t.Error("InChannel() = true after LeaveChannel")
	}
}

func TestCount(t *testing.T) {
	tbl := New[*fakeWriter]()
	if tbl.Count() != 0 {
		t.Errorf("Count() = %d, want 0", tbl.Count())
	}
	tbl.Register("u1", "alice", "pubkey", &fakeWriter{})
	tbl.Register("u2", "bob", "pubkey", &fakeWriter{})
	if tbl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tbl.Count())
	}
	tbl.Unregister("u1")
	if tbl.Count() != 1 {
		t.Errorf("Count() = %d, want 1", tbl.Count())
	}
}

func TestSnapshot(t *testing.T) {
	tbl := New[*fakeWriter]()
	tbl.Register("u1", "alice", "pubkey", &fakeWriter{})
	tbl.Register("u2", "bob", "pubkey", &fakeWriter{})

	snap := tbl.Snapshot()
	if len(snap) != 2 {
		t.Errorf("Snapshot() returned %d sessions, want 2", len(snap))
	}
}
