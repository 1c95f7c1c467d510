package filetransfer

import (
	"bytes"
	"context"
	"testing"

	"github.com/larry-lines/justIRC/internal/cryptocore"
)

func pairedCores(t *testing.T) (alice, bob *cryptocore.CryptoCore) {
	t.Helper()
	alice, err := cryptocore.New()
	if err != nil {
		t.Fatalf("cryptocore.New() alice error = %v", err)
	}
	bob, err = cryptocore.New()
	if err != nil {
		t.Fatalf("cryptocore.New() bob error = %v", err)
	}
	if err := alice.InstallPeer("bob", bob.PublicKeyB64()); err != nil {
		t.Fatalf("InstallPeer(bob) error = %v", err)
	}
	if err := bob.InstallPeer("alice", alice.PublicKeyB64()); err != nil {
		t.Fatalf("InstallPeer(alice) error = %v", err)
	}
	return alice, bob
}

// recordingSink captures frames a Sender emits, and can feed them straight
// into a Receiver to exercise the full round trip without a real transport.
type recordingSink struct {
	receiver *Receiver
	from     string
}

func (s *recordingSink) send(frameType string, fields map[string]any) error {
	switch frameType {
	case "image_start":
		return s.receiver.HandleImageStart(
			s.from,
			int(fields["total_chunks"].(float64)),
			int64(fields["file_size"].(float64)),
			fields["encrypted_data"].(string),
			fields["nonce"].(string),
		)
	case "image_chunk":
		return s.receiver.HandleImageChunk(
			s.from,
			int(fields["chunk_number"].(float64)),
			fields["encrypted_data"].(string),
			fields["nonce"].(string),
		)
	case "image_end":
		return s.receiver.HandleImageEnd(s.from)
	default:
		return nil
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	alice, bob := pairedCores(t)

	var gotSender, gotFilename string
	var gotData []byte
	receiver := NewReceiver(bob, func(senderID, filename string, data []byte) {
		gotSender, gotFilename, gotData = senderID, filename, data
	})

	sink := &recordingSink{receiver: receiver, from: "alice"}
	sender := NewSender(alice, "bob", sink.send)

	payload := bytes.Repeat([]byte("x"), ChunkBytes*2+100)
	if err := sender.Send(context.Background(), "photo.png", payload, 0); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotSender != "alice" {
		t.Errorf("sender = %q, want alice", gotSender)
	}
	if gotFilename != "photo.png" {
		t.Errorf("filename = %q, want photo.png", gotFilename)
	}
	if !bytes.Equal(gotData, payload) {
		t.Errorf("reassembled data mismatch: got %d bytes, want %d", len(gotData), len(payload))
	}
}

func TestSendReceiveEmptyFile(t *testing.T) {
	alice, bob := pairedCores(t)

	var gotData []byte
	called := false
	receiver := NewReceiver(bob, func(senderID, filename string, data []byte) {
		called = true
		gotData = data
	})

	sink := &recordingSink{receiver: receiver, from: "alice"}
	sender := NewSender(alice, "bob", sink.send)

	if err := sender.Send(context.Background(), "empty.txt", nil, 0); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !called {
		t.Fatal("onReady was not called")
	}
	if len(gotData) != 0 {
		t.Errorf("gotData = %d bytes, want 0", len(gotData))
	}
}

func TestHandleImageStartRejectsConcurrentTransfer(t *testing.T) {
	_, bob := pairedCores(t)
	receiver := NewReceiver(bob, nil)

	if err := receiver.HandleImageStart("alice", 1, 10, "", ""); err != nil {
		t.Fatalf("first HandleImageStart() error = %v", err)
	}
	if err := receiver.HandleImageStart("alice", 1, 10, "", ""); err != ErrTransferInProgress {
		t.Errorf("second HandleImageStart() error = %v, want ErrTransferInProgress", err)
	}
}

func TestHandleImageChunkUnknownSender(t *testing.T) {
	_, bob := pairedCores(t)
	receiver := NewReceiver(bob, nil)

	if err := receiver.HandleImageChunk("nobody", 0, "", ""); err != ErrUnknownTransfer {
		t.Errorf("HandleImageChunk() error = %v, want ErrUnknownTransfer", err)
	}
}

func TestHandleImageChunkOutOfOrderDropsTransfer(t *testing.T) {
	alice, bob := pairedCores(t)
	receiver := NewReceiver(bob, nil)

	if err := receiver.HandleImageStart("alice", 2, 64, "", ""); err != nil {
		t.Fatalf("HandleImageStart() error = %v", err)
	}

	ciphertext, nonce, err := alice.Encrypt("bob", []byte("chunk-1-not-0"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if err := receiver.HandleImageChunk("alice", 1, ciphertext, nonce); err != ErrOutOfOrderChunk {
		t.Errorf("HandleImageChunk() error = %v, want ErrOutOfOrderChunk", err)
	}

	if err := receiver.HandleImageChunk("alice", 1, ciphertext, nonce); err != ErrUnknownTransfer {
		t.Errorf("retry after drop error = %v, want ErrUnknownTransfer", err)
	}
}

func TestHandleImageEndSizeMismatch(t *testing.T) {
	alice, bob := pairedCores(t)
	called := false
	receiver := NewReceiver(bob, func(string, string, []byte) { called = true })

	if err := receiver.HandleImageStart("alice", 1, 999, "", ""); err != nil {
		t.Fatalf("HandleImageStart() error = %v", err)
	}
	ciphertext, nonce, err := alice.Encrypt("bob", []byte("short"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if err := receiver.HandleImageChunk("alice", 0, ciphertext, nonce); err != nil {
		t.Fatalf("HandleImageChunk() error = %v", err)
	}
	if err := receiver.HandleImageEnd("alice"); err != ErrSizeMismatch {
		t.Errorf("HandleImageEnd() error = %v, want ErrSizeMismatch", err)
	}
	if called {
		t.Error("onReady should not fire on a size mismatch")
	}
}

func TestAbortDropsInProgressTransfer(t *testing.T) {
	_, bob := pairedCores(t)
	receiver := NewReceiver(bob, nil)

	if err := receiver.HandleImageStart("alice", 1, 10, "", ""); err != nil {
		t.Fatalf("HandleImageStart() error = %v", err)
	}
	receiver.Abort("alice")

	if err := receiver.HandleImageChunk("alice", 0, "", ""); err != ErrUnknownTransfer {
		t.Errorf("HandleImageChunk() after Abort() error = %v, want ErrUnknownTransfer", err)
	}
}
