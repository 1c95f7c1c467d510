package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	f := New(TypePrivateMessage, map[string]any{
		"from_id":        "alice",
		"to_id":          "bob",
		"encrypted_data": "Y2lwaGVy",
		"nonce":          "bm9uY2U=",
	})
	if err := w.WriteFrame(f); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	r := NewReader(&buf)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got.Type != TypePrivateMessage {
		t.Errorf("Type = %q, want %q", got.Type, TypePrivateMessage)
	}
	if got.GetString("from_id") != "alice" || got.GetString("to_id") != "bob" {
		t.Errorf("unexpected routing fields: %+v", got.Fields)
	}
	if got.GetString("encrypted_data") != "Y2lwaGVy" || got.GetString("nonce") != "bm9uY2U=" {
		t.Errorf("server must round-trip encrypted_data/nonce byte-for-byte, got %+v", got.Fields)
	}
}

func TestReadFrameMissingVersion(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"register"}` + "\n"))
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("ReadFrame() succeeded on frame missing version")
	}
}

func TestReadFrameUnsupportedVersion(t *testing.T) {
	r := NewReader(strings.NewReader(`{"version":"2.0","type":"register"}` + "\n"))
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("ReadFrame() succeeded on unsupported version")
	}
}

func TestReadFrameUnknownType(t *testing.T) {
	r := NewReader(strings.NewReader(`{"version":"1.0","type":"frobnicate"}` + "\n"))
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("ReadFrame() succeeded on unknown type")
	}
}

func TestReadFrameMalformedJSON(t *testing.T) {
	r := NewReader(strings.NewReader(`not json` + "\n"))
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("ReadFrame() succeeded on malformed JSON")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	huge := `{"version":"1.0","type":"channel_message","text":"` + strings.Repeat("x", 1000) + `"}` + "\n"
	r := NewReaderSize(strings.NewReader(huge), 64)
	if _, err := r.ReadFrame(); err != ErrMessageTooLarge {
		t.Errorf("ReadFrame() error = %v, want ErrMessageTooLarge", err)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterSize(&buf, 32)
	f := New(TypeChannelMessage, map[string]any{"text": strings.Repeat("x", 1000)})
	if err := w.WriteFrame(f); err != ErrMessageTooLarge {
		t.Errorf("WriteFrame() error = %v, want ErrMessageTooLarge", err)
	}
}

func TestReadFrameEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("ReadFrame() on empty input should report EOF")
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteFrame(New(TypeAck, map[string]any{"n": float64(1)}))
	w.WriteFrame(New(TypeAck, map[string]any{"n": float64(2)}))

	r := NewReader(&buf)
	f1, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() 1 error = %v", err)
	}
	f2, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() 2 error = %v", err)
	}
	if f1.GetFloat("n") != 1 || f2.GetFloat("n") != 2 {
		t.Errorf("frames out of order: %v, %v", f1.Fields, f2.Fields)
	}
}

func TestNewErrorFrame(t *testing.T) {
	f := NewError("NotOperator", "you are not a channel operator")
	if f.Type != TypeError {
		t.Errorf("Type = %q, want error", f.Type)
	}
	if f.GetString("kind") != "NotOperator" {
		t.Errorf("kind = %q, want NotOperator", f.GetString("kind"))
	}
}

func TestValidType(t *testing.T) {
	if !ValidType(TypeRegister) {
		t.Error("ValidType(register) = false")
	}
	if ValidType(Type("bogus")) {
		t.Error("ValidType(bogus) = true")
	}
}
