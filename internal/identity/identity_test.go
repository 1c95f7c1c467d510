package identity

import "testing"

func TestNew(t *testing.T) {
	id1, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if id1.IsZero() {
		t.Error("New() returned zero id")
	}

	id2, err := New()
	if err != nil {
		t.Fatalf("New() second call error = %v", err)
	}
	if id1.Equal(id2) {
		t.Error("New() returned duplicate ids")
	}
}

func TestUserID_String(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s := id.String()
	if len(s) != 32 { // 16 bytes * 2 hex chars
		t.Errorf("String() length = %d, want 32", len(s))
	}
}

func TestUserID_ShortString(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s := id.ShortString()
	if len(s) != 8 {
		t.Errorf("ShortString() length = %d, want 8", len(s))
	}
	full := id.String()
	if s != full[:8] {
		t.Errorf("ShortString() = %s, want prefix of %s", s, full)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid hex string", "a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e", false},
		{"valid with 0x prefix", "0xa3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e", false},
		{"valid with whitespace", "  a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e  ", false},
		{"too short", "a3f8c2d1e5b94a7c", true},
		{"too long", "a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e00", true},
		{"invalid hex chars", "g3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e", true},
		{"empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && id.IsZero() {
				t.Error("Parse() returned zero id for valid input")
			}
		})
	}
}

func TestFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{"valid 16 bytes", make([]byte, 16), false},
		{"too short", make([]byte, 15), true},
		{"too long", make([]byte, 17), true},
		{"empty", []byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserID_Bytes(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b := id.Bytes()
	if len(b) != Size {
		t.Errorf("Bytes() length = %d, want %d", len(b), Size)
	}
	id2, err := FromBytes(b)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	if !id.Equal(id2) {
		t.Error("round-trip through Bytes() failed")
	}
}

func TestUserID_IsZero(t *testing.T) {
	var zero UserID
	if !zero.IsZero() {
		t.Error("IsZero() = false for zero id")
	}
	id, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if id.IsZero() {
		t.Error("IsZero() = true for non-zero id")
	}
}

func TestUserID_Equal(t *testing.T) {
	id1, _ := Parse("a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e")
	id2, _ := Parse("a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e")
	id3, _ := Parse("b3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e")

	if !id1.Equal(id2) {
		t.Error("Equal() = false for identical ids")
	}
	if id1.Equal(id3) {
		t.Error("Equal() = true for different ids")
	}
}

func TestUserID_MarshalUnmarshalText(t *testing.T) {
	original, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var restored UserID
	if err := restored.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if !original.Equal(restored) {
		t.Errorf("round-trip failed: original=%s, restored=%s", original, restored)
	}
}
