// Package identity allocates and formats the opaque connection identifiers
// the router hands out to clients on registration.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Size is the size of a UserID in bytes (128 bits).
const Size = 16

var (
	// ErrInvalidLength is returned when a decoded id is the wrong length.
	ErrInvalidLength = errors.New("invalid user id length: expected 16 bytes")

	// ErrInvalidHexString is returned when a hex string is malformed.
	ErrInvalidHexString = errors.New("invalid hex string for user id")

	// Zero represents an uninitialized UserID.
	Zero = UserID{}
)

// UserID is the server-unique identifier assigned to a connection on
// registration. It is opaque to clients and stable
// only for the lifetime of the connection: a reconnect always gets a fresh
// one, and it is never persisted.
type UserID [Size]byte

// New generates a fresh random UserID, drawing its 16 bytes from a
// version-4 UUID so the underlying randomness goes through the same
// well-reviewed source every other random identifier in the ecosystem
// does.
func New() (UserID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return Zero, fmt.Errorf("generate user id: %w", err)
	}
	var id UserID
	copy(id[:], u[:])
	return id, nil
}

// Parse parses a UserID from its hex representation.
func Parse(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != Size*2 {
		return Zero, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidHexString, len(s), Size*2)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidHexString, err)
	}

	var id UserID
	copy(id[:], b)
	return id, nil
}

// FromBytes builds a UserID from a byte slice of the correct length.
func FromBytes(b []byte) (UserID, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(b))
	}
	var id UserID
	copy(id[:], b)
	return id, nil
}

// String returns the full hex representation of the UserID.
func (id UserID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns a shortened hex representation (first 8 chars), used
// only in log lines.
func (id UserID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Bytes returns the UserID as a byte slice.
func (id UserID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether the UserID is uninitialized.
func (id UserID) IsZero() bool {
	return id == Zero
}

// Equal reports whether two UserIDs are identical.
func (id UserID) Equal(other UserID) bool {
	return id == other
}

// MarshalText implements encoding.TextMarshaler.
func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UserID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
