// Package cryptocore implements the client-side cryptographic session layer
// for JustIRC: X25519 key exchange, HKDF-SHA256 key derivation, and
// ChaCha20-Poly1305 AEAD, for both per-peer sessions and symmetric channel
// keys. The server never links against this package — per spec.md's
// zero-knowledge routing requirement, encryption and decryption happen only
// on clients.
package cryptocore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

const (
	// KeySize is the size of X25519 and ChaCha20-Poly1305 keys in bytes.
	KeySize = 32

	// NonceSize is the size of ChaCha20-Poly1305 nonces in bytes.
	NonceSize = 12

	// hkdfInfo is the fixed context string mixed into every key derivation
	// (spec.md GLOSSARY).
	hkdfInfo = "JustIRC-E2E-Encryption"

	// DefaultRotationInterval is the default time-based rekey trigger.
	DefaultRotationInterval = 3600 * time.Second

	// DefaultMaxMessages is the default message-count rekey trigger.
	DefaultMaxMessages = 10000

	// RetiredGrace bounds how many messages encrypted under a key that is
	// being retired by a rekey can still be decrypted after rotation
	// completes. 16 was chosen as a generous but bounded grace window.
	RetiredGrace = 16
)

var (
	// ErrUnknownPeer is returned when an operation names a peer with no
	// installed session.
	ErrUnknownPeer = errors.New("cryptocore: unknown peer")

	// ErrUnknownChannel is returned when an operation names a channel with
	// no installed key.
	ErrUnknownChannel = errors.New("cryptocore: unknown channel")

	// ErrDecryptFailure is returned on AEAD tag mismatch or truncated
	// ciphertext. It never distinguishes which, to avoid leaking an oracle.
	ErrDecryptFailure = errors.New("cryptocore: decrypt failure")

	// ErrRotationPending is returned when BeginRotation is called twice
	// for the same peer without an intervening CompleteRotation.
	ErrRotationPending = errors.New("cryptocore: rotation already pending")

	// ErrNoPendingRotation is returned when CompleteRotation is called
	// without a prior BeginRotation.
	ErrNoPendingRotation = errors.New("cryptocore: no rotation pending")

	// ErrInvalidKey is returned when a base64-decoded key is the wrong size.
	ErrInvalidKey = errors.New("cryptocore: invalid key length")
)

// RotationReason describes why a peer session needs to be rekeyed.
type RotationReason int

const (
	// RotationNone means no rekey is needed yet.
	RotationNone RotationReason = iota
	// RotationTime means the session has exceeded its time budget.
	RotationTime
	// RotationCount means the session has exceeded its message budget.
	RotationCount
)

func (r RotationReason) String() string {
	switch r {
	case RotationTime:
		return "time"
	case RotationCount:
		return "count"
	default:
		return "none"
	}
}

// retiredKey is an AEAD key that used to be current for a peer, kept around
// only long enough to drain messages already in flight from the far side
// when it sent under the old key before it saw our rotation.
type retiredKey struct {
	aeadKey         [KeySize]byte
	remainingDecrypts int
}

// peerSession holds the derived keys and rotation state for one peer.
type peerSession struct {
	peerPublicKey [KeySize]byte
	aeadKey       [KeySize]byte
	counter       uint64
	firstUse      time.Time

	// pendingPriv/pendingPub hold our ephemeral rotation keypair between
	// BeginRotation and CompleteRotation. Zero when no rotation is pending.
	pendingPriv [KeySize]byte
	pendingPub  [KeySize]byte
	rotating    bool

	retired []*retiredKey
}

// CryptoCore holds one identity keypair and all derived peer/channel
// session state for a single client process.
type CryptoCore struct {
	mu sync.RWMutex

	privateKey [KeySize]byte
	publicKey  [KeySize]byte

	peers    map[string]*peerSession
	channels map[string][KeySize]byte

	rotationInterval time.Duration
	maxMessages      uint64
}

// Option configures a CryptoCore at construction time.
type Option func(*CryptoCore)

// WithRotationInterval overrides the default time-based rekey trigger.
func WithRotationInterval(d time.Duration) Option {
	return func(c *CryptoCore) { c.rotationInterval = d }
}

// WithMaxMessages overrides the default count-based rekey trigger.
func WithMaxMessages(n uint64) Option {
	return func(c *CryptoCore) { c.maxMessages = n }
}

// New generates a fresh X25519 identity keypair and returns a ready
// CryptoCore. This is spec.md's generate_identity().
func New(opts ...Option) (*CryptoCore, error) {
	priv, pub, err := generateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	c := &CryptoCore{
		privateKey:       priv,
		publicKey:        pub,
		peers:            make(map[string]*peerSession),
		channels:         make(map[string][KeySize]byte),
		rotationInterval: DefaultRotationInterval,
		maxMessages:      DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func generateKeypair() (priv, pub [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("read random: %w", err)
	}
	// Clamp per the X25519 spec.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// PublicKeyB64 returns the process's identity public key, base64-encoded.
func (c *CryptoCore) PublicKeyB64() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return b64(c.publicKey[:])
}

// InstallPeer computes the shared secret with peerPublicKeyB64 and derives
// the peer's aead_key via HKDF-SHA256. It replaces any existing session for
// that peer.
func (c *CryptoCore) InstallPeer(peerID, peerPublicKeyB64 string) error {
	peerPub, err := decodeKey(peerPublicKeyB64)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	aeadKey, err := deriveAEADKey(c.privateKey, peerPub)
	if err != nil {
		return err
	}

	c.peers[peerID] = &peerSession{
		peerPublicKey: peerPub,
		aeadKey:       aeadKey,
		firstUse:      time.Now(),
	}
	return nil
}

// deriveAEADKey performs X25519(priv, pub) then HKDF-SHA256 with the fixed
// JustIRC info string.
func deriveAEADKey(priv, pub [KeySize]byte) ([KeySize]byte, error) {
	var aeadKey [KeySize]byte
	var zero [KeySize]byte
	if pub == zero {
		return aeadKey, fmt.Errorf("ecdh: invalid peer public key (zero)")
	}

	var shared [KeySize]byte
	curve25519.ScalarMult(&shared, &priv, &pub)
	if shared == zero {
		return aeadKey, fmt.Errorf("ecdh: low-order point")
	}

	reader := hkdf.New(sha256.New, shared[:], nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, aeadKey[:]); err != nil {
		return aeadKey, fmt.Errorf("hkdf: %w", err)
	}
	return aeadKey, nil
}

// Encrypt encrypts plaintext for peerID. It draws a fresh random 12-byte
// nonce from the system CSPRNG and returns base64 ciphertext||tag and
// base64 nonce.
func (c *CryptoCore) Encrypt(peerID string, plaintext []byte) (ciphertextB64, nonceB64 string, err error) {
	c.mu.Lock()
	sess, ok := c.peers[peerID]
	if !ok {
		c.mu.Unlock()
		return "", "", ErrUnknownPeer
	}
	key := sess.aeadKey
	sess.counter++
	c.mu.Unlock()

	ct, nonce, err := aeadSeal(key, plaintext)
	if err != nil {
		return "", "", err
	}
	return b64(ct), b64(nonce), nil
}

// Decrypt decrypts a message from peerID, trying the current session key
// first and falling back to a retiring key for the grace window described
// after a rekey. Fails with ErrDecryptFailure on any tag mismatch.
func (c *CryptoCore) Decrypt(peerID, ciphertextB64, nonceB64 string) ([]byte, error) {
	c.mu.Lock()
	sess, ok := c.peers[peerID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownPeer
	}
	currentKey := sess.aeadKey
	c.mu.Unlock()

	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, ErrDecryptFailure
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, ErrDecryptFailure
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecryptFailure
	}

	if pt, err := aeadOpen(currentKey, nonce, ct); err == nil {
		return pt, nil
	}

	// Fall back to retired keys in newest-first order, draining the grace
	// budget so a key can't be used indefinitely after rotation.
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(sess.retired) - 1; i >= 0; i-- {
		rk := sess.retired[i]
		if rk.remainingDecrypts <= 0 {
			continue
		}
		if pt, err := aeadOpen(rk.aeadKey, nonce, ct); err == nil {
			rk.remainingDecrypts--
			if rk.remainingDecrypts == 0 {
				sess.retired = append(sess.retired[:i], sess.retired[i+1:]...)
			}
			return pt, nil
		}
	}
	return nil, ErrDecryptFailure
}

// RotationNeeded reports whether peerID's session has crossed the time or
// message-count rekey threshold.
func (c *CryptoCore) RotationNeeded(peerID string) (RotationReason, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sess, ok := c.peers[peerID]
	if !ok {
		return RotationNone, ErrUnknownPeer
	}
	if time.Since(sess.firstUse) >= c.rotationInterval {
		return RotationTime, nil
	}
	if sess.counter >= c.maxMessages {
		return RotationCount, nil
	}
	return RotationNone, nil
}

// BeginRotation generates a fresh ephemeral keypair scoped to peerID,
// retires the current aead_key (kept decryptable for RetiredGrace more
// messages), and returns the new public key to send to the peer.
func (c *CryptoCore) BeginRotation(peerID string) (newPublicKeyB64 string, err error) {
	priv, pub, err := generateKeypair()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.peers[peerID]
	if !ok {
		return "", ErrUnknownPeer
	}
	if sess.rotating {
		return "", ErrRotationPending
	}

	sess.retired = append(sess.retired, &retiredKey{
		aeadKey:           sess.aeadKey,
		remainingDecrypts: RetiredGrace,
	})
	sess.pendingPriv = priv
	sess.pendingPub = pub
	sess.rotating = true

	return b64(pub[:]), nil
}

// CompleteRotation derives the new aead_key from our pending rotation
// keypair and the peer's new public key, installs it, resets counter and
// first-use timestamp, and clears the pending rotation.
func (c *CryptoCore) CompleteRotation(peerID, remoteNewPublicKeyB64 string) error {
	remotePub, err := decodeKey(remoteNewPublicKeyB64)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.peers[peerID]
	if !ok {
		return ErrUnknownPeer
	}
	if !sess.rotating {
		return ErrNoPendingRotation
	}

	aeadKey, err := deriveAEADKey(sess.pendingPriv, remotePub)
	if err != nil {
		return err
	}

	sess.aeadKey = aeadKey
	sess.peerPublicKey = remotePub
	sess.counter = 0
	sess.firstUse = time.Now()
	sess.pendingPriv = [KeySize]byte{}
	sess.pendingPub = [KeySize]byte{}
	sess.rotating = false
	return nil
}

// CreateChannelKey draws a fresh 32-byte symmetric key for channel and
// installs it locally. The caller (the first joiner) is responsible for
// distributing it to subsequent joiners over an already-established
// PeerSession.
func (c *CryptoCore) CreateChannelKey(channel string) (keyB64 string, err error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generate channel key: %w", err)
	}
	c.mu.Lock()
	c.channels[channel] = key
	c.mu.Unlock()
	return b64(key[:]), nil
}

// InstallChannelKey stores a channel key received from another member.
func (c *CryptoCore) InstallChannelKey(channel, keyB64 string) error {
	key, err := decodeKey(keyB64)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.channels[channel] = key
	c.mu.Unlock()
	return nil
}

// ChannelKeyB64 returns the installed key for channel, for redistribution
// to a newly joining member.
func (c *CryptoCore) ChannelKeyB64(channel string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.channels[channel]
	if !ok {
		return "", ErrUnknownChannel
	}
	return b64(key[:]), nil
}

// EncryptChannel encrypts plaintext with channel's symmetric key, mirroring
// the peer Encrypt API.
func (c *CryptoCore) EncryptChannel(channel string, plaintext []byte) (ciphertextB64, nonceB64 string, err error) {
	c.mu.RLock()
	key, ok := c.channels[channel]
	c.mu.RUnlock()
	if !ok {
		return "", "", ErrUnknownChannel
	}
	ct, nonce, err := aeadSeal(key, plaintext)
	if err != nil {
		return "", "", err
	}
	return b64(ct), b64(nonce), nil
}

// DecryptChannel decrypts a channel message, mirroring the peer Decrypt API.
func (c *CryptoCore) DecryptChannel(channel, ciphertextB64, nonceB64 string) ([]byte, error) {
	c.mu.RLock()
	key, ok := c.channels[channel]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownChannel
	}

	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, ErrDecryptFailure
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrDecryptFailure
	}

	pt, err := aeadOpen(key, nonce, ct)
	if err != nil {
		return nil, ErrDecryptFailure
	}
	return pt, nil
}

// aeadSeal encrypts plaintext under key with a fresh random nonce, returning
// ciphertext||tag and the nonce separately.
func aeadSeal(key [KeySize]byte, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("new aead: %w", err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("read nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// aeadOpen decrypts ciphertext||tag under key and nonce.
func aeadOpen(key [KeySize]byte, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeKey(keyB64 string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}
