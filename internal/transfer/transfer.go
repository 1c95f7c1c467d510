// Package filetransfer implements JustIRC's client-side file transfer
// orchestration: chunking a file into encrypted image_chunk frames on
// send, and reassembling them with a single-sender-at-a-time guard on
// receive. The server only routes these frames; it never decodes them.
package filetransfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/larry-lines/justIRC/internal/cryptocore"
)

// ChunkBytes is the default chunk size
const ChunkBytes = 32768

var (
	// ErrTransferInProgress is returned when a second transfer arrives
	// from a sender that already has one in flight.
	ErrTransferInProgress = errors.New("filetransfer: transfer already in progress from this sender")

	// ErrUnknownTransfer is returned when a chunk or end frame arrives
	// for a sender with no active transfer.
	ErrUnknownTransfer = errors.New("filetransfer: no transfer in progress from this sender")

	// ErrSizeMismatch is returned when the received byte count does not
	// match the advertised file_size.
	ErrSizeMismatch = errors.New("filetransfer: received size does not match advertised file_size")

	// ErrOutOfOrderChunk is returned when a chunk number does not match
	// the next expected sequence number.
	ErrOutOfOrderChunk = errors.New("filetransfer: chunk received out of order")
)

// FrameSink is the minimal send capability the orchestrator needs: encode
// and emit one outbound frame. The caller supplies a closure wired to
// its wire.Writer.
type FrameSink func(frameType string, fields map[string]any) error

// Sender drives the sender half of a transfer to one peer: encrypt
// metadata and each chunk with CryptoCore, emit image_start, ordered
// image_chunk frames, then image_end, throttled by a rate-limited reader.
type Sender struct {
	crypto *cryptocore.CryptoCore
	peerID string
	sink   FrameSink
}

// NewSender builds a Sender for one outbound transfer to peerID.
func NewSender(crypto *cryptocore.CryptoCore, peerID string, sink FrameSink) *Sender {
	return &Sender{crypto: crypto, peerID: peerID, sink: sink}
}

// Send reads all of data's bytes, chunking and encrypting as it goes.
// bytesPerSecond throttles chunk emission to stay under the image-chunk
// rate budget; 0 disables throttling.
func (s *Sender) Send(ctx context.Context, filename string, data []byte, bytesPerSecond int64) error {
	fileSize := int64(len(data))
	totalChunks := int((fileSize + ChunkBytes - 1) / ChunkBytes)
	if fileSize == 0 {
		totalChunks = 0
	}

	metaCiphertext, metaNonce, err := s.crypto.Encrypt(s.peerID, []byte(fmt.Sprintf(`{"filename":%q,"file_size":%d}`, filename, fileSize)))
	if err != nil {
		return fmt.Errorf("filetransfer: encrypt metadata: %w", err)
	}
	if err := s.sink("image_start", map[string]any{
		"to_id":          s.peerID,
		"total_chunks":   float64(totalChunks),
		"file_size":      float64(fileSize),
		"encrypted_data": metaCiphertext,
		"nonce":          metaNonce,
	}); err != nil {
		return err
	}

	reader := NewRateLimitedReader(ctx, bytes.NewReader(data), bytesPerSecond)
	buf := make([]byte, ChunkBytes)
	for n := 0; n < totalChunks; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		read, err := io.ReadFull(reader, buf)
		if err == io.ErrUnexpectedEOF {
			err = nil
		}
		if read == 0 && err != nil {
			return fmt.Errorf("filetransfer: read chunk %d: %w", n, err)
		}
		ciphertext, nonce, encErr := s.crypto.Encrypt(s.peerID, buf[:read])
		if encErr != nil {
			return fmt.Errorf("filetransfer: encrypt chunk %d: %w", n, encErr)
		}
		if sendErr := s.sink("image_chunk", map[string]any{
			"to_id":          s.peerID,
			"chunk_number":   float64(n),
			"encrypted_data": ciphertext,
			"nonce":          nonce,
		}); sendErr != nil {
			return sendErr
		}
	}

	return s.sink("image_end", map[string]any{"to_id": s.peerID})
}

// incoming tracks one sender's in-progress transfer on the receive side.
type incoming struct {
	filename     string
	fileSize     int64
	totalChunks  int
	nextChunk    int
	receivedSize int64
	data         []byte
}

// Receiver reassembles incoming transfers, rejecting a second concurrent
// transfer from the same sender and verifying the final byte count.
type Receiver struct {
	crypto *cryptocore.CryptoCore

	mu      sync.Mutex
	active  map[string]*incoming // keyed by sender peer id
	onReady func(senderID, filename string, data []byte)
}

// NewReceiver builds a Receiver that decrypts with crypto and calls
// onReady once a transfer completes and its size has been verified.
func NewReceiver(crypto *cryptocore.CryptoCore, onReady func(senderID, filename string, data []byte)) *Receiver {
	return &Receiver{
		crypto:  crypto,
		active:  make(map[string]*incoming),
		onReady: onReady,
	}
}

// HandleImageStart begins tracking a new transfer from senderID.
func (r *Receiver) HandleImageStart(senderID string, totalChunks int, fileSize int64, ciphertext, nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[senderID]; exists {
		return ErrTransferInProgress
	}

	filename := ""
	if ciphertext != "" {
		if plain, err := r.crypto.Decrypt(senderID, ciphertext, nonce); err == nil {
			filename = extractFilename(plain)
		}
	}

	r.active[senderID] = &incoming{
		filename:    filename,
		fileSize:    fileSize,
		totalChunks: totalChunks,
		data:        make([]byte, 0, fileSize),
	}
	return nil
}

// HandleImageChunk decrypts and appends one chunk, aborting and dropping
// all state for this sender if decryption fails or the chunk number is
// out of order.
func (r *Receiver) HandleImageChunk(senderID string, chunkNumber int, ciphertext, nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[senderID]
	if !ok {
		return ErrUnknownTransfer
	}
	if chunkNumber != t.nextChunk {
		delete(r.active, senderID)
		return ErrOutOfOrderChunk
	}

	plain, err := r.crypto.Decrypt(senderID, ciphertext, nonce)
	if err != nil {
		delete(r.active, senderID)
		return fmt.Errorf("filetransfer: decrypt chunk %d from %s: %w", chunkNumber, senderID, err)
	}

	t.data = append(t.data, plain...)
	t.receivedSize += int64(len(plain))
	t.nextChunk++
	return nil
}

// HandleImageEnd verifies the received byte count and, on success,
// invokes onReady with the reassembled file.
func (r *Receiver) HandleImageEnd(senderID string) error {
	r.mu.Lock()
	t, ok := r.active[senderID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTransfer
	}
	delete(r.active, senderID)
	r.mu.Unlock()

	if t.receivedSize != t.fileSize {
		return ErrSizeMismatch
	}
	if r.onReady != nil {
		r.onReady(senderID, t.filename, t.data)
	}
	return nil
}

// Abort drops any in-progress transfer from senderID, used on disconnect.
func (r *Receiver) Abort(senderID string) {
	r.mu.Lock()
	delete(r.active, senderID)
	r.mu.Unlock()
}

// extractFilename pulls the "filename" field out of the decrypted
// metadata JSON without pulling in a full struct for two fields.
func extractFilename(plain []byte) string {
	const key = `"filename":"`
	s := string(plain)
	idx := indexOf(s, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := indexOf(s[start:], `"`)
	if end < 0 {
		return ""
	}
	return s[start : start+end]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
