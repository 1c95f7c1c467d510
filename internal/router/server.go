// Package router hosts JustIRC's server-side state machine: it reads
// frames off a transport, dispatches them by type, enforces the
// authorization matrix, and produces outbound frames. It never imports
// cryptocore — encrypted_data and nonce pass through untouched.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/larry-lines/justIRC/internal/authstore"
	"github.com/larry-lines/justIRC/internal/channelregistry"
	"github.com/larry-lines/justIRC/internal/config"
	"github.com/larry-lines/justIRC/internal/identity"
	"github.com/larry-lines/justIRC/internal/ipfilter"
	"github.com/larry-lines/justIRC/internal/logging"
	"github.com/larry-lines/justIRC/internal/metrics"
	"github.com/larry-lines/justIRC/internal/ratelimit"
	"github.com/larry-lines/justIRC/internal/recovery"
	"github.com/larry-lines/justIRC/internal/sessiontable"
	"github.com/larry-lines/justIRC/internal/transport"
	"github.com/larry-lines/justIRC/internal/wire"
)

// Server wires together every stateful collaborator and owns the
// connection-accept loop.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	sessions *sessiontable.Table[*connWriter]
	channels *channelregistry.Registry
	accounts *authstore.Store
	ips      *ipfilter.Filter
	limiter  *ratelimit.Limiter

	mu          sync.Mutex
	channelKeys map[string]string            // channel -> channel_key_b64, opaque to the server
	transfers   map[string]map[string]int64  // from_id -> to_id -> ciphertext bytes relayed so far

	wg sync.WaitGroup
}

// New builds a Server from cfg. AuthStore, ChannelRegistry, and IPFilter
// are loaded from cfg.Data's configured paths; a missing file yields an
// empty store for each, matching their own Load() conventions.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Server, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}

	channels, err := channelregistry.Load(cfg.Data.ChannelsPath())
	if err != nil {
		return nil, fmt.Errorf("router: load channel registry: %w", err)
	}
	accounts, err := authstore.Load(cfg.Data.AccountsPath())
	if err != nil {
		return nil, fmt.Errorf("router: load account store: %w", err)
	}

	mode := ipfilter.ModeBlacklist
	if cfg.IPFilter.EnableWhitelist {
		mode = ipfilter.ModeWhitelist
	}
	ips, err := ipfilter.Load(cfg.Data.IPRulesPath())
	if err != nil {
		return nil, fmt.Errorf("router: load ip filter: %w", err)
	}
	if err := ips.SetMode(mode); err != nil {
		return nil, fmt.Errorf("router: set ip filter mode: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		sessions:    sessiontable.New[*connWriter](),
		channels:    channels,
		accounts:    accounts,
		ips:         ips,
		channelKeys: make(map[string]string),
		transfers:   make(map[string]map[string]int64),
	}

	s.limiter = ratelimit.New(
		ratelimit.WithConfigs(map[ratelimit.Kind]ratelimit.Config{
			ratelimit.KindMessage:    {Capacity: cfg.Rates.MessageRate, Window: 10 * time.Second},
			ratelimit.KindImageChunk: {Capacity: cfg.Rates.ImageChunkRate, Window: 10 * time.Second},
			ratelimit.KindConnection: {Capacity: cfg.Rates.ConnectionRate, Window: time.Minute},
		}),
		ratelimit.WithBanThreshold(cfg.Rates.BanThreshold),
		ratelimit.WithBanCallback(func(identity string, duration time.Duration) {
			if err := s.ips.TempBan(identity, duration); err != nil {
				s.logger.Warn("temp ban failed", logging.KeyIP, identity, logging.KeyError, err.Error())
				return
			}
			s.metrics.RecordIPBan()
		}),
	)

	return s, nil
}

// Serve accepts connections from ln until ctx is cancelled or Accept
// fails permanently. Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer recovery.RecoverWithLog(s.logger, "connection")
			s.handleConn(ctx, conn)
		}()
	}
}

// remoteIP extracts the bare IP from a net.Addr, for IPFilter/RateLimiter
// keys that must ignore the ephemeral source port.
func remoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// allocateUserID draws a fresh random identity.UserID for a newly
// registering connection. It is never persisted and never reused across
// reconnects.
func (s *Server) allocateUserID() (string, error) {
	id, err := identity.New()
	if err != nil {
		return "", fmt.Errorf("router: allocate user id: %w", err)
	}
	return id.String(), nil
}

// broadcastChannel writes frame to every member of channel except
// skipUserID (empty string to exclude no one).
func (s *Server) broadcastChannel(channel, skipUserID string, frame *wire.Frame) {
	for _, userID := range s.channels.Members(channel) {
		if userID == skipUserID {
			continue
		}
		sess, ok := s.sessions.ByUserID(userID)
		if !ok {
			continue
		}
		sess.Writer.Enqueue(stamp(frame))
	}
}

// broadcastAll writes frame to every connected session except skipUserID.
func (s *Server) broadcastAll(skipUserID string, frame *wire.Frame) {
	for _, sess := range s.sessions.Snapshot() {
		if sess.UserID == skipUserID {
			continue
		}
		sess.Writer.Enqueue(stamp(frame))
	}
}

func stamp(f *wire.Frame) *wire.Frame {
	f.Timestamp = float64(time.Now().UnixNano()) / 1e9
	return f
}

// beginTransfer records an in-progress transfer from fromID to toID,
// reporting false if one is already in flight.
func (s *Server) beginTransfer(fromID, toID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTo, ok := s.transfers[fromID]
	if !ok {
		byTo = make(map[string]int64)
		s.transfers[fromID] = byTo
	}
	if _, inProgress := byTo[toID]; inProgress {
		return false
	}
	byTo[toID] = 0
	return true
}

func (s *Server) inTransfer(fromID, toID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTo, ok := s.transfers[fromID]
	if !ok {
		return false
	}
	_, inProgress := byTo[toID]
	return inProgress
}

// addTransferBytes accumulates ciphertext bytes relayed for an
// in-progress transfer. Ciphertext length is observable metadata, not
// plaintext, so tracking it here doesn't compromise the zero-knowledge
// relay.
func (s *Server) addTransferBytes(fromID, toID string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byTo, ok := s.transfers[fromID]; ok {
		if _, inProgress := byTo[toID]; inProgress {
			byTo[toID] += n
		}
	}
}

// endTransfer clears an in-progress transfer and reports the total
// ciphertext bytes relayed over its lifetime.
func (s *Server) endTransfer(fromID, toID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	if byTo, ok := s.transfers[fromID]; ok {
		total = byTo[toID]
		delete(byTo, toID)
		if len(byTo) == 0 {
			delete(s.transfers, fromID)
		}
	}
	return total
}

func (s *Server) forgetTransfersFrom(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, userID)
	for from, byTo := range s.transfers {
		delete(byTo, userID)
		if len(byTo) == 0 {
			delete(s.transfers, from)
		}
	}
}

func (s *Server) channelKey(channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.channelKeys[channel]
	return key, ok
}

func (s *Server) setChannelKey(channel, keyB64 string) {
	if keyB64 == "" {
		return
	}
	s.mu.Lock()
	if _, exists := s.channelKeys[channel]; !exists {
		s.channelKeys[channel] = keyB64
	}
	s.mu.Unlock()
}
