package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/larry-lines/justIRC/internal/logging"
	"github.com/larry-lines/justIRC/internal/ratelimit"
	"github.com/larry-lines/justIRC/internal/sessiontable"
	"github.com/larry-lines/justIRC/internal/transport"
	"github.com/larry-lines/justIRC/internal/validator"
	"github.com/larry-lines/justIRC/internal/wire"
)

// connState is one connection's lifecycle state. Registered collapses
// into active: nothing in the authorization matrix distinguishes a
// just-registered client from one that has been active for an hour, so
// a connection walks Handshaking -> (AwaitingAuth) -> Active -> Closed.
type connState int

const (
	stateHandshaking connState = iota
	stateAwaitingAuth
	stateActive
	stateClosed
)

// idleTimeout and readTimeout fall back to these when the config leaves
// them unset (zero duration).
const (
	defaultIdleTimeout = 300 * time.Second
	defaultReadTimeout = 60 * time.Second
)

// conn is one client connection's full state, owned exclusively by the
// goroutine running handleConn's read loop. Nothing here is touched
// concurrently except through s.sessions / s.channels / s.limiter, which
// are all independently synchronized.
type conn struct {
	s          *Server
	netConn    transport.Conn
	reader     *wire.Reader
	writer     *connWriter
	remoteAddr string
	remoteIP   string

	state       connState
	userID      string
	nickname    string
	accountName string
	sessionTok  string
}

func (s *Server) handleConn(ctx context.Context, nc transport.Conn) {
	remoteAddr := nc.RemoteAddr().String()
	ip := remoteIP(nc.RemoteAddr())

	if !s.ips.IsAllowed(ip) {
		s.logger.Info("connection denied by ip filter", logging.KeyIP, ip)
		nc.Close()
		return
	}
	if allowed, _ := s.limiter.Allow(ip, ratelimit.KindConnection); !allowed {
		s.logger.Info("connection rate limited", logging.KeyIP, ip)
		nc.Close()
		return
	}

	s.metrics.RecordConnect()
	defer s.metrics.RecordDisconnect("closed")

	c := &conn{
		s:          s,
		netConn:    nc,
		reader:     wire.NewReaderSize(nc, s.cfg.Limits.MaxMessageSize),
		writer:     newConnWriter(wire.NewWriterSize(nc, s.cfg.Limits.MaxMessageSize), s.logger, s.metrics),
		remoteAddr: remoteAddr,
		remoteIP:   ip,
		state:      stateHandshaking,
	}
	defer c.cleanup()

	if s.cfg.Auth.EnableAuthentication && s.cfg.Auth.RequireAuthentication {
		c.state = stateAwaitingAuth
		c.send(wire.New(wire.TypeAuthRequired, nil))
	}

	c.readLoop(ctx)
}

func (c *conn) readLoop(ctx context.Context) {
	idle := c.s.cfg.Limits.ConnectionTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	readTO := c.s.cfg.Limits.ReadTimeout
	if readTO <= 0 {
		readTO = defaultReadTimeout
	}

	for {
		if ctx.Err() != nil {
			return
		}

		deadline := readTO
		if c.state != stateActive {
			deadline = idle
		}
		c.netConn.SetReadDeadline(time.Now().Add(deadline))

		frame, err := c.reader.ReadFrame()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if frame.Type == "" {
			continue // blank keepalive line
		}

		c.s.sessions.Touch(c.userID)
		start := time.Now()
		keepGoing := c.dispatch(frame)
		c.s.metrics.RecordFrameRouted(string(frame.Type), time.Since(start).Seconds())
		if !keepGoing {
			return
		}
	}
}

func (c *conn) handleReadError(err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.send(wire.NewError(string(KindReadTimeout), "connection idle, closing"))
		c.s.logger.Debug("read timeout", logging.KeyRemoteAddr, c.remoteAddr)
		return
	}
	if errors.Is(err, wire.ErrMessageTooLarge) {
		c.send(wire.NewError(string(KindMessageTooLarge), "frame exceeds maximum size"))
		return
	}
	if errors.Is(err, wire.ErrMalformedFrame) || errors.Is(err, wire.ErrUnknownType) {
		c.send(wire.NewError(string(KindMalformedFrame), "could not parse frame"))
		return
	}
	c.s.logger.Debug("read error", logging.KeyRemoteAddr, c.remoteAddr, logging.KeyError, err.Error())
}

// send enqueues f on this connection's outbound queue, stamping the
// server's send time.
func (c *conn) send(f *wire.Frame) {
	c.writer.Enqueue(stamp(f))
}

func (c *conn) sendError(kind Kind, message string) {
	c.send(wire.NewError(string(kind), message))
}

func (c *conn) cleanup() {
	c.writer.Close()
	c.netConn.Close()

	if c.userID == "" {
		return
	}

	sess, err := c.s.sessions.Unregister(c.userID)
	c.s.limiter.Forget(c.userID)
	c.s.forgetTransfersFrom(c.userID)
	if c.sessionTok != "" {
		c.s.accounts.Logout(c.sessionTok)
	}
	if err != nil {
		return
	}

	for _, channel := range sess.JoinedChannels() {
		if lerr := c.s.channels.Leave(c.userID, channel); lerr != nil {
			continue
		}
		c.s.broadcastChannel(channel, "", wire.New(wire.TypeUserLeft, map[string]any{
			"channel":  channel,
			"user_id":  c.userID,
			"nickname": sess.Nickname,
		}))
	}
	c.s.logger.Info("client disconnected",
		logging.KeyUserID, c.userID, logging.KeyNickname, sess.Nickname)
}

// handleRegister performs the register transition:
// validates the nickname, checks the session token if auth is required,
// allocates a user_id, and inserts into SessionTable.
func (c *conn) handleRegister(f *wire.Frame) bool {
	nickname := f.GetString("nickname")
	publicKey := f.GetString("public_key")

	if v := validator.Nickname(nickname); !v.Ok {
		c.sendError(KindNicknameInvalid, v.Reason)
		return true
	}
	if publicKey == "" {
		c.sendError(KindNicknameInvalid, "public_key is required")
		return true
	}

	accountName := ""
	if c.s.cfg.Auth.EnableAuthentication && c.s.cfg.Auth.RequireAuthentication {
		token := f.GetString("session_token")
		name, ok := c.s.accounts.VerifySession(token)
		if !ok {
			c.sendError(KindAuthRequired, "a valid session token is required to register")
			return true
		}
		accountName = name
	}

	if int64(c.s.cfg.Limits.MaxUsers) > 0 && c.s.sessions.Count() >= int64(c.s.cfg.Limits.MaxUsers) {
		c.sendError(KindUserLimitReached, "server is at capacity")
		return true
	}

	userID, err := c.s.allocateUserID()
	if err != nil {
		c.sendError(KindInternal, "failed to allocate a session")
		c.s.logger.Error("allocate user id", logging.KeyError, err.Error())
		return true
	}
	sess, err := c.s.sessions.Register(userID, nickname, publicKey, c.writer)
	if err != nil {
		c.sendError(KindNicknameTaken, fmt.Sprintf("nickname %q is already in use", nickname))
		return true
	}
	sess.AccountName = accountName

	c.userID = userID
	c.nickname = nickname
	c.accountName = accountName
	c.state = stateActive

	c.send(wire.New(wire.TypeAck, map[string]any{"user_id": userID}))
	c.send(wire.New(wire.TypeUserList, map[string]any{"users": userListPayload(c.s.sessions.Snapshot())}))

	c.s.broadcastAll(userID, wire.New(wire.TypeUserJoined, map[string]any{
		"nickname":   nickname,
		"public_key": publicKey,
	}))

	c.s.logger.Info("client registered", logging.KeyUserID, userID, logging.KeyNickname, nickname)
	return true
}

func userListPayload(sessions []*sessiontable.Session[*connWriter]) []map[string]any {
	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"user_id":    sess.UserID,
			"nickname":   sess.Nickname,
			"public_key": sess.PublicKeyB64,
		})
	}
	return out
}
