package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/larry-lines/justIRC/internal/authstore"
	"github.com/larry-lines/justIRC/internal/channelregistry"
	"github.com/larry-lines/justIRC/internal/ratelimit"
	"github.com/larry-lines/justIRC/internal/validator"
	"github.com/larry-lines/justIRC/internal/wire"
)

// dispatch routes one inbound frame by type and connection state. It
// returns false when the connection should be closed.
func (c *conn) dispatch(f *wire.Frame) bool {
	switch f.Type {
	case wire.TypeDisconnect:
		return false
	case wire.TypeChangePassword:
		c.handleChangePassword(f)
		return true
	}

	switch c.state {
	case stateAwaitingAuth:
		return c.dispatchAwaitingAuth(f)
	case stateHandshaking:
		return c.dispatchHandshaking(f)
	case stateActive:
		return c.dispatchActive(f)
	default:
		return false
	}
}

func (c *conn) dispatchAwaitingAuth(f *wire.Frame) bool {
	switch f.Type {
	case wire.TypeAuthRequest:
		c.handleAuthRequest(f)
	case wire.TypeCreateAccount:
		c.handleCreateAccount(f)
	default:
		c.sendError(KindAuthRequired, "authenticate before sending other frames")
	}
	return true
}

func (c *conn) dispatchHandshaking(f *wire.Frame) bool {
	switch f.Type {
	case wire.TypeRegister:
		return c.handleRegister(f)
	case wire.TypeAuthRequest:
		c.handleAuthRequest(f)
	case wire.TypeCreateAccount:
		c.handleCreateAccount(f)
	default:
		c.sendError(KindNotAuthorized, "register before sending other frames")
	}
	return true
}

func (c *conn) handleAuthRequest(f *wire.Frame) {
	username := f.GetString("username")
	password := f.GetString("password")

	token, err := c.s.accounts.Authenticate(username, password)
	switch {
	case err == nil:
		c.sessionTok = token
		if c.state == stateAwaitingAuth {
			c.state = stateHandshaking
		}
		c.send(wire.New(wire.TypeAuthResponse, map[string]any{"session_token": token}))
		c.s.metrics.RecordAuthSuccess()
	case errors.Is(err, authstore.ErrAccountLocked):
		c.sendError(KindAccountLocked, "account is temporarily locked")
		c.s.metrics.RecordAuthLockout()
	default:
		c.sendError(KindInvalidCredentials, "invalid username or password")
		c.s.metrics.RecordAuthFailure()
	}
}

func (c *conn) handleCreateAccount(f *wire.Frame) {
	username := f.GetString("username")
	password := f.GetString("password")
	email := f.GetString("email")

	if err := c.s.accounts.CreateAccount(username, password, email); err != nil {
		c.sendError(KindInvalidCredentials, err.Error())
		return
	}
	c.send(wire.New(wire.TypeAck, map[string]any{"username": username}))
}

func (c *conn) handleChangePassword(f *wire.Frame) {
	username := f.GetString("username")
	oldPassword := f.GetString("old_password")
	newPassword := f.GetString("new_password")

	if err := c.s.accounts.ChangePassword(username, oldPassword, newPassword); err != nil {
		c.sendError(KindInvalidCredentials, err.Error())
		return
	}
	c.send(wire.New(wire.TypeAck, nil))
}

func (c *conn) dispatchActive(f *wire.Frame) bool {
	switch f.Type {
	case wire.TypePrivateMessage:
		c.handlePrivateMessage(f)
	case wire.TypeChannelMessage:
		c.handleChannelMessage(f)
	case wire.TypeJoinChannel:
		c.handleJoinChannel(f)
	case wire.TypeLeaveChannel:
		c.handleLeaveChannel(f)
	case wire.TypeSetTopic:
		c.handleSetTopic(f)
	case wire.TypeOpUser:
		c.handleOpUser(f)
	case wire.TypeKickUser:
		c.handleKickOrBan(f, true)
	case wire.TypeBanUser:
		c.handleKickOrBan(f, false)
	case wire.TypeUnbanUser:
		c.handleUnban(f)
	case wire.TypeImageStart:
		c.handleImageStart(f)
	case wire.TypeImageChunk:
		c.handleImageChunk(f)
	case wire.TypeImageEnd:
		c.handleImageEnd(f)
	case wire.TypeRekeyRequest, wire.TypeRekeyResponse, wire.TypeKeyExchange,
		wire.TypePublicKeyRequest, wire.TypePublicKeyResponse:
		c.relayByToID(f)
	default:
		c.sendError(KindNotAuthorized, fmt.Sprintf("unexpected frame type %q", f.Type))
	}
	return true
}

// relayByToID forwards f unchanged except from_id to the session named by
// its to_id field. The server never reads encrypted_data or nonce.
func (c *conn) relayByToID(f *wire.Frame) {
	toID := f.GetString("to_id")
	recipient, ok := c.s.sessions.ByUserID(toID)
	if !ok {
		c.sendError(KindUserNotFound, fmt.Sprintf("no such user %q", toID))
		return
	}

	fields := make(map[string]any, len(f.Fields))
	for k, v := range f.Fields {
		fields[k] = v
	}
	fields["from_id"] = c.userID
	recipient.Writer.Enqueue(stamp(wire.New(f.Type, fields)))
}

func (c *conn) handlePrivateMessage(f *wire.Frame) {
	if allowed, retryAfter := c.s.limiter.Allow(c.userID, ratelimit.KindMessage); !allowed {
		c.sendRateLimited(ratelimit.KindMessage, retryAfter)
		return
	}
	c.relayByToID(f)
}

func (c *conn) handleChannelMessage(f *wire.Frame) {
	channel := f.GetString("channel")
	if !c.s.channels.IsMember(c.userID, channel) {
		c.sendError(KindNotInChannel, fmt.Sprintf("not a member of %s", channel))
		return
	}
	if allowed, retryAfter := c.s.limiter.Allow(c.userID, ratelimit.KindMessage); !allowed {
		c.sendRateLimited(ratelimit.KindMessage, retryAfter)
		return
	}

	fields := make(map[string]any, len(f.Fields))
	for k, v := range f.Fields {
		fields[k] = v
	}
	fields["from_id"] = c.userID
	c.s.broadcastChannel(channel, c.userID, wire.New(wire.TypeChannelMessage, fields))
}

func (c *conn) handleJoinChannel(f *wire.Frame) {
	channel := f.GetString("channel")
	if v := validator.ChannelName(channel); !v.Ok {
		c.sendError(KindNicknameInvalid, v.Reason)
		return
	}

	joinPassword := f.GetString("password")
	creatorPassword := f.GetString("creator_password")

	if c.s.cfg.Limits.MaxChannels > 0 && !c.s.channels.Exists(channel) &&
		c.s.channels.Count() >= c.s.cfg.Limits.MaxChannels {
		c.sendError(KindChannelLimitReached, "server has reached its channel limit")
		return
	}

	outcome, err := c.s.channels.CreateOrJoin(c.userID, c.nickname, channel, joinPassword, creatorPassword)
	if err != nil {
		c.sendJoinError(err)
		return
	}

	if outcome.Created {
		c.s.setChannelKey(channel, f.GetString("channel_key_b64"))
		c.s.metrics.RecordChannelCreated()
		c.s.metrics.SetChannelsActive(c.s.channels.Count())
	}
	c.s.sessions.JoinChannel(c.userID, channel)

	ack := map[string]any{
		"channel":     channel,
		"is_operator": outcome.IsOperator,
	}
	if key, ok := c.s.channelKey(channel); ok {
		ack["channel_key"] = key
	}
	c.send(wire.New(wire.TypeAck, ack))
}

func (c *conn) sendJoinError(err error) {
	switch {
	case errors.Is(err, channelregistry.ErrWrongChannelPassword):
		c.sendError(KindWrongChannelPassword, "wrong channel password")
	case errors.Is(err, channelregistry.ErrWrongCreatorPassword):
		c.sendError(KindWrongCreatorPassword, "wrong creator password")
	case errors.Is(err, channelregistry.ErrCreatorPasswordRequired):
		c.sendError(KindWrongCreatorPassword, "creator password required to create a channel")
	case errors.Is(err, channelregistry.ErrBannedFromChannel):
		c.sendError(KindBannedFromChannel, "banned from this channel")
	case errors.Is(err, channelregistry.ErrKickedTemporarily):
		c.sendError(KindNotAuthorized, "temporarily kicked from this channel")
	default:
		c.sendError(KindInternal, "could not join channel")
	}
}

func (c *conn) handleLeaveChannel(f *wire.Frame) {
	channel := f.GetString("channel")
	if err := c.s.channels.Leave(c.userID, channel); err != nil {
		c.sendError(KindNotInChannel, "not a member of this channel")
		return
	}
	c.s.sessions.LeaveChannel(c.userID, channel)
	c.send(wire.New(wire.TypeAck, map[string]any{"channel": channel}))
	c.s.broadcastChannel(channel, "", wire.New(wire.TypeUserLeft, map[string]any{
		"channel":  channel,
		"user_id":  c.userID,
		"nickname": c.nickname,
	}))
}

func (c *conn) handleSetTopic(f *wire.Frame) {
	channel := f.GetString("channel")
	topic := f.GetString("topic")
	if err := c.s.channels.SetTopic(c.userID, channel, topic); err != nil {
		c.sendChannelAuthError(err)
		return
	}
	c.s.broadcastChannel(channel, "", wire.New(wire.TypeSetTopic, map[string]any{
		"channel": channel,
		"topic":   topic,
	}))
}

func (c *conn) handleOpUser(f *wire.Frame) {
	channel := f.GetString("channel")
	target := f.GetString("nickname")
	opPassword := f.GetString("op_password")

	if err := c.s.channels.OpUser(c.userID, channel, target, opPassword); err != nil {
		c.sendChannelAuthError(err)
		return
	}
	c.send(wire.New(wire.TypeAck, map[string]any{"channel": channel, "nickname": target}))
	c.notifyTarget(target, wire.New(wire.TypeOpUser, map[string]any{"channel": channel, "nickname": target}))
}

func (c *conn) handleKickOrBan(f *wire.Frame, isKick bool) {
	channel := f.GetString("channel")
	target := f.GetString("nickname")

	var err error
	if isKick {
		duration := time.Duration(f.GetFloat("duration_seconds")) * time.Second
		err = c.s.channels.Kick(c.userID, channel, target, duration)
	} else {
		err = c.s.channels.Ban(c.userID, channel, target)
	}
	if err != nil {
		c.sendChannelAuthError(err)
		return
	}

	frameType := wire.TypeKickUser
	if !isKick {
		frameType = wire.TypeBanUser
	}

	if targetSess, ok := c.s.sessions.ByNickname(target); ok {
		c.s.sessions.LeaveChannel(targetSess.UserID, channel)
		targetSess.Writer.Enqueue(stamp(wire.New(frameType, map[string]any{"channel": channel})))
	}
	c.s.broadcastChannel(channel, "", wire.New(wire.TypeUserLeft, map[string]any{
		"channel":  channel,
		"nickname": target,
	}))
	c.send(wire.New(wire.TypeAck, map[string]any{"channel": channel, "nickname": target}))
}

func (c *conn) handleUnban(f *wire.Frame) {
	channel := f.GetString("channel")
	target := f.GetString("nickname")
	if err := c.s.channels.Unban(c.userID, channel, target); err != nil {
		c.sendChannelAuthError(err)
		return
	}
	c.send(wire.New(wire.TypeAck, map[string]any{"channel": channel, "nickname": target}))
}

func (c *conn) notifyTarget(nickname string, f *wire.Frame) {
	if sess, ok := c.s.sessions.ByNickname(nickname); ok {
		sess.Writer.Enqueue(stamp(f))
	}
}

func (c *conn) sendChannelAuthError(err error) {
	switch {
	case errors.Is(err, channelregistry.ErrNotOperator):
		c.sendError(KindNotOperator, "must be a channel operator")
	case errors.Is(err, channelregistry.ErrNotInChannel):
		c.sendError(KindNotInChannel, "not a member of this channel")
	case errors.Is(err, channelregistry.ErrChannelNotFound):
		c.sendError(KindChannelNotFound, "no such channel")
	default:
		c.sendError(KindInternal, "could not complete channel operation")
	}
}

func (c *conn) handleImageStart(f *wire.Frame) {
	toID := f.GetString("to_id")
	if _, ok := c.s.sessions.ByUserID(toID); !ok {
		c.sendError(KindUserNotFound, fmt.Sprintf("no such user %q", toID))
		return
	}
	if !c.s.beginTransfer(c.userID, toID) {
		c.sendError(KindTransferInProgress, "a transfer to this recipient is already in progress")
		c.s.metrics.RecordTransferRejected("in_progress")
		return
	}
	c.s.metrics.RecordTransferStart()
	c.relayByToID(f)
}

func (c *conn) handleImageChunk(f *wire.Frame) {
	toID := f.GetString("to_id")
	if allowed, retryAfter := c.s.limiter.Allow(c.userID, ratelimit.KindImageChunk); !allowed {
		c.sendRateLimited(ratelimit.KindImageChunk, retryAfter)
		return
	}
	if !c.s.inTransfer(c.userID, toID) {
		c.sendError(KindTransferInProgress, "no transfer in progress to this recipient")
		return
	}
	c.s.addTransferBytes(c.userID, toID, int64(len(f.GetString("encrypted_data"))))
	c.relayByToID(f)
}

func (c *conn) handleImageEnd(f *wire.Frame) {
	toID := f.GetString("to_id")
	bytes := c.s.endTransfer(c.userID, toID)
	c.s.metrics.RecordTransferEnd(bytes)
	c.relayByToID(f)
}

func (c *conn) sendRateLimited(kind ratelimit.Kind, retryAfter time.Duration) {
	c.sendError(KindRateLimitExceeded, fmt.Sprintf("rate limit exceeded, retry in %d seconds", int(retryAfter.Seconds())+1))
	c.s.metrics.RecordRateLimitDenial(string(kind))
}
