package router

// Kind names the closed taxonomy of typed errors surfaced in `error`
// frames. Clients switch on these strings for localization.
type Kind string

const (
	KindMalformedFrame     Kind = "MalformedFrame"
	KindMessageTooLarge    Kind = "MessageTooLarge"
	KindReadTimeout        Kind = "ReadTimeout"
	KindConnectionLost     Kind = "ConnectionLost"
	KindNicknameTaken      Kind = "NicknameTaken"
	KindNicknameInvalid    Kind = "NicknameInvalid"
	KindAuthRequired       Kind = "AuthRequired"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindAccountLocked      Kind = "AccountLocked"
	KindIPDenied           Kind = "IPDenied"
	KindNotAuthorized      Kind = "NotAuthorized"
	KindNotInChannel       Kind = "NotInChannel"
	KindNotOperator        Kind = "NotOperator"
	KindBannedFromChannel  Kind = "BannedFromChannel"
	KindRateLimitExceeded  Kind = "RateLimitExceeded"
	KindChannelLimitReached Kind = "ChannelLimitReached"
	KindUserLimitReached   Kind = "UserLimitReached"
	KindChannelNotFound    Kind = "ChannelNotFound"
	KindUserNotFound       Kind = "UserNotFound"
	KindTransferInProgress Kind = "TransferInProgress"
	KindWrongChannelPassword Kind = "WrongChannelPassword"
	KindWrongCreatorPassword Kind = "WrongCreatorPassword"
	KindInternal           Kind = "Internal"
)
