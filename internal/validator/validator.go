// Package validator implements the syntactic checks the router applies to
// every user-supplied string before it reaches a stateful component:
// nicknames, channel names, message bodies, topics, and account fields.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

const (
	// MaxMessageBytes is the maximum encoded size of a chat message body.
	MaxMessageBytes = 4096

	// MaxTopicChars is the maximum length of a channel topic.
	MaxTopicChars = 256

	// MinPasswordChars / MaxPasswordChars bound account passwords.
	MinPasswordChars = 8
	MaxPasswordChars = 256

	// MinCreatorPasswordChars bounds channel creator and operator passwords.
	MinCreatorPasswordChars = 4
)

var (
	nicknamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
	channelPattern  = regexp.MustCompile(`^#[a-zA-Z0-9_-]{1,50}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	reservedNicknames = map[string]bool{
		"server": true, "admin": true, "root": true, "system": true,
	}
)

// Result is the outcome of a validation check: Ok reports pass/fail, Reason
// is a short machine-stable string naming the failure for client display.
type Result struct {
	Ok     bool
	Reason string
}

func pass() Result       { return Result{Ok: true} }
func fail(reason string) Result { return Result{Ok: false, Reason: reason} }

// Nickname checks length, character set, the reserved-name list, and a
// Unicode confusable-skeleton pass over the same string: a nickname must
// clear both the ASCII pattern and precis.UsernameCaseMapped. Case-sensitive
// uniqueness among connected clients is enforced by SessionTable, not here.
func Nickname(s string) Result {
	if !nicknamePattern.MatchString(s) {
		return fail("nickname must be 3-20 characters of letters, digits, underscore, or hyphen")
	}
	if reservedNicknames[s] {
		return fail("nickname is reserved")
	}
	if _, err := precis.UsernameCaseMapped.String(s); err != nil {
		return fail("nickname contains disallowed or confusable characters")
	}
	return pass()
}

// ChannelName checks the `#`-prefixed channel name pattern.
func ChannelName(s string) Result {
	if !channelPattern.MatchString(s) {
		return fail("channel name must match #[a-zA-Z0-9_-]{1,50}")
	}
	return pass()
}

// MessageText checks size and forbidden control characters. Horizontal tab
// is the only control character permitted.
func MessageText(s string) Result {
	if len(s) > MaxMessageBytes {
		return fail(fmt.Sprintf("message exceeds %d bytes", MaxMessageBytes))
	}
	for _, r := range s {
		if r == 0 {
			return fail("message contains a null byte")
		}
		if r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return fail("message contains a control character")
		}
	}
	return pass()
}

// Email checks an RFC-lite pattern plus IDNA validity of the domain part.
// An empty string passes; callers that require an email address must check
// for emptiness themselves.
func Email(s string) Result {
	if s == "" {
		return pass()
	}
	if !emailPattern.MatchString(s) {
		return fail("email address is not well-formed")
	}
	if _, err := NormalizeEmail(s); err != nil {
		return fail("email domain is not valid")
	}
	return pass()
}

// NormalizeEmail IDNA-normalizes an email address's domain part to its
// punycode form, so "user@exämple.com" and its punycode equivalent key
// identically wherever an account store uses email as a lookup key. s must
// already have passed Email; an empty string normalizes to itself.
func NormalizeEmail(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return "", fmt.Errorf("email address has no @")
	}
	local, domain := s[:at], s[at+1:]
	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("normalize email domain: %w", err)
	}
	return local + "@" + asciiDomain, nil
}

// Password checks account password length. Any printable character is
// permitted.
func Password(s string) Result {
	n := len([]rune(s))
	if n < MinPasswordChars || n > MaxPasswordChars {
		return fail(fmt.Sprintf("password must be %d-%d characters", MinPasswordChars, MaxPasswordChars))
	}
	return pass()
}

// CreatorPassword checks the weaker length floor used for channel creator
// and operator passwords, which are shared secrets rather than account
// credentials. Channel join passwords are not checked against it.
func CreatorPassword(s string) Result {
	if len([]rune(s)) < MinCreatorPasswordChars {
		return fail(fmt.Sprintf("password must be at least %d characters", MinCreatorPasswordChars))
	}
	return pass()
}

// Topic checks channel topic length.
func Topic(s string) Result {
	if len([]rune(s)) > MaxTopicChars {
		return fail(fmt.Sprintf("topic exceeds %d characters", MaxTopicChars))
	}
	return pass()
}

// SanitizeControlChars strips ASCII control characters other than
// horizontal tab from s, for defense in depth around callers that skip
// MessageText.
func SanitizeControlChars(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\t' || !unicode.IsControl(r) {
			out = append(out, r)
		}
	}
	return string(out)
}
