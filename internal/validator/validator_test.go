package validator

import (
	"strings"
	"testing"
)

func TestNickname(t *testing.T) {
	tests := []struct {
		name string
		nick string
		ok   bool
	}{
		{"valid", "alice", true},
		{"valid with digits and hyphen", "al-ice_99", true},
		{"too short", "ab", false},
		{"too long", strings.Repeat("a", 21), false},
		{"invalid char", "alice!", false},
		{"reserved server", "server", false},
		{"reserved admin", "admin", false},
		{"reserved root", "root", false},
		{"reserved system", "system", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Nickname(tt.nick); got.Ok != tt.ok {
				t.Errorf("Nickname(%q) = %+v, want ok=%v", tt.nick, got, tt.ok)
			}
		})
	}
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		name string
		ch   string
		ok   bool
	}{
		{"valid", "#team", true},
		{"valid long", "#" + strings.Repeat("a", 50), true},
		{"missing hash", "team", false},
		{"too long", "#" + strings.Repeat("a", 51), false},
		{"empty name", "#", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChannelName(tt.ch); got.Ok != tt.ok {
				t.Errorf("ChannelName(%q) = %+v, want ok=%v", tt.ch, got, tt.ok)
			}
		})
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		text string
		ok   bool
	}{
		{"simple", "hello", true},
		{"with tab", "hello\tworld", true},
		{"too long", strings.Repeat("x", MaxMessageBytes+1), false},
		{"null byte", "hi\x00there", false},
		{"control char", "hi\x01there", false},
		{"newline", "hi\nthere", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageText(tt.text); got.Ok != tt.ok {
				t.Errorf("MessageText(%q) = %+v, want ok=%v", tt.text, got, tt.ok)
			}
		})
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		ok    bool
	}{
		{"empty allowed", "", true},
		{"valid", "alice@example.com", true},
		{"missing at", "aliceexample.com", false},
		{"missing domain dot", "alice@example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Email(tt.email); got.Ok != tt.ok {
				t.Errorf("Email(%q) = %+v, want ok=%v", tt.email, got, tt.ok)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"too short", "short", false},
		{"minimum", strings.Repeat("a", 8), true},
		{"maximum", strings.Repeat("a", 256), true},
		{"too long", strings.Repeat("a", 257), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Password(tt.pw); got.Ok != tt.ok {
				t.Errorf("Password(len=%d) = %+v, want ok=%v", len(tt.pw), got, tt.ok)
			}
		})
	}
}

func TestCreatorPassword(t *testing.T) {
	if CreatorPassword("abc").Ok {
		t.Error("CreatorPassword(3 chars) should fail")
	}
	if !CreatorPassword("abcd").Ok {
		t.Error("CreatorPassword(4 chars) should pass")
	}
}

func TestTopic(t *testing.T) {
	if !Topic(strings.Repeat("a", 256)).Ok {
		t.Error("Topic(256 chars) should pass")
	}
	if Topic(strings.Repeat("a", 257)).Ok {
		t.Error("Topic(257 chars) should fail")
	}
}

func TestSanitizeControlChars(t *testing.T) {
	got := SanitizeControlChars("hi\x01\tthere\x02")
	if got != "hi\tthere" {
		t.Errorf("SanitizeControlChars() = %q, want %q", got, "hi\tthere")
	}
}
