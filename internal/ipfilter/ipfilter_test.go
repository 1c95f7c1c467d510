package ipfilter

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBlacklistDefaultAllowsAll(t *testing.T) {
	f := New(ModeBlacklist)
	if !f.IsAllowed("203.0.113.5") {
		t.Error("unlisted IP should be allowed under default blacklist")
	}
}

func TestBlacklistDeniesListedRange(t *testing.T) {
	f := New(ModeBlacklist)
	if err := f.Deny("10.0.0.0/8"); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}
	if f.IsAllowed("10.1.2.3") {
		t.Error("10.1.2.3 should be denied, it's within 10.0.0.0/8")
	}
	if !f.IsAllowed("192.168.1.1") {
		t.Error("192.168.1.1 should remain allowed")
	}
}

func TestWhitelistDeniesByDefault(t *testing.T) {
	f := New(ModeWhitelist)
	if f.IsAllowed("203.0.113.5") {
		t.Error("unlisted IP should be denied under whitelist")
	}
}

func TestWhitelistAllowsOnlyListed(t *testing.T) {
	f := New(ModeWhitelist)
	f.Allow("198.51.100.0/24")
	if !f.IsAllowed("198.51.100.42") {
		t.Error("198.51.100.42 should be allowed, it's within the whitelisted range")
	}
	if f.IsAllowed("203.0.113.5") {
		t.Error("203.0.113.5 should remain denied")
	}
}

func TestSingleIPRuleNormalizesToHostMask(t *testing.T) {
	f := New(ModeBlacklist)
	f.Deny("203.0.113.7")
	if f.IsAllowed("203.0.113.7") {
		t.Error("exact IP should be denied")
	}
	if !f.IsAllowed("203.0.113.8") {
		t.Error("neighboring IP should remain allowed")
	}
}

func TestTempBanExpires(t *testing.T) {
	f := New(ModeBlacklist)
	f.TempBan("203.0.113.7", -time.Second) // already expired
	if !f.IsAllowed("203.0.113.7") {
		t.Error("expired temp ban should no longer deny")
	}
}

func TestRemoveRule(t *testing.T) {
	f := New(ModeBlacklist)
	f.Deny("10.0.0.0/8")
	f.Remove("10.0.0.0/8")
	if !f.IsAllowed("10.1.2.3") {
		t.Error("removed rule should no longer deny")
	}
}

func TestIPv6Matching(t *testing.T) {
	f := New(ModeBlacklist)
	f.Deny("2001:db8::/32")
	if f.IsAllowed("2001:db8::1") {
		t.Error("IPv6 address within denied range should be denied")
	}
	if !f.IsAllowed("2001:db9::1") {
		t.Error("IPv6 address outside denied range should be allowed")
	}
}

func TestLoadMissingFileYieldsEmptyFilter(t *testing.T) {
	dir := t.TempDir()
	f, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !f.IsAllowed("203.0.113.5") {
		t.Error("empty filter should allow by default")
	}
}

func TestLoadPersistedFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ipfilter.json")

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := f.Deny("10.0.0.0/8"); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() reload error = %v", err)
	}
	if reloaded.IsAllowed("10.1.2.3") {
		t.Error("reloaded filter should retain the persisted deny rule")
	}
}
