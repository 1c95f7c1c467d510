// Package ipfilter implements CIDR-based allow/deny filtering for inbound
// connections, with temporary bans and write-through persistence.
package ipfilter

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/larry-lines/justIRC/internal/persist"
)

// Mode selects the filter's default posture.
type Mode string

const (
	// ModeBlacklist allows everything except listed rules (the default).
	ModeBlacklist Mode = "blacklist"
	// ModeWhitelist denies everything except listed rules.
	ModeWhitelist Mode = "whitelist"
)

// rule is the persisted representation of one CIDR entry. ExpiresAt is the
// zero time for a permanent rule.
type rule struct {
	CIDR      string    `json:"cidr"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (r rule) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

type storeFile struct {
	Mode  Mode   `json:"mode"`
	Rules []rule `json:"rules"`
}

// Filter holds the active mode and rule set, guarded by a mutex, and
// persists every mutation to path.
type Filter struct {
	mu    sync.Mutex
	mode  Mode
	rules []rule
	path  string
}

// New builds a Filter in the given mode with no persistence. Use Load to
// restore a filter backed by a file.
func New(mode Mode) *Filter {
	return &Filter{mode: mode}
}

// Load restores a Filter from path. A missing file yields an empty
// blacklist filter, matching the "missing store means empty"
// convention shared by the other durable collaborators.
func Load(path string) (*Filter, error) {
	f := &Filter{mode: ModeBlacklist, path: path}

	var sf storeFile
	if err := persist.ReadJSON(path, &sf); err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("load ip filter: %w", err)
	}
	f.mode = sf.Mode
	f.rules = sf.Rules
	return f, nil
}

// SetMode changes the filter's default posture and persists the change.
func (f *Filter) SetMode(mode Mode) error {
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
	return f.save()
}

// Mode returns the filter's current posture.
func (f *Filter) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Allow adds a permanent rule listing cidr and persists it. Rules carry no
// allow/deny kind of their own: a listed cidr is allowed under
// ModeWhitelist and denied under ModeBlacklist.
func (f *Filter) Allow(cidr string) error {
	return f.addRule(cidr, time.Time{})
}

// Deny adds a permanent rule listing cidr and persists it; it adds the
// same kind of rule as Allow. Under ModeBlacklist this bans cidr; under
// ModeWhitelist the listed cidr is allowed, so Deny bans only in
// blacklist mode.
func (f *Filter) Deny(cidr string) error {
	return f.addRule(cidr, time.Time{})
}

// TempBan adds a rule listing cidr that expires after duration, used by
// RateLimiter's ban-threshold callback. Like Deny, it bans only under
// ModeBlacklist.
func (f *Filter) TempBan(cidr string, duration time.Duration) error {
	return f.addRule(cidr, time.Now().Add(duration))
}

func (f *Filter) addRule(cidr string, expiresAt time.Time) error {
	if _, _, err := net.ParseCIDR(normalizeCIDR(cidr)); err != nil {
		return fmt.Errorf("ipfilter: invalid cidr %q: %w", cidr, err)
	}
	f.mu.Lock()
	f.rules = append(f.rules, rule{CIDR: normalizeCIDR(cidr), ExpiresAt: expiresAt})
	f.mu.Unlock()
	return f.save()
}

// normalizeCIDR accepts a bare IP (treated as a /32 or /128 rule) or a
// CIDR block.
func normalizeCIDR(s string) string {
	if _, _, err := net.ParseCIDR(s); err == nil {
		return s
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if ip.To4() != nil {
		return s + "/32"
	}
	return s + "/128"
}

// Remove deletes every rule matching cidr exactly and persists the change.
func (f *Filter) Remove(cidr string) error {
	norm := normalizeCIDR(cidr)
	f.mu.Lock()
	kept := f.rules[:0]
	for _, r := range f.rules {
		if r.CIDR != norm {
			kept = append(kept, r)
		}
	}
	f.rules = kept
	f.mu.Unlock()
	return f.save()
}

// IsAllowed purges expired rules, then evaluates ip against the active
// mode: under ModeBlacklist, ip is denied only if a live rule matches;
// under ModeWhitelist, ip is allowed only if a live rule matches.
func (f *Filter) IsAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	f.mu.Lock()
	f.purgeExpiredLocked()
	matched := f.matchesLocked(ip)
	mode := f.mode
	f.mu.Unlock()

	if mode == ModeWhitelist {
		return matched
	}
	return !matched
}

func (f *Filter) matchesLocked(ip net.IP) bool {
	for _, r := range f.rules {
		_, network, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (f *Filter) purgeExpiredLocked() {
	now := time.Now()
	kept := f.rules[:0]
	for _, r := range f.rules {
		if !r.expired(now) {
			kept = append(kept, r)
		}
	}
	f.rules = kept
}

func (f *Filter) save() error {
	if f.path == "" {
		return nil
	}
	f.mu.Lock()
	sf := storeFile{Mode: f.mode, Rules: append([]rule(nil), f.rules...)}
	f.mu.Unlock()
	return persist.WriteJSON(f.path, sf)
}
