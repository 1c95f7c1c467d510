// Package ratelimit implements the per-identity token-bucket limits the
// router applies to messages, image chunks, and new connections, plus the
// escalating-ban bookkeeping that feeds IPFilter after repeated violations.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Kind names a rate-limited activity. Each kind gets an independent bucket
// per identity, so exhausting one never blocks another.
type Kind string

const (
	KindMessage    Kind = "message"
	KindImageChunk Kind = "image_chunk"
	KindConnection Kind = "connection"
)

// Config holds the budget for one Kind: a bucket of Capacity tokens that
// refills at Capacity tokens every Window.
type Config struct {
	Capacity int
	Window   time.Duration
}

// DefaultConfigs returns the documented default rate budgets: messages 30/10s, image
// chunks 100/10s, connections 5/min per IP.
func DefaultConfigs() map[Kind]Config {
	return map[Kind]Config{
		KindMessage:    {Capacity: 30, Window: 10 * time.Second},
		KindImageChunk: {Capacity: 100, Window: 10 * time.Second},
		KindConnection: {Capacity: 5, Window: time.Minute},
	}
}

// DefaultBanThreshold is the number of denials against the connection
// bucket that trigger a temporary IP ban.
const DefaultBanThreshold = 10

// DefaultBanDuration is how long a ban-threshold violation bans the
// offending IP.
const DefaultBanDuration = 15 * time.Minute

// Limiter tracks one token bucket per (identity, kind) pair and a
// violation counter per identity used to trip the connection-rate ban.
type Limiter struct {
	mu       sync.Mutex
	configs  map[Kind]Config
	buckets  map[string]map[Kind]*rate.Limiter
	denials  map[string]int

	banThreshold int
	banDuration  time.Duration

	// onBan is invoked (outside the lock) when an identity crosses
	// banThreshold connection-rate denials. Wired to IPFilter.TempBan by
	// the router.
	onBan func(identity string, duration time.Duration)
}

// Option configures a Limiter at construction.
type Option func(*Limiter)

// WithConfigs overrides the default per-kind bucket configuration.
func WithConfigs(cfgs map[Kind]Config) Option {
	return func(l *Limiter) { l.configs = cfgs }
}

// WithBanThreshold overrides the default connection-bucket ban threshold.
func WithBanThreshold(n int) Option {
	return func(l *Limiter) { l.banThreshold = n }
}

// WithBanDuration overrides the default ban duration.
func WithBanDuration(d time.Duration) Option {
	return func(l *Limiter) { l.banDuration = d }
}

// WithBanCallback registers the hook invoked when an identity's connection
// bucket crosses the ban threshold.
func WithBanCallback(f func(identity string, duration time.Duration)) Option {
	return func(l *Limiter) { l.onBan = f }
}

// New builds a Limiter with the default bucket configuration, overridden by
// opts.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		configs:      DefaultConfigs(),
		buckets:      make(map[string]map[Kind]*rate.Limiter),
		denials:      make(map[string]int),
		banThreshold: DefaultBanThreshold,
		banDuration:  DefaultBanDuration,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token from identity's bucket for kind, refilling it
// first. It reports whether the request is allowed and, when denied, how
// many seconds until the next token is available.
func (l *Limiter) Allow(identity string, kind Kind) (allowed bool, retryAfter time.Duration) {
	bucket := l.bucketFor(identity, kind)

	reservation := bucket.Reserve()
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		if kind == KindConnection {
			l.recordDenial(identity)
		}
		return false, delay
	}
	return true, 0
}

func (l *Limiter) bucketFor(identity string, kind Kind) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	byKind, ok := l.buckets[identity]
	if !ok {
		byKind = make(map[Kind]*rate.Limiter)
		l.buckets[identity] = byKind
	}
	b, ok := byKind[kind]
	if !ok {
		cfg := l.configs[kind]
		refillPerSec := float64(cfg.Capacity) / cfg.Window.Seconds()
		b = rate.NewLimiter(rate.Limit(refillPerSec), cfg.Capacity)
		byKind[kind] = b
	}
	return b
}

func (l *Limiter) recordDenial(identity string) {
	l.mu.Lock()
	l.denials[identity]++
	tripped := l.denials[identity] >= l.banThreshold
	if tripped {
		l.denials[identity] = 0
	}
	cb := l.onBan
	duration := l.banDuration
	l.mu.Unlock()

	if tripped && cb != nil {
		cb(identity, duration)
	}
}

// Forget drops all bucket and denial state for identity, called on
// disconnect so long-lived servers don't accumulate per-connection buckets
// forever.
func (l *Limiter) Forget(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, identity)
	delete(l.denials, identity)
}
