package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleExpiry      = 10 * time.Minute
)

// LimitReason describes why a connection attempt was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits gates WebSocket upgrades: a per-IP token bucket for new
// connections, a cap on concurrent connections per IP, and a global cap.
// Any limit set to zero is disabled.
type ConnectionLimits struct {
	clock clockwork.Clock

	globalMax int64
	current   atomic.Int64

	perIPMax int
	ipMu     sync.Mutex
	ips      map[string]int

	rate      rate.Limit
	burst     int
	rateMu    sync.Mutex
	limiters  map[string]*rateLimiterEntry
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type LimitsConfig struct {
	GlobalMax            int
	PerIPMax             int
	ConnectionsPerSecond float64
	Burst                int
}

func NewConnectionLimits(clock clockwork.Clock, cfg LimitsConfig) *ConnectionLimits {
	return &ConnectionLimits{
		clock:     clock,
		globalMax: int64(cfg.GlobalMax),
		perIPMax:  cfg.PerIPMax,
		ips:       make(map[string]int),
		rate:      rate.Limit(cfg.ConnectionsPerSecond),
		burst:     cfg.Burst,
		limiters:  make(map[string]*rateLimiterEntry),
		cleanupAt: clock.Now().Add(rateLimiterCleanupInterval),
	}
}

// Acquire reserves a slot for ip. On success the caller must call Release
// when the connection ends.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}
	if !l.acquireIP(ip) {
		l.releaseGlobal()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.releaseIP(ip)
	l.releaseGlobal()
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

// CountFor returns the number of held slots for ip.
func (l *ConnectionLimits) CountFor(ip string) int {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	return l.ips[ip]
}

func (l *ConnectionLimits) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if l.globalMax > 0 && current >= l.globalMax {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) releaseGlobal() {
	l.current.Add(-1)
}

func (l *ConnectionLimits) acquireIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if l.perIPMax > 0 && l.ips[ip] >= l.perIPMax {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ConnectionLimits) releaseIP(ip string) {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ConnectionLimits) allowRate(ip string) bool {
	if l.rate <= 0 {
		return true
	}

	l.rateMu.Lock()
	defer l.rateMu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanupRateLimiters(now)
		l.cleanupAt = now.Add(rateLimiterCleanupInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		burst := l.burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanupRateLimiters drops buckets idle for longer than the expiry. Must be called with rateMu held.
func (l *ConnectionLimits) cleanupRateLimiters(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleExpiry)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}
