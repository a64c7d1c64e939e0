package network

import (
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// ipLimiter applies a token bucket per remote IP and periodically evicts idle entries.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu   sync.Mutex
	byIP map[string]*limiterEntry
	hits uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter allows perIP connections per window; returns nil when disabled.
func newIPLimiter(perIP int, window time.Duration) *ipLimiter {
	if perIP <= 0 || window <= 0 {
		return nil
	}
	return &ipLimiter{
		limit: rate.Every(window / time.Duration(perIP)),
		burst: perIP,
		byIP:  make(map[string]*limiterEntry),
	}
}

// Allow reports whether one more connection from remote is admitted at now.
func (l *ipLimiter) Allow(remote string, now time.Time) bool {
	if l == nil {
		return true
	}
	ip := remoteIP(remote)
	if ip == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byIP[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byIP[ip] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-limiterIdleTTL)
		for k, v := range l.byIP {
			if v.lastSeen.Before(cutoff) {
				delete(l.byIP, k)
			}
		}
	}

	return allowed
}

func remoteIP(remote string) string {
	remote = strings.TrimSpace(remote)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
