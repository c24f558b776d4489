// Package ratelimit gates pre-connection (handshake-stage) datagrams
// per source IP, so a flood of UnconnectedPing/OpenConnectionRequest1
// traffic from one address cannot exhaust listener resources before a
// Conn even exists to enforce its own receive-window cap.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-source-IP token bucket keyed on the sender's address,
// evicting idle entries so long-running listeners don't leak buckets for
// addresses that stopped sending.
type Limiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	buckets   map[string]*entry
	idleAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Limiter allowing rps packets per second, per source IP,
// with the given burst allowance.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		buckets:   make(map[string]*entry),
		idleAfter: 5 * time.Minute,
	}
}

// Allow reports whether a datagram from addr may proceed to the
// listener's dispatch path.
func (l *Limiter) Allow(addr *net.UDPAddr) bool {
	return l.allowAt(addr, time.Now())
}

func (l *Limiter) allowAt(addr *net.UDPAddr, now time.Time) bool {
	key := addr.IP.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = e
	}
	e.lastSeen = now
	l.evictLocked(now)
	return e.limiter.AllowN(now, 1)
}

// evictLocked drops buckets untouched for longer than idleAfter. Called
// with l.mu held.
func (l *Limiter) evictLocked(now time.Time) {
	for k, e := range l.buckets {
		if now.Sub(e.lastSeen) > l.idleAfter {
			delete(l.buckets, k)
		}
	}
}

// Len reports how many source addresses currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
