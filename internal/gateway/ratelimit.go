package gateway

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxHosts = 10000
)

// authRateLimiter throttles failed handshakes per remote host. Each host
// gets a bucket of authRateMaxFails failures that refills over
// authRateWindow; a host with an empty bucket is refused until it refills.
type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string]*failureBucket
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

type failureBucket struct {
	lim  *rate.Limiter
	last time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	l := &authRateLimiter{
		hosts: make(map[string]*failureBucket),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *authRateLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

// prune forgets hosts with no failure inside the window.
func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-authRateWindow)
	for host, b := range l.hosts {
		if b.last.Before(cutoff) {
			delete(l.hosts, host)
		}
	}
}

// stop ends the sweeper. Safe to call more than once.
func (l *authRateLimiter) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[hostOf(remoteAddr)]
	if !ok {
		return true
	}
	return b.lim.TokensAt(l.now()) >= 1
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authRateMaxHosts {
			l.evictOldest()
		}
		b = &failureBucket{
			lim: rate.NewLimiter(rate.Every(authRateWindow/authRateMaxFails), authRateMaxFails),
		}
		l.hosts[host] = b
	}
	b.lim.AllowN(now, 1)
	b.last = now
}

func (l *authRateLimiter) evictOldest() {
	var oldest string
	var at time.Time
	for host, b := range l.hosts {
		if oldest == "" || b.last.Before(at) {
			oldest, at = host, b.last
		}
	}
	delete(l.hosts, oldest)
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
