// Package admission implements the connection-attempt admission control:
// at most 50 new stream connection attempts per 60s.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Limit is the maximum number of connection attempts allowed within
	// Window.
	Limit = 50
	// Window is the sliding window over which Limit is enforced.
	Window = 60 * time.Second
)

// Gate tracks recent connection attempts and admits new ones within the
// configured rate. An attempt is denied when Limit or more attempts are
// already logged within the last Window; otherwise a token-bucket limiter
// calibrated to Limit/Window makes the final decision. The same timestamp
// log backs the "attempts in the last 60s" count the status surface reports.
type Gate struct {
	limiter *rate.Limiter

	mu     sync.Mutex
	recent []time.Time
	now    func() time.Time
}

// New creates a Gate enforcing Limit attempts per Window.
func New() *Gate {
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(Window/Limit), Limit),
		now:     time.Now,
	}
}

// Allow records an attempt and reports whether it is admitted.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.pruneLocked(now)
	windowFull := len(g.recent) >= Limit
	g.recent = append(g.recent, now)
	if windowFull {
		return false
	}
	return g.limiter.AllowN(now, 1)
}

func (g *Gate) pruneLocked(now time.Time) {
	cutoff := now.Add(-Window)
	idx := 0
	for idx < len(g.recent) && g.recent[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		g.recent = append([]time.Time(nil), g.recent[idx:]...)
	}
}

// RecentAttempts returns the number of admitted-or-not attempts within the
// last Window, for the OverallStatus surface.
func (g *Gate) RecentAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(g.now())
	return len(g.recent)
}
