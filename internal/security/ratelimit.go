package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedSenders caps the limiter table so rotating sender ids cannot
	// exhaust memory.
	maxTrackedSenders = 4096

	// senderIdleTTL is how long an untouched sender entry survives pruning.
	senderIdleTTL = 10 * time.Minute
)

type senderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SenderLimiter is a per-sender token bucket for inbound chat messages.
// Safe for concurrent use.
type SenderLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*senderEntry
	now     func() time.Time
}

// NewSenderLimiter allows perMinute messages per sender with the given burst.
// It returns nil when perMinute <= 0; a nil limiter allows everything.
func NewSenderLimiter(perMinute, burst int) *SenderLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &SenderLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		entries: make(map[string]*senderEntry),
		now:     time.Now,
	}
}

// Allow reports whether sender may send another message now.
func (l *SenderLimiter) Allow(sender string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[sender]
	if !ok {
		l.pruneLocked(now)
		e = &senderEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[sender] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Tracked returns the number of senders currently held in the table.
func (l *SenderLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *SenderLimiter) pruneLocked(now time.Time) {
	if len(l.entries) < maxTrackedSenders {
		return
	}
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= senderIdleTTL {
			delete(l.entries, k)
		}
	}
	// Still full: evict the least recently seen sender.
	for len(l.entries) >= maxTrackedSenders {
		var (
			oldestKey string
			oldest    time.Time
		)
		for k, e := range l.entries {
			if oldestKey == "" || e.lastSeen.Before(oldest) {
				oldestKey, oldest = k, e.lastSeen
			}
		}
		delete(l.entries, oldestKey)
	}
}
