package server

import (
	"sync"
	"time"
)

// tokenBucket admits burst messages at once and regains burst tokens per
// window. One accepted message spends one token.
type tokenBucket struct {
	mu        sync.Mutex
	burst     float64
	available float64
	perSecond float64
	last      time.Time
	clock     func() time.Time
}

func newTokenBucket(burst int, window time.Duration) *tokenBucket {
	burst = max(burst, 1)
	if window <= 0 {
		window = time.Second
	}

	b := &tokenBucket{
		burst:     float64(burst),
		available: float64(burst),
		perSecond: float64(burst) / window.Seconds(),
		clock:     time.Now,
	}
	b.last = b.clock()
	return b
}

// take spends a token, reporting false when the bucket is empty.
func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if gained := now.Sub(b.last).Seconds() * b.perSecond; gained > 0 {
		b.available = min(b.burst, b.available+gained)
	}
	b.last = now

	if b.available < 1 {
		return false
	}
	b.available--
	return true
}
