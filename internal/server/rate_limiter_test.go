package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestTokenBucketBurstAndRefill drives the bucket with a fake clock.
func TestTokenBucketBurstAndRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTokenBucket(3, 3*time.Second)
	b.last = now
	b.clock = func() time.Time { return now }

	for i := range 3 {
		assert.True(t, b.take(), "message %d within burst", i)
	}
	assert.False(t, b.take())

	now = now.Add(time.Second)
	assert.True(t, b.take())
	assert.False(t, b.take())

	now = now.Add(time.Hour)
	for range 3 {
		assert.True(t, b.take())
	}
	assert.False(t, b.take(), "refill is capped at the burst")
}

func TestTokenBucketDefaults(t *testing.T) {
	b := newTokenBucket(0, 0)
	assert.Equal(t, 1.0, b.burst)
	assert.Equal(t, 1.0, b.perSecond)
}

// TestTokenBucketClockGoingBackwards checks a clock step back grants nothing.
func TestTokenBucketClockGoingBackwards(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTokenBucket(1, time.Second)
	b.last = now
	b.clock = func() time.Time { return now }

	assert.True(t, b.take())
	now = now.Add(-time.Minute)
	assert.False(t, b.take())
}
