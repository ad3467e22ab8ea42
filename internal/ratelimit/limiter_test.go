package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		perHour   int
		burst     int
		requests  int
		allowed   int
		wantLimit int
	}{
		{name: "burst then blocked", perHour: 100, burst: 3, requests: 5, allowed: 3, wantLimit: 100},
		{name: "unlimited", perHour: 0, burst: 1, requests: 50, allowed: 50, wantLimit: 0},
		{name: "burst floor", perHour: 10, burst: 0, requests: 3, allowed: 1, wantLimit: 10},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l := NewLimiter(tc.perHour, tc.burst)
			allowed := 0
			for i := 0; i < tc.requests; i++ {
				if l.Allow("project") {
					allowed++
				}
			}
			assert.Equal(t, tc.allowed, allowed)
			assert.Equal(t, tc.wantLimit, l.Limit())
		})
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := NewLimiter(60, 1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Less(t, l.Tokens("a"), 1.0)

	l.Forget("a")
	assert.True(t, l.Allow("a"))
}
