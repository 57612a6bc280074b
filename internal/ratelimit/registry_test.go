package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_MarkAndIsRateLimited(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsRateLimited("acct1"))

	r.MarkRateLimited("acct1", "openai", "hash1", time.Time{}, 30)
	assert.True(t, r.IsRateLimited("acct1"))
}

func TestRegistry_SelfClearsAfterResetWindow(t *testing.T) {
	r := NewRegistry()
	r.MarkRateLimited("acct1", "openai", "hash1", time.Now().Add(-time.Second), 0)
	assert.False(t, r.IsRateLimited("acct1"))
}

func TestRegistry_RemoveRateLimit(t *testing.T) {
	r := NewRegistry()
	r.MarkRateLimited("acct1", "openai", "hash1", time.Time{}, 3600)
	r.RemoveRateLimit("acct1", "openai")
	assert.False(t, r.IsRateLimited("acct1"))
}

func TestRegistry_DefaultWindowWhenNoHintsGiven(t *testing.T) {
	r := NewRegistry()
	r.MarkRateLimited("acct1", "openai", "hash1", time.Time{}, 0)
	assert.True(t, r.IsRateLimited("acct1"))

	e := r.entries["acct1"]
	assert.WithinDuration(t, time.Now().Add(defaultResetMinutes*time.Minute), e.resetAt, 2*time.Second)
}

func TestParseResetSeconds_FromMessageTimestamp(t *testing.T) {
	future := time.Now().UTC().Add(90 * time.Second)
	msg := "rate limited, retry after " + future.Format("2006-01-02 15:04:05") + " UTC+0"

	seconds := ParseResetSeconds(msg, 0)
	assert.InDelta(t, 90, seconds, 3)
}

func TestParseResetSeconds_FallsBackToResetsInSeconds(t *testing.T) {
	seconds := ParseResetSeconds("no timestamp here", 120)
	assert.Equal(t, 120, seconds)
}

func TestParseResetSeconds_FallsBackToDefault(t *testing.T) {
	seconds := ParseResetSeconds("no timestamp, no hint", 0)
	assert.Equal(t, defaultResetMinutes*60, seconds)
}
