// Package ratelimit tracks which upstream accounts are currently rate
// limited, so the dispatch pipeline can skip them during account selection
// until they recover.
package ratelimit

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// defaultResetMinutes is used when neither a parsed reset timestamp nor an
// explicit resetsInSeconds value is available.
const defaultResetMinutes = 60

// entry tracks one account's rate-limit window.
type entry struct {
	mu          sync.RWMutex
	limited     bool
	limitType   string
	resetAt     time.Time
	sessionHash string
}

// Registry is the concrete rate-limit collaborator: markRateLimited,
// isRateLimited, removeRateLimit per the contract.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) getOrCreate(accountID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[accountID]; ok {
		return e
	}
	e := &entry{}
	r.entries[accountID] = e
	return e
}

func (r *Registry) get(accountID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[accountID]
}

// MarkRateLimited records a rate limit for accountID, recovering
// automatically at resetAt if resetAt is non-zero, otherwise after
// resetsInSeconds, otherwise after the default window.
func (r *Registry) MarkRateLimited(accountID, limitType, sessionHash string, resetAt time.Time, resetsInSeconds int) {
	e := r.getOrCreate(accountID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.limited = true
	e.limitType = limitType
	e.sessionHash = sessionHash
	switch {
	case !resetAt.IsZero():
		e.resetAt = resetAt
	case resetsInSeconds > 0:
		e.resetAt = time.Now().Add(time.Duration(resetsInSeconds) * time.Second)
	default:
		e.resetAt = time.Now().Add(defaultResetMinutes * time.Minute)
	}
}

// IsRateLimited reports whether accountID is currently rate limited. A
// window that has elapsed self-clears on read.
func (r *Registry) IsRateLimited(accountID string) bool {
	e := r.get(accountID)
	if e == nil {
		return false
	}

	e.mu.RLock()
	limited := e.limited
	resetAt := e.resetAt
	e.mu.RUnlock()

	if !limited {
		return false
	}
	if time.Now().After(resetAt) {
		e.mu.Lock()
		e.limited = false
		e.mu.Unlock()
		return false
	}
	return true
}

// RemoveRateLimit clears a rate limit before its window elapses, e.g. once a
// request against the account succeeds.
func (r *Registry) RemoveRateLimit(accountID, limitType string) {
	e := r.get(accountID)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limitType == limitType || limitType == "" {
		e.limited = false
	}
}

// resetMessagePattern matches upstream error bodies of the form
// "...2024-01-02 03:04:05 UTC+8...".
var resetMessagePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) UTC([+-]\d+)`)

// ParseResetSeconds extracts a reset delay from a 429 error body. It first
// looks for a "YYYY-MM-DD HH:MM:SS UTC+N" timestamp in msg, then falls back
// to the resetsInSeconds field, then to the package default.
func ParseResetSeconds(msg string, resetsInSeconds int) int {
	if m := resetMessagePattern.FindStringSubmatch(msg); m != nil {
		var offsetHours int
		if _, err := fmt.Sscanf(m[2], "%d", &offsetHours); err == nil {
			loc := time.FixedZone(fmt.Sprintf("UTC%s", m[2]), offsetHours*3600)
			if t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], loc); err == nil {
				seconds := int(time.Until(t).Seconds())
				if seconds > 0 {
					return seconds
				}
			}
		}
	}
	if resetsInSeconds > 0 {
		return resetsInSeconds
	}
	return defaultResetMinutes * 60
}
