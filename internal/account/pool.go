// Package account implements the concrete AccountSelector: a configuration
// driven, mutex-guarded pool of upstream credentials keyed by model.
package account

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/coralbridge/msgbridge/internal/config"
)

// ErrNoAccount is returned when no configured account can serve the
// requested model.
var ErrNoAccount = errors.New("account: no account available for model")

// Account is the credential set returned to the dispatch pipeline.
type Account struct {
	ID        string
	Type      string
	APIKey    string
	BaseAPI   string
	UserAgent string
	ProxyURL  string
	Redacted  bool
}

// Pool selects an upstream account for a request and caches nothing beyond
// the configured set; it exists mainly to centralize the selection rule and
// give the dispatch pipeline a single place to refetch credentials by id,
// mirroring the client pool's double-checked-lookup shape even though here
// there is no expensive client object to memoize.
type Pool struct {
	mu       sync.RWMutex
	byID     map[string]config.Account
	ordered  []config.Account
}

// NewPool builds a Pool from the configured accounts.
func NewPool(accounts []config.Account) *Pool {
	p := &Pool{
		byID:    make(map[string]config.Account, len(accounts)),
		ordered: accounts,
	}
	for _, a := range accounts {
		p.byID[a.ID] = a
	}
	return p
}

// Select returns the first account whose model list contains model, or any
// account with an empty (wildcard) model list if none match specifically.
// sessionHint is accepted for interface symmetry with the spec's
// AccountSelector contract; this pool does not implement sticky sessions
// (an explicit non-goal).
func (p *Pool) Select(apiKey, sessionHint, model string) (Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var wildcard *config.Account
	for i := range p.ordered {
		a := &p.ordered[i]
		if modelListContains(a.Models, model) {
			return toAccount(*a), nil
		}
		if len(a.Models) == 0 && wildcard == nil {
			wildcard = a
		}
	}
	if wildcard != nil {
		return toAccount(*wildcard), nil
	}
	return Account{}, ErrNoAccount
}

// GetByID returns the full, unredacted credentials for accountID. The
// dispatch pipeline calls this once when Select returns credentials it
// considers redacted or incomplete.
func (p *Pool) GetByID(accountID string) (Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.byID[accountID]
	if !ok {
		return Account{}, ErrNoAccount
	}
	return toAccount(a), nil
}

func toAccount(a config.Account) Account {
	return Account{
		ID:        a.ID,
		Type:      a.Type,
		APIKey:    a.APIKey,
		BaseAPI:   a.BaseAPI,
		UserAgent: a.UserAgent,
		ProxyURL:  a.ProxyURL,
	}
}

func modelListContains(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

// hashToken mirrors the teacher pool's key-hashing idiom; kept here for the
// session-hash parameter the rate-limit collaborator's contract expects.
func hashToken(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SessionHash produces the sessionHash argument the rate-limit collaborator
// contract expects, derived from the caller's API key.
func SessionHash(apiKey string) string {
	return hashToken(apiKey)
}
