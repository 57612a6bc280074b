package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralbridge/msgbridge/internal/account"
	"github.com/coralbridge/msgbridge/internal/dispatch"
	"github.com/coralbridge/msgbridge/internal/upstream"
	"github.com/coralbridge/msgbridge/internal/usage"
)

type denyingAccounts struct{}

func (denyingAccounts) Select(apiKey, sessionHint, model string) (account.Account, error) {
	return account.Account{}, account.ErrNoAccount
}
func (denyingAccounts) GetByID(id string) (account.Account, error) {
	return account.Account{}, account.ErrNoAccount
}

type noopLimiter struct{}

func (noopLimiter) MarkRateLimited(accountID, limitType, sessionHash string, resetAt time.Time, resetsInSeconds int) {
}
func (noopLimiter) IsRateLimited(accountID string) bool          { return false }
func (noopLimiter) RemoveRateLimit(accountID, limitType string) {}

type noopRecorder struct{}

func (noopRecorder) Record(r usage.Record) {}

type noopUpstream struct{}

func (noopUpstream) Call(ctx context.Context, acct upstream.Account, body *openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return nil, nil
}
func (noopUpstream) OpenStream(ctx context.Context, acct upstream.Account, body *openai.ChatCompletionNewParams) (io.ReadCloser, error) {
	return nil, nil
}

func newTestContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(apiKeyContextKey, &dispatch.APIKeyContext{ID: "k1", Permissions: []string{"openai"}})
	c.Set(rawAPIKeyContextKey, "raw-key")
	return c, w
}

// Streaming requests that are rejected before the upstream connection ever
// opens (permission gate, model restriction, no account, ...) must still
// produce a JSON error envelope with the mapped status, not an SSE event
// written under a 200 with text/event-stream headers.
func TestMessages_StreamPreOpenErrorUsesJSONEnvelope(t *testing.T) {
	pipeline := dispatch.NewPipeline(denyingAccounts{}, noopLimiter{}, noopRecorder{}, noopUpstream{})
	srv := NewServer(pipeline)

	body := `{"model":"gpt-4o","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	c, w := newTestContext(body)

	srv.Messages(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "overloaded_error", envelope.Error.Type)
}

func TestMessages_NonStreamPreOpenErrorUsesJSONEnvelope(t *testing.T) {
	pipeline := dispatch.NewPipeline(denyingAccounts{}, noopLimiter{}, noopRecorder{}, noopUpstream{})
	srv := NewServer(pipeline)

	body := `{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	c, w := newTestContext(body)

	srv.Messages(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}
