package dispatch

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralbridge/msgbridge/internal/account"
	"github.com/coralbridge/msgbridge/internal/upstream"
	"github.com/coralbridge/msgbridge/internal/usage"
)

type fakeAccounts struct {
	acct account.Account
	err  error
}

func (f *fakeAccounts) Select(apiKey, sessionHint, model string) (account.Account, error) {
	return f.acct, f.err
}

func (f *fakeAccounts) GetByID(id string) (account.Account, error) {
	return f.acct, f.err
}

type fakeLimiter struct {
	limited         bool
	marked          bool
	cleared         bool
	resetsInSeconds int
}

func (f *fakeLimiter) MarkRateLimited(accountID, limitType, sessionHash string, resetAt time.Time, resetsInSeconds int) {
	f.marked = true
	f.resetsInSeconds = resetsInSeconds
}
func (f *fakeLimiter) IsRateLimited(accountID string) bool { return f.limited }
func (f *fakeLimiter) RemoveRateLimit(accountID, limitType string) {
	f.cleared = true
}

type fakeRecorder struct {
	records []usage.Record
}

func (f *fakeRecorder) Record(r usage.Record) {
	f.records = append(f.records, r)
}

type fakeUpstream struct {
	resp       *openai.ChatCompletion
	callErr    error
	streamBody string
	streamErr  error
}

func (f *fakeUpstream) Call(ctx context.Context, account upstream.Account, body *openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return f.resp, f.callErr
}

func (f *fakeUpstream) OpenStream(ctx context.Context, account upstream.Account, body *openai.ChatCompletionNewParams) (io.ReadCloser, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func validAccount() account.Account {
	return account.Account{ID: "acct1", Type: "openai", APIKey: "k1", BaseAPI: "https://example.test"}
}

func baseRequest() *Request {
	return &Request{
		APIKey: &APIKeyContext{Permissions: []string{"openai"}},
		Model:  "gpt-4o",
		Message: &anthropic.MessageNewParams{
			Model:     "gpt-4o",
			MaxTokens: 100,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("hello")),
			},
		},
	}
}

func TestPipeline_Dispatch_PermissionDenied(t *testing.T) {
	p := NewPipeline(&fakeAccounts{}, &fakeLimiter{}, &fakeRecorder{}, &fakeUpstream{})
	req := baseRequest()
	req.APIKey = &APIKeyContext{}

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindPermissionDenied, derr.Kind)
}

func TestPipeline_Dispatch_ModelRestricted(t *testing.T) {
	p := NewPipeline(&fakeAccounts{}, &fakeLimiter{}, &fakeRecorder{}, &fakeUpstream{})
	req := baseRequest()
	req.APIKey = &APIKeyContext{Permissions: []string{"openai"}, ModelRestrictions: []string{"other-model"}}

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindModelRestricted, derr.Kind)
}

func TestPipeline_Dispatch_NoAccount(t *testing.T) {
	p := NewPipeline(&fakeAccounts{err: account.ErrNoAccount}, &fakeLimiter{}, &fakeRecorder{}, &fakeUpstream{})
	req := baseRequest()

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindNoAccount, derr.Kind)
}

func TestPipeline_Dispatch_MisconfiguredAccount(t *testing.T) {
	p := NewPipeline(&fakeAccounts{acct: account.Account{ID: "acct1"}}, &fakeLimiter{}, &fakeRecorder{}, &fakeUpstream{})
	req := baseRequest()

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindMisconfiguredAccount, derr.Kind)
}

func TestPipeline_Dispatch_RateLimitedAccountSkipped(t *testing.T) {
	p := NewPipeline(&fakeAccounts{acct: validAccount()}, &fakeLimiter{limited: true}, &fakeRecorder{}, &fakeUpstream{})
	req := baseRequest()

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindRateLimited, derr.Kind)
}

func TestPipeline_Dispatch_NonStreamSuccess(t *testing.T) {
	resp := &openai.ChatCompletion{
		ID: "chatcmpl-1",
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "hi there"},
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 5, CompletionTokens: 7},
	}
	limiter := &fakeLimiter{}
	recorder := &fakeRecorder{}
	p := NewPipeline(&fakeAccounts{acct: validAccount()}, limiter, recorder, &fakeUpstream{resp: resp})
	req := baseRequest()

	msg, derr := p.Dispatch(context.Background(), nil, req)
	require.Nil(t, derr)
	require.NotNil(t, msg)
	assert.True(t, limiter.cleared)
	require.Len(t, recorder.records, 1)
	assert.Equal(t, "success", recorder.records[0].Status)
}

func TestPipeline_Dispatch_UpstreamStatusError(t *testing.T) {
	statusErr := &upstream.StatusError{StatusCode: 400, Body: []byte(`{"error":{"message":"bad request"}}`)}
	recorder := &fakeRecorder{}
	p := NewPipeline(&fakeAccounts{acct: validAccount()}, &fakeLimiter{}, recorder, &fakeUpstream{callErr: statusErr})
	req := baseRequest()

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindUpstreamStatus, derr.Kind)
	assert.Equal(t, 400, derr.HTTPStatus())
}

func TestPipeline_Dispatch_RateLimitStatusMarksLimiter(t *testing.T) {
	statusErr := &upstream.StatusError{StatusCode: 429, Body: []byte(`{"error":{"message":"slow down","resets_in_seconds":30}}`)}
	limiter := &fakeLimiter{}
	p := NewPipeline(&fakeAccounts{acct: validAccount()}, limiter, &fakeRecorder{}, &fakeUpstream{callErr: statusErr})
	req := baseRequest()

	_, derr := p.Dispatch(context.Background(), nil, req)
	require.NotNil(t, derr)
	assert.Equal(t, KindRateLimited, derr.Kind)
	assert.True(t, limiter.marked)
	assert.Equal(t, 30, limiter.resetsInSeconds)
}
