// Package dispatch wires the protocol translator to the upstream client:
// permission gating, model restriction, account selection with redacted
// credential refetch, non-stream and stream dispatch, and the side effects
// (usage recording, rate-limit lifecycle) that ride alongside each call.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"

	"github.com/coralbridge/msgbridge/internal/account"
	"github.com/coralbridge/msgbridge/internal/ratelimit"
	"github.com/coralbridge/msgbridge/internal/upstream"
	"github.com/coralbridge/msgbridge/internal/usage"
	"github.com/coralbridge/msgbridge/pkg/translator"
)

// defaultMaxTokens is substituted when the caller omits max_tokens, matching
// the teacher's requirement that Anthropic-shaped requests always carry one.
const defaultMaxTokens = 4096

// AccountSelector abstracts account.Pool so the pipeline can be tested
// without a real configuration file.
type AccountSelector interface {
	Select(apiKey, sessionHint, model string) (account.Account, error)
	GetByID(accountID string) (account.Account, error)
}

// RateLimiter abstracts the rate-limit collaborator.
type RateLimiter interface {
	MarkRateLimited(accountID, limitType, sessionHash string, resetAt time.Time, resetsInSeconds int)
	IsRateLimited(accountID string) bool
	RemoveRateLimit(accountID, limitType string)
}

// UsageRecorder abstracts the usage-recording collaborator.
type UsageRecorder interface {
	Record(r usage.Record)
}

// Upstream abstracts upstream.Client.
type Upstream interface {
	Call(ctx context.Context, account upstream.Account, body *openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	OpenStream(ctx context.Context, account upstream.Account, body *openai.ChatCompletionNewParams) (io.ReadCloser, error)
}

// Pipeline is the concrete DispatchPipeline.
type Pipeline struct {
	Accounts AccountSelector
	Limiter  RateLimiter
	Usage    UsageRecorder
	Upstream Upstream
}

// NewPipeline wires the four collaborators into a Pipeline.
func NewPipeline(accounts AccountSelector, limiter RateLimiter, rec UsageRecorder, up Upstream) *Pipeline {
	return &Pipeline{Accounts: accounts, Limiter: limiter, Usage: rec, Upstream: up}
}

// StreamWriter is the downstream SSE sink the stream path writes to; gin's
// response writer is adapted to this in the HTTP layer so this package stays
// transport-agnostic.
type StreamWriter interface {
	translator.EventWriter
	Flush()
}

// Request is everything the pipeline needs to process one call, already
// parsed out of the inbound HTTP request by the caller.
type Request struct {
	APIKey      *APIKeyContext
	RawAPIKey   string
	Model       string
	Stream      bool
	Message     *anthropic.MessageNewParams
	Metadata    map[string]any
	SessionHint string
}

// Dispatch runs steps 1 through 4 of the pipeline (gate, restrict, select,
// transform) and then either dispatchOnce or dispatchStream depending on
// req.Stream.
func (p *Pipeline) Dispatch(ctx context.Context, w StreamWriter, req *Request) (*anthropic.Message, *Error) {
	if err := gate(req); err != nil {
		return nil, err
	}

	if req.Message.MaxTokens == 0 {
		req.Message.MaxTokens = defaultMaxTokens
	}

	acct, derr := p.selectAccount(req)
	if derr != nil {
		return nil, derr
	}

	body := translator.TransformRequest(req.Message, req.Stream, req.Metadata)

	if req.Stream {
		return nil, p.dispatchStream(ctx, w, acct, body, req)
	}
	return p.dispatchOnce(ctx, acct, body, req)
}

func gate(req *Request) *Error {
	if !req.APIKey.HasPermission("openai") {
		return &Error{Kind: KindPermissionDenied, Message: "API key lacks openai permission"}
	}
	if !req.APIKey.AllowsModel(req.Model) {
		return &Error{Kind: KindModelRestricted, Message: "model not permitted for this API key"}
	}
	return nil
}

func (p *Pipeline) selectAccount(req *Request) (account.Account, *Error) {
	acct, err := p.Accounts.Select(req.RawAPIKey, req.SessionHint, req.Model)
	if err != nil {
		return account.Account{}, &Error{Kind: KindNoAccount, Message: "no account available for model", Err: err}
	}
	if acct.Redacted || acct.APIKey == "" || acct.BaseAPI == "" {
		full, err := p.Accounts.GetByID(acct.ID)
		if err != nil {
			return account.Account{}, &Error{Kind: KindNoAccount, Message: "account credentials unavailable", Err: err}
		}
		acct = full
	}
	if acct.APIKey == "" || acct.BaseAPI == "" {
		return account.Account{}, &Error{Kind: KindMisconfiguredAccount, Message: "account missing api key or base api"}
	}
	if p.Limiter != nil && p.Limiter.IsRateLimited(acct.ID) {
		return account.Account{}, &Error{Kind: KindRateLimited, Message: "account is currently rate limited", Code: 429}
	}
	return acct, nil
}

func toUpstreamAccount(a account.Account) upstream.Account {
	return upstream.Account{APIKey: a.APIKey, BaseAPI: a.BaseAPI, UserAgent: a.UserAgent, ProxyURL: a.ProxyURL}
}

// dispatchOnce runs the non-stream path: one upstream call, response
// transform, usage record, rate-limit clear.
func (p *Pipeline) dispatchOnce(ctx context.Context, acct account.Account, body *openai.ChatCompletionNewParams, req *Request) (*anthropic.Message, *Error) {
	resp, err := p.Upstream.Call(ctx, toUpstreamAccount(acct), body)
	if err != nil {
		return nil, p.handleUpstreamError(acct, err, false, req)
	}

	msg, err := translator.TransformResponse(resp, req.Model)
	if err != nil {
		p.recordUsage(acct, req, 0, 0, false, "error", "parse_error")
		return nil, &Error{Kind: KindParseError, Message: "failed to parse upstream response", Err: err}
	}

	p.recordUsage(acct, req, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, false, "success", "")
	if p.Limiter != nil {
		p.Limiter.RemoveRateLimit(acct.ID, acct.Type)
	}
	return &msg, nil
}

// dispatchStream runs the stream path: opens the upstream SSE stream,
// reframes it through the translator, and writes downstream events until
// [DONE] or a mid-stream error.
func (p *Pipeline) dispatchStream(ctx context.Context, w StreamWriter, acct account.Account, body *openai.ChatCompletionNewParams, req *Request) *Error {
	rc, err := p.Upstream.OpenStream(ctx, toUpstreamAccount(acct), body)
	if err != nil {
		return p.handleUpstreamError(acct, err, true, req)
	}
	defer rc.Close()

	sessionID := "sess_" + uuid.New().String()
	state := translator.NewStreamState(sessionID)
	tr := translator.NewStreamTranslator(w)

	scanner := translator.NewFrameScanner(rc)
	for scanner.Scan() {
		frame := scanner.Text()
		for _, data := range translator.ExtractDataLines(frame) {
			if translator.IsDone(data) {
				tr.HandleDone(state)
				w.Flush()
				p.recordUsage(acct, req, state.InputTokens, state.OutputTokens, true, "success", "")
				if p.Limiter != nil {
					p.Limiter.RemoveRateLimit(acct.ID, acct.Type)
				}
				return nil
			}

			translator.SniffUsage(data, state)

			var chunk openai.ChatCompletionChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				logrus.WithError(jsonErr).Debug("dispatch: dropping unparseable stream chunk")
				continue
			}
			tr.HandleChunk(state, &chunk, req.Model)
			w.Flush()
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		p.recordUsage(acct, req, state.InputTokens, state.OutputTokens, true, "partial", "transport_error")
		return &Error{Kind: KindStreamMidError, Message: "upstream stream ended with an error", Err: scanErr}
	}

	// Upstream closed the connection without a [DONE] sentinel; flush a
	// synthetic message_stop so the caller's stream still terminates cleanly.
	tr.HandleDone(state)
	w.Flush()
	p.recordUsage(acct, req, state.InputTokens, state.OutputTokens, true, "partial", "")
	return nil
}

func (p *Pipeline) handleUpstreamError(acct account.Account, err error, streamed bool, req *Request) *Error {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == 429 {
			seconds := ratelimit.ParseResetSeconds(string(statusErr.Body), extractResetsInSeconds(statusErr.Body))
			if p.Limiter != nil {
				p.Limiter.MarkRateLimited(acct.ID, acct.Type, account.SessionHash(req.RawAPIKey), time.Time{}, seconds)
			}
			p.recordUsage(acct, req, 0, 0, streamed, "error", "rate_limited")
			return &Error{Kind: KindRateLimited, Message: "upstream rate limited this account", Code: statusErr.StatusCode, Body: statusErr.Body}
		}
		p.recordUsage(acct, req, 0, 0, streamed, "error", "upstream_status")
		return &Error{Kind: KindUpstreamStatus, Message: "upstream returned an error status", Code: statusErr.StatusCode, Body: statusErr.Body}
	}

	p.recordUsage(acct, req, 0, 0, streamed, "error", "transport_error")
	return &Error{Kind: KindTransportError, Message: "failed to reach upstream", Err: err}
}

// extractResetsInSeconds reads a resets_in_seconds hint out of an upstream
// 429 body, checking both a top-level field and the conventional nested
// error.resets_in_seconds shape. Returns 0 if neither is present or the body
// isn't JSON.
func extractResetsInSeconds(body []byte) int {
	var probe struct {
		ResetsInSeconds int `json:"resets_in_seconds"`
		Error           struct {
			ResetsInSeconds int `json:"resets_in_seconds"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0
	}
	if probe.ResetsInSeconds > 0 {
		return probe.ResetsInSeconds
	}
	return probe.Error.ResetsInSeconds
}

func (p *Pipeline) recordUsage(acct account.Account, req *Request, inputTokens, outputTokens int64, streamed bool, status, errorCode string) {
	if p.Usage == nil {
		return
	}
	p.Usage.Record(usage.Record{
		AccountID:    acct.ID,
		Model:        req.Model,
		RequestModel: req.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Streamed:     streamed,
		Status:       status,
		ErrorCode:    errorCode,
	})
}
