package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coralbridge/msgbridge/internal/dispatch"
)

// Server holds the dispatch pipeline and exposes the gin routes.
type Server struct {
	Pipeline *dispatch.Pipeline
}

// NewServer wraps a dispatch pipeline.
func NewServer(p *dispatch.Pipeline) *Server {
	return &Server{Pipeline: p}
}

// Messages handles POST /v1/messages, translating and dispatching an
// Anthropic-shaped request to the configured OpenAI-compatible backend.
func (s *Server) Messages(c *gin.Context) {
	bodyBytes, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Message: "failed to read request body", Type: "invalid_request_error"},
		})
		return
	}
	c.Request.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))

	var raw map[string]any
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Message: "invalid JSON: " + err.Error(), Type: "invalid_request_error"},
		})
		return
	}

	streamRequested, _ := raw["stream"].(bool)
	metadata, _ := raw["metadata"].(map[string]any)

	var msg anthropic.MessageNewParams
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Message: "invalid request body: " + err.Error(), Type: "invalid_request_error"},
		})
		return
	}

	if string(msg.Model) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Message: "model is required", Type: "invalid_request_error"},
		})
		return
	}

	req := &dispatch.Request{
		APIKey:    apiKeyFromContext(c),
		RawAPIKey: rawAPIKeyFromContext(c),
		Model:     string(msg.Model),
		Stream:    streamRequested,
		Message:   &msg,
		Metadata:  metadata,
	}

	if streamRequested {
		s.handleStream(c, req)
		return
	}
	s.handleOnce(c, req)
}

func (s *Server) handleOnce(c *gin.Context, req *dispatch.Request) {
	resp, derr := s.Pipeline.Dispatch(c.Request.Context(), nil, req)
	if derr != nil {
		writeDispatchError(c, derr)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStream(c *gin.Context, req *dispatch.Request) {
	writer, ok := newSSEWriter(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{Message: "streaming not supported by this connection", Type: "api_error"},
		})
		return
	}

	_, derr := s.Pipeline.Dispatch(c.Request.Context(), writer, req)
	if derr != nil {
		logrus.WithError(derr).Warn("httpapi: stream dispatch failed")
		if !writer.Started() {
			// Nothing has reached the wire yet: gate, model restriction, or
			// account selection rejected the request before the upstream
			// stream ever opened, so the mapped-status JSON envelope still
			// applies instead of an SSE error event.
			writeDispatchError(c, derr)
			return
		}
		writer.WriteEvent("error", map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    derr.ErrorType(),
				"message": derr.Message,
			},
		})
		writer.Flush()
	}
}

func writeDispatchError(c *gin.Context, derr *dispatch.Error) {
	if (derr.Kind == dispatch.KindUpstreamStatus || derr.Kind == dispatch.KindRateLimited) && json.Valid(derr.Body) {
		c.Data(derr.HTTPStatus(), "application/json; charset=utf-8", derr.Body)
		return
	}
	c.JSON(derr.HTTPStatus(), ErrorResponse{
		Error: ErrorDetail{
			Message: derr.Message,
			Type:    derr.ErrorType(),
		},
	})
}
