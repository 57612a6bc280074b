package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// sseWriter adapts a *gin.Context to translator.EventWriter plus the Flush
// method the dispatch pipeline needs, writing named SSE events the way the
// teacher's streaming handlers do.
//
// SSE response headers are committed lazily, on the first WriteEvent call,
// rather than at construction. Dispatch runs the permission gate, model
// restriction, and account selection steps before it ever touches the
// writer; if one of those rejects the request, the response must still go
// out as a JSON error envelope with the mapped status, which requires that
// no header or status code has been committed yet.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

// newSSEWriter returns a writer, or false if the underlying connection does
// not support flushing. No response header is written yet.
func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{c: c, flusher: flusher}, true
}

func (w *sseWriter) WriteEvent(eventType string, data map[string]any) {
	if !w.started {
		w.c.Header("Content-Type", "text/event-stream")
		w.c.Header("Cache-Control", "no-cache")
		w.c.Header("Connection", "keep-alive")
		w.c.Header("X-Accel-Buffering", "no")
		w.started = true
	}

	payload, err := json.Marshal(data)
	if err != nil {
		logrus.WithError(err).Warn("httpapi: failed to marshal sse event")
		return
	}
	fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", eventType, payload)
}

func (w *sseWriter) Flush() {
	w.flusher.Flush()
}

// Started reports whether any SSE bytes have been written yet, i.e. whether
// response headers and status have already been committed.
func (w *sseWriter) Started() bool {
	return w.started
}
