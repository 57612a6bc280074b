// Package usage records token usage for completed and partial requests.
// Recording is fire-and-forget: callers must never block on it, so the
// default Recorder hands records off to a buffered channel drained by a
// background worker.
package usage

import (
	"github.com/sirupsen/logrus"
)

// Record is one usage event, mirroring the fields the dispatch pipeline has
// on hand after a request completes or fails.
type Record struct {
	AccountID    string
	Model        string
	RequestModel string
	InputTokens  int64
	OutputTokens int64
	Streamed     bool
	Status       string // "success", "error", "partial"
	ErrorCode    string
}

// Recorder is the usage-recording collaborator the dispatch pipeline calls
// after every request, success or failure.
type Recorder interface {
	Record(r Record)
}

// queueCapacity bounds how many pending records the worker will buffer
// before Record starts dropping, trading durability for the spec's
// requirement that recording never blocks downstream event emission.
const queueCapacity = 1024

// LogRecorder is the default Recorder: it logs each record at info level
// through logrus, matching the teacher's structured-logging idiom, and
// never touches a database.
type LogRecorder struct {
	log   *logrus.Logger
	queue chan Record
}

// NewLogRecorder starts a LogRecorder with its background drain goroutine.
func NewLogRecorder(log *logrus.Logger) *LogRecorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &LogRecorder{
		log:   log,
		queue: make(chan Record, queueCapacity),
	}
	go r.run()
	return r
}

// Record enqueues r for asynchronous logging. If the queue is full the
// record is dropped and a warning is logged, rather than blocking the
// caller.
func (r *LogRecorder) Record(rec Record) {
	select {
	case r.queue <- rec:
	default:
		r.log.WithField("account_id", rec.AccountID).Warn("usage: queue full, dropping record")
	}
}

func (r *LogRecorder) run() {
	for rec := range r.queue {
		fields := logrus.Fields{
			"account_id":    rec.AccountID,
			"model":         rec.Model,
			"request_model": rec.RequestModel,
			"input_tokens":  rec.InputTokens,
			"output_tokens": rec.OutputTokens,
			"total_tokens":  rec.InputTokens + rec.OutputTokens,
			"streamed":      rec.Streamed,
			"status":        rec.Status,
		}
		if rec.ErrorCode != "" {
			fields["error_code"] = rec.ErrorCode
		}
		r.log.WithFields(fields).Info("usage recorded")
	}
}
