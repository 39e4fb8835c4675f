// Package diagnostics carries structured events out of the story pipeline.
// The coordinator emits an Event at every transition; observers turn them
// into log records, Prometheus samples, or Kafka messages.
package diagnostics

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
)

// Kind names a diagnostic event.
type Kind string

const (
	KindStoriesSettled    Kind = "stories_settled"
	KindIngestFailed      Kind = "ingest_failed"
	KindRecordFetchFailed Kind = "record_fetch_failed"
	KindRefreshStarted    Kind = "refresh_started"
	KindRefreshRejected   Kind = "refresh_rejected"
	KindTriggerSucceeded  Kind = "trigger_succeeded"
	KindTriggerFailed     Kind = "trigger_failed"
	KindRefreshSuperseded Kind = "refresh_superseded"
	KindStoriesInjected   Kind = "stories_injected"
)

// Event is one diagnostic record. Refreshing reports whether the record had a
// refresh cycle in flight when the event was emitted.
type Event struct {
	Kind       Kind          `json:"kind"`
	RecordID   string        `json:"record_id"`
	CycleID    string        `json:"cycle_id,omitempty"`
	State      string        `json:"state"`
	Count      int           `json:"count"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Refreshing bool          `json:"refreshing"`
	At         time.Time     `json:"at"`
}

// WithError fills ErrorKind and Error from err.
func (e Event) WithError(err error) Event {
	if err == nil {
		return e
	}
	e.Error = err.Error()
	e.ErrorKind = ErrorKind(err)
	return e
}

// ErrorKind classifies err into the pipeline's error taxonomy.
func ErrorKind(err error) string {
	var (
		ingestErr  *winstory.IngestError
		triggerErr *winstory.TriggerError
		fetchErr   *winstory.RecordFetchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ingestErr):
		return ingestErr.Kind.String()
	case errors.As(err, &triggerErr):
		return "trigger_error"
	case errors.As(err, &fetchErr):
		return "record_fetch_error"
	default:
		return "internal"
	}
}

// Observer receives diagnostic events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Multi fans one event out to several observers.
type Multi []Observer

func (m Multi) Observe(e Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(e)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Observe(Event) {}

// LogObserver writes events to slog. Failures log at warn, everything else at
// debug except settlements which log at info.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With("component", "diagnostics")}
}

func (o *LogObserver) Observe(e Event) {
	attrs := []any{
		"kind", string(e.Kind),
		"record_id", e.RecordID,
		"state", e.State,
		"count", e.Count,
		"refreshing", e.Refreshing,
	}
	if e.CycleID != "" {
		attrs = append(attrs, "cycle_id", e.CycleID)
	}
	if e.Duration > 0 {
		attrs = append(attrs, "duration_ms", e.Duration.Milliseconds())
	}
	if e.Error != "" {
		attrs = append(attrs, "error_kind", e.ErrorKind, "error", e.Error)
	}

	switch e.Kind {
	case KindIngestFailed, KindRecordFetchFailed, KindTriggerFailed:
		o.logger.Warn("story pipeline failure", attrs...)
	case KindStoriesSettled, KindStoriesInjected:
		o.logger.Info("stories updated", attrs...)
	default:
		o.logger.Debug("story pipeline event", attrs...)
	}
}
