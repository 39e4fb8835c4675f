package diagnostics

import (
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/metrics"
)

// MetricsObserver maps diagnostic events onto Prometheus collectors.
type MetricsObserver struct {
	m *metrics.Metrics
}

func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) Observe(e Event) {
	if o == nil || o.m == nil {
		return
	}
	switch e.Kind {
	case KindStoriesSettled:
		o.m.NormalizeTotal.WithLabelValues("ok").Inc()
		o.m.StoriesPerPayload.Observe(float64(e.Count))
		if e.CycleID != "" {
			o.m.RefreshTotal.WithLabelValues("settled").Inc()
			o.m.RefreshesInFlight.Dec()
		}
	case KindIngestFailed:
		o.m.NormalizeTotal.WithLabelValues(e.ErrorKind).Inc()
		if e.CycleID != "" {
			o.m.RefreshTotal.WithLabelValues("ingest_failed").Inc()
			o.m.RefreshesInFlight.Dec()
		}
	case KindRecordFetchFailed:
		o.m.RecordFetchErrors.Inc()
		if e.CycleID != "" {
			o.m.RefreshTotal.WithLabelValues("fetch_failed").Inc()
			o.m.RefreshesInFlight.Dec()
		}
	case KindRefreshStarted:
		o.m.RefreshTotal.WithLabelValues("started").Inc()
		o.m.RefreshesInFlight.Inc()
	case KindRefreshRejected:
		o.m.RefreshTotal.WithLabelValues("rejected").Inc()
	case KindTriggerSucceeded:
		o.m.TriggerDuration.WithLabelValues("ok").Observe(e.Duration.Seconds())
	case KindTriggerFailed:
		o.m.TriggerDuration.WithLabelValues("error").Observe(e.Duration.Seconds())
		o.m.RefreshTotal.WithLabelValues("trigger_failed").Inc()
		o.m.RefreshesInFlight.Dec()
	}
}
