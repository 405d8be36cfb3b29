package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync result labels.
const (
	ResultSynced = "synced"
	ResultFailed = "failed"
)

// Collector holds the fare service's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	TripsSaved      *prometheus.CounterVec // kind label: gps|manual
	SyncOutcomes    *prometheus.CounterVec // op, result labels
	SamplesRecorded prometheus.Counter
	SamplesJitter   prometheus.Counter
	HistorySize     prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	MergeDuration prometheus.Histogram
}

// NewCollector creates a collector on its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fare_trips_saved_total",
			Help: "Trips saved to the local history.",
		}, []string{"kind"}),
		SyncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fare_sync_outcomes_total",
			Help: "Remote store sync attempts by operation and result.",
		}, []string{"op", "result"}),
		SamplesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fare_location_samples_total",
			Help: "Location samples appended to a tracking route.",
		}),
		SamplesJitter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fare_location_samples_jitter_total",
			Help: "Samples whose movement was below the noise threshold.",
		}),
		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fare_history_trips",
			Help: "Trips in the last merged history listing.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fare_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fare_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fare_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fare_history_merge_duration_seconds",
			Help:    "Duration of a merged history listing including remote fetch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.TripsSaved, c.SyncOutcomes,
		c.SamplesRecorded, c.SamplesJitter, c.HistorySize,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.MergeDuration,
	)

	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) TripSaved(kind string) {
	if c == nil {
		return
	}
	c.TripsSaved.WithLabelValues(kind).Inc()
}

func (c *Collector) SyncOutcome(op string, synced bool) {
	if c == nil {
		return
	}
	result := ResultSynced
	if !synced {
		result = ResultFailed
	}
	c.SyncOutcomes.WithLabelValues(op, result).Inc()
}

func (c *Collector) SampleRecorded(counted bool) {
	if c == nil {
		return
	}
	c.SamplesRecorded.Inc()
	if !counted {
		c.SamplesJitter.Inc()
	}
}

func (c *Collector) ObserveMerge(d time.Duration, size int) {
	if c == nil {
		return
	}
	c.MergeDuration.Observe(d.Seconds())
	c.HistorySize.Set(float64(size))
}

func (c *Collector) NATSPublishedInc() {
	if c == nil {
		return
	}
	c.NATSPublished.Inc()
}

func (c *Collector) NATSPublishErrInc() {
	if c == nil {
		return
	}
	c.NATSPublishErrs.Inc()
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
