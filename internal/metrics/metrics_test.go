package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.TripSaved("gps")
		c.SyncOutcome("save", false)
		c.SampleRecorded(true)
		c.ObserveMerge(time.Millisecond, 3)
		c.NATSPublishedInc()
		c.NATSPublishErrInc()
		c.NATSSetConnected(true)
	})
}

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.TripSaved("manual")
	c.TripSaved("manual")
	c.SyncOutcome("delete", false)
	c.SyncOutcome("delete", true)
	c.SyncOutcome("delete", true)
	c.SampleRecorded(true)
	c.SampleRecorded(false)
	c.ObserveMerge(2*time.Millisecond, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.TripsSaved.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SyncOutcomes.WithLabelValues("delete", ResultFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SyncOutcomes.WithLabelValues("delete", ResultSynced)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SamplesRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SamplesJitter))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.HistorySize))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.TripSaved("gps")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `fare_trips_saved_total{kind="gps"} 1`))
}
