package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusStateGauge(t *testing.T) {
	p := NewPrometheus(prom.NewRegistry())

	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("idle")))

	p.StateChanged("idle", "connecting_sta", 0)
	p.StateChanged("connecting_sta", "connecting_sta", 1)
	p.StateChanged("connecting_sta", "connecting_sta", 2)

	assert.Equal(t, 0.0, testutil.ToFloat64(p.state.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("connecting_sta")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.retry))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.transitions.WithLabelValues("connecting_sta")))

	p.StateChanged("connecting_sta", "ap_fallback", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.state.WithLabelValues("connecting_sta")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("ap_fallback")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.retry))
}

func TestPrometheusCounters(t *testing.T) {
	p := NewPrometheus(nil)

	p.ConnectAttempt()
	p.ScanFinished("fresh")
	p.ScanFinished("fresh")
	p.ScanFinished("in_progress")
	p.DNSQuery()
	p.DNSDropped()
	p.DNSSendFailed()
	p.CredentialsSubmitted(SubmitSaved)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.attempts))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.scans.WithLabelValues("fresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.scans.WithLabelValues("in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.dnsQueries))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.submits.WithLabelValues(SubmitSaved)))

	mfs, err := p.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus(nil)
	p.DNSQuery()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "wifiprovd_dns_queries_total 1")
}

func TestNoopCollector(t *testing.T) {
	c := Noop()
	c.StateChanged("idle", "connected", 0)
	c.DNSQuery()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
