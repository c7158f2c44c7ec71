package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wifiprovd"

// States reported by the state gauge, in display order.
var States = []string{"idle", "connecting_sta", "connected", "ap_fallback"}

// Prometheus implements Collector on a private registry.
type Prometheus struct {
	reg         *prom.Registry
	state       *prom.GaugeVec
	retry       prom.Gauge
	transitions *prom.CounterVec
	attempts    prom.Counter
	scans       *prom.CounterVec
	dnsQueries  prom.Counter
	dnsDropped  prom.Counter
	dnsSendErrs prom.Counter
	submits     *prom.CounterVec
}

// NewPrometheus registers the daemon metrics, plus Go runtime and process
// collectors, on reg. A nil reg gets a fresh registry.
func NewPrometheus(reg *prom.Registry) *Prometheus {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	p := &Prometheus{
		reg: reg,
		state: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		retry: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_retry",
			Help:      "Retry counter of the current station join",
		}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state",
		}, []string{"to"}),
		attempts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Station join cycles started",
		}),
		scans: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan requests by outcome",
		}, []string{"outcome"}),
		dnsQueries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dns_queries_total",
			Help:      "DNS queries answered",
		}),
		dnsDropped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dns_dropped_total",
			Help:      "Malformed DNS packets dropped",
		}),
		dnsSendErrs: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dns_send_errors_total",
			Help:      "DNS responses that could not be sent",
		}),
		submits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "credential_submits_total",
			Help:      "Credential submissions by result",
		}, []string{"result"}),
	}

	reg.MustRegister(p.state, p.retry, p.transitions, p.attempts, p.scans,
		p.dnsQueries, p.dnsDropped, p.dnsSendErrs, p.submits)
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))

	for _, s := range States {
		p.state.WithLabelValues(s).Set(0)
	}
	p.state.WithLabelValues(States[0]).Set(1)

	return p
}

func (p *Prometheus) StateChanged(from, to string, retry int) {
	if from != to {
		p.state.WithLabelValues(from).Set(0)
		p.state.WithLabelValues(to).Set(1)
	}
	p.retry.Set(float64(retry))
	p.transitions.WithLabelValues(to).Inc()
}

func (p *Prometheus) ConnectAttempt() {
	p.attempts.Inc()
}

func (p *Prometheus) ScanFinished(outcome string) {
	p.scans.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) DNSQuery() {
	p.dnsQueries.Inc()
}

func (p *Prometheus) DNSDropped() {
	p.dnsDropped.Inc()
}

func (p *Prometheus) DNSSendFailed() {
	p.dnsSendErrs.Inc()
}

func (p *Prometheus) CredentialsSubmitted(result string) {
	p.submits.WithLabelValues(result).Inc()
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for gathering in tests.
func (p *Prometheus) Registry() *prom.Registry {
	return p.reg
}
