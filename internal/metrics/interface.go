// Package metrics exposes daemon counters in the Prometheus text format.
package metrics

import "net/http"

// Collector receives observations from the provisioning components.
type Collector interface {
	StateChanged(from, to string, retry int)
	ConnectAttempt()
	ScanFinished(outcome string)
	DNSQuery()
	DNSDropped()
	DNSSendFailed()
	CredentialsSubmitted(result string)
	Handler() http.Handler
}

// Result labels for CredentialsSubmitted.
const (
	SubmitSaved    = "saved"
	SubmitRejected = "rejected"
	SubmitFailed   = "failed"
)

// No-op implementation
type noopCollector struct{}

func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) StateChanged(string, string, int) {}
func (noopCollector) ConnectAttempt()                  {}
func (noopCollector) ScanFinished(string)              {}
func (noopCollector) DNSQuery()                        {}
func (noopCollector) DNSDropped()                      {}
func (noopCollector) DNSSendFailed()                   {}
func (noopCollector) CredentialsSubmitted(string)      {}

func (noopCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}
