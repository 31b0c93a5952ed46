package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used by the auth and chat counters.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeLimited  = "rate_limited"
)

// Recorder is what request handlers report to. A nil-safe no-op is available via Nop.
type Recorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
	RecordAuthAttempt(method, outcome string)
	RecordAccountProvisioned(provider string)
	RecordChatRequest(outcome string)
}

// Collector exposes service counters and latency histograms to Prometheus.
type Collector struct {
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	authAttempts        *prometheus.CounterVec
	accountsProvisioned *prometheus.CounterVec
	chatRequests        *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quill_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_auth_attempts_total",
			Help: "Login and registration attempts, by method and outcome.",
		}, []string{"method", "outcome"}),
		accountsProvisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_accounts_provisioned_total",
			Help: "Accounts created on first provider login.",
		}, []string{"provider"}),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_chat_requests_total",
			Help: "Chat assistant requests, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.authAttempts,
		c.accountsProvisioned,
		c.chatRequests,
	)

	return c
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) RecordAuthAttempt(method, outcome string) {
	c.authAttempts.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordAccountProvisioned(provider string) {
	c.accountsProvisioned.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordChatRequest(outcome string) {
	c.chatRequests.WithLabelValues(outcome).Inc()
}

type nopRecorder struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder {
	return nopRecorder{}
}

func (nopRecorder) RecordHTTPRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordAuthAttempt(string, string)                     {}
func (nopRecorder) RecordAccountProvisioned(string)                      {}
func (nopRecorder) RecordChatRequest(string)                             {}

// Handler serves the gathered metrics in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
