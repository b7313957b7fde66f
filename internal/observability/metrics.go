// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Login outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Token and session events.
const (
	EventIssued   = "issued"
	EventConsumed = "consumed"
	EventRejected = "rejected"
	EventCreated  = "created"
	EventRevoked  = "revoked"
	EventPurged   = "purged"
)

// Metrics holds the medidir collectors. A nil *Metrics records nothing.
type Metrics struct {
	LoginsTotal      *prometheus.CounterVec
	TokensTotal      *prometheus.CounterVec
	SessionsTotal    *prometheus.CounterVec
	MergesTotal      prometheus.Counter
	RequestsTotal    *prometheus.CounterVec
	RequestDurations *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates the medidir collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medidir_logins_total",
			Help: "Sign-in attempts by method and outcome",
		}, []string{"method", "outcome"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medidir_security_tokens_total",
			Help: "Single-use token events by kind",
		}, []string{"kind", "event"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medidir_sessions_total",
			Help: "Session lifecycle events",
		}, []string{"event"}),
		MergesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medidir_account_merges_total",
			Help: "Completed account merges",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medidir_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		}, []string{"route", "method", "status"}),
		RequestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medidir_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(m.LoginsTotal, m.TokensTotal, m.SessionsTotal, m.MergesTotal, m.RequestsTotal, m.RequestDurations)
	return m
}

// RecordLogin counts a sign-in attempt.
func (m *Metrics) RecordLogin(method string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	m.LoginsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordToken counts a token event.
func (m *Metrics) RecordToken(kind, event string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(kind, event).Inc()
}

// RecordTokensPurged counts n tokens removed by a sweep.
func (m *Metrics) RecordTokensPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensTotal.WithLabelValues("all", EventPurged).Add(float64(n))
}

// RecordSessions counts n session events.
func (m *Metrics) RecordSessions(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsTotal.WithLabelValues(event).Add(float64(n))
}

// RecordMerge counts a completed merge.
func (m *Metrics) RecordMerge() {
	if m == nil {
		return
	}
	m.MergesTotal.Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDurations.WithLabelValues(route).Observe(elapsed.Seconds())
}
