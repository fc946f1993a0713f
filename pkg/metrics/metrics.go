package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amoylab/oauthd/internal/common/config"
)

// Metrics owns a private prometheus registry with the HTTP and OAuth series
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	tokensIssued   *prometheus.CounterVec
	codeExchanges  *prometheus.CounterVec
	validations    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	revocations    *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
	cleanupDur     prometheus.Histogram
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:   r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		httpInfl:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),

		tokensIssued:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tokens_issued_total"}, []string{"client_id"}),
		codeExchanges:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "code_exchanges_total"}, []string{"result"}),
		validations:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "token_validations_total"}, []string{"result"}),
		rateLimited:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "rate_limited_total"}, []string{"bucket"}),
		revocations:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "token_revocations_total"}, []string{"scope"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "cleanup_deleted_total"}, []string{"kind"}),
		cleanupDur:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Name: "cleanup_duration_seconds", Buckets: buckets}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.tokensIssued, m.codeExchanges, m.validations, m.rateLimited, m.revocations, m.cleanupDeleted, m.cleanupDur)
	return m
}

// TokenIssued counts a freshly minted access token
func (m *Metrics) TokenIssued(clientID string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(clientID).Inc()
}

// CodeExchange counts an authorization code exchange by outcome (ok, invalid, reused)
func (m *Metrics) CodeExchange(result string) {
	if m == nil {
		return
	}
	m.codeExchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenValidation(valid bool) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) RateLimited(bucket string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(bucket).Inc()
}

// Revoked adds n revoked tokens under scope (token, user, client, user_client)
func (m *Metrics) Revoked(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(scope).Add(float64(n))
}

// CleanupDone records one cleanup run
func (m *Metrics) CleanupDone(tokens, codes int, since time.Time) {
	if m == nil {
		return
	}
	m.cleanupDeleted.WithLabelValues("token").Add(float64(tokens))
	m.cleanupDeleted.WithLabelValues("code").Add(float64(codes))
	m.cleanupDur.Observe(time.Since(since).Seconds())
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
