package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "progression_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "progression_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	xpDeposits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "ledger",
			Name:      "xp_deposits_total",
			Help:      "Total number of XP deposit attempts.",
		},
		[]string{"status"},
	)

	xpDepositDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "progression_engine",
			Subsystem: "ledger",
			Name:      "xp_deposit_duration_seconds",
			Help:      "Duration of XP deposit transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"status"},
	)

	xpGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "ledger",
			Name:      "xp_granted_total",
			Help:      "Total XP credited across all users.",
		},
	)

	levelUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "ledger",
			Name:      "level_ups_total",
			Help:      "Total number of level-up events.",
		},
		[]string{"to_level"},
	)

	rewardCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "ledger",
			Name:      "reward_credits_total",
			Help:      "Total number of credited reward ledger entries.",
		},
		[]string{"currency_kind"},
	)

	rewardAmounts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "ledger",
			Name:      "reward_amount_total",
			Help:      "Total credited reward amounts per currency kind.",
		},
		[]string{"currency_kind"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "notify",
			Name:      "emits_total",
			Help:      "Total number of level-up notification attempts.",
		},
		[]string{"sink", "status"},
	)

	settingsReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_engine",
			Subsystem: "levels",
			Name:      "settings_reloads_total",
			Help:      "Total number of level settings reload attempts.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		xpDeposits,
		xpDepositDuration,
		xpGranted,
		levelUps,
		rewardCredits,
		rewardAmounts,
		notifications,
		settingsReloads,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordXpDeposit records the outcome and latency of one XP deposit attempt.
func RecordXpDeposit(status string, amount int64, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	xpDeposits.WithLabelValues(status).Inc()
	xpDepositDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "applied" && amount > 0 {
		xpGranted.Add(float64(amount))
	}
}

// RecordLevelUp records one level-up event.
func RecordLevelUp(toLevel int) {
	levelUps.WithLabelValues(strconv.Itoa(toLevel)).Inc()
}

// RecordRewardCredit records one credited reward ledger entry.
func RecordRewardCredit(currencyKind string, amount int64) {
	if currencyKind == "" {
		currencyKind = "unknown"
	}
	rewardCredits.WithLabelValues(currencyKind).Inc()
	if amount > 0 {
		rewardAmounts.WithLabelValues(currencyKind).Add(float64(amount))
	}
}

// RecordNotification records a notification emit attempt per sink.
func RecordNotification(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	notifications.WithLabelValues(sink, status).Inc()
}

// RecordSettingsReload records a level settings reload attempt.
func RecordSettingsReload(success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	settingsReloads.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/v1"
	}
	if parts[1] != "profiles" {
		return "/v1/" + parts[1]
	}
	if len(parts) == 2 {
		return "/v1/profiles"
	}
	if len(parts) == 3 {
		return "/v1/profiles/:user"
	}
	return "/v1/profiles/:user/" + parts[3]
}
