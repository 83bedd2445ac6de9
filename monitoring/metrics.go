package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	openQRSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_open_qr_sessions",
			Help: "Current number of open merchant QR sessions",
		},
	)

	qrOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_qr_operations_total",
			Help: "QR lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	cashoutSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cashout_steps_total",
			Help: "Cashout pipeline steps by outcome",
		},
		[]string{"step", "outcome"},
	)

	platformRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_platform_requests_total",
			Help: "Calls made to the platform REST API",
		},
		[]string{"method", "endpoint", "outcome"},
	)

	platformLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_platform_request_duration_seconds",
			Help:    "Latency of platform REST API calls",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10),
		},
		[]string{"method", "endpoint"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// Track QR lifecycle operations: generate, status, auto_update, expire, reset.
func TrackQROperation(operation, outcome string) {
	qrOperations.WithLabelValues(operation, outcome).Inc()
}

func TrackCashoutStep(step, outcome string) {
	cashoutSteps.WithLabelValues(step, outcome).Inc()
}

func TrackPlatformRequest(method, endpoint, outcome string, took time.Duration) {
	platformRequests.WithLabelValues(method, endpoint, outcome).Inc()
	platformLatency.WithLabelValues(method, endpoint).Observe(took.Seconds())
}

func TrackBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

type Monitor struct {
	redis    *redis.Client
	interval time.Duration
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	return &Monitor{redis: redisClient, interval: 30 * time.Second}
}

// Run collects gauge metrics until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectQRMetrics(ctx)
		}
	}
}

func (m *Monitor) collectQRMetrics(ctx context.Context) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, "qr:session:*", 200).Result()
		if err != nil {
			slog.Error("m.redis.Scan()", "error", err)
			return
		}
		total += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	openQRSessions.Set(float64(total))
}
