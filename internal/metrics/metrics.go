package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
)

// Metrics holds all Prometheus metrics for the fleet
type Metrics struct {
	// API metrics
	APICalls        *prometheus.CounterVec
	APICallDuration *prometheus.HistogramVec
	Retries         *prometheus.CounterVec
	SleepSeconds    *prometheus.HistogramVec

	// Account metrics
	AccountEvents *prometheus.CounterVec
	PoolAccounts  *prometheus.GaugeVec
	PoolWaiters   prometheus.Gauge
	PoolExhausted prometheus.Counter

	// Worker metrics
	ActiveWorkers prometheus.Gauge
	WorkUnits     *prometheus.CounterVec
	Abandoned     *prometheus.CounterVec
}

// NewMetrics registers every metric on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		APICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pogo_api_calls_total",
				Help: "Game API calls by action and result",
			},
			[]string{"action", "result"},
		),
		APICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pogo_api_call_duration_seconds",
				Help:    "Latency of game API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"action"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pogo_pipeline_retries_total",
				Help: "Retries by action and reason",
			},
			[]string{"action", "reason"},
		),
		SleepSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pogo_pipeline_sleep_seconds",
				Help:    "Time spent waiting in the pipeline by kind",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 3600},
			},
			[]string{"kind"},
		),

		AccountEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pogo_account_events_total",
				Help: "Account lifecycle events by type",
			},
			[]string{"type"},
		),
		PoolAccounts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pogo_pool_accounts",
				Help: "Accounts in the pool by state",
			},
			[]string{"state"},
		),
		PoolWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pogo_pool_waiters",
			Help: "Callers blocked waiting for an account",
		}),
		PoolExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pogo_pool_exhausted_total",
			Help: "Allocations that ran out of accounts",
		}),

		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pogo_active_workers",
			Help: "Workers currently running",
		}),
		WorkUnits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pogo_work_units_total",
				Help: "Work units by outcome",
			},
			[]string{"result"},
		),
		Abandoned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pogo_actions_abandoned_total",
				Help: "Actions abandoned after the backoff schedule ran out",
			},
			[]string{"action"},
		),
	}
}

// ErrorResult buckets a call outcome for the result label
func ErrorResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gameapi.ErrServerThrottled):
		return "throttled"
	case errors.Is(err, gameapi.ErrHashingQuotaExceeded), gameapi.IsHashingFailure(err):
		return "hashing"
	case gameapi.IsSilentRetryable(err):
		return "transient"
	case errors.Is(err, gameapi.ErrBadCredentials):
		return "credentials"
	case gameapi.IsAccountHealth(err):
		return "account"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// ObserveCall implements pipeline.Observer
func (m *Metrics) ObserveCall(action gameapi.Action, err error, duration time.Duration) {
	m.APICalls.WithLabelValues(string(action), ErrorResult(err)).Inc()
	m.APICallDuration.WithLabelValues(string(action)).Observe(duration.Seconds())
}

// ObserveSleep implements pipeline.Observer
func (m *Metrics) ObserveSleep(kind string, d time.Duration) {
	m.SleepSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRetry implements pipeline.Observer
func (m *Metrics) ObserveRetry(action gameapi.Action, reason string) {
	m.Retries.WithLabelValues(string(action), reason).Inc()
}

// UpdatePool sets the pool gauges from a stats snapshot
func (m *Metrics) UpdatePool(stats accountpool.PoolStats) {
	m.PoolAccounts.WithLabelValues("total").Set(float64(stats.Total))
	m.PoolAccounts.WithLabelValues("allocated").Set(float64(stats.Allocated))
	m.PoolAccounts.WithLabelValues("available").Set(float64(stats.Available))
	m.PoolAccounts.WithLabelValues("resting").Set(float64(stats.Resting))
	m.PoolAccounts.WithLabelValues("temp_banned").Set(float64(stats.TempBanned))
	m.PoolAccounts.WithLabelValues("perm_banned").Set(float64(stats.PermBanned))
	m.PoolAccounts.WithLabelValues("blinded").Set(float64(stats.Blinded))
	m.PoolAccounts.WithLabelValues("warned").Set(float64(stats.Warned))
	m.PoolWaiters.Set(float64(stats.Waiters))
}

// StatsSource reports pool statistics
type StatsSource interface {
	Stats() accountpool.PoolStats
}

// WatchPool refreshes the pool gauges every interval until ctx is done
func (m *Metrics) WatchPool(ctx context.Context, pool StatsSource, interval time.Duration) {
	m.UpdatePool(pool.Stats())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdatePool(pool.Stats())
		}
	}
}

// Subscribe feeds lifecycle events from bus into the counters
func (m *Metrics) Subscribe(bus events.EventBus) events.SubscriptionID {
	return bus.Subscribe(events.EventTypeAll, m.handleEvent)
}

func (m *Metrics) handleEvent(event events.Event) {
	switch {
	case strings.HasPrefix(string(event.Type), "account."):
		m.AccountEvents.WithLabelValues(string(event.Type)).Inc()
	case event.Type == events.EventTypePoolExhausted:
		m.PoolExhausted.Inc()
	case event.Type == events.EventTypeWorkerStarted:
		m.ActiveWorkers.Inc()
	case event.Type == events.EventTypeWorkerStopped:
		m.ActiveWorkers.Dec()
	case event.Type == events.EventTypeUnitCompleted:
		m.WorkUnits.WithLabelValues("completed").Inc()
	case event.Type == events.EventTypeUnitAbandoned:
		m.WorkUnits.WithLabelValues("abandoned").Inc()
	case event.Type == events.EventTypeActionAbandoned:
		action, _ := event.Data["action"].(string)
		m.Abandoned.WithLabelValues(action).Inc()
	}
}
