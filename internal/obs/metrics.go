package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the process-wide Prometheus gauges/counters/histograms
// for the run engine, process pool, scheduler, and trigger engine.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	PoolWorkersIdle    *prometheus.GaugeVec
	PoolWorkersBusy    *prometheus.GaugeVec
	SchedulerTickSecs  prometheus.Histogram
	ScheduleSkips      *prometheus.CounterVec
	TriggerInvocations *prometheus.CounterVec
	WorkItemsByState   *prometheus.GaugeVec
}

// NewMetrics registers all collectors against a dedicated registry so
// tests and multiple server instances in-process never collide on the
// default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "action_server_runs_total",
			Help: "Total number of action runs, by terminal status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "action_server_run_duration_seconds",
			Help:    "Run wall-clock duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		PoolWorkersIdle: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "action_server_pool_workers_idle",
			Help: "Idle worker processes per action package.",
		}, []string{"package"}),
		PoolWorkersBusy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "action_server_pool_workers_busy",
			Help: "Leased worker processes per action package.",
		}, []string{"package"}),
		SchedulerTickSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "action_server_scheduler_tick_seconds",
			Help:    "Duration of one scheduler admission tick.",
			Buckets: prometheus.DefBuckets,
		}),
		ScheduleSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "action_server_schedule_skips_total",
			Help: "Schedule admission skips, by reason.",
		}, []string{"reason"}),
		TriggerInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "action_server_trigger_invocations_total",
			Help: "Webhook trigger invocations, by outcome status.",
		}, []string{"status"}),
		WorkItemsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "action_server_work_items",
			Help: "Work items per queue, by state.",
		}, []string{"queue", "state"}),
	}
}

// Handler returns the HTTP handler for GET /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
