package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsIngested counts telemetry readings written, by kind
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_readings_ingested_total",
			Help: "Total number of telemetry readings ingested",
		},
		[]string{"kind"},
	)

	// IngestErrors counts malformed or unwritable telemetry messages
	IngestErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermoctl_ingest_errors_total",
			Help: "Total number of telemetry messages that failed to ingest",
		},
	)

	// ControlTicks counts control loop executions per zone and outcome
	ControlTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_control_ticks_total",
			Help: "Total number of control loop ticks",
		},
		[]string{"zone", "outcome"},
	)

	// TicksSkipped counts ticks dropped because the previous tick for the
	// zone was still running
	TicksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_control_ticks_skipped_total",
			Help: "Total number of control ticks skipped due to an in-flight tick",
		},
		[]string{"zone"},
	)

	// ControlActions counts audited control actions by type and success
	ControlActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_control_actions_total",
			Help: "Total number of control actions recorded",
		},
		[]string{"action_type", "success"},
	)

	// TickDuration observes end-to-end tick latency per zone
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thermoctl_tick_duration_seconds",
			Help:    "Control tick duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"zone"},
	)

	// ActiveAlerts tracks the number of unresolved alerts by severity
	ActiveAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_active_alerts",
			Help: "Number of currently active alerts",
		},
		[]string{"severity"},
	)

	// AnalysisRuns counts analysis passes by outcome
	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_analysis_runs_total",
			Help: "Total number of analysis passes",
		},
		[]string{"outcome"},
	)

	// AnomaliesDetected counts analysis passes that crossed the alert
	// confidence threshold
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"sensor"},
	)

	// AuditRetries counts audit write attempts beyond the first
	AuditRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermoctl_audit_retries_total",
			Help: "Total number of audit write retries",
		},
	)

	// RetentionDeleted counts rows removed by the retention sweeper
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_retention_rows_deleted_total",
			Help: "Total number of rows deleted by retention sweeps",
		},
		[]string{"table"},
	)
)
