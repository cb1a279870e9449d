package analysis

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/alerts"
	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/metrics"
	"github.com/thermoctl/thermoctl/internal/telemetry"
)

// AnalysisTypeAnomaly is the analysis_type recorded for z-band passes
const AnalysisTypeAnomaly = "rolling_zscore"

// AlertTypeAnomaly is the alert key raised when confidence crosses the
// configured threshold
const AlertTypeAnomaly = "anomaly"

// Defaults used when the configuration store has no override
const (
	DefaultWindow         = 24 * time.Hour
	DefaultK              = 3.0
	DefaultMinSamples     = 5
	DefaultAlertThreshold = 0.8
)

// Engine runs rolling-window statistics per sensor and flags anomalies.
// It is the only producer of AnalysisResult rows and of anomaly signals
// into the alert state machine.
type Engine struct {
	db     *gorm.DB
	store  *telemetry.Store
	config *database.ConfigStore
	alerts *alerts.Machine
}

// NewEngine creates an analysis engine
func NewEngine(db *gorm.DB, store *telemetry.Store, config *database.ConfigStore, machine *alerts.Machine) *Engine {
	return &Engine{db: db, store: store, config: config, alerts: machine}
}

// Outcome describes one analysis pass
type Outcome struct {
	Result     *database.AnalysisResult
	Stats      *telemetry.WindowStats
	Confidence float64
	Alerted    bool
}

// Analyze computes trailing-window statistics for one temperature sensor,
// records an AnalysisResult, and raises or auto-resolves the sensor's
// anomaly alert depending on the confidence score.
//
// Confidence is the latest reading's distance from the window mean as a
// fraction of the k*stddev band, clamped to [0,1]. Fewer than the minimum
// sample count yields confidence 0 and never raises an alert.
func (e *Engine) Analyze(sensorID string, window time.Duration) (*Outcome, error) {
	now := time.Now()
	stats, err := e.store.TemperatureStats(sensorID, window, now)
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	latest, err := e.store.LatestTemperature(sensorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AnalysisRuns.WithLabelValues("no_data").Inc()
		return nil, fmt.Errorf("sensor %s has no readings", sensorID)
	}
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	k := e.config.GetFloat(database.KeyAnalysisK, DefaultK)
	minSamples := e.config.GetInt(database.KeyAnalysisMinSamples, DefaultMinSamples)
	threshold := e.config.GetFloat(database.KeyAnalysisAlertThreshold, DefaultAlertThreshold)

	confidence := 0.0
	sufficient := stats.Count >= minSamples
	if sufficient {
		confidence = anomalyConfidence(latest.Value, stats.Mean, stats.StdDev, k)
	}

	result := &database.AnalysisResult{
		AnalysisType: AnalysisTypeAnomaly,
		TargetID:     sensorID,
		TargetType:   "temperature_sensor",
		Confidence:   confidence,
		Result: database.JSONB{
			"count":   stats.Count,
			"mean":    stats.Mean,
			"min":     stats.Min,
			"max":     stats.Max,
			"std_dev": stats.StdDev,
			"latest":  latest.Value,
		},
		Metadata: database.JSONB{
			"k":           k,
			"min_samples": minSamples,
			"window_sec":  window.Seconds(),
			"sufficient":  sufficient,
		},
		Timestamp: now,
	}
	if err := e.db.Create(result).Error; err != nil {
		metrics.AnalysisRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to record analysis result: %w", err)
	}

	outcome := &Outcome{Result: result, Stats: stats, Confidence: confidence}

	if !sufficient {
		metrics.AnalysisRuns.WithLabelValues("insufficient_data").Inc()
		return outcome, nil
	}

	if confidence > threshold {
		metrics.AnomaliesDetected.WithLabelValues(sensorID).Inc()
		severity := database.AlertSeverityWarning
		if confidence >= 0.95 {
			severity = database.AlertSeverityCritical
		}
		message := fmt.Sprintf("sensor %s reading %.2f deviates from 24h mean %.2f (stddev %.2f, confidence %.2f)",
			sensorID, latest.Value, stats.Mean, stats.StdDev, confidence)
		_, err := e.alerts.Raise(AlertTypeAnomaly, sensorID, severity,
			"Sensor anomaly detected", message,
			database.JSONB{"confidence": confidence, "latest": latest.Value, "mean": stats.Mean})
		if err != nil {
			return outcome, err
		}
		outcome.Alerted = true
		metrics.AnalysisRuns.WithLabelValues("anomaly").Inc()
		return outcome, nil
	}

	// Signal cleared: retire any active anomaly alert for this sensor
	if _, err := e.alerts.AutoResolve(AlertTypeAnomaly, sensorID); err != nil {
		log.Printf("Auto-resolve for sensor %s failed: %v", sensorID, err)
	}
	metrics.AnalysisRuns.WithLabelValues("normal").Inc()
	return outcome, nil
}

// anomalyConfidence maps the latest value's deviation to [0,1]: 0 at the
// window mean, 1 at or beyond the mean +/- k*stddev band edge. A zero
// stddev window scores 0 when the value sits on the mean and 1 otherwise.
func anomalyConfidence(value, mean, stddev, k float64) float64 {
	distance := math.Abs(value - mean)
	band := k * stddev
	if band == 0 {
		if distance == 0 {
			return 0
		}
		return 1
	}
	confidence := distance / band
	if confidence > 1 {
		return 1
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// Runner periodically analyzes a fixed set of sensors
type Runner struct {
	engine  *Engine
	sensors []string
	window  time.Duration
}

// NewRunner creates a periodic analysis runner over the given sensors
func NewRunner(engine *Engine, sensors []string, window time.Duration) *Runner {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Runner{engine: engine, sensors: sensors, window: window}
}

// RunOnce analyzes every sensor, returning the number of anomalies found
func (r *Runner) RunOnce() int {
	anomalies := 0
	for _, sensorID := range r.sensors {
		outcome, err := r.engine.Analyze(sensorID, r.window)
		if err != nil {
			log.Printf("Analysis for sensor %s failed: %v", sensorID, err)
			continue
		}
		if outcome.Alerted {
			anomalies++
		}
	}
	return anomalies
}

// Start begins the periodic analysis loop
func (r *Runner) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if anomalies := r.RunOnce(); anomalies > 0 {
				log.Printf("Analysis pass flagged %d anomalies", anomalies)
			}
		case <-stop:
			log.Println("Analysis runner stopped")
			return
		}
	}
}
