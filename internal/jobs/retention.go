package jobs

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/metrics"
)

// RetentionWindows holds the per-table retention durations
type RetentionWindows struct {
	Readings          time.Duration
	ControlActions    time.Duration
	ResolvedAlerts    time.Duration
	MonitoringMetrics time.Duration
	AnalysisResults   time.Duration
	SystemEvents      time.Duration
}

// DefaultRetentionWindows returns the standard retention policy
func DefaultRetentionWindows() RetentionWindows {
	return RetentionWindows{
		Readings:          30 * 24 * time.Hour,
		ControlActions:    90 * 24 * time.Hour,
		ResolvedAlerts:    90 * 24 * time.Hour,
		MonitoringMetrics: 7 * 24 * time.Hour,
		AnalysisResults:   30 * 24 * time.Hour,
		SystemEvents:      90 * 24 * time.Hour,
	}
}

// RetentionSweeper periodically deletes rows past their table's retention
// window. Alerts are only eligible once resolved, and only by resolved_at;
// active and acknowledged alerts are never deleted regardless of age.
type RetentionSweeper struct {
	db      *gorm.DB
	windows RetentionWindows
}

// NewRetentionSweeper creates a sweeper with the given policy
func NewRetentionSweeper(db *gorm.DB, windows RetentionWindows) *RetentionSweeper {
	return &RetentionSweeper{db: db, windows: windows}
}

// Sweep runs one deletion pass over every table, returning the total
// number of rows removed.
func (s *RetentionSweeper) Sweep(now time.Time) (int64, error) {
	total := int64(0)

	steps := []struct {
		table  string
		delete func() *gorm.DB
	}{
		{"temperature_readings", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.Readings)).Delete(&database.TemperatureReading{})
		}},
		{"fan_readings", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.Readings)).Delete(&database.FanReading{})
		}},
		{"sensor_readings", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.Readings)).Delete(&database.SensorReading{})
		}},
		{"control_actions", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.ControlActions)).Delete(&database.ControlAction{})
		}},
		{"alerts", func() *gorm.DB {
			return s.db.Where("status = ? AND resolved_at < ?",
				database.AlertStatusResolved, now.Add(-s.windows.ResolvedAlerts)).Delete(&database.Alert{})
		}},
		{"monitoring_metrics", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.MonitoringMetrics)).Delete(&database.MonitoringMetric{})
		}},
		{"analysis_results", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.AnalysisResults)).Delete(&database.AnalysisResult{})
		}},
		{"system_events", func() *gorm.DB {
			return s.db.Where("timestamp < ?", now.Add(-s.windows.SystemEvents)).Delete(&database.SystemEvent{})
		}},
	}

	for _, step := range steps {
		result := step.delete()
		if result.Error != nil {
			return total, result.Error
		}
		if result.RowsAffected > 0 {
			metrics.RetentionDeleted.WithLabelValues(step.table).Add(float64(result.RowsAffected))
			log.Printf("Retention: deleted %d rows from %s", result.RowsAffected, step.table)
		}
		total += result.RowsAffected
	}

	return total, nil
}

// Start begins the periodic sweep loop
func (s *RetentionSweeper) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := s.Sweep(time.Now())
			if err != nil {
				log.Printf("Retention sweep error: %v", err)
			} else if deleted > 0 {
				log.Printf("Retention sweep removed %d rows", deleted)
			}
		case <-stop:
			log.Println("Retention sweeper stopped")
			return
		}
	}
}
