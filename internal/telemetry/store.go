package telemetry

import (
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/database"
)

// Store provides typed, append-only access to the telemetry tables.
// Readings are immutable once written; there is no update path.
type Store struct {
	db *gorm.DB
}

// NewStore creates a telemetry store over the given database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AddTemperature appends one temperature reading
func (s *Store) AddTemperature(r *database.TemperatureReading) error {
	return s.db.Create(r).Error
}

// AddFan appends one fan reading
func (s *Store) AddFan(r *database.FanReading) error {
	return s.db.Create(r).Error
}

// AddSensor appends one generic sensor reading
func (s *Store) AddSensor(r *database.SensorReading) error {
	return s.db.Create(r).Error
}

// LatestTemperature returns the newest temperature reading for a source
func (s *Store) LatestTemperature(sourceID string) (*database.TemperatureReading, error) {
	var r database.TemperatureReading
	err := s.db.Where("source_id = ?", sourceID).
		Order("timestamp desc").First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestFan returns the newest fan reading for a source
func (s *Store) LatestFan(sourceID string) (*database.FanReading, error) {
	var r database.FanReading
	err := s.db.Where("source_id = ?", sourceID).
		Order("timestamp desc").First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TemperaturesSince returns temperature readings for a source newer than
// the cutoff, oldest first.
func (s *Store) TemperaturesSince(sourceID string, cutoff time.Time) ([]database.TemperatureReading, error) {
	var readings []database.TemperatureReading
	err := s.db.Where("source_id = ? AND timestamp >= ?", sourceID, cutoff).
		Order("timestamp asc").Find(&readings).Error
	if err != nil {
		return nil, err
	}
	return readings, nil
}

// WindowStats holds rolling-window statistics for one source. The field
// set matches the 24h statistics view consumers read.
type WindowStats struct {
	SourceID string    `json:"source_id"`
	Count    int       `json:"count"`
	Mean     float64   `json:"mean"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	StdDev   float64   `json:"std_dev"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// TemperatureStats computes count/mean/min/max/stddev over the trailing
// window ending at now.
func (s *Store) TemperatureStats(sourceID string, window time.Duration, now time.Time) (*WindowStats, error) {
	readings, err := s.TemperaturesSince(sourceID, now.Add(-window))
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	stats := computeStats(values)
	stats.SourceID = sourceID
	stats.From = now.Add(-window)
	stats.To = now
	return stats, nil
}

// FanStats computes the same statistics over fan readings
func (s *Store) FanStats(sourceID string, window time.Duration, now time.Time) (*WindowStats, error) {
	var readings []database.FanReading
	err := s.db.Where("source_id = ? AND timestamp >= ?", sourceID, now.Add(-window)).
		Order("timestamp asc").Find(&readings).Error
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	stats := computeStats(values)
	stats.SourceID = sourceID
	stats.From = now.Add(-window)
	stats.To = now
	return stats, nil
}

// computeStats returns population statistics over values. Empty input
// yields a zero-count result, not an error; callers decide policy.
func computeStats(values []float64) *WindowStats {
	stats := &WindowStats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}

	sum := 0.0
	stats.Min = values[0]
	stats.Max = values[0]
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - stats.Mean
		variance += d * d
	}
	variance /= float64(len(values))
	stats.StdDev = math.Sqrt(variance)

	return stats
}
