// Package testhelpers provides reusable testing utilities for thermoctl.
//
// This package contains:
// - In-memory database setup
// - Sample data builders (readings, alerts, zones)
// - Fake actuator and notifier doubles
// - Assertion helpers
package testhelpers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thermoctl/thermoctl/internal/config"
	"github.com/thermoctl/thermoctl/internal/database"
)

// ========================================
// Database Helpers
// ========================================

// NewTestDB opens an in-memory SQLite database with all tables migrated
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.AutoMigrateDB(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// ========================================
// Sample Data Builders
// ========================================

// TemperatureReadingBuilder builds TemperatureReading rows for testing
type TemperatureReadingBuilder struct {
	reading database.TemperatureReading
}

// NewTemperatureReading creates a builder with sane defaults
func NewTemperatureReading() *TemperatureReadingBuilder {
	return &TemperatureReadingBuilder{
		reading: database.TemperatureReading{
			SourceID:  "sensor-1",
			Name:      "inlet",
			Value:     22.5,
			Unit:      "C",
			Location:  "rack-1",
			Status:    database.ReadingStatusOK,
			Timestamp: time.Now(),
		},
	}
}

// WithSource sets the source id
func (b *TemperatureReadingBuilder) WithSource(sourceID string) *TemperatureReadingBuilder {
	b.reading.SourceID = sourceID
	return b
}

// WithValue sets the temperature value
func (b *TemperatureReadingBuilder) WithValue(value float64) *TemperatureReadingBuilder {
	b.reading.Value = value
	return b
}

// WithTimestamp sets the sample timestamp
func (b *TemperatureReadingBuilder) WithTimestamp(ts time.Time) *TemperatureReadingBuilder {
	b.reading.Timestamp = ts
	return b
}

// Build returns the constructed reading
func (b *TemperatureReadingBuilder) Build() database.TemperatureReading {
	return b.reading
}

// TestZone returns a single-sensor, single-fan zone definition
func TestZone(id string) *config.Zone {
	return &config.Zone{
		ID:                     id,
		Name:                   "Test zone " + id,
		Sensors:                []string{"sensor-" + id},
		Fans:                   []string{"fan-" + id},
		ActuatorURL:            "http://controller.local",
		Setpoint:               60,
		Gain:                   2,
		BaseSpeed:              40,
		MinSpeed:               20,
		MaxSpeed:               100,
		Deadband:               2,
		StalenessWindowSeconds: 300,
	}
}

// TestZoneParams returns control parameters matching TestZone
func TestZoneParams() *database.ZoneParams {
	return &database.ZoneParams{
		Setpoint:               60,
		Gain:                   2,
		BaseSpeed:              40,
		MinSpeed:               20,
		MaxSpeed:               100,
		Deadband:               2,
		StalenessWindowSeconds: 300,
	}
}

// ========================================
// Fake Actuator
// ========================================

// FakeActuator records speed commands and optionally fails them
type FakeActuator struct {
	mu       sync.Mutex
	Commands []FakeCommand
	Err      error
}

// FakeCommand is one recorded SetSpeed call
type FakeCommand struct {
	Endpoint string
	FanID    string
	Speed    float64
}

// SetSpeed records the command and returns the configured error
func (a *FakeActuator) SetSpeed(ctx context.Context, endpoint, fanID string, speed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Commands = append(a.Commands, FakeCommand{Endpoint: endpoint, FanID: fanID, Speed: speed})
	return nil
}

// CommandCount returns the number of successful commands recorded
func (a *FakeActuator) CommandCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Commands)
}

// LastCommand returns the most recent command, or an error if none exist
func (a *FakeActuator) LastCommand() (FakeCommand, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Commands) == 0 {
		return FakeCommand{}, errors.New("no commands recorded")
	}
	return a.Commands[len(a.Commands)-1], nil
}

// ========================================
// Fake Notifier
// ========================================

// FakeNotifier records critical escalations
type FakeNotifier struct {
	mu    sync.Mutex
	Calls []string
}

// NotifyCritical records the escalation
func (n *FakeNotifier) NotifyCritical(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls = append(n.Calls, title+": "+message)
}

// CallCount returns the number of escalations recorded
func (n *FakeNotifier) CallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Calls)
}

// ========================================
// Assertion Helpers
// ========================================

// AssertEqual checks equality with a helpful error message
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertError checks that an error occurred
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}

// AssertNoError checks that no error occurred
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}

// MustCompleteWithin fails the test if the function takes longer than the timeout
func MustCompleteWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		t.Fatalf("function did not complete within %v", timeout)
	}
}
