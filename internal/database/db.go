package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database.
// An unreachable database at startup is fatal for the process; the engine
// must not run control loops without its persistence contract.
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established")
	return nil
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	return AutoMigrateDB(DB)
}

// AutoMigrateDB runs migrations against an explicit database handle.
// Tests use this with an in-memory SQLite instance.
func AutoMigrateDB(db *gorm.DB) error {
	err := db.AutoMigrate(
		// Telemetry tables
		&TemperatureReading{},
		&FanReading{},
		&SensorReading{},
		// Control and audit tables
		&ControlAction{},
		&SystemEvent{},
		// Alerting
		&Alert{},
		// Configuration
		&Configuration{},
		// Analysis and observability
		&AnalysisResult{},
		&MonitoringMetric{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Default configuration keys seeded on first run. Values are JSON-encoded
// so booleans and structured zone parameters share one representation.
var defaultConfiguration = map[string]string{
	KeySystemInitialized:      "true",
	KeyMonitoringEnabled:      "true",
	KeyControlAutoEnabled:     "true",
	KeyAlertsEnabled:          "true",
	KeyAnalysisK:              "3",
	KeyAnalysisMinSamples:     "5",
	KeyAnalysisAlertThreshold: "0.8",
}

// InitializeDefaults seeds configuration rows that don't exist yet.
// Existing rows are never overwritten so operator edits survive restarts.
func InitializeDefaults(db *gorm.DB) error {
	log.Println("Initializing default configuration...")

	for key, value := range defaultConfiguration {
		var count int64
		db.Model(&Configuration{}).Where("key = ?", key).Count(&count)
		if count > 0 {
			continue
		}
		row := &Configuration{Key: key, Value: value}
		if err := db.Create(row).Error; err != nil {
			return fmt.Errorf("failed to seed configuration %s: %w", key, err)
		}
		log.Printf("Seeded configuration %s = %s", key, value)
	}

	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
