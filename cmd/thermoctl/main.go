package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm/logger"

	"github.com/thermoctl/thermoctl/internal/alerts"
	"github.com/thermoctl/thermoctl/internal/analysis"
	"github.com/thermoctl/thermoctl/internal/audit"
	"github.com/thermoctl/thermoctl/internal/config"
	"github.com/thermoctl/thermoctl/internal/control"
	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/fans"
	"github.com/thermoctl/thermoctl/internal/jobs"
	"github.com/thermoctl/thermoctl/internal/notify"
	"github.com/thermoctl/thermoctl/internal/telemetry"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting thermal control engine...")

	// Zone definitions: invalid config is fatal, the engine must not run
	// with undefined control parameters
	zones, err := config.LoadZones(cfg.ZonesFile)
	if err != nil {
		log.Fatalf("Failed to load zones: %v", err)
	}
	log.Printf("Loaded %d thermal zones from %s", len(zones), cfg.ZonesFile)

	// Initialize database connection; unreachable store is fatal
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Seed default configuration rows
	db := database.GetDB()
	if err := database.InitializeDefaults(db); err != nil {
		log.Fatalf("Failed to initialize configuration defaults: %v", err)
	}

	configStore := database.NewConfigStore(db)

	// Seed per-zone control parameters from the zones file (first run
	// only; the configuration store owns them afterwards)
	sensorSet := make(map[string]bool)
	for _, zone := range zones {
		params := &database.ZoneParams{
			Setpoint:               zone.Setpoint,
			Gain:                   zone.Gain,
			BaseSpeed:              zone.BaseSpeed,
			MinSpeed:               zone.MinSpeed,
			MaxSpeed:               zone.MaxSpeed,
			Deadband:               zone.Deadband,
			StalenessWindowSeconds: zone.StalenessWindowSeconds,
			AutoEnabled:            zone.AutoEnabled,
		}
		if err := configStore.SeedZoneParams(zone.ID, params); err != nil {
			log.Fatalf("Failed to seed parameters for zone %s: %v", zone.ID, err)
		}
		for _, sensorID := range zone.Sensors {
			sensorSet[sensorID] = true
		}
	}

	// Slack escalation side channel (disabled without a token)
	notifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertsChannel)
	if notifier.Enabled() {
		log.Printf("Slack escalation channel: %s", cfg.SlackAlertsChannel)
	}

	// Core components
	store := telemetry.NewStore(db)
	auditor := audit.NewWriter(db, notifier)
	machine := alerts.NewMachine(db, configStore)
	actuator := fans.NewHTTPActuator()
	engine := control.NewEngine(store, configStore, auditor, actuator, machine)
	analyzer := analysis.NewEngine(db, store, configStore, machine)

	var sensors []string
	for sensorID := range sensorSet {
		sensors = append(sensors, sensorID)
	}
	analysisRunner := analysis.NewRunner(analyzer, sensors, analysis.DefaultWindow)

	sweeper := jobs.NewRetentionSweeper(db, jobs.DefaultRetentionWindows())
	scheduler := control.NewScheduler(engine, db, zones, cfg.ControlInterval, cfg.TickTimeout)

	// Telemetry ingestion from Kafka
	ingester := telemetry.NewIngester(store, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	go ingester.Run(ingestCtx)

	// Prometheus metrics endpoint
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Printf("Metrics endpoint on :%d/metrics", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	// Start periodic tasks; all observe the same stop channel
	stop := make(chan struct{})
	scheduler.Start(stop)
	go analysisRunner.Start(cfg.AnalysisInterval, stop)
	go sweeper.Start(cfg.RetentionInterval, stop)

	if !configStore.GetBool(database.KeyControlAutoEnabled, true) {
		log.Println("Auto control is DISABLED: commands will be computed and audited but not dispatched")
	}
	log.Println("Thermal control engine is running. Press Ctrl+C to exit.")

	// Graceful shutdown: in-flight ticks finish their actuator write and
	// audit record before the process exits
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, cleaning up...")

	close(stop)
	scheduler.Wait()

	cancelIngest()
	if err := ingester.Close(); err != nil {
		log.Printf("Error closing telemetry ingester: %v", err)
	}
	if err := metricsServer.Close(); err != nil {
		log.Printf("Error shutting down metrics server: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}
