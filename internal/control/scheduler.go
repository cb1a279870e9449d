package control

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/config"
	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/metrics"
)

// Scheduler runs one periodic control task per zone. Zones tick in
// parallel with each other, but a zone whose previous tick is still
// running has the new tick skipped and logged, never queued — slow
// actuators must not build a backlog.
type Scheduler struct {
	engine   *Engine
	db       *gorm.DB
	zones    []config.Zone
	interval time.Duration
	timeout  time.Duration

	busy map[string]*atomic.Bool
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler for the given zones
func NewScheduler(engine *Engine, db *gorm.DB, zones []config.Zone, interval, timeout time.Duration) *Scheduler {
	busy := make(map[string]*atomic.Bool, len(zones))
	for _, z := range zones {
		busy[z.ID] = &atomic.Bool{}
	}
	return &Scheduler{
		engine:   engine,
		db:       db,
		zones:    zones,
		interval: interval,
		timeout:  timeout,
		busy:     busy,
	}
}

// Start launches one ticker goroutine per zone. In-flight ticks complete
// their actuator write and audit record before Stop returns.
func (s *Scheduler) Start(stop <-chan struct{}) {
	for i := range s.zones {
		zone := s.zones[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runZone(&zone, stop)
		}()
	}
	log.Printf("Control scheduler started for %d zones (interval %v, tick timeout %v)", len(s.zones), s.interval, s.timeout)
}

// Wait blocks until all zone loops have exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runZone(zone *config.Zone, stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tickZone(zone)
		case <-stop:
			log.Printf("Control loop for zone %s stopped", zone.ID)
			return
		}
	}
}

// tickZone runs one guarded tick. The busy flag is the zone's exclusivity
// guarantee: per-zone state and command ordering rely on it.
func (s *Scheduler) tickZone(zone *config.Zone) {
	flag := s.busy[zone.ID]
	if !flag.CompareAndSwap(false, true) {
		metrics.TicksSkipped.WithLabelValues(zone.ID).Inc()
		log.Printf("Zone %s: previous tick still running, skipping", zone.ID)
		return
	}
	defer flag.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	_, err := s.engine.Tick(ctx, zone, started)
	elapsed := time.Since(started)

	metrics.TickDuration.WithLabelValues(zone.ID).Observe(elapsed.Seconds())
	s.recordTickMetric(zone.ID, elapsed)

	switch {
	case err == nil:
		metrics.ControlTicks.WithLabelValues(zone.ID, "ok").Inc()
	case isStale(err):
		metrics.ControlTicks.WithLabelValues(zone.ID, "stale").Inc()
		log.Printf("Zone %s: %v", zone.ID, err)
	default:
		metrics.ControlTicks.WithLabelValues(zone.ID, "error").Inc()
		log.Printf("Zone %s tick failed: %v", zone.ID, err)
	}
}

// recordTickMetric persists a MonitoringMetric sample for the tick
func (s *Scheduler) recordTickMetric(zoneID string, elapsed time.Duration) {
	metric := &database.MonitoringMetric{
		Name:   "control.tick_duration_ms",
		Value:  float64(elapsed.Milliseconds()),
		Labels: database.JSONB{"zone": zoneID},
	}
	if err := s.db.Create(metric).Error; err != nil {
		log.Printf("Failed to record tick metric for zone %s: %v", zoneID, err)
	}
}

func isStale(err error) bool {
	var stale *StaleDataError
	return errors.As(err, &stale)
}
