package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/alerts"
	"github.com/thermoctl/thermoctl/internal/audit"
	"github.com/thermoctl/thermoctl/internal/config"
	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/fans"
	"github.com/thermoctl/thermoctl/internal/telemetry"
)

// AlgorithmProportional names the control law in ControlAction records
const AlgorithmProportional = "proportional_v1"

// AlertTypeActuatorFailure is raised when a zone's actuator keeps
// rejecting commands
const AlertTypeActuatorFailure = "actuator_failure"

// EventStaleData is the SystemEvent type recorded when a zone's sensors
// have gone silent past the staleness window
const EventStaleData = "stale_sensor_data"

// StaleDataError reports that no sensor bound to a zone has produced a
// reading inside the staleness window. The engine holds the last applied
// speed rather than guessing.
type StaleDataError struct {
	ZoneID string
	Age    time.Duration
	Window time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("zone %s: newest reading is %v old, staleness window is %v", e.ZoneID, e.Age.Round(time.Second), e.Window)
}

// zoneState is the per-zone mutable state owned exclusively by the
// engine's scheduling unit for that zone. The scheduler guarantees at
// most one tick per zone runs at a time.
type zoneState struct {
	lastApplied float64
	applied     bool
}

// Engine computes and applies per-zone fan speed commands. One Engine
// serves all zones; per-zone state is keyed by zone id and only touched
// under the scheduler's per-zone exclusivity guarantee.
type Engine struct {
	store    *telemetry.Store
	config   *database.ConfigStore
	auditor  *audit.Writer
	actuator fans.Actuator
	alerts   *alerts.Machine

	mu    sync.Mutex
	zones map[string]*zoneState
}

// NewEngine creates a control engine
func NewEngine(store *telemetry.Store, cfg *database.ConfigStore, auditor *audit.Writer, actuator fans.Actuator, machine *alerts.Machine) *Engine {
	return &Engine{
		store:    store,
		config:   cfg,
		auditor:  auditor,
		actuator: actuator,
		alerts:   machine,
		zones:    make(map[string]*zoneState),
	}
}

func (e *Engine) state(zoneID string) *zoneState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.zones[zoneID]
	if !ok {
		st = &zoneState{}
		e.zones[zoneID] = st
	}
	return st
}

// LastApplied returns the zone's last successfully applied speed, and
// whether any command has been applied yet.
func (e *Engine) LastApplied(zoneID string) (float64, bool) {
	st := e.state(zoneID)
	return st.lastApplied, st.applied
}

// TickResult describes one completed control tick
type TickResult struct {
	ZoneID      string
	Temperature float64
	Target      float64
	Action      *database.ControlAction
}

// Tick runs one control iteration for a zone at the given time: read the
// freshest temperature, compute the clamped proportional target, apply it
// through the actuator unless the deadband or dry-run mode suppresses the
// dispatch. Every computed command produces exactly one ControlAction.
func (e *Engine) Tick(ctx context.Context, zone *config.Zone, now time.Time) (*TickResult, error) {
	params, err := e.config.GetZoneParams(zone.ID)
	if err != nil {
		return nil, fmt.Errorf("zone %s has no control parameters: %w", zone.ID, err)
	}

	temp, err := e.currentTemperature(zone, params, now)
	if err != nil {
		var stale *StaleDataError
		if errors.As(err, &stale) {
			e.recordStaleData(zone.ID, stale)
		}
		return nil, err
	}

	target := Clamp(params.BaseSpeed+params.Gain*(temp-params.Setpoint), params.MinSpeed, params.MaxSpeed)
	st := e.state(zone.ID)

	result := &TickResult{ZoneID: zone.ID, Temperature: temp, Target: target}

	// Deadband: suppress command chatter from sensor noise
	if st.applied && absDiff(target, st.lastApplied) <= params.Deadband {
		action := &database.ControlAction{
			ActionType: database.ControlActionSkipped,
			TargetID:   zone.ID,
			TargetType: "zone",
			OldValue:   st.lastApplied,
			NewValue:   target,
			Reason:     fmt.Sprintf("within deadband %.2f of last applied %.2f", params.Deadband, st.lastApplied),
			Algorithm:  AlgorithmProportional,
			Success:    true,
			Timestamp:  now,
		}
		if err := e.auditor.WriteControlAction(action); err != nil {
			return nil, err
		}
		result.Action = action
		return result, nil
	}

	if !e.autoEnabled(params) {
		action := &database.ControlAction{
			ActionType: database.ControlActionSimulated,
			TargetID:   zone.ID,
			TargetType: "zone",
			OldValue:   st.lastApplied,
			NewValue:   target,
			Reason:     fmt.Sprintf("auto control disabled; temperature %.2f, setpoint %.2f", temp, params.Setpoint),
			Algorithm:  AlgorithmProportional,
			Success:    true,
			Timestamp:  now,
		}
		if err := e.auditor.WriteControlAction(action); err != nil {
			return nil, err
		}
		result.Action = action
		return result, nil
	}

	dispatchErr := e.dispatch(ctx, zone, target)

	action := &database.ControlAction{
		ActionType: database.ControlActionApplied,
		TargetID:   zone.ID,
		TargetType: "zone",
		OldValue:   st.lastApplied,
		NewValue:   target,
		Reason:     fmt.Sprintf("temperature %.2f vs setpoint %.2f", temp, params.Setpoint),
		Algorithm:  AlgorithmProportional,
		Success:    dispatchErr == nil,
		Timestamp:  now,
	}
	if dispatchErr != nil {
		if errors.Is(dispatchErr, context.DeadlineExceeded) {
			action.ErrorMessage = "timeout"
		} else {
			action.ErrorMessage = dispatchErr.Error()
		}
	}
	if err := e.auditor.WriteControlAction(action); err != nil {
		return nil, err
	}
	result.Action = action

	if dispatchErr != nil {
		if _, err := e.alerts.Raise(AlertTypeActuatorFailure, zone.ID, database.AlertSeverityCritical,
			"Fan actuator write failed",
			fmt.Sprintf("zone %s: %v", zone.ID, dispatchErr),
			database.JSONB{"target": target}); err != nil {
			log.Printf("Failed to raise actuator alert for zone %s: %v", zone.ID, err)
		}
		return result, dispatchErr
	}

	st.lastApplied = target
	st.applied = true

	if _, err := e.alerts.AutoResolve(AlertTypeActuatorFailure, zone.ID); err != nil {
		log.Printf("Failed to auto-resolve actuator alert for zone %s: %v", zone.ID, err)
	}
	return result, nil
}

// currentTemperature returns the hottest fresh reading across the zone's
// sensors. All sensors silent or stale yields StaleDataError.
func (e *Engine) currentTemperature(zone *config.Zone, params *database.ZoneParams, now time.Time) (float64, error) {
	window := time.Duration(params.StalenessWindowSeconds) * time.Second

	hottest := 0.0
	var newestAge time.Duration
	found := false
	anyReading := false

	for _, sensorID := range zone.Sensors {
		reading, err := e.store.LatestTemperature(sensorID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		age := now.Sub(reading.Timestamp)
		if !anyReading || age < newestAge {
			newestAge = age
		}
		anyReading = true
		if age > window {
			continue
		}
		if !found || reading.Value > hottest {
			hottest = reading.Value
		}
		found = true
	}

	if !found {
		if !anyReading {
			newestAge = window + time.Second
		}
		return 0, &StaleDataError{ZoneID: zone.ID, Age: newestAge, Window: window}
	}
	return hottest, nil
}

// dispatch applies the target speed to every fan in the zone
func (e *Engine) dispatch(ctx context.Context, zone *config.Zone, target float64) error {
	for _, fanID := range zone.Fans {
		if err := e.actuator.SetSpeed(ctx, zone.ActuatorURL, fanID, target); err != nil {
			return err
		}
	}
	return nil
}

// autoEnabled resolves the dry-run flag: the zone override wins when
// present, otherwise the global control.auto_enabled key.
func (e *Engine) autoEnabled(params *database.ZoneParams) bool {
	if params.AutoEnabled != nil {
		return *params.AutoEnabled
	}
	return e.config.GetBool(database.KeyControlAutoEnabled, true)
}

func (e *Engine) recordStaleData(zoneID string, stale *StaleDataError) {
	event := &database.SystemEvent{
		EventType: EventStaleData,
		Severity:  database.SystemEventWarning,
		Message:   stale.Error(),
		SourceID:  zoneID,
		Details: database.JSONB{
			"age_seconds":    stale.Age.Seconds(),
			"window_seconds": stale.Window.Seconds(),
		},
	}
	if err := e.auditor.WriteSystemEvent(event); err != nil {
		log.Printf("Failed to record stale data event for zone %s: %v", zoneID, err)
	}
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
