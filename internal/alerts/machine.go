package alerts

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/metrics"
)

// SystemActor is the actor recorded for automatic resolutions
const SystemActor = "system"

// InvalidTransitionError is returned when a lifecycle operation would move
// an alert backwards (e.g. acknowledging a resolved alert). No state is
// changed when it is returned.
type InvalidTransitionError struct {
	AlertID string
	From    database.AlertStatus
	To      database.AlertStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("alert %s: invalid transition %s -> %s", e.AlertID, e.From, e.To)
}

// Machine owns all alert mutation. Transitions for a given
// (alertType, sourceID) key are linearized through a per-key lock so the
// raise/acknowledge/resolve pattern never loses updates.
type Machine struct {
	db     *gorm.DB
	config *database.ConfigStore

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// NewMachine creates an alert state machine over the given database handle
func NewMachine(db *gorm.DB, config *database.ConfigStore) *Machine {
	return &Machine{
		db:     db,
		config: config,
		keys:   make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex guarding one (alertType, sourceID) key
func (m *Machine) keyLock(alertType, sourceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := alertType + "\x00" + sourceID
	lock, ok := m.keys[k]
	if !ok {
		lock = &sync.Mutex{}
		m.keys[k] = lock
	}
	return lock
}

// Raise creates a new active alert for (alertType, sourceID), or refreshes
// the existing active one: message and timestamp are updated, and severity
// is upgraded in place when the new severity ranks higher. Re-raising never
// creates a duplicate row. Returns nil without error when alerting is
// disabled via configuration.
func (m *Machine) Raise(alertType, sourceID string, severity database.AlertSeverity, title, message string, metadata database.JSONB) (*database.Alert, error) {
	if m.config != nil && !m.config.GetBool(database.KeyAlertsEnabled, true) {
		log.Printf("Alerting disabled, dropping %s alert for %s", alertType, sourceID)
		return nil, nil
	}

	lock := m.keyLock(alertType, sourceID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.activeByKey(alertType, sourceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing != nil {
		updates := map[string]interface{}{
			"message":    message,
			"updated_at": time.Now(),
		}
		if title != "" {
			updates["title"] = title
		}
		if metadata != nil {
			updates["metadata"] = metadata
		}
		if database.SeverityRank(severity) > database.SeverityRank(existing.Severity) {
			updates["severity"] = severity
		}
		if err := m.db.Model(existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		m.updateGauges()
		return m.Get(existing.ID)
	}

	alert := &database.Alert{
		AlertType: alertType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		SourceID:  sourceID,
		Status:    database.AlertStatusActive,
		Metadata:  metadata,
	}
	if err := m.db.Create(alert).Error; err != nil {
		return nil, err
	}
	log.Printf("Raised %s alert %s for %s (%s)", severity, alert.ID, sourceID, alertType)
	m.updateGauges()
	return alert, nil
}

// Acknowledge marks an active alert as acknowledged by the given actor.
// Acknowledging an already-acknowledged alert is a no-op; acknowledging a
// resolved alert fails with InvalidTransitionError.
func (m *Machine) Acknowledge(id, by string) (*database.Alert, error) {
	alert, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	lock := m.keyLock(alert.AlertType, alert.SourceID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the key lock
	alert, err = m.Get(id)
	if err != nil {
		return nil, err
	}

	if alert.IsTerminal() {
		return nil, &InvalidTransitionError{AlertID: id, From: alert.Status, To: database.AlertStatusAcknowledged}
	}
	if alert.Status == database.AlertStatusAcknowledged {
		return alert, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":          database.AlertStatusAcknowledged,
		"acknowledged":    true,
		"acknowledged_by": by,
		"acknowledged_at": now,
	}
	if err := m.db.Model(alert).Updates(updates).Error; err != nil {
		return nil, err
	}
	return m.Get(id)
}

// Resolve moves an alert to its terminal state. Valid from active and
// acknowledged; resolving an already-resolved alert is a no-op returning
// the terminal record.
func (m *Machine) Resolve(id, by string) (*database.Alert, error) {
	alert, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	lock := m.keyLock(alert.AlertType, alert.SourceID)
	lock.Lock()
	defer lock.Unlock()

	alert, err = m.Get(id)
	if err != nil {
		return nil, err
	}

	if alert.IsTerminal() {
		return alert, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      database.AlertStatusResolved,
		"resolved":    true,
		"resolved_by": by,
		"resolved_at": now,
	}
	if err := m.db.Model(alert).Updates(updates).Error; err != nil {
		return nil, err
	}
	log.Printf("Resolved alert %s (%s/%s) by %s", id, alert.AlertType, alert.SourceID, by)
	m.updateGauges()
	return m.Get(id)
}

// AutoResolve resolves the active alert for (alertType, sourceID) on behalf
// of the system when the triggering condition clears. Missing alerts are
// not an error: the condition may never have fired.
func (m *Machine) AutoResolve(alertType, sourceID string) (*database.Alert, error) {
	lock := m.keyLock(alertType, sourceID)
	lock.Lock()
	alert, err := m.activeByKey(alertType, sourceID)
	lock.Unlock()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Resolve(alert.ID, SystemActor)
}

// Get returns one alert by id
func (m *Machine) Get(id string) (*database.Alert, error) {
	var alert database.Alert
	if err := m.db.First(&alert, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// ActiveByKey returns the non-resolved alert for a key, if any
func (m *Machine) ActiveByKey(alertType, sourceID string) (*database.Alert, error) {
	return m.activeByKey(alertType, sourceID)
}

func (m *Machine) activeByKey(alertType, sourceID string) (*database.Alert, error) {
	var alert database.Alert
	err := m.db.Where("alert_type = ? AND source_id = ? AND status <> ?",
		alertType, sourceID, database.AlertStatusResolved).
		First(&alert).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// SummaryRow is one group of the 24h alert summary consumers read
type SummaryRow struct {
	AlertType string                 `json:"alert_type"`
	Severity  database.AlertSeverity `json:"severity"`
	Count     int64                  `json:"count"`
}

// Summary groups alerts created in the trailing window by
// (alertType, severity), matching the derived read view definition.
func (m *Machine) Summary(window time.Duration) ([]SummaryRow, error) {
	var rows []SummaryRow
	err := m.db.Model(&database.Alert{}).
		Select("alert_type, severity, count(*) as count").
		Where("created_at >= ?", time.Now().Add(-window)).
		Group("alert_type, severity").
		Order("alert_type, severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// updateGauges recomputes the active-alert gauge per severity
func (m *Machine) updateGauges() {
	for _, sev := range []database.AlertSeverity{
		database.AlertSeverityCritical,
		database.AlertSeverityWarning,
		database.AlertSeverityInfo,
	} {
		var count int64
		if err := m.db.Model(&database.Alert{}).
			Where("severity = ? AND status <> ?", sev, database.AlertStatusResolved).
			Count(&count).Error; err != nil {
			continue
		}
		metrics.ActiveAlerts.WithLabelValues(string(sev)).Set(float64(count))
	}
}
