package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ReadingStatus represents the health of the source that produced a reading
type ReadingStatus string

const (
	ReadingStatusOK      ReadingStatus = "ok"
	ReadingStatusWarning ReadingStatus = "warning"
	ReadingStatusError   ReadingStatus = "error"
)

// TemperatureReading is one immutable temperature sample from a sensor.
// Rows are append-only; only the retention sweeper deletes them.
type TemperatureReading struct {
	ID        string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceID  string        `gorm:"type:varchar(128);not null;index:idx_temp_source_ts,priority:1" json:"source_id"`
	Name      string        `gorm:"type:varchar(255)" json:"name"`
	Value     float64       `gorm:"not null" json:"value"`
	Unit      string        `gorm:"type:varchar(16);default:'C'" json:"unit"`
	Location  string        `gorm:"type:varchar(255)" json:"location"`
	Status    ReadingStatus `gorm:"type:varchar(20);default:'ok'" json:"status"`
	Timestamp time.Time     `gorm:"not null;index:idx_temp_source_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
}

// FanReading is one immutable fan telemetry sample (duty cycle or rpm).
type FanReading struct {
	ID        string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceID  string        `gorm:"type:varchar(128);not null;index:idx_fan_source_ts,priority:1" json:"source_id"`
	Name      string        `gorm:"type:varchar(255)" json:"name"`
	Value     float64       `gorm:"not null" json:"value"`
	Unit      string        `gorm:"type:varchar(16);default:'%'" json:"unit"`
	Location  string        `gorm:"type:varchar(255)" json:"location"`
	Status    ReadingStatus `gorm:"type:varchar(20);default:'ok'" json:"status"`
	Timestamp time.Time     `gorm:"not null;index:idx_fan_source_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
}

// SensorReading is one immutable sample from a generic (non-thermal) sensor,
// e.g. humidity or airflow.
type SensorReading struct {
	ID        string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceID  string        `gorm:"type:varchar(128);not null;index:idx_sensor_source_ts,priority:1" json:"source_id"`
	Name      string        `gorm:"type:varchar(255)" json:"name"`
	Value     float64       `gorm:"not null" json:"value"`
	Unit      string        `gorm:"type:varchar(16)" json:"unit"`
	Location  string        `gorm:"type:varchar(255)" json:"location"`
	Status    ReadingStatus `gorm:"type:varchar(20);default:'ok'" json:"status"`
	Timestamp time.Time     `gorm:"not null;index:idx_sensor_source_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
}

// ControlActionType classifies how a control command was handled
type ControlActionType string

const (
	ControlActionApplied   ControlActionType = "applied"
	ControlActionSimulated ControlActionType = "simulated"
	ControlActionSkipped   ControlActionType = "skipped"
)

// ControlAction is the append-only audit record of one attempted or
// simulated actuator command. NewValue is always the value the engine
// attempted to apply, regardless of Success.
type ControlAction struct {
	ID           string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	ActionType   ControlActionType `gorm:"type:varchar(50);not null" json:"action_type"`
	TargetID     string            `gorm:"type:varchar(128);not null;index:idx_action_target_ts,priority:1" json:"target_id"`
	TargetType   string            `gorm:"type:varchar(50)" json:"target_type"`
	OldValue     float64           `json:"old_value"`
	NewValue     float64           `json:"new_value"`
	Reason       string            `gorm:"type:text" json:"reason"`
	Algorithm    string            `gorm:"type:varchar(100)" json:"algorithm"`
	Success      bool              `json:"success"`
	ErrorMessage string            `gorm:"type:text" json:"error_message"`
	Timestamp    time.Time         `gorm:"not null;index:idx_action_target_ts,priority:2" json:"timestamp"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AlertSeverity represents normalized severity levels
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityInfo     AlertSeverity = "info"
)

// SeverityRank orders severities for escalation: critical > warning > info.
func SeverityRank(s AlertSeverity) int {
	switch s {
	case AlertSeverityCritical:
		return 3
	case AlertSeverityWarning:
		return 2
	case AlertSeverityInfo:
		return 1
	default:
		return 0
	}
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert is a mutable lifecycle record. Status transitions are monotonic:
// active -> acknowledged -> resolved, or active -> resolved directly.
// Resolved is terminal. At most one active alert exists per
// (alert_type, source_id) pair.
type Alert struct {
	ID             string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	AlertType      string        `gorm:"type:varchar(100);not null;index:idx_alert_type_sev,priority:1;index:idx_alert_key" json:"alert_type"`
	Severity       AlertSeverity `gorm:"type:varchar(20);not null;index:idx_alert_type_sev,priority:2" json:"severity"`
	Title          string        `gorm:"type:varchar(255)" json:"title"`
	Message        string        `gorm:"type:text" json:"message"`
	Source         string        `gorm:"type:varchar(100)" json:"source"`
	SourceID       string        `gorm:"type:varchar(128);index:idx_alert_key" json:"source_id"`
	Status         AlertStatus   `gorm:"type:varchar(20);not null;default:'active';index:idx_alert_status_created,priority:1" json:"status"`
	Acknowledged   bool          `gorm:"default:false" json:"acknowledged"`
	AcknowledgedBy string        `gorm:"type:varchar(128)" json:"acknowledged_by"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	Resolved       bool          `gorm:"default:false" json:"resolved"`
	ResolvedBy     string        `gorm:"type:varchar(128)" json:"resolved_by"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	Metadata       JSONB         `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time     `gorm:"index:idx_alert_status_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsTerminal returns true if no further transitions are allowed
func (a *Alert) IsTerminal() bool {
	return a.Status == AlertStatusResolved
}

// Configuration is a versioned key/value row. Every mutation increments
// Version; writers compare-and-swap on the version they read.
type Configuration struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisResult is a write-once record of one analysis pass over a sensor.
type AnalysisResult struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AnalysisType string    `gorm:"type:varchar(100);not null" json:"analysis_type"`
	TargetID     string    `gorm:"type:varchar(128);not null;index:idx_analysis_target_ts,priority:1" json:"target_id"`
	TargetType   string    `gorm:"type:varchar(50)" json:"target_type"`
	Result       JSONB     `gorm:"type:jsonb" json:"result"`
	Confidence   float64   `gorm:"type:decimal(3,2)" json:"confidence"`
	Metadata     JSONB     `gorm:"type:jsonb" json:"metadata"`
	Timestamp    time.Time `gorm:"not null;index:idx_analysis_target_ts,priority:2" json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// MonitoringMetric is a write-once internal observability sample.
type MonitoringMetric struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null;index:idx_metric_name_ts,priority:1" json:"name"`
	Value     float64   `json:"value"`
	Labels    JSONB     `gorm:"type:jsonb" json:"labels"`
	Timestamp time.Time `gorm:"not null;index:idx_metric_name_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemEventSeverity mirrors alert severities for event records
type SystemEventSeverity string

const (
	SystemEventInfo     SystemEventSeverity = "info"
	SystemEventWarning  SystemEventSeverity = "warning"
	SystemEventCritical SystemEventSeverity = "critical"
)

// SystemEvent is a write-once audit log entry for non-control events
// (stale sensors, audit failures, lifecycle notices).
type SystemEvent struct {
	ID        string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	EventType string              `gorm:"type:varchar(100);not null;index:idx_event_type_ts,priority:1" json:"event_type"`
	Severity  SystemEventSeverity `gorm:"type:varchar(20);not null;default:'info'" json:"severity"`
	Message   string              `gorm:"type:text" json:"message"`
	SourceID  string              `gorm:"type:varchar(128)" json:"source_id"`
	Details   JSONB               `gorm:"type:jsonb" json:"details"`
	Timestamp time.Time           `gorm:"not null;index:idx_event_type_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time           `json:"created_at"`
}

// assignUUID fills in a UUID primary key if the caller didn't set one
func assignUUID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func (r *TemperatureReading) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&r.ID)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return nil
}

func (r *FanReading) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&r.ID)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return nil
}

func (r *SensorReading) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&r.ID)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return nil
}

func (a *ControlAction) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&a.ID)
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	return nil
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&a.ID)
	return nil
}

func (c *Configuration) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&c.ID)
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

func (r *AnalysisResult) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&r.ID)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return nil
}

func (m *MonitoringMetric) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&m.ID)
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return nil
}

func (e *SystemEvent) BeforeCreate(tx *gorm.DB) error {
	assignUUID(&e.ID)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return nil
}

// TableName overrides for explicit table naming
func (TemperatureReading) TableName() string {
	return "temperature_readings"
}

func (FanReading) TableName() string {
	return "fan_readings"
}

func (SensorReading) TableName() string {
	return "sensor_readings"
}

func (ControlAction) TableName() string {
	return "control_actions"
}

func (Alert) TableName() string {
	return "alerts"
}

func (Configuration) TableName() string {
	return "configurations"
}

func (AnalysisResult) TableName() string {
	return "analysis_results"
}

func (MonitoringMetric) TableName() string {
	return "monitoring_metrics"
}

func (SystemEvent) TableName() string {
	return "system_events"
}
