package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// Well-known configuration keys consumed by the core
const (
	KeySystemInitialized      = "system.initialized"
	KeyMonitoringEnabled      = "monitoring.enabled"
	KeyControlAutoEnabled     = "control.auto_enabled"
	KeyAlertsEnabled          = "alerts.enabled"
	KeyAnalysisK              = "analysis.k"
	KeyAnalysisMinSamples     = "analysis.min_samples"
	KeyAnalysisAlertThreshold = "analysis.alert_threshold"

	// Per-zone control parameters live under control.zone.<id>
	zoneKeyPrefix = "control.zone."
)

// ZoneConfigKey returns the configuration key holding a zone's parameters
func ZoneConfigKey(zoneID string) string {
	return zoneKeyPrefix + zoneID
}

// ConfigVersionConflict is returned when an optimistic configuration write
// lost the race: the row's version no longer matches the version the caller
// read. The caller must re-read and retry.
type ConfigVersionConflict struct {
	Key             string
	ExpectedVersion int64
}

func (e *ConfigVersionConflict) Error() string {
	return fmt.Sprintf("configuration %q changed concurrently (expected version %d)", e.Key, e.ExpectedVersion)
}

// ConfigStore provides versioned access to the configurations table.
// Reads are safe for unlimited concurrency; writes compare-and-swap on the
// version column.
type ConfigStore struct {
	db *gorm.DB
}

// NewConfigStore creates a ConfigStore over the given database handle
func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Get returns the configuration row for key
func (s *ConfigStore) Get(key string) (*Configuration, error) {
	var row Configuration
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Set updates the row for key only if its version still equals
// expectedVersion, bumping the version by one. A zero expectedVersion
// creates the row (version 1) and fails if it already exists.
func (s *ConfigStore) Set(key, value string, expectedVersion int64) (*Configuration, error) {
	if expectedVersion == 0 {
		row := &Configuration{Key: key, Value: value}
		if err := s.db.Create(row).Error; err != nil {
			return nil, err
		}
		return row, nil
	}

	result := s.db.Model(&Configuration{}).
		Where("key = ? AND version = ?", key, expectedVersion).
		Updates(map[string]interface{}{
			"value":   value,
			"version": expectedVersion + 1,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, &ConfigVersionConflict{Key: key, ExpectedVersion: expectedVersion}
	}
	return s.Get(key)
}

// SetWithRetry re-reads and retries on version conflicts up to maxAttempts.
// Used by writers that want last-write-wins semantics.
func (s *ConfigStore) SetWithRetry(key, value string, maxAttempts int) (*Configuration, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := s.Get(key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row, createErr := s.Set(key, value, 0)
			if createErr == nil {
				return row, nil
			}
			lastErr = createErr
			continue
		}
		if err != nil {
			return nil, err
		}

		row, err := s.Set(key, value, current.Version)
		if err == nil {
			return row, nil
		}
		var conflict *ConfigVersionConflict
		if !errors.As(err, &conflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("configuration write for %q did not converge: %w", key, lastErr)
}

// GetBool parses the value for key as a boolean, returning fallback when
// the key is missing or unparseable.
func (s *ConfigStore) GetBool(key string, fallback bool) bool {
	row, err := s.Get(key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseBool(row.Value)
	if err != nil {
		return fallback
	}
	return v
}

// GetFloat parses the value for key as a float64, returning fallback when
// the key is missing or unparseable.
func (s *ConfigStore) GetFloat(key string, fallback float64) float64 {
	row, err := s.Get(key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseFloat(row.Value, 64)
	if err != nil {
		return fallback
	}
	return v
}

// GetInt parses the value for key as an int, returning fallback when the
// key is missing or unparseable.
func (s *ConfigStore) GetInt(key string, fallback int) int {
	row, err := s.Get(key)
	if err != nil {
		return fallback
	}
	v, err := strconv.Atoi(row.Value)
	if err != nil {
		return fallback
	}
	return v
}

// ZoneParams holds the control parameters for one thermal zone, stored as
// a JSON value under control.zone.<id>.
type ZoneParams struct {
	Setpoint               float64 `json:"setpoint"`
	Gain                   float64 `json:"gain"`
	BaseSpeed              float64 `json:"baseSpeed"`
	MinSpeed               float64 `json:"minSpeed"`
	MaxSpeed               float64 `json:"maxSpeed"`
	Deadband               float64 `json:"deadband"`
	StalenessWindowSeconds int     `json:"stalenessWindowSeconds"`
	// AutoEnabled overrides the global control.auto_enabled flag when set
	AutoEnabled *bool `json:"autoEnabled,omitempty"`
}

// Validate checks that the parameters describe a usable control band
func (p *ZoneParams) Validate() error {
	if p.MinSpeed < 0 || p.MaxSpeed <= p.MinSpeed {
		return fmt.Errorf("invalid speed band [%v, %v]", p.MinSpeed, p.MaxSpeed)
	}
	if p.Gain < 0 {
		return fmt.Errorf("negative gain %v", p.Gain)
	}
	if p.Deadband < 0 {
		return fmt.Errorf("negative deadband %v", p.Deadband)
	}
	if p.StalenessWindowSeconds <= 0 {
		return fmt.Errorf("staleness window must be positive, got %d", p.StalenessWindowSeconds)
	}
	return nil
}

// GetZoneParams loads and decodes the parameters for zoneID
func (s *ConfigStore) GetZoneParams(zoneID string) (*ZoneParams, error) {
	row, err := s.Get(ZoneConfigKey(zoneID))
	if err != nil {
		return nil, err
	}
	var params ZoneParams
	if err := json.Unmarshal([]byte(row.Value), &params); err != nil {
		return nil, fmt.Errorf("zone %s has malformed parameters: %w", zoneID, err)
	}
	return &params, nil
}

// SeedZoneParams stores zone parameters only if no row exists yet, so
// runtime edits to the configuration store survive restarts.
func (s *ConfigStore) SeedZoneParams(zoneID string, params *ZoneParams) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("zone %s: %w", zoneID, err)
	}
	_, err := s.Get(ZoneConfigKey(zoneID))
	if err == nil {
		return nil // already seeded
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.Set(ZoneConfigKey(zoneID), string(encoded), 0)
	return err
}

// UpdateZoneParams writes zone parameters with last-write-wins retry
func (s *ConfigStore) UpdateZoneParams(zoneID string, params *ZoneParams) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("zone %s: %w", zoneID, err)
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.SetWithRetry(ZoneConfigKey(zoneID), string(encoded), 5)
	return err
}
