package database

import (
	"testing"
	"time"
)

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		TemperatureReading{}.TableName(): "temperature_readings",
		FanReading{}.TableName():         "fan_readings",
		SensorReading{}.TableName():      "sensor_readings",
		ControlAction{}.TableName():      "control_actions",
		Alert{}.TableName():              "alerts",
		Configuration{}.TableName():      "configurations",
		AnalysisResult{}.TableName():     "analysis_results",
		MonitoringMetric{}.TableName():   "monitoring_metrics",
		SystemEvent{}.TableName():        "system_events",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("expected table name '%s', got '%s'", want, got)
		}
	}
}

func TestSeverityRank_Ordering(t *testing.T) {
	if SeverityRank(AlertSeverityCritical) <= SeverityRank(AlertSeverityWarning) {
		t.Error("expected critical to outrank warning")
	}
	if SeverityRank(AlertSeverityWarning) <= SeverityRank(AlertSeverityInfo) {
		t.Error("expected warning to outrank info")
	}
	if SeverityRank("bogus") != 0 {
		t.Error("expected unknown severity to rank 0")
	}
}

func TestAlert_IsTerminal(t *testing.T) {
	a := Alert{Status: AlertStatusActive}
	if a.IsTerminal() {
		t.Error("active alert should not be terminal")
	}
	a.Status = AlertStatusAcknowledged
	if a.IsTerminal() {
		t.Error("acknowledged alert should not be terminal")
	}
	a.Status = AlertStatusResolved
	if !a.IsTerminal() {
		t.Error("resolved alert should be terminal")
	}
}

func TestJSONB_ScanAndValue(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"zone":"z1","speed":70}`)); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if j["zone"] != "z1" {
		t.Errorf("expected zone 'z1', got %v", j["zone"])
	}

	// nil scans to an empty map
	var empty JSONB
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("unexpected scan error for nil: %v", err)
	}
	if empty == nil {
		t.Error("expected empty map after nil scan")
	}

	// SQLite hands back strings rather than []byte
	var fromString JSONB
	if err := fromString.Scan(`{"k":"v"}`); err != nil {
		t.Fatalf("unexpected scan error for string: %v", err)
	}
	if fromString["k"] != "v" {
		t.Errorf("expected k 'v', got %v", fromString["k"])
	}

	value, err := JSONB{"a": 1.0}.Value()
	if err != nil {
		t.Fatalf("unexpected value error: %v", err)
	}
	if string(value.([]byte)) != `{"a":1}` {
		t.Errorf("unexpected encoded value: %s", value)
	}

	nilValue, err := JSONB(nil).Value()
	if err != nil || nilValue != nil {
		t.Errorf("expected nil value for nil JSONB, got %v / %v", nilValue, err)
	}
}

func TestControlAction_NewValueIsAttempted(t *testing.T) {
	// NewValue carries the attempted value even on failure
	action := ControlAction{
		ActionType:   ControlActionApplied,
		TargetID:     "zone-1",
		NewValue:     85,
		Success:      false,
		ErrorMessage: "controller returned status 503",
	}
	if action.NewValue != 85 {
		t.Errorf("expected NewValue 85, got %v", action.NewValue)
	}
}

func TestBeforeCreate_AssignsUUIDAndTimestamp(t *testing.T) {
	db := setupTestDB(t)

	reading := TemperatureReading{SourceID: "sensor-1", Value: 21.5}
	if err := db.Create(&reading).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reading.ID == "" {
		t.Error("expected UUID to be assigned")
	}
	if reading.Timestamp.IsZero() {
		t.Error("expected timestamp to default to write time")
	}

	cfg := Configuration{Key: "k", Value: "v"}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("expected initial version 1, got %d", cfg.Version)
	}
}

func TestReadings_OrderedBySourceAndTime(t *testing.T) {
	db := setupTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		r := TemperatureReading{SourceID: "sensor-1", Value: float64(20 + i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var newest TemperatureReading
	if err := db.Where("source_id = ?", "sensor-1").Order("timestamp desc").First(&newest).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newest.Value != 22 {
		t.Errorf("expected newest value 22, got %v", newest.Value)
	}
}
