package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeZonesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zones.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

const validZones = `
zones:
  - id: rack-a
    name: Rack A cold aisle
    sensors: [temp-a1, temp-a2]
    fans: [fan-a1, fan-a2]
    actuator_url: http://ctl-a.local:8090
    setpoint: 60
    gain: 2
    base_speed: 40
    min_speed: 20
    max_speed: 100
    deadband: 2
    staleness_window_seconds: 300
  - id: rack-b
    name: Rack B
    sensors: [temp-b1]
    fans: [fan-b1]
    actuator_url: http://ctl-b.local:8090
    min_speed: 20
    max_speed: 100
    staleness_window_seconds: 300
    auto_enabled: false
`

func TestLoadZones_ParsesValidFile(t *testing.T) {
	zones, err := LoadZones(writeZonesFile(t, validZones))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(zones))
	}

	a := zones[0]
	if a.ID != "rack-a" || a.Setpoint != 60 || a.Gain != 2 || len(a.Sensors) != 2 {
		t.Errorf("unexpected zone: %+v", a)
	}
	if a.AutoEnabled != nil {
		t.Error("expected no auto override on rack-a")
	}

	b := zones[1]
	if b.AutoEnabled == nil || *b.AutoEnabled {
		t.Error("expected rack-b auto_enabled override false")
	}
}

func TestLoadZones_RejectsDuplicateIDs(t *testing.T) {
	content := `
zones:
  - id: rack-a
    sensors: [s1]
    fans: [f1]
    actuator_url: http://a
    min_speed: 20
    max_speed: 100
    staleness_window_seconds: 300
  - id: rack-a
    sensors: [s2]
    fans: [f2]
    actuator_url: http://b
    min_speed: 20
    max_speed: 100
    staleness_window_seconds: 300
`
	if _, err := LoadZones(writeZonesFile(t, content)); err == nil {
		t.Error("expected error for duplicate zone ids")
	}
}

func TestLoadZones_RejectsEmptyFile(t *testing.T) {
	if _, err := LoadZones(writeZonesFile(t, "zones: []")); err == nil {
		t.Error("expected error for a file with no zones")
	}
}

func TestLoadZones_MissingFile(t *testing.T) {
	if _, err := LoadZones(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestZoneValidate(t *testing.T) {
	valid := Zone{
		ID: "z", Sensors: []string{"s"}, Fans: []string{"f"},
		ActuatorURL: "http://ctl", MinSpeed: 20, MaxSpeed: 100,
		StalenessWindowSeconds: 300,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(z *Zone)
	}{
		{"no id", func(z *Zone) { z.ID = "" }},
		{"no sensors", func(z *Zone) { z.Sensors = nil }},
		{"no fans", func(z *Zone) { z.Fans = nil }},
		{"no actuator url", func(z *Zone) { z.ActuatorURL = "" }},
		{"empty speed band", func(z *Zone) { z.MaxSpeed = z.MinSpeed }},
		{"no staleness window", func(z *Zone) { z.StalenessWindowSeconds = 0 }},
	}
	for _, tc := range cases {
		zone := valid
		tc.mutate(&zone)
		if err := zone.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
