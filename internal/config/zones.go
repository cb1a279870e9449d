package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Zone is one thermal zone: a group of temperature sensors and fans under
// a single control loop, plus the controller endpoint its commands go to.
type Zone struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Sensors     []string `yaml:"sensors"`
	Fans        []string `yaml:"fans"`
	ActuatorURL string   `yaml:"actuator_url"`

	// Initial control parameters, seeded into the configuration store on
	// first run. Later edits happen through the store, not this file.
	Setpoint               float64 `yaml:"setpoint"`
	Gain                   float64 `yaml:"gain"`
	BaseSpeed              float64 `yaml:"base_speed"`
	MinSpeed               float64 `yaml:"min_speed"`
	MaxSpeed               float64 `yaml:"max_speed"`
	Deadband               float64 `yaml:"deadband"`
	StalenessWindowSeconds int     `yaml:"staleness_window_seconds"`
	AutoEnabled            *bool   `yaml:"auto_enabled,omitempty"`
}

// ZonesFile is the top-level structure of the zones YAML file
type ZonesFile struct {
	Zones []Zone `yaml:"zones"`
}

// LoadZones parses and validates the zone definitions file. Validation
// failures are returned as errors; the caller treats them as fatal since
// running with undefined control parameters is not an option.
func LoadZones(path string) ([]Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file %s: %w", path, err)
	}

	var file ZonesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse zones file %s: %w", path, err)
	}

	if len(file.Zones) == 0 {
		return nil, fmt.Errorf("zones file %s defines no zones", path)
	}

	seen := make(map[string]bool, len(file.Zones))
	for i := range file.Zones {
		zone := &file.Zones[i]
		if err := zone.Validate(); err != nil {
			return nil, fmt.Errorf("zones file %s: %w", path, err)
		}
		if seen[zone.ID] {
			return nil, fmt.Errorf("zones file %s: duplicate zone id %q", path, zone.ID)
		}
		seen[zone.ID] = true
	}

	return file.Zones, nil
}

// Validate checks that a zone definition is complete enough to control
func (z *Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone has no id")
	}
	if len(z.Sensors) == 0 {
		return fmt.Errorf("zone %s has no sensors", z.ID)
	}
	if len(z.Fans) == 0 {
		return fmt.Errorf("zone %s has no fans", z.ID)
	}
	if z.ActuatorURL == "" {
		return fmt.Errorf("zone %s has no actuator_url", z.ID)
	}
	if z.MaxSpeed <= z.MinSpeed {
		return fmt.Errorf("zone %s has invalid speed band [%v, %v]", z.ID, z.MinSpeed, z.MaxSpeed)
	}
	if z.StalenessWindowSeconds <= 0 {
		return fmt.Errorf("zone %s has no staleness window", z.ID)
	}
	return nil
}
