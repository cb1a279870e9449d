package database

import (
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := AutoMigrateDB(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestConfigStore_CreateAndGet(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))

	row, err := store.Set("control.auto_enabled", "true", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Version != 1 {
		t.Errorf("expected version 1 on create, got %d", row.Version)
	}

	got, err := store.Get("control.auto_enabled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != "true" {
		t.Errorf("expected 'true', got %q", got.Value)
	}
}

func TestConfigStore_VersionBumpOnWrite(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))

	row, _ := store.Set("k", "v1", 0)
	updated, err := store.Set("k", "v2", row.Version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Version != row.Version+1 {
		t.Errorf("expected version %d, got %d", row.Version+1, updated.Version)
	}
	if updated.Value != "v2" {
		t.Errorf("expected 'v2', got %q", updated.Value)
	}
}

func TestConfigStore_StaleVersionConflicts(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))

	row, _ := store.Set("k", "v1", 0)
	if _, err := store.Set("k", "v2", row.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second writer still holds the old version
	_, err := store.Set("k", "v3", row.Version)
	var conflict *ConfigVersionConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConfigVersionConflict, got %v", err)
	}
	if conflict.Key != "k" {
		t.Errorf("expected conflict on 'k', got %q", conflict.Key)
	}

	// The losing write must not have changed state
	got, _ := store.Get("k")
	if got.Value != "v2" {
		t.Errorf("expected 'v2' after rejected write, got %q", got.Value)
	}
}

func TestConfigStore_SetWithRetryConverges(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))

	// Creates when missing
	if _, err := store.SetWithRetry("k", "v1", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Updates when present
	row, err := store.SetWithRetry("k", "v2", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Value != "v2" || row.Version != 2 {
		t.Errorf("expected v2/version 2, got %q/%d", row.Value, row.Version)
	}
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))
	store.Set("flag", "false", 0)
	store.Set("k", "2.5", 0)
	store.Set("n", "7", 0)

	if store.GetBool("flag", true) {
		t.Error("expected false")
	}
	if store.GetBool("missing", true) != true {
		t.Error("expected fallback for missing key")
	}
	if store.GetFloat("k", 0) != 2.5 {
		t.Error("expected 2.5")
	}
	if store.GetInt("n", 0) != 7 {
		t.Error("expected 7")
	}
	if store.GetInt("k", 42) != 42 {
		t.Error("expected fallback for unparseable int")
	}
}

func TestZoneParams_Validate(t *testing.T) {
	valid := ZoneParams{Setpoint: 60, Gain: 2, BaseSpeed: 40, MinSpeed: 20, MaxSpeed: 100, Deadband: 2, StalenessWindowSeconds: 300}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := valid
	bad.MaxSpeed = bad.MinSpeed
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty speed band")
	}

	bad = valid
	bad.StalenessWindowSeconds = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero staleness window")
	}

	bad = valid
	bad.Gain = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative gain")
	}
}

func TestConfigStore_ZoneParamsRoundTrip(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))

	params := &ZoneParams{Setpoint: 60, Gain: 2, BaseSpeed: 40, MinSpeed: 20, MaxSpeed: 100, Deadband: 2, StalenessWindowSeconds: 300}
	if err := store.SeedZoneParams("z1", params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetZoneParams("z1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Setpoint != 60 || got.Gain != 2 || got.MaxSpeed != 100 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.AutoEnabled != nil {
		t.Error("expected no auto override by default")
	}
}

func TestConfigStore_SeedDoesNotOverwrite(t *testing.T) {
	store := NewConfigStore(setupTestDB(t))

	params := &ZoneParams{Setpoint: 60, Gain: 2, MinSpeed: 20, MaxSpeed: 100, StalenessWindowSeconds: 300}
	store.SeedZoneParams("z1", params)

	edited := *params
	edited.Setpoint = 55
	if err := store.UpdateZoneParams("z1", &edited); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-seeding (e.g. process restart) must keep the runtime edit
	if err := store.SeedZoneParams("z1", params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := store.GetZoneParams("z1")
	if got.Setpoint != 55 {
		t.Errorf("expected seed to preserve runtime edit, got setpoint %v", got.Setpoint)
	}
}

func TestInitializeDefaults_SeedsOnce(t *testing.T) {
	db := setupTestDB(t)
	if err := InitializeDefaults(db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := NewConfigStore(db)
	if !store.GetBool(KeyControlAutoEnabled, false) {
		t.Error("expected control.auto_enabled seeded true")
	}

	// Operator edit survives a second initialization
	row, _ := store.Get(KeyControlAutoEnabled)
	store.Set(KeyControlAutoEnabled, "false", row.Version)
	if err := InitializeDefaults(db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.GetBool(KeyControlAutoEnabled, true) {
		t.Error("expected defaults to not overwrite existing rows")
	}
}
