package telemetry

import (
	"testing"
	"time"

	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/testhelpers"
)

func TestHandleMessage_RoutesByKind(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	ing := &Ingester{store: NewStore(db)}

	payloads := []string{
		`{"kind":"temperature","source_id":"t1","value":21.5,"unit":"C"}`,
		`{"kind":"fan","source_id":"f1","value":55,"unit":"%"}`,
		`{"kind":"sensor","source_id":"h1","name":"humidity","value":40,"unit":"%"}`,
	}
	for _, p := range payloads {
		if err := ing.handleMessage([]byte(p)); err != nil {
			t.Fatalf("unexpected error for %s: %v", p, err)
		}
	}

	var temps, fansCount, sensors int64
	db.Model(&database.TemperatureReading{}).Count(&temps)
	db.Model(&database.FanReading{}).Count(&fansCount)
	db.Model(&database.SensorReading{}).Count(&sensors)
	if temps != 1 || fansCount != 1 || sensors != 1 {
		t.Errorf("expected one row per table, got %d/%d/%d", temps, fansCount, sensors)
	}
}

func TestHandleMessage_DefaultsTimestampAndStatus(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	ing := &Ingester{store: NewStore(db)}

	before := time.Now()
	if err := ing.handleMessage([]byte(`{"kind":"temperature","source_id":"t1","value":20}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var r database.TemperatureReading
	db.First(&r)
	if r.Timestamp.Before(before.Add(-time.Second)) {
		t.Error("expected timestamp defaulted to ingest time")
	}
	if r.Status != database.ReadingStatusOK {
		t.Errorf("expected default status ok, got %s", r.Status)
	}
}

func TestHandleMessage_RejectsBadEnvelopes(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	ing := &Ingester{store: NewStore(db)}

	bad := []string{
		`not json`,
		`{"kind":"temperature","value":20}`,                  // missing source
		`{"kind":"pressure","source_id":"p1","value":1013}`,  // unknown kind
	}
	for _, p := range bad {
		if err := ing.handleMessage([]byte(p)); err == nil {
			t.Errorf("expected error for payload %s", p)
		}
	}

	var count int64
	db.Model(&database.TemperatureReading{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no rows written for bad payloads, got %d", count)
	}
}
