package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/metrics"
)

// Envelope is the wire format of one telemetry message. Kind selects the
// target table: "temperature", "fan", or "sensor".
type Envelope struct {
	Kind      string    `json:"kind"`
	SourceID  string    `json:"source_id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Location  string    `json:"location"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Ingester consumes telemetry envelopes from Kafka and appends them to
// the telemetry store. Malformed messages are counted and skipped; only
// transport errors interrupt the read loop.
type Ingester struct {
	store  *Store
	reader *kafka.Reader
}

// NewIngester creates an ingester reading from the given brokers/topic
func NewIngester(store *Store, brokers []string, topic, groupID string) *Ingester {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return &Ingester{store: store, reader: reader}
}

// Run consumes messages until ctx is cancelled
func (i *Ingester) Run(ctx context.Context) {
	log.Printf("Telemetry ingester started (topic %s)", i.reader.Config().Topic)
	for {
		msg, err := i.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Println("Telemetry ingester stopped")
				return
			}
			log.Printf("Telemetry read error: %v", err)
			continue
		}

		if err := i.handleMessage(msg.Value); err != nil {
			metrics.IngestErrors.Inc()
			log.Printf("Telemetry ingest error (offset %d): %v", msg.Offset, err)
		}
	}
}

func (i *Ingester) handleMessage(payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	if env.SourceID == "" {
		return errors.New("envelope missing source_id")
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	status := database.ReadingStatus(env.Status)
	if status == "" {
		status = database.ReadingStatusOK
	}

	var err error
	switch env.Kind {
	case "temperature":
		err = i.store.AddTemperature(&database.TemperatureReading{
			SourceID:  env.SourceID,
			Name:      env.Name,
			Value:     env.Value,
			Unit:      env.Unit,
			Location:  env.Location,
			Status:    status,
			Timestamp: env.Timestamp,
		})
	case "fan":
		err = i.store.AddFan(&database.FanReading{
			SourceID:  env.SourceID,
			Name:      env.Name,
			Value:     env.Value,
			Unit:      env.Unit,
			Location:  env.Location,
			Status:    status,
			Timestamp: env.Timestamp,
		})
	case "sensor":
		err = i.store.AddSensor(&database.SensorReading{
			SourceID:  env.SourceID,
			Name:      env.Name,
			Value:     env.Value,
			Unit:      env.Unit,
			Location:  env.Location,
			Status:    status,
			Timestamp: env.Timestamp,
		})
	default:
		return errors.New("unknown telemetry kind: " + env.Kind)
	}
	if err != nil {
		return err
	}

	metrics.ReadingsIngested.WithLabelValues(env.Kind).Inc()
	return nil
}

// Close releases the underlying Kafka reader
func (i *Ingester) Close() error {
	return i.reader.Close()
}
