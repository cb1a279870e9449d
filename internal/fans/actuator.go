package fans

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ActuatorWriteError is returned when a fan speed command could not be
// applied after the configured retries. The control loop records it as a
// failed ControlAction.
type ActuatorWriteError struct {
	FanID string
	Speed float64
	Err   error
}

func (e *ActuatorWriteError) Error() string {
	return fmt.Sprintf("actuator write for fan %s (speed %.2f) failed: %v", e.FanID, e.Speed, e.Err)
}

func (e *ActuatorWriteError) Unwrap() error {
	return e.Err
}

// Actuator dispatches speed commands to fan controller hardware.
// endpoint is the zone's controller base URL. SetSpeed must be safe for
// concurrent use across distinct zones; the scheduler guarantees a single
// caller per zone.
type Actuator interface {
	SetSpeed(ctx context.Context, endpoint, fanID string, speed float64) error
}

// HTTPActuator talks to fan controllers over HTTP: each command is a
// POST {fan_id, speed} to <endpoint>/fans/speed.
type HTTPActuator struct {
	client   *http.Client
	attempts int
	baseWait time.Duration
}

// NewHTTPActuator creates an HTTP actuator with default retry policy
func NewHTTPActuator() *HTTPActuator {
	return &HTTPActuator{
		client:   &http.Client{Timeout: 3 * time.Second},
		attempts: 3,
		baseWait: 200 * time.Millisecond,
	}
}

type speedCommand struct {
	FanID string  `json:"fan_id"`
	Speed float64 `json:"speed"`
}

// SetSpeed posts the speed command, retrying transient failures with
// bounded exponential backoff. The context deadline caps total time.
func (a *HTTPActuator) SetSpeed(ctx context.Context, endpoint, fanID string, speed float64) error {
	payload, err := json.Marshal(speedCommand{FanID: fanID, Speed: speed})
	if err != nil {
		return &ActuatorWriteError{FanID: fanID, Speed: speed, Err: err}
	}

	wait := a.baseWait
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &ActuatorWriteError{FanID: fanID, Speed: speed, Err: err}
		}

		lastErr = a.post(ctx, endpoint, payload)
		if lastErr == nil {
			return nil
		}

		if attempt < a.attempts {
			select {
			case <-time.After(wait):
				wait *= 2
			case <-ctx.Done():
				return &ActuatorWriteError{FanID: fanID, Speed: speed, Err: ctx.Err()}
			}
		}
	}
	return &ActuatorWriteError{FanID: fanID, Speed: speed, Err: lastErr}
}

func (a *HTTPActuator) post(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/fans/speed", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
	return nil
}
