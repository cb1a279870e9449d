package fans

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testActuator() *HTTPActuator {
	return &HTTPActuator{
		client:   &http.Client{Timeout: time.Second},
		attempts: 3,
		baseWait: time.Millisecond,
	}
}

func TestSetSpeed_PostsCommand(t *testing.T) {
	var got speedCommand
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := testActuator()
	if err := a.SetSpeed(context.Background(), server.URL, "fan-1", 70); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/fans/speed" {
		t.Errorf("expected POST to /fans/speed, got %s", path)
	}
	if got.FanID != "fan-1" || got.Speed != 70 {
		t.Errorf("unexpected command payload: %+v", got)
	}
}

func TestSetSpeed_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := testActuator()
	if err := a.SetSpeed(context.Background(), server.URL, "fan-1", 70); err != nil {
		t.Fatalf("expected success on the third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSetSpeed_ExhaustedRetriesReturnWriteError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := testActuator()
	err := a.SetSpeed(context.Background(), server.URL, "fan-1", 70)

	var writeErr *ActuatorWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected ActuatorWriteError, got %v", err)
	}
	if writeErr.FanID != "fan-1" || writeErr.Speed != 70 {
		t.Errorf("unexpected error detail: %+v", writeErr)
	}
	if calls.Load() != 3 {
		t.Errorf("expected all 3 attempts used, got %d", calls.Load())
	}
}

func TestSetSpeed_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := testActuator()
	err := a.SetSpeed(ctx, server.URL, "fan-1", 70)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestSetSpeed_DeadlineStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := testActuator()
	a.baseWait = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.SetSpeed(ctx, server.URL, "fan-1", 70)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded in chain, got %v", err)
	}
}
