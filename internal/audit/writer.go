package audit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/thermoctl/thermoctl/internal/database"
	"github.com/thermoctl/thermoctl/internal/metrics"
)

// EventAuditWriteFailure is the SystemEvent type escalated when the audit
// trail itself cannot be persisted
const EventAuditWriteFailure = "audit_write_failure"

// Notifier is the best-effort side channel used to escalate audit write
// failures. It must never block for long and its errors are only logged;
// escalation cannot go through the failed writer itself.
type Notifier interface {
	NotifyCritical(title, message string)
}

// Writer persists the audit trail: every ControlAction and SystemEvent.
// Writes are synchronous and durable before returning. Writes for one
// target are serialized to preserve chronological order; distinct targets
// proceed in parallel.
type Writer struct {
	db       *gorm.DB
	notifier Notifier

	attempts int
	baseWait time.Duration

	mu      sync.Mutex
	targets map[string]*sync.Mutex
}

// NewWriter creates an audit writer. notifier may be nil, in which case
// escalations only reach the process log.
func NewWriter(db *gorm.DB, notifier Notifier) *Writer {
	return &Writer{
		db:       db,
		notifier: notifier,
		attempts: 3,
		baseWait: 100 * time.Millisecond,
		targets:  make(map[string]*sync.Mutex),
	}
}

func (w *Writer) targetLock(targetID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.targets[targetID]
	if !ok {
		lock = &sync.Mutex{}
		w.targets[targetID] = lock
	}
	return lock
}

// WriteControlAction durably records one control action. The caller's
// operation must be reported as failed if this returns an error; the
// control loop never applies a command it could not audit.
func (w *Writer) WriteControlAction(action *database.ControlAction) error {
	lock := w.targetLock(action.TargetID)
	lock.Lock()
	defer lock.Unlock()

	err := w.writeWithRetry(func() error {
		return w.db.Create(action).Error
	})
	if err != nil {
		w.escalate("control action audit failed",
			fmt.Sprintf("control action for %s (new value %.2f) could not be persisted: %v",
				action.TargetID, action.NewValue, err),
			action.TargetID)
		return fmt.Errorf("audit write failed for %s: %w", action.TargetID, err)
	}

	metrics.ControlActions.WithLabelValues(string(action.ActionType), fmt.Sprintf("%t", action.Success)).Inc()
	return nil
}

// WriteSystemEvent durably records one system event
func (w *Writer) WriteSystemEvent(event *database.SystemEvent) error {
	lock := w.targetLock(event.SourceID)
	lock.Lock()
	defer lock.Unlock()

	err := w.writeWithRetry(func() error {
		return w.db.Create(event).Error
	})
	if err != nil {
		w.escalate("system event audit failed",
			fmt.Sprintf("system event %s for %s could not be persisted: %v",
				event.EventType, event.SourceID, err),
			event.SourceID)
		return fmt.Errorf("audit write failed for event %s: %w", event.EventType, err)
	}
	return nil
}

// writeWithRetry retries transient persistence failures with bounded
// exponential backoff before giving up.
func (w *Writer) writeWithRetry(write func() error) error {
	var err error
	wait := w.baseWait
	for attempt := 1; attempt <= w.attempts; attempt++ {
		err = write()
		if err == nil {
			return nil
		}
		if attempt < w.attempts {
			metrics.AuditRetries.Inc()
			log.Printf("Audit write attempt %d/%d failed, retrying in %v: %v", attempt, w.attempts, wait, err)
			time.Sleep(wait)
			wait *= 2
		}
	}
	return err
}

// escalate reports an AuditWriteFailure through the side channel. The
// failed event is NOT re-written through this writer; a best-effort direct
// insert is attempted once and otherwise only logged, to avoid recursing
// into the failing path.
func (w *Writer) escalate(title, message, sourceID string) {
	log.Printf("CRITICAL: %s: %s", title, message)

	event := &database.SystemEvent{
		EventType: EventAuditWriteFailure,
		Severity:  database.SystemEventCritical,
		Message:   message,
		SourceID:  sourceID,
	}
	if err := w.db.Create(event).Error; err != nil {
		log.Printf("Audit failure event could not be persisted either: %v", err)
	}

	if w.notifier != nil {
		w.notifier.NotifyCritical(title, message)
	}
}
