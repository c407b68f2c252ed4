package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/lattice-waves/internal/workflow/engine"
)

// EventSchemaVersion is the currently supported inbound event version.
const EventSchemaVersion = 1

// Event types accepted by the bridge.
const (
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskProgress  = "task_progress"
)

// Event captures a single notification emitted by whatever executes a work
// order.
type Event struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	ClientTime time.Time       `json:"client_time"`
	ServerTime time.Time       `json:"server_time"`
	PlanID     string          `json:"plan_id"`
	TaskID     string          `json:"task_id"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.PlanID = strings.TrimSpace(e.PlanID)
	e.TaskID = strings.TrimSpace(e.TaskID)
	e.Reason = strings.TrimSpace(e.Reason)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	switch e.Type {
	case EventTaskCompleted, EventTaskFailed, EventTaskProgress:
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("type %q not supported", e.Type)
	}
	if e.PlanID == "" {
		return errors.New("plan_id is required")
	}
	if e.TaskID == "" {
		return errors.New("task_id is required")
	}
	return nil
}

// Notification converts a terminal event into a driver notification. Progress
// events report ok=false.
func (e Event) Notification() (engine.Notification, bool) {
	switch e.Type {
	case EventTaskCompleted:
		return engine.Notification{TaskID: e.TaskID}, true
	case EventTaskFailed:
		reason := e.Reason
		if reason == "" {
			reason = "reported failed"
		}
		return engine.Notification{TaskID: e.TaskID, Failed: true, Reason: reason}, true
	default:
		return engine.Notification{}, false
	}
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string         `json:"status"`
	PlanID        string         `json:"plan_id,omitempty"`
	Tasks         []string       `json:"tasks,omitempty"`
	Accepted      map[string]int `json:"accepted"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// eventResponse echoes the identifiers of the event it answers.
type eventResponse struct {
	Status     string    `json:"status"`
	EventID    string    `json:"event_id,omitempty"`
	PlanID     string    `json:"plan_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Type       string    `json:"type,omitempty"`
	ServerTime time.Time `json:"server_time,omitzero"`
	Error      string    `json:"error,omitempty"`
}
