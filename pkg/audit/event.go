// Package audit provides tamper-evident audit logging for secure-element
// operations.
//
// Audit logs are separate from technical logs and record the lifecycle of
// material held by the element: keys generated, imported and removed,
// certificates stored, storage blocks written, and firmware faults.
//
// Key principles:
//   - Audit failure = Operation failure
//   - Never log secrets (private keys, raw storage contents)
//   - All timestamps in UTC
//   - Hash chain for integrity verification
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType represents the category of audit event.
type EventType string

const (
	// Key lifecycle events
	EventKeyGenerated EventType = "KEY_GENERATED"
	EventKeyImported  EventType = "KEY_IMPORTED"
	EventKeyRemoved   EventType = "KEY_REMOVED"

	// Certificate events
	EventCertStored  EventType = "CERT_STORED"
	EventCertRemoved EventType = "CERT_REMOVED"

	// Secure storage events
	EventStorageWritten EventType = "STORAGE_WRITTEN"
	EventStorageDeleted EventType = "STORAGE_DELETED"

	// Device events
	EventDeviceInit    EventType = "DEVICE_INIT"
	EventFirmwareFault EventType = "FIRMWARE_FAULT"
	EventSelfCheck     EventType = "SELF_CHECK"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"`           // "user", "system", "service"
	ID   string `json:"id"`             // username or service identifier
	Host string `json:"host,omitempty"` // hostname where action occurred
}

// Object represents what was acted upon.
type Object struct {
	Type    string `json:"type"`              // "key", "certificate", "storage", "device"
	Slot    string `json:"slot,omitempty"`    // slot index, hex
	Subject string `json:"subject,omitempty"` // certificate subject DN
	Backend string `json:"backend,omitempty"` // firmware backend name
}

// Context provides additional details about the operation.
type Context struct {
	Algorithm string `json:"algorithm,omitempty"` // key type or opcode
	Size      int    `json:"size,omitempty"`      // payload size in bytes
	Reason    string `json:"reason,omitempty"`    // failure reason
	Status    string `json:"status,omitempty"`    // raw firmware status
}

// Event represents a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"` // SHA-256 hash of previous event
	Hash      string    `json:"hash"`      // SHA-256 hash of this event
}

// NewEvent creates a new audit event with current timestamp and actor info.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor: Actor{
			Type: "user",
			ID:   username,
			Host: hostname,
		},
		Result: result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Actor.Type == "" || e.Actor.ID == "" {
		return fmt.Errorf("actor type and id are required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

// CanonicalJSON returns the event as canonical JSON for hashing.
// The Hash field itself is excluded.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type eventForHash struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}

	return json.Marshal(eventForHash{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
