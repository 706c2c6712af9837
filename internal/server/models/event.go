package models

import (
	"encoding/json"
	"time"
)

// EventSeverity is the severity level of an event log entry.
type EventSeverity string

const (
	SeverityInfo  EventSeverity = "info"
	SeverityWarn  EventSeverity = "warn"
	SeverityError EventSeverity = "error"
)

// EventSource names the component that appended an event.
type EventSource string

const (
	SourceAPI       EventSource = "api"
	SourceWebhook   EventSource = "webhook"
	SourceWorker    EventSource = "worker"
	SourceScheduler EventSource = "scheduler"
)

// Event is one append-only, immutable audit log entry.
type Event struct {
	ID        int64
	EventType string
	Severity  EventSeverity
	Source    EventSource

	WorkItemID   string
	AttachmentID string

	// DedupeKey is the webhook idempotency key
	// (subscription_id, resource_id, revision); empty for other sources.
	DedupeKey string

	Message   string
	Context   json.RawMessage
	CreatedAt time.Time
}
