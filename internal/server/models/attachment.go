// Package models defines the data models persisted by the sync engine.
package models

import "time"

// AttachmentSource tells which side first created the record.
type AttachmentSource string

const (
	SourceTool   AttachmentSource = "tool"
	SourceRemote AttachmentSource = "remote"
)

// SyncStatus is the lifecycle state of an attachment record.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
	StatusDeleted SyncStatus = "deleted"
)

// Attachment is the local record of one binary attachment of a work item.
// Records are mutated only by the worker acting on a sync job; DeletedAt is
// set exclusively by a completed delete job.
type Attachment struct {
	AttachmentID string
	WorkItemID   string
	FileName     string
	FileSize     int64
	// ContentHash is empty until the content fingerprint has been computed.
	ContentHash string
	MimeType    string
	Source      AttachmentSource

	// RemoteReference identifies the canonical object on the remote tracker.
	RemoteReference string
	RemoteRevision  string

	// LocalPath is the blob-store key of the locally held content.
	LocalPath string

	SyncStatus SyncStatus
	RetryCount int

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// StatusSummary is the derived per-work-item read model: counts by sync
// status, aggregate byte size and the most recent modification time.
// It is computed on demand and never persisted.
type StatusSummary struct {
	WorkItemID   string
	Counts       map[SyncStatus]int
	TotalBytes   int64
	LastModified time.Time
}
