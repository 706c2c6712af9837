package models

import "time"

// DedupScope selects how wide deduplication applies.
type DedupScope string

const (
	// ScopeGlobal deduplicates across all work items.
	ScopeGlobal DedupScope = "global"
	// ScopeWorkItem deduplicates within one work item only.
	ScopeWorkItem DedupScope = "work_item"
)

// Key returns the scope key persisted on dedup entries.
func (s DedupScope) Key(workItemID string) string {
	if s == ScopeGlobal {
		return "global"
	}
	return workItemID
}

// DedupEntry maps a content fingerprint within a scope to the first
// attachment that carried it. At most one canonical remote object exists
// per (ContentHash, ScopeKey).
type DedupEntry struct {
	ContentHash string
	// ScopeKey is the configured dedup scope: a work item id, or a fixed
	// key when deduplication is global.
	ScopeKey          string
	FirstAttachmentID string
	// RemoteReference is filled once the first attachment's transfer
	// completes; until then concurrent uploads of the same content wait.
	RemoteReference string
	DuplicateCount  int
	CreatedAt       time.Time
}
