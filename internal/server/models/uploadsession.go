package models

import "time"

// UploadSession tracks one resumable chunked transfer. Sessions live in the
// database, keyed by SessionID, so any worker or process can resume them
// after a crash. A session finalizes into an Attachment once every byte of
// [0, TotalSize) is covered.
type UploadSession struct {
	SessionID  string
	WorkItemID string
	FileName   string
	MimeType   string

	TotalSize int64
	ChunkSize int64
	// TotalChunks = ceil(TotalSize / ChunkSize), fixed at session start.
	TotalChunks int64
	// ChunksReceived counts distinct covered ranges, not re-submissions.
	// It is monotonically non-decreasing and bounded by TotalChunks.
	ChunksReceived int64

	ExpiresAt time.Time
	CreatedAt time.Time
}

// ChunkRange is one covered byte range of an upload session, inclusive on
// both ends. Ranges are recorded as submitted; coverage is computed by
// merging them.
type ChunkRange struct {
	SessionID string
	StartByte int64
	EndByte   int64
}
