// Package blob stores binary attachment content and staged upload chunks
// in S3-compatible object storage. The metadata store keeps only keys;
// bytes always live here.
package blob

import (
	"context"
	"fmt"
)

// Store is the binary content store consumed by the upload manager and
// the sync worker.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentKey is the storage key of an attachment's content.
func AttachmentKey(workItemID, attachmentID string) string {
	return fmt.Sprintf("attachments/%s/%s", workItemID, attachmentID)
}

// ChunkKey is the storage key of one staged upload chunk.
func ChunkKey(sessionID string, startByte, endByte int64) string {
	return fmt.Sprintf("sessions/%s/%d-%d", sessionID, startByte, endByte)
}
