// Package upload manages resumable chunked transfers. Session state lives
// in the metadata store and staged chunk bytes in the blob store, so any
// process can resume a partial transfer after a crash. Once every byte of
// the declared size is covered the session finalizes into an attachment
// record.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/hashx"
	"github.com/dkaspars/attachsync/internal/logging"
	"github.com/dkaspars/attachsync/internal/server/blob"
	"github.com/dkaspars/attachsync/internal/server/models"
	"github.com/dkaspars/attachsync/internal/server/remote"
	"github.com/dkaspars/attachsync/internal/server/repositories/attachments"
	"github.com/dkaspars/attachsync/internal/server/repositories/dedup"
	"github.com/dkaspars/attachsync/internal/server/repositories/events"
	"github.com/dkaspars/attachsync/internal/server/repositories/sessions"
)

// DefaultSessionTTL is how long an unfinished session survives.
const DefaultSessionTTL = 24 * time.Hour

type Config struct {
	SessionTTL time.Duration
	DedupScope models.DedupScope
}

type Manager struct {
	sessions    sessions.Repository
	attachments attachments.Repository
	dedup       dedup.Repository
	events      events.Repository
	blobs       blob.Store
	adapter     remote.Adapter
	logger      logging.Logger

	ttl   time.Duration
	scope models.DedupScope

	// now is a seam for tests.
	now func() time.Time
}

func NewManager(
	sessionRepo sessions.Repository,
	attachmentRepo attachments.Repository,
	dedupRepo dedup.Repository,
	eventRepo events.Repository,
	blobs blob.Store,
	adapter remote.Adapter,
	logger logging.Logger,
	cfg Config,
) *Manager {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	scope := cfg.DedupScope
	if scope == "" {
		scope = models.ScopeWorkItem
	}
	return &Manager{
		sessions:    sessionRepo,
		attachments: attachmentRepo,
		dedup:       dedupRepo,
		events:      eventRepo,
		blobs:       blobs,
		adapter:     adapter,
		logger:      logger,
		ttl:         ttl,
		scope:       scope,
		now:         time.Now,
	}
}

// StartSession opens a new chunked transfer for a work item.
func (m *Manager) StartSession(ctx context.Context, workItemID, fileName, mimeType string, totalSize, chunkSize int64) (*models.UploadSession, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("total size %d: %w", totalSize, common.ErrValidation)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size %d: %w", chunkSize, common.ErrValidation)
	}
	if workItemID == "" || fileName == "" {
		return nil, fmt.Errorf("work item id and file name are required: %w", common.ErrValidation)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	s := &models.UploadSession{
		SessionID:   uuid.NewString(),
		WorkItemID:  workItemID,
		FileName:    fileName,
		MimeType:    mimeType,
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		TotalChunks: (totalSize + chunkSize - 1) / chunkSize,
		ExpiresAt:   m.now().Add(m.ttl),
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info(ctx, "upload session started",
		"session_id", s.SessionID, "work_item_id", workItemID,
		"total_size", totalSize, "total_chunks", s.TotalChunks)
	return s, nil
}

// PutChunk records one byte range of a session. Chunks may arrive out of
// order; re-submitting an already covered range is accepted and does not
// grow the received count. Once the last distinct chunk lands the session
// finalizes, and a finalize failure is reported to the caller while the
// session itself survives for retry within its TTL.
func (m *Manager) PutChunk(ctx context.Context, cred remote.Credential, sessionID string, spec Spec, data []byte) (*models.UploadSession, error) {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if m.now().After(s.ExpiresAt) {
		return nil, fmt.Errorf("session %s: %w", sessionID, common.ErrSessionExpired)
	}

	rng, err := spec.Normalize(s.TotalSize)
	if err != nil {
		return nil, err
	}
	if err := checkChunkGrid(rng, s.TotalSize, s.ChunkSize); err != nil {
		return nil, err
	}
	if int64(len(data)) != rng.Len() {
		return nil, fmt.Errorf("range covers %d bytes but %d submitted: %w",
			rng.Len(), len(data), common.ErrValidation)
	}

	if err := m.blobs.Put(ctx, blob.ChunkKey(sessionID, rng.Start, rng.End), data); err != nil {
		return nil, err
	}
	if _, err := m.sessions.AddRange(ctx, sessionID, rng.Start, rng.End); err != nil {
		return nil, err
	}

	s, err = m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.ChunksReceived == s.TotalChunks {
		if err := m.finalize(ctx, cred, s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// SessionStatus returns a session with its recorded coverage.
func (m *Manager) SessionStatus(ctx context.Context, sessionID string) (*models.UploadSession, []models.ChunkRange, error) {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ranges, err := m.sessions.ListRanges(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return s, ranges, nil
}

// finalize reassembles the staged chunks, verifies size, deduplicates and
// pushes the object to the tracker. Success writes a synced attachment
// record and drops the session; failure marks the record failed and keeps
// the session alive.
func (m *Manager) finalize(ctx context.Context, cred remote.Credential, s *models.UploadSession) error {
	ranges, err := m.sessions.ListRanges(ctx, s.SessionID)
	if err != nil {
		return err
	}
	if !covered(ranges, s.TotalSize) {
		return fmt.Errorf("session %s coverage incomplete: %w", s.SessionID, common.ErrIntegrity)
	}

	assembled := make([]byte, 0, s.TotalSize)
	for _, r := range ranges {
		chunk, err := m.blobs.Get(ctx, blob.ChunkKey(s.SessionID, r.StartByte, r.EndByte))
		if err != nil {
			return err
		}
		assembled = append(assembled, chunk...)
	}
	if int64(len(assembled)) != s.TotalSize {
		return m.failFinalize(ctx, s, fmt.Errorf("reassembled %d bytes, declared %d: %w",
			len(assembled), s.TotalSize, common.ErrIntegrity))
	}

	contentHash := hashx.Fingerprint(assembled)
	attachmentID := sessionAttachmentID(s.SessionID)

	if err := m.ensureRecord(ctx, s, attachmentID, contentHash); err != nil {
		return err
	}

	remoteRef, err := m.resolveRemote(ctx, cred, s, attachmentID, contentHash, assembled)
	if err != nil {
		return m.failFinalize(ctx, s, err)
	}

	if err := m.adapter.LinkObject(ctx, cred, s.WorkItemID, remoteRef, "synced from local store"); err != nil {
		return m.failFinalize(ctx, s, err)
	}

	localKey := blob.AttachmentKey(s.WorkItemID, attachmentID)
	if err := m.blobs.Put(ctx, localKey, assembled); err != nil {
		return m.failFinalize(ctx, s, err)
	}

	if err := m.attachments.SetRemote(ctx, attachmentID, remoteRef, ""); err != nil {
		return err
	}
	if err := m.attachments.UpdateStatus(ctx, attachmentID, models.StatusSynced); err != nil {
		return err
	}

	m.dropStagedChunks(ctx, s.SessionID, ranges)
	if err := m.sessions.Delete(ctx, s.SessionID); err != nil {
		return err
	}

	_ = m.events.Append(ctx, &models.Event{
		EventType:    "upload.session.finalized",
		Severity:     models.SeverityInfo,
		Source:       models.SourceAPI,
		WorkItemID:   s.WorkItemID,
		AttachmentID: attachmentID,
		Message:      fmt.Sprintf("session %s finalized into %s", s.SessionID, attachmentID),
	})
	m.logger.Info(ctx, "upload session finalized",
		"session_id", s.SessionID, "attachment_id", attachmentID, "remote_reference", remoteRef)
	return nil
}

// resolveRemote returns the canonical remote reference for the assembled
// content: a dedup hit reuses the existing object with no transfer, a won
// claim transfers exactly once, and a lost in-flight claim is a retryable
// conflict.
func (m *Manager) resolveRemote(ctx context.Context, cred remote.Credential, s *models.UploadSession, attachmentID, contentHash string, assembled []byte) (string, error) {
	scopeKey := m.scope.Key(s.WorkItemID)
	won, existing, err := m.dedup.Claim(ctx, contentHash, scopeKey, attachmentID)
	if err != nil {
		return "", err
	}
	if !won {
		if existing.RemoteReference == "" {
			return "", fmt.Errorf("content %s transfer in flight: %w", contentHash, common.ErrConflict)
		}
		_ = m.dedup.IncrementDuplicates(ctx, contentHash, scopeKey)
		return existing.RemoteReference, nil
	}

	remoteRef, err := m.adapter.UploadObject(ctx, cred, assembled, remote.ObjectMetadata{
		WorkItemID: s.WorkItemID,
		FileName:   s.FileName,
		MimeType:   s.MimeType,
		Size:       s.TotalSize,
	})
	if err != nil {
		// Release the claim so a later retry can win it again.
		_ = m.dedup.Delete(ctx, contentHash, scopeKey)
		return "", err
	}
	if err := m.dedup.SetRemoteReference(ctx, contentHash, scopeKey, remoteRef); err != nil {
		return "", err
	}
	return remoteRef, nil
}

func (m *Manager) ensureRecord(ctx context.Context, s *models.UploadSession, attachmentID, contentHash string) error {
	_, err := m.attachments.GetByID(ctx, attachmentID)
	if err == nil {
		return m.attachments.SetContentHash(ctx, attachmentID, contentHash)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return m.attachments.Create(ctx, &models.Attachment{
		AttachmentID: attachmentID,
		WorkItemID:   s.WorkItemID,
		FileName:     s.FileName,
		FileSize:     s.TotalSize,
		ContentHash:  contentHash,
		MimeType:     s.MimeType,
		Source:       models.SourceTool,
		LocalPath:    blob.AttachmentKey(s.WorkItemID, attachmentID),
		SyncStatus:   models.StatusSyncing,
	})
}

func (m *Manager) failFinalize(ctx context.Context, s *models.UploadSession, cause error) error {
	attachmentID := sessionAttachmentID(s.SessionID)
	if err := m.attachments.UpdateStatus(ctx, attachmentID, models.StatusFailed); err != nil && !errors.Is(err, common.ErrNotFound) {
		m.logger.Error(ctx, "failed to mark attachment failed", "attachment_id", attachmentID, "error", err)
	}
	_ = m.events.Append(ctx, &models.Event{
		EventType:    "upload.session.finalize_failed",
		Severity:     models.SeverityError,
		Source:       models.SourceAPI,
		WorkItemID:   s.WorkItemID,
		AttachmentID: attachmentID,
		Message:      cause.Error(),
	})
	return cause
}

// SweepExpired deletes sessions past their TTL along with their staged
// chunks, logging a warning event per session. Returns how many sessions
// were reclaimed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.sessions.ListExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, s := range expired {
		ranges, err := m.sessions.ListRanges(ctx, s.SessionID)
		if err != nil {
			return swept, err
		}
		m.dropStagedChunks(ctx, s.SessionID, ranges)
		if err := m.sessions.Delete(ctx, s.SessionID); err != nil {
			return swept, err
		}
		_ = m.events.Append(ctx, &models.Event{
			EventType:  "upload.session.expired",
			Severity:   models.SeverityWarn,
			Source:     models.SourceScheduler,
			WorkItemID: s.WorkItemID,
			Message:    fmt.Sprintf("session %s expired with %d/%d chunks", s.SessionID, s.ChunksReceived, s.TotalChunks),
		})
		swept++
	}
	return swept, nil
}

func (m *Manager) dropStagedChunks(ctx context.Context, sessionID string, ranges []models.ChunkRange) {
	for _, r := range ranges {
		key := blob.ChunkKey(sessionID, r.StartByte, r.EndByte)
		if err := m.blobs.Delete(ctx, key); err != nil {
			m.logger.Warn(ctx, "failed to drop staged chunk", "key", key, "error", err)
		}
	}
}

// checkChunkGrid requires ranges to align with the session's chunk size,
// so the received count can be compared against total_chunks directly.
func checkChunkGrid(r Range, totalSize, chunkSize int64) error {
	if r.Start%chunkSize != 0 {
		return fmt.Errorf("range start %d not aligned to chunk size %d: %w",
			r.Start, chunkSize, common.ErrValidation)
	}
	wantEnd := r.Start + chunkSize - 1
	if wantEnd > totalSize-1 {
		wantEnd = totalSize - 1
	}
	if r.End != wantEnd {
		return fmt.Errorf("range end %d, expected %d: %w", r.End, wantEnd, common.ErrValidation)
	}
	return nil
}

// sessionAttachmentID derives a stable attachment id from the session id,
// so a finalize retry after a partial failure updates the same record.
func sessionAttachmentID(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("upload-session:"+sessionID)).String()
}
