package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/hashx"
	"github.com/dkaspars/attachsync/internal/server/blob"
	"github.com/dkaspars/attachsync/internal/server/models"
	"github.com/dkaspars/attachsync/internal/server/remote"
)

// Execute runs one claimed sync job. Errors are returned unclassified; the
// worker pool classifies them and decides whether the job retries.
func (s *Syncer) Execute(ctx context.Context, job *models.SyncJob) error {
	if job.Discovery() {
		return s.reconcileWorkItem(ctx, job.WorkItemID)
	}

	switch job.JobType {
	case models.JobUpload:
		return s.executeUpload(ctx, job)
	case models.JobDownload:
		return s.executeDownload(ctx, job)
	case models.JobLink:
		return s.executeLink(ctx, job)
	case models.JobUnlink:
		return s.executeUnlink(ctx, job)
	case models.JobDelete:
		return s.executeDelete(ctx, job)
	default:
		return fmt.Errorf("%w: unknown job type %q", common.ErrValidation, job.JobType)
	}
}

// executeUpload transfers staged content to the tracker. The dedup claim
// happens here, at transfer time: of N concurrent jobs carrying identical
// content exactly one wins the claim and uploads; the rest either adopt
// the winner's remote reference or retry while the winner is in flight.
func (s *Syncer) executeUpload(ctx context.Context, job *models.SyncJob) error {
	a, err := s.attachments.GetByID(ctx, job.AttachmentID)
	if err != nil {
		return fmt.Errorf("failed to load attachment: %w", err)
	}
	if a.ContentHash == "" {
		return fmt.Errorf("%w: attachment %s has no content fingerprint", common.ErrValidation, a.AttachmentID)
	}

	data, err := s.blobs.Get(ctx, blob.AttachmentKey(a.WorkItemID, a.AttachmentID))
	if err != nil {
		return fmt.Errorf("failed to read staged content: %w", err)
	}
	if got := hashx.Fingerprint(data); got != a.ContentHash {
		return fmt.Errorf("%w: staged content fingerprint %s does not match record %s", common.ErrIntegrity, got, a.ContentHash)
	}

	scopeKey := s.scope.Key(a.WorkItemID)
	remoteRef, err := s.resolveRemote(ctx, a, scopeKey, data)
	if err != nil {
		return err
	}

	if err := s.attachments.SetRemote(ctx, a.AttachmentID, remoteRef, ""); err != nil {
		return fmt.Errorf("failed to record remote reference: %w", err)
	}
	if err := s.attachments.UpdateStatus(ctx, a.AttachmentID, models.StatusSyncing); err != nil {
		return fmt.Errorf("failed to update attachment status: %w", err)
	}
	if err := s.enqueue(ctx, models.JobLink, a.WorkItemID, a.AttachmentID, jobPayload{RemoteReference: remoteRef}); err != nil {
		return err
	}
	s.appendWorker(ctx, "attachment.uploaded", models.SeverityInfo, a.WorkItemID, a.AttachmentID,
		fmt.Sprintf("uploaded %d bytes as remote object %s", len(data), remoteRef))
	return nil
}

// resolveRemote returns the canonical remote reference for the content,
// transferring it only when this attachment wins the dedup claim.
func (s *Syncer) resolveRemote(ctx context.Context, a *models.Attachment, scopeKey string, data []byte) (string, error) {
	won, existing, err := s.dedup.Claim(ctx, a.ContentHash, scopeKey, a.AttachmentID)
	if err != nil {
		return "", fmt.Errorf("failed to claim dedup entry: %w", err)
	}
	if !won {
		if existing.RemoteReference == "" {
			return "", fmt.Errorf("%w: transfer of content %s in flight on attachment %s",
				common.ErrConflict, a.ContentHash, existing.FirstAttachmentID)
		}
		if err := s.dedup.IncrementDuplicates(ctx, a.ContentHash, scopeKey); err != nil {
			s.logger.Warn(ctx, "failed to bump duplicate count", "error", err, "content_hash", a.ContentHash)
		}
		return existing.RemoteReference, nil
	}

	remoteRef, err := s.adapter.UploadObject(ctx, s.cred, data, remoteMeta(a))
	if err != nil {
		// Release the claim so the next attempt, here or on a concurrent
		// duplicate, can try the transfer again.
		if delErr := s.dedup.Delete(ctx, a.ContentHash, scopeKey); delErr != nil {
			s.logger.Error(ctx, "failed to release dedup claim", "error", delErr, "content_hash", a.ContentHash)
		}
		return "", fmt.Errorf("remote upload failed: %w", err)
	}
	if err := s.dedup.SetRemoteReference(ctx, a.ContentHash, scopeKey, remoteRef); err != nil {
		return "", fmt.Errorf("failed to record canonical remote reference: %w", err)
	}
	return remoteRef, nil
}

// executeLink associates the uploaded object with its work item and moves
// the record to synced. A terminal link failure leaves the record in
// syncing with the remote reference intact, which is recoverable by
// force-sync.
func (s *Syncer) executeLink(ctx context.Context, job *models.SyncJob) error {
	a, err := s.attachments.GetByID(ctx, job.AttachmentID)
	if err != nil {
		return fmt.Errorf("failed to load attachment: %w", err)
	}
	if a.RemoteReference == "" {
		return fmt.Errorf("%w: attachment %s has no remote object to link", common.ErrValidation, a.AttachmentID)
	}
	if a.SyncStatus == models.StatusSynced {
		return nil
	}

	comment := fmt.Sprintf("attachment %s synced from local tool", a.FileName)
	if err := s.adapter.LinkObject(ctx, s.cred, a.WorkItemID, a.RemoteReference, comment); err != nil {
		return fmt.Errorf("remote link failed: %w", err)
	}
	if err := s.attachments.UpdateStatus(ctx, a.AttachmentID, models.StatusSynced); err != nil {
		return fmt.Errorf("failed to update attachment status: %w", err)
	}
	s.appendWorker(ctx, "attachment.linked", models.SeverityInfo, a.WorkItemID, a.AttachmentID,
		fmt.Sprintf("linked remote object %s", a.RemoteReference))
	return nil
}

// executeDownload fetches a remote object into the local store, creating
// the mirroring record when the object is new to us. The record id is
// derived from the remote reference so a retried job converges on the same
// record.
func (s *Syncer) executeDownload(ctx context.Context, job *models.SyncJob) error {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.RemoteReference == "" {
		return fmt.Errorf("%w: download job %d has no remote reference", common.ErrValidation, job.ID)
	}

	data, err := s.adapter.FetchObject(ctx, s.cred, p.RemoteReference)
	if err != nil {
		return fmt.Errorf("remote fetch failed: %w", err)
	}
	contentHash := hashx.Fingerprint(data)

	attachmentID := job.AttachmentID
	if attachmentID == "" {
		attachmentID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("remote-object:"+p.RemoteReference)).String()
	}

	a, err := s.attachments.GetByID(ctx, attachmentID)
	if errors.Is(err, common.ErrNotFound) {
		a = &models.Attachment{
			AttachmentID:    attachmentID,
			WorkItemID:      job.WorkItemID,
			FileName:        p.RemoteReference,
			FileSize:        int64(len(data)),
			ContentHash:     contentHash,
			Source:          models.SourceRemote,
			RemoteReference: p.RemoteReference,
			RemoteRevision:  p.RemoteRevision,
			LocalPath:       blob.AttachmentKey(job.WorkItemID, attachmentID),
			SyncStatus:      models.StatusSyncing,
		}
		if err := s.attachments.Create(ctx, a); err != nil {
			return fmt.Errorf("failed to create attachment record: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load attachment: %w", err)
	}

	if err := s.blobs.Put(ctx, blob.AttachmentKey(a.WorkItemID, a.AttachmentID), data); err != nil {
		return fmt.Errorf("failed to store downloaded content: %w", err)
	}
	if err := s.attachments.SetContentHash(ctx, a.AttachmentID, contentHash); err != nil {
		return fmt.Errorf("failed to record content fingerprint: %w", err)
	}
	if err := s.attachments.SetRemote(ctx, a.AttachmentID, p.RemoteReference, p.RemoteRevision); err != nil {
		return fmt.Errorf("failed to record remote revision: %w", err)
	}
	if err := s.attachments.UpdateStatus(ctx, a.AttachmentID, models.StatusSynced); err != nil {
		return fmt.Errorf("failed to update attachment status: %w", err)
	}

	// Register the fingerprint so a later local upload of the same bytes
	// reuses this object instead of transferring again.
	scopeKey := s.scope.Key(a.WorkItemID)
	won, _, err := s.dedup.Claim(ctx, contentHash, scopeKey, a.AttachmentID)
	if err != nil {
		s.logger.Warn(ctx, "failed to register downloaded content in dedup index", "error", err)
	} else if won {
		if err := s.dedup.SetRemoteReference(ctx, contentHash, scopeKey, p.RemoteReference); err != nil {
			s.logger.Warn(ctx, "failed to record canonical remote reference", "error", err)
		}
	}

	s.appendWorker(ctx, "attachment.downloaded", models.SeverityInfo, a.WorkItemID, a.AttachmentID,
		fmt.Sprintf("downloaded %d bytes from remote object %s", len(data), p.RemoteReference))
	return nil
}

// executeUnlink removes the work-item association. The remote object and
// the local content survive; the record drops back to pending.
func (s *Syncer) executeUnlink(ctx context.Context, job *models.SyncJob) error {
	a, err := s.attachments.GetByID(ctx, job.AttachmentID)
	if err != nil {
		return fmt.Errorf("failed to load attachment: %w", err)
	}
	if a.RemoteReference != "" {
		if err := s.adapter.DeleteLink(ctx, s.cred, a.WorkItemID, a.RemoteReference); err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("remote unlink failed: %w", err)
		}
	}
	if err := s.attachments.UpdateStatus(ctx, a.AttachmentID, models.StatusPending); err != nil {
		return fmt.Errorf("failed to update attachment status: %w", err)
	}
	s.appendWorker(ctx, "attachment.unlinked", models.SeverityInfo, a.WorkItemID, a.AttachmentID,
		fmt.Sprintf("unlinked remote object %s", a.RemoteReference))
	return nil
}

// executeDelete soft-deletes the local record. A locally originated delete
// also removes the remote link first; a remote-originated delete only
// reconciles local state. Local content is dropped in both cases.
func (s *Syncer) executeDelete(ctx context.Context, job *models.SyncJob) error {
	var p jobPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("%w: malformed delete payload: %v", common.ErrValidation, err)
		}
	}

	a, err := s.attachments.GetByID(ctx, job.AttachmentID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load attachment: %w", err)
	}
	if a.DeletedAt != nil {
		return nil
	}

	if p.Origin != "remote" && a.RemoteReference != "" {
		if err := s.adapter.DeleteLink(ctx, s.cred, a.WorkItemID, a.RemoteReference); err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("remote delete failed: %w", err)
		}
	}

	if err := s.blobs.Delete(ctx, blob.AttachmentKey(a.WorkItemID, a.AttachmentID)); err != nil && !errors.Is(err, common.ErrNotFound) {
		s.logger.Warn(ctx, "failed to drop local content", "error", err, "attachment_id", a.AttachmentID)
	}
	if err := s.attachments.SoftDelete(ctx, a.AttachmentID); err != nil {
		return fmt.Errorf("failed to soft-delete attachment: %w", err)
	}
	s.appendWorker(ctx, "attachment.deleted", models.SeverityInfo, a.WorkItemID, a.AttachmentID,
		fmt.Sprintf("deleted attachment %s (origin %s)", a.FileName, originOrLocal(p.Origin)))
	return nil
}

func originOrLocal(origin string) string {
	if origin == "" {
		return "local"
	}
	return origin
}

func remoteMeta(a *models.Attachment) remote.ObjectMetadata {
	return remote.ObjectMetadata{
		WorkItemID: a.WorkItemID,
		FileName:   a.FileName,
		MimeType:   a.MimeType,
		Size:       a.FileSize,
	}
}

func (s *Syncer) appendWorker(ctx context.Context, eventType string, severity models.EventSeverity, workItemID, attachmentID, msg string) {
	err := s.events.Append(ctx, &models.Event{
		EventType:    eventType,
		Severity:     severity,
		Source:       models.SourceWorker,
		WorkItemID:   workItemID,
		AttachmentID: attachmentID,
		Message:      msg,
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.logger.Error(ctx, "failed to append event", "error", err, "event_type", eventType)
	}
}
