// Package syncer is the orchestration layer of the sync engine. It owns
// the small-file upload path, the administrative operations (delete,
// unlink, force-sync, status) and the worker-side execution of every sync
// job type. All remote traffic goes through the remote.Adapter; all state
// transitions go through the repositories.
package syncer

import (
	"context"
	"encoding/json"
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
	"github.com/dkaspars/attachsync/internal/server/repositories/jobs"
)

// MaxDirectUploadSize is the largest payload accepted on the direct upload
// path. Anything bigger must go through a chunked upload session.
const MaxDirectUploadSize = 4 << 20

// Syncer coordinates attachment state between the local store and the
// remote tracker.
type Syncer struct {
	attachments attachments.Repository
	jobs        jobs.Repository
	dedup       dedup.Repository
	events      events.Repository
	blobs       blob.Store
	adapter     remote.Adapter
	cred        remote.Credential
	logger      logging.Logger
	scope       models.DedupScope
	now         func() time.Time
}

func New(att attachments.Repository, jb jobs.Repository, dd dedup.Repository,
	ev events.Repository, blobs blob.Store, adapter remote.Adapter,
	cred remote.Credential, scope models.DedupScope, logger logging.Logger) *Syncer {
	if scope != models.ScopeGlobal {
		scope = models.ScopeWorkItem
	}
	return &Syncer{
		attachments: att,
		jobs:        jb,
		dedup:       dd,
		events:      ev,
		blobs:       blobs,
		adapter:     adapter,
		cred:        cred,
		logger:      logger,
		scope:       scope,
		now:         time.Now,
	}
}

// UploadRequest describes one small file submitted on the direct path.
type UploadRequest struct {
	WorkItemID string
	FileName   string
	MimeType   string
	Data       []byte
}

// jobPayload is the JSON payload carried by download, delete and unlink
// jobs.
type jobPayload struct {
	RemoteReference string `json:"remote_reference,omitempty"`
	RemoteRevision  string `json:"remote_revision,omitempty"`
	// Origin is "remote" when the job reconciles a change that already
	// happened on the tracker, "local" when the job must push the change.
	Origin string `json:"origin,omitempty"`
}

func marshalPayload(p jobPayload) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// UploadAndLink accepts a small file, fingerprints it and schedules the
// sync work. A known fingerprint with a completed transfer skips the
// upload entirely and goes straight to linking; everything else is staged
// locally and handed to an upload job. The returned record is in state
// pending or syncing; linking completes asynchronously.
func (s *Syncer) UploadAndLink(ctx context.Context, req UploadRequest) (*models.Attachment, error) {
	if req.WorkItemID == "" || req.FileName == "" {
		return nil, fmt.Errorf("%w: work item id and file name are required", common.ErrValidation)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", common.ErrValidation)
	}
	if len(req.Data) > MaxDirectUploadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes, use a chunked session", common.ErrValidation, MaxDirectUploadSize)
	}

	contentHash := hashx.Fingerprint(req.Data)
	attachmentID := uuid.NewString()
	scopeKey := s.scope.Key(req.WorkItemID)

	a := &models.Attachment{
		AttachmentID: attachmentID,
		WorkItemID:   req.WorkItemID,
		FileName:     req.FileName,
		FileSize:     int64(len(req.Data)),
		ContentHash:  contentHash,
		MimeType:     req.MimeType,
		Source:       models.SourceTool,
		LocalPath:    blob.AttachmentKey(req.WorkItemID, attachmentID),
		SyncStatus:   models.StatusPending,
	}

	if err := s.blobs.Put(ctx, a.LocalPath, req.Data); err != nil {
		return nil, fmt.Errorf("failed to stage upload content: %w", err)
	}

	// Fast path: the content already has a canonical remote object, so no
	// transfer is needed at all.
	entry, err := s.dedup.Lookup(ctx, contentHash, scopeKey)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to check dedup index: %w", err)
	}
	if entry != nil && entry.RemoteReference != "" {
		a.SyncStatus = models.StatusSyncing
		a.RemoteReference = entry.RemoteReference
		if err := s.attachments.Create(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to create attachment record: %w", err)
		}
		if err := s.dedup.IncrementDuplicates(ctx, contentHash, scopeKey); err != nil {
			s.logger.Warn(ctx, "failed to bump duplicate count", "error", err, "content_hash", contentHash)
		}
		if err := s.enqueue(ctx, models.JobLink, req.WorkItemID, attachmentID, jobPayload{RemoteReference: entry.RemoteReference}); err != nil {
			return nil, err
		}
		s.appendInfo(ctx, "attachment.dedup_hit", req.WorkItemID, attachmentID,
			fmt.Sprintf("reusing remote object %s for duplicate content", entry.RemoteReference))
		return a, nil
	}

	// Slow path: transfer needed. The dedup claim itself happens inside the
	// upload job so that concurrent submissions of identical content race
	// at exactly one point.
	if err := s.attachments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create attachment record: %w", err)
	}
	if err := s.enqueue(ctx, models.JobUpload, req.WorkItemID, attachmentID, jobPayload{}); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete schedules removal of the attachment: the remote link is deleted
// first, then the local record is soft-deleted by the job.
func (s *Syncer) Delete(ctx context.Context, attachmentID string) error {
	a, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, models.JobDelete, a.WorkItemID, a.AttachmentID,
		jobPayload{RemoteReference: a.RemoteReference, Origin: "local"})
}

// Link schedules (re-)association of an uploaded object with its work
// item. The attachment must already have a remote reference.
func (s *Syncer) Link(ctx context.Context, attachmentID string) error {
	a, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return err
	}
	if a.RemoteReference == "" {
		return fmt.Errorf("%w: attachment %s has no remote object to link", common.ErrValidation, attachmentID)
	}
	return s.enqueue(ctx, models.JobLink, a.WorkItemID, a.AttachmentID,
		jobPayload{RemoteReference: a.RemoteReference})
}

// Unlink schedules removal of the work-item association. The remote object
// and the local record both survive; the record drops back to pending.
func (s *Syncer) Unlink(ctx context.Context, attachmentID string) error {
	a, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return err
	}
	if a.RemoteReference == "" {
		return fmt.Errorf("%w: attachment %s is not linked", common.ErrValidation, attachmentID)
	}
	return s.enqueue(ctx, models.JobUnlink, a.WorkItemID, a.AttachmentID,
		jobPayload{RemoteReference: a.RemoteReference})
}

// CheckDedup reports whether the given content already has a dedup entry
// within the scope of workItemID. Returns nil when the content is new.
func (s *Syncer) CheckDedup(ctx context.Context, workItemID string, data []byte) (*models.DedupEntry, error) {
	entry, err := s.dedup.Lookup(ctx, hashx.Fingerprint(data), s.scope.Key(workItemID))
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Status returns the per-work-item sync read model: counts by state,
// aggregate size and the latest change timestamp.
func (s *Syncer) Status(ctx context.Context, workItemID string) (*models.StatusSummary, error) {
	return s.attachments.StatusSummary(ctx, workItemID)
}

// ListByWorkItem lists the attachment records of a work item.
func (s *Syncer) ListByWorkItem(ctx context.Context, workItemID string, includeDeleted bool) ([]*models.Attachment, error) {
	return s.attachments.ListByWorkItem(ctx, workItemID, includeDeleted)
}

func (s *Syncer) enqueue(ctx context.Context, jobType models.JobType, workItemID, attachmentID string, p jobPayload) error {
	job := &models.SyncJob{
		WorkItemID:   workItemID,
		AttachmentID: attachmentID,
		JobType:      jobType,
		Priority:     models.DefaultPriority,
		Payload:      marshalPayload(p),
	}
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return nil
}

func (s *Syncer) appendInfo(ctx context.Context, eventType, workItemID, attachmentID, msg string) {
	err := s.events.Append(ctx, &models.Event{
		EventType:    eventType,
		Severity:     models.SeverityInfo,
		Source:       models.SourceAPI,
		WorkItemID:   workItemID,
		AttachmentID: attachmentID,
		Message:      msg,
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.logger.Error(ctx, "failed to append event", "error", err, "event_type", eventType)
	}
}
