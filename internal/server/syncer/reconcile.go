package syncer

import (
	"context"
	"fmt"

	"github.com/dkaspars/attachsync/internal/server/models"
)

// ReconcileFromRemote diffs the tracker's view of a work item against the
// local records and enqueues the jobs that close the gap: a download per
// new or revised remote object, a delete per object that disappeared
// remotely. The jobs run asynchronously; this call only schedules them.
func (s *Syncer) ReconcileFromRemote(ctx context.Context, workItemID string) error {
	return s.reconcileWorkItem(ctx, workItemID)
}

func (s *Syncer) reconcileWorkItem(ctx context.Context, workItemID string) error {
	remoteObjects, err := s.adapter.ListObjects(ctx, s.cred, workItemID)
	if err != nil {
		return fmt.Errorf("remote list failed: %w", err)
	}
	local, err := s.attachments.ListByWorkItem(ctx, workItemID, false)
	if err != nil {
		return fmt.Errorf("failed to list local attachments: %w", err)
	}

	byReference := make(map[string]*models.Attachment, len(local))
	for _, a := range local {
		if a.RemoteReference != "" {
			byReference[a.RemoteReference] = a
		}
	}

	var downloads, deletes int
	for _, obj := range remoteObjects {
		existing, ok := byReference[obj.Reference]
		if ok {
			delete(byReference, obj.Reference)
			if existing.RemoteRevision == obj.Revision {
				continue
			}
		}
		attachmentID := ""
		if existing != nil {
			attachmentID = existing.AttachmentID
		}
		err := s.enqueue(ctx, models.JobDownload, workItemID, attachmentID,
			jobPayload{RemoteReference: obj.Reference, RemoteRevision: obj.Revision, Origin: "remote"})
		if err != nil {
			return err
		}
		downloads++
	}

	// Whatever is left was linked locally but no longer exists remotely.
	for _, a := range byReference {
		err := s.enqueue(ctx, models.JobDelete, workItemID, a.AttachmentID,
			jobPayload{RemoteReference: a.RemoteReference, Origin: "remote"})
		if err != nil {
			return err
		}
		deletes++
	}

	if downloads > 0 || deletes > 0 {
		s.appendWorker(ctx, "workitem.reconciled", models.SeverityInfo, workItemID, "",
			fmt.Sprintf("reconciliation scheduled %d downloads and %d deletions", downloads, deletes))
	}
	return nil
}

// ForceSync kicks a work item back into motion: failed and pending local
// records are re-enqueued for upload, half-linked records get a fresh link
// job and a link-discovery job pulls in remote-side changes. Returns the
// number of jobs enqueued.
func (s *Syncer) ForceSync(ctx context.Context, workItemID string) (int, error) {
	local, err := s.attachments.ListByWorkItem(ctx, workItemID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list local attachments: %w", err)
	}

	enqueued := 0
	for _, a := range local {
		switch {
		case a.SyncStatus == models.StatusSyncing && a.RemoteReference != "":
			// Uploaded but never linked; retry the link.
			err = s.enqueue(ctx, models.JobLink, workItemID, a.AttachmentID,
				jobPayload{RemoteReference: a.RemoteReference})
		case a.SyncStatus == models.StatusPending || a.SyncStatus == models.StatusFailed:
			if a.ContentHash == "" {
				continue
			}
			err = s.enqueue(ctx, models.JobUpload, workItemID, a.AttachmentID, jobPayload{})
		default:
			continue
		}
		if err != nil {
			return enqueued, err
		}
		enqueued++
	}

	// Link-discovery job: reconcile the remote side of the work item.
	job := &models.SyncJob{
		WorkItemID: workItemID,
		JobType:    models.JobLink,
		Priority:   models.DefaultPriority,
	}
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		return enqueued, fmt.Errorf("failed to enqueue link-discovery job: %w", err)
	}
	enqueued++

	s.appendInfo(ctx, "workitem.force_sync", workItemID, "",
		fmt.Sprintf("force sync scheduled %d jobs", enqueued))
	return enqueued, nil
}
