// Package webhook ingests change notifications pushed by the remote
// tracker. Payloads are authenticated with a per-subscription HMAC secret,
// deduplicated through the event log and translated into sync jobs; the
// worker pool does the actual transfer work later.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/logging"
	"github.com/dkaspars/attachsync/internal/server/models"
	"github.com/dkaspars/attachsync/internal/server/repositories/attachments"
	"github.com/dkaspars/attachsync/internal/server/repositories/events"
	"github.com/dkaspars/attachsync/internal/server/repositories/jobs"
	"github.com/dkaspars/attachsync/internal/server/repositories/subscriptions"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Attachsync-Signature"
	// SubscriptionHeader names the subscription whose secret signed the body.
	SubscriptionHeader = "X-Attachsync-Subscription"

	maxBodySize = 1 << 20
)

// Change types the remote tracker pushes.
const (
	EventObjectCreated   = "attachment.created"
	EventObjectUpdated   = "attachment.updated"
	EventObjectDeleted   = "attachment.deleted"
	EventRelationChanged = "attachment.relation_changed"
)

// Payload is the notification body pushed by the remote tracker.
type Payload struct {
	EventType string   `json:"eventType"`
	Resource  Resource `json:"resource"`
}

// Resource describes the remote object the notification is about.
type Resource struct {
	ID         string          `json:"id"`
	Revision   string          `json:"revision"`
	WorkItemID string          `json:"workItemId"`
	Fields     json.RawMessage `json:"fields,omitempty"`
}

// TxRunner runs fn with job and event repositories bound to a single
// database transaction, so a delivery's enqueue and its dedupe record
// commit together or not at all.
type TxRunner func(ctx context.Context, fn func(ctx context.Context, jb jobs.Repository, ev events.Repository) error) error

// Handler authenticates, deduplicates and translates inbound notifications.
type Handler struct {
	subscriptions subscriptions.Repository
	events        events.Repository
	attachments   attachments.Repository
	tx            TxRunner
	logger        logging.Logger
}

func NewHandler(subs subscriptions.Repository, ev events.Repository, att attachments.Repository,
	tx TxRunner, logger logging.Logger) *Handler {
	return &Handler{subscriptions: subs, events: ev, attachments: att, tx: tx, logger: logger}
}

// DedupeKey builds the idempotency key a delivery is recorded under.
// Redeliveries of the same (subscription, resource, revision) produce the
// same key and are dropped.
func DedupeKey(subscriptionID, resourceID, revision string) string {
	return fmt.Sprintf("%s:%s:%s", subscriptionID, resourceID, revision)
}

// ServeHTTP accepts one notification. Responses: 202 accepted (including
// deduplicated redeliveries), 401 bad signature or unknown subscription,
// 400 malformed body, 405 anything but POST.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	subscriptionID := r.Header.Get(SubscriptionHeader)
	sub, err := h.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			h.logger.Error(ctx, "failed to load webhook subscription", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		h.reject(ctx, subscriptionID, "unknown subscription")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if !sub.IsActive || !Verify(body, r.Header.Get(SignatureHeader), sub.Secret) {
		h.reject(ctx, subscriptionID, "signature verification failed")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil || p.EventType == "" || p.Resource.ID == "" || p.Resource.WorkItemID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted, err := h.Accept(ctx, sub, &p)
	if err != nil {
		h.logger.Error(ctx, "failed to process webhook delivery", "error", err,
			"event_type", p.EventType, "resource_id", p.Resource.ID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !accepted {
		h.logger.Info(ctx, "duplicate webhook delivery dropped",
			"subscription_id", sub.SubscriptionID, "resource_id", p.Resource.ID, "revision", p.Resource.Revision)
	}
	w.WriteHeader(http.StatusAccepted)
}

// Accept deduplicates the delivery, records it in the event log and
// enqueues the translated sync job. Returns false when the delivery was a
// redelivery and nothing was enqueued. The dedupe check, enqueue and log
// append run in one transaction: a failure anywhere rolls back the whole
// delivery, so a redelivery can pick it up cleanly.
func (h *Handler) Accept(ctx context.Context, sub *models.WebhookSubscription, p *Payload) (bool, error) {
	key := DedupeKey(sub.SubscriptionID, p.Resource.ID, p.Resource.Revision)
	job, err := h.Translate(ctx, p)
	if err != nil {
		return false, err
	}

	accepted := false
	err = h.tx(ctx, func(ctx context.Context, jb jobs.Repository, ev events.Repository) error {
		seen, err := ev.DedupeKeyExists(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to check delivery dedupe key: %w", err)
		}
		if seen {
			return nil
		}
		if _, err := jb.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue webhook job: %w", err)
		}

		evCtx, _ := json.Marshal(map[string]string{
			"resource_id": p.Resource.ID,
			"revision":    p.Resource.Revision,
			"job_type":    string(job.JobType),
		})
		err = ev.Append(ctx, &models.Event{
			EventType:    "webhook.delivery.accepted",
			Severity:     models.SeverityInfo,
			Source:       models.SourceWebhook,
			WorkItemID:   p.Resource.WorkItemID,
			AttachmentID: job.AttachmentID,
			DedupeKey:    key,
			Message:      fmt.Sprintf("accepted %s for remote object %s", p.EventType, p.Resource.ID),
			Context:      evCtx,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to record webhook delivery: %w", err)
		}
		accepted = true
		return nil
	})
	return accepted, err
}

// Translate maps a remote change notification to the sync job that
// reconciles it locally. Created and updated objects become download jobs,
// relation changes become link-discovery jobs for the whole work item, and
// deletions become delete jobs against the mirroring local record.
func (h *Handler) Translate(ctx context.Context, p *Payload) (*models.SyncJob, error) {
	job := &models.SyncJob{
		WorkItemID: p.Resource.WorkItemID,
		Priority:   models.DefaultPriority,
	}

	switch p.EventType {
	case EventObjectCreated, EventObjectUpdated:
		job.JobType = models.JobDownload
	case EventRelationChanged:
		job.JobType = models.JobLink
		return job, nil
	case EventObjectDeleted:
		job.JobType = models.JobDelete
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", common.ErrValidation, p.EventType)
	}

	// Map the remote object onto a local record when one exists. Downloads
	// of unknown objects create the record inside the worker.
	local, err := h.attachments.GetByRemoteReference(ctx, p.Resource.WorkItemID, p.Resource.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve remote reference: %w", err)
	}
	if local != nil {
		job.AttachmentID = local.AttachmentID
	} else if p.EventType == EventObjectDeleted {
		// Deletion of an object we never mirrored; nothing to reconcile,
		// but the delivery is still recorded for idempotency.
		job.JobType = models.JobLink
		return job, nil
	}

	// Jobs born from a notification reconcile a change that already
	// happened on the tracker; deletes in particular must not be pushed
	// back at it.
	payload, err := json.Marshal(map[string]string{
		"remote_reference": p.Resource.ID,
		"remote_revision":  p.Resource.Revision,
		"origin":           "remote",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	job.Payload = payload
	return job, nil
}

func (h *Handler) reject(ctx context.Context, subscriptionID, reason string) {
	h.logger.Warn(ctx, "webhook delivery rejected", "subscription_id", subscriptionID, "reason", reason)
	err := h.events.Append(ctx, &models.Event{
		EventType: "webhook.delivery.rejected",
		Severity:  models.SeverityWarn,
		Source:    models.SourceWebhook,
		Message:   reason,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.Error(ctx, "failed to record rejected delivery", "error", err)
	}
}
