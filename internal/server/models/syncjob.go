package models

import (
	"encoding/json"
	"time"

	"github.com/dkaspars/attachsync/internal/common"
)

// JobType names the kind of sync work a job carries.
type JobType string

const (
	JobUpload   JobType = "upload"
	JobDownload JobType = "download"
	JobLink     JobType = "link"
	JobUnlink   JobType = "unlink"
	JobDelete   JobType = "delete"
)

// JobStatus is the job lifecycle state.
// queued -> processing -> completed | failed; a failed job with retry
// budget left returns to queued once NextRetryAt elapses.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// DefaultPriority is used for jobs enqueued by the webhook ingress and the
// administrative surface. Lower numbers claim first.
const DefaultPriority = 100

// SyncJob is one unit of asynchronous sync work.
type SyncJob struct {
	ID         int64
	WorkItemID string
	// AttachmentID is empty for link-discovery jobs, which reconcile a whole
	// work item rather than a single attachment.
	AttachmentID string
	JobType      JobType
	Status       JobStatus
	Priority     int

	RetryCount int
	MaxRetries int

	Payload json.RawMessage

	ErrorCategory common.Category
	ErrorMessage  string
	// NextRetryAt is set only while the job is failed, retryable and within
	// its retry budget. A terminal failure clears it.
	NextRetryAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Discovery reports whether the job is a link-discovery job: a link job
// without an attachment, meaning "reconcile this work item from remote".
func (j *SyncJob) Discovery() bool {
	return j.JobType == JobLink && j.AttachmentID == ""
}
