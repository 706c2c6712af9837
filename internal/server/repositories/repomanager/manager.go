package repomanager

import (
	"context"
	"database/sql"

	"github.com/dkaspars/attachsync/internal/dbx"
	"github.com/dkaspars/attachsync/internal/server/repositories/attachments"
	"github.com/dkaspars/attachsync/internal/server/repositories/dedup"
	"github.com/dkaspars/attachsync/internal/server/repositories/events"
	"github.com/dkaspars/attachsync/internal/server/repositories/jobs"
	"github.com/dkaspars/attachsync/internal/server/repositories/sessions"
	"github.com/dkaspars/attachsync/internal/server/repositories/subscriptions"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// callers can run several repositories inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Attachments(db dbx.DBTX) attachments.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Jobs(db dbx.DBTX) jobs.Repository
	Events(db dbx.DBTX) events.Repository
	Dedup(db dbx.DBTX) dedup.Repository
	Subscriptions(db dbx.DBTX) subscriptions.Repository
}
