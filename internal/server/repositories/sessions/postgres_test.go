package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func sessionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"session_id", "work_item_id", "file_name", "mime_type", "total_size",
		"chunk_size", "total_chunks", "chunks_received", "expires_at", "created_at",
	})
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	expires := time.Now().Add(24 * time.Hour)
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+upload_sessions`).
		WithArgs("s-1", "wi-1", "video.mp4", "video/mp4", int64(50_000_000), int64(4_000_000), 13, expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.UploadSession{
		SessionID:   "s-1",
		WorkItemID:  "wi-1",
		FileName:    "video.mp4",
		MimeType:    "video/mp4",
		TotalSize:   50_000_000,
		ChunkSize:   4_000_000,
		TotalChunks: 13,
		ExpiresAt:   expires,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestAddRange_NewChunkBumpsCounter(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+upload_chunks.*DO\s+NOTHING`).
		WithArgs("s-1", int64(0), int64(3_999_999)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+upload_sessions\s+SET\s+chunks_received=chunks_received\+1`).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	added, err := repo.AddRange(context.Background(), "s-1", 0, 3_999_999)
	if err != nil {
		t.Fatalf("AddRange error: %v", err)
	}
	if !added {
		t.Fatal("expected new range to report added")
	}
}

func TestAddRange_DuplicateDoesNotBumpCounter(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+upload_chunks`).
		WithArgs("s-1", int64(0), int64(3_999_999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.AddRange(context.Background(), "s-1", 0, 3_999_999)
	if err != nil {
		t.Fatalf("AddRange error: %v", err)
	}
	if added {
		t.Fatal("duplicate range must not report added")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("counter must not be bumped for a duplicate: %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+upload_sessions\s+WHERE\s+session_id=\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sessionRows().
		AddRow("s-old", "wi-1", "big.bin", "application/octet-stream",
			int64(100), int64(10), 10, 4, now.Add(-time.Hour), now.Add(-25*time.Hour))

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+upload_sessions\s+WHERE\s+expires_at\s*<=\s*\$1`).
		WithArgs(now).
		WillReturnRows(rows)

	got, err := repo.ListExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("ListExpired error: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s-old" || got[0].ChunksReceived != 4 {
		t.Fatalf("unexpected sessions: %+v", got)
	}
}

func TestDelete_CascadesThroughSchema(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+upload_sessions\s+WHERE\s+session_id=\$1`).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "s-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
}
