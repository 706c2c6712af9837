// Package sessions implements upload session storage. Sessions live in the
// database rather than process memory so a partial chunked transfer can be
// resumed by any worker after a crash.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/dbx"
	"github.com/dkaspars/attachsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `session_id, work_item_id, file_name, mime_type, total_size,
		chunk_size, total_chunks, chunks_received, expires_at, created_at`

func (r *PostgresRepository) Create(ctx context.Context, s *models.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (session_id, work_item_id, file_name, mime_type,
			total_size, chunk_size, total_chunks, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.SessionID, s.WorkItemID, s.FileName, s.MimeType,
		s.TotalSize, s.ChunkSize, s.TotalChunks, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE session_id=$1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) AddRange(ctx context.Context, sessionID string, startByte, endByte int64) (bool, error) {
	query := `
		INSERT INTO upload_chunks (session_id, start_byte, end_byte)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, start_byte, end_byte) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, sessionID, startByte, endByte)
	if err != nil {
		return false, fmt.Errorf("failed to insert chunk range: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		// Duplicate submission of an already covered range.
		return false, nil
	}

	bump := `UPDATE upload_sessions SET chunks_received=chunks_received+1 WHERE session_id=$1`
	if _, err := r.db.ExecContext(ctx, bump, sessionID); err != nil {
		return false, fmt.Errorf("failed to bump chunks_received: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) ListRanges(ctx context.Context, sessionID string) ([]models.ChunkRange, error) {
	query := `SELECT session_id, start_byte, end_byte FROM upload_chunks
		WHERE session_id=$1 ORDER BY start_byte`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk ranges: %w", err)
	}
	defer rows.Close()

	var result []models.ChunkRange
	for rows.Next() {
		var cr models.ChunkRange
		if err := rows.Scan(&cr.SessionID, &cr.StartByte, &cr.EndByte); err != nil {
			return nil, err
		}
		result = append(result, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, sessionID string) error {
	// upload_chunks rows go with the session via ON DELETE CASCADE.
	result, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE session_id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("wrong rows affected count %d: %w", n, common.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE expires_at <= $1`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.UploadSession, error) {
	s := &models.UploadSession{}
	err := row.Scan(&s.SessionID, &s.WorkItemID, &s.FileName, &s.MimeType, &s.TotalSize,
		&s.ChunkSize, &s.TotalChunks, &s.ChunksReceived, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
