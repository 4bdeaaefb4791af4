package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/franciumm/edusite-api/internal/models"
)

// StreamRepository persists the content stream index. All writes go
// through the propagation service; other services only read.
type StreamRepository struct {
	db *sqlx.DB
}

// NewStreamRepository constructs the repository.
func NewStreamRepository(db *sqlx.DB) *StreamRepository {
	return &StreamRepository{db: db}
}

func (r *StreamRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// UpsertBatch inserts entries, ignoring duplicates on (user_id, content_id).
func (r *StreamRepository) UpsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.StreamEntry) error {
	if len(entries) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*6)
	now := time.Now().UTC()
	for i, e := range entries {
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, e.UserID, e.ContentID, e.ContentType, e.GroupID, e.GradeID, created)
	}
	query := fmt.Sprintf(`INSERT INTO stream_entries (user_id, content_id, content_type, group_id, grade_id, created_at)
        VALUES %s ON CONFLICT (user_id, content_id) DO NOTHING`, strings.Join(placeholders, ", "))
	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert stream entries: %w", err)
	}
	return nil
}

// Remove deletes entries matching the filter. An empty filter is
// rejected so a bug can never truncate the index.
func (r *StreamRepository) Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StreamFilter) error {
	if filter.Empty() {
		return fmt.Errorf("remove stream entries: empty filter")
	}
	var conditions []string
	var args []interface{}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if len(filter.UserIDs) > 0 {
		placeholders := make([]string, len(filter.UserIDs))
		for i, id := range filter.UserIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		conditions = append(conditions, fmt.Sprintf("user_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ContentID != "" {
		conditions = append(conditions, fmt.Sprintf("content_id = $%d", len(args)+1))
		args = append(args, filter.ContentID)
	}
	if filter.ContentType != "" {
		conditions = append(conditions, fmt.Sprintf("content_type = $%d", len(args)+1))
		args = append(args, filter.ContentType)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	query := "DELETE FROM stream_entries WHERE " + strings.Join(conditions, " AND ")
	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove stream entries: %w", err)
	}
	return nil
}

// Find returns the entry for (user, content) or nil when absent.
func (r *StreamRepository) Find(ctx context.Context, userID, contentID string, contentType models.ContentType) (*models.StreamEntry, error) {
	const query = `SELECT user_id, content_id, content_type, group_id, grade_id, created_at
        FROM stream_entries WHERE user_id = $1 AND content_id = $2 AND content_type = $3`
	var entry models.StreamEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, userID, contentID, contentType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find stream entry: %w", err)
	}
	return &entry, nil
}

// ListContentIDsForUser is the feed read path: content IDs visible to
// one user for one type, newest entries first.
func (r *StreamRepository) ListContentIDsForUser(ctx context.Context, userID string, contentType models.ContentType) ([]string, error) {
	const query = `SELECT content_id FROM stream_entries
        WHERE user_id = $1 AND content_type = $2 ORDER BY created_at DESC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, contentType); err != nil {
		return nil, fmt.Errorf("list stream content ids: %w", err)
	}
	return ids, nil
}

// ListUserIDsForContent returns every user holding an entry for the
// content; used for cache invalidation before a cascade delete.
func (r *StreamRepository) ListUserIDsForContent(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	const query = `SELECT user_id FROM stream_entries WHERE content_id = $1`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, contentID); err != nil {
		return nil, fmt.Errorf("list stream users: %w", err)
	}
	return ids, nil
}
