package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/franciumm/edusite-api/internal/models"
)

// SubmissionRepository persists submitted work. The uniqueness
// constraint on (student_id, content_id) serializes concurrent
// submissions: the loser's insert turns into the conflict update.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// Upsert inserts the submission or, on the (student, content) conflict,
// overwrites the existing row bumping its version. The resulting ID and
// version are written back into sub.
func (r *SubmissionRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	sub.Version = 1
	const query = `INSERT INTO submissions (id, student_id, content_id, content_type, version, bucket, file_key, score, feedback, is_late, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8, $9)
        ON CONFLICT (student_id, content_id) DO UPDATE
        SET version = submissions.version + 1, bucket = EXCLUDED.bucket, file_key = EXCLUDED.file_key,
            score = NULL, feedback = NULL, is_late = EXCLUDED.is_late, submitted_at = EXCLUDED.submitted_at
        RETURNING id, version`
	row := r.exec(exec).QueryRowxContext(ctx, query,
		sub.ID, sub.StudentID, sub.ContentID, sub.ContentType, sub.Version,
		sub.Bucket, sub.FileKey, sub.IsLate, sub.SubmittedAt)
	if err := row.Scan(&sub.ID, &sub.Version); err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}
	return nil
}

// FindByID returns one submission.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	const query = `SELECT id, student_id, content_id, content_type, version, bucket, file_key, score, feedback, is_late, submitted_at
        FROM submissions WHERE id = $1`
	var sub models.Submission
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindByStudentAndContent returns the current submission for a pair.
func (r *SubmissionRepository) FindByStudentAndContent(ctx context.Context, studentID, contentID string) (*models.Submission, error) {
	const query = `SELECT id, student_id, content_id, content_type, version, bucket, file_key, score, feedback, is_late, submitted_at
        FROM submissions WHERE student_id = $1 AND content_id = $2`
	var sub models.Submission
	if err := r.db.GetContext(ctx, &sub, query, studentID, contentID); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByContent returns every submission for a content item, used by
// the cascade delete to collect blob keys.
func (r *SubmissionRepository) ListByContent(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]models.Submission, error) {
	const query = `SELECT id, student_id, content_id, content_type, version, bucket, file_key, score, feedback, is_late, submitted_at
        FROM submissions WHERE content_id = $1`
	var subs []models.Submission
	if err := sqlx.SelectContext(ctx, r.exec(exec), &subs, query, contentID); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

// SetScore stores a score and feedback on the submission.
func (r *SubmissionRepository) SetScore(ctx context.Context, exec sqlx.ExtContext, id string, score float64, feedback *string) error {
	const query = `UPDATE submissions SET score = $2, feedback = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, score, feedback); err != nil {
		return fmt.Errorf("set submission score: %w", err)
	}
	return nil
}

// DeleteByContent removes all submission rows for a content item and
// reports how many were removed.
func (r *SubmissionRepository) DeleteByContent(ctx context.Context, exec sqlx.ExtContext, contentID string) (int64, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM submissions WHERE content_id = $1`, contentID)
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	return n, nil
}

// Delete removes a single submission row.
func (r *SubmissionRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	return nil
}
