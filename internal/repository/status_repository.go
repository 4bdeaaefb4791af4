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

// StatusRepository persists the submission status index: one row per
// (student, assignable content). Writes are owned by the propagation
// service and the submission transition logic.
type StatusRepository struct {
	db *sqlx.DB
}

// NewStatusRepository constructs the repository.
func NewStatusRepository(db *sqlx.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

func (r *StatusRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// StatusPair identifies one (student, content) assignment.
type StatusPair struct {
	StudentID string
	ContentID string
}

// AssignBatch creates rows in state ASSIGNED, ignoring pairs that
// already exist so re-propagation stays idempotent and never regresses
// a SUBMITTED or MARKED row.
func (r *StatusRepository) AssignBatch(ctx context.Context, exec sqlx.ExtContext, pairs []StatusPair) error {
	if len(pairs) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(pairs))
	args := make([]interface{}, 0, len(pairs)*4)
	now := time.Now().UTC()
	for i, p := range pairs {
		base := i * 4
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, p.StudentID, p.ContentID, models.StatusAssigned, now)
	}
	query := fmt.Sprintf(`INSERT INTO submission_statuses (student_id, content_id, state, updated_at)
        VALUES %s ON CONFLICT (student_id, content_id) DO NOTHING`, strings.Join(placeholders, ", "))
	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("assign statuses: %w", err)
	}
	return nil
}

// Remove deletes rows matching the filter.
func (r *StatusRepository) Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StatusFilter) error {
	if filter.Empty() {
		return fmt.Errorf("remove statuses: empty filter")
	}
	var conditions []string
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if len(filter.StudentIDs) > 0 {
		placeholders := make([]string, len(filter.StudentIDs))
		for i, id := range filter.StudentIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		conditions = append(conditions, fmt.Sprintf("student_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ContentID != "" {
		conditions = append(conditions, fmt.Sprintf("content_id = $%d", len(args)+1))
		args = append(args, filter.ContentID)
	}
	query := "DELETE FROM submission_statuses WHERE " + strings.Join(conditions, " AND ")
	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove statuses: %w", err)
	}
	return nil
}

// MarkSubmitted transitions a row to SUBMITTED with the denormalized
// submission pointer and lateness flag.
func (r *StatusRepository) MarkSubmitted(ctx context.Context, exec sqlx.ExtContext, studentID, contentID, submissionID string, isLate bool) error {
	const query = `INSERT INTO submission_statuses (student_id, content_id, state, submission_id, is_late, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (student_id, content_id) DO UPDATE
        SET state = EXCLUDED.state, submission_id = EXCLUDED.submission_id,
            is_late = EXCLUDED.is_late, score = NULL, updated_at = EXCLUDED.updated_at`
	if _, err := r.exec(exec).ExecContext(ctx, query, studentID, contentID, models.StatusSubmitted, submissionID, isLate, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	return nil
}

// MarkGraded transitions a SUBMITTED row to MARKED with the score copy.
func (r *StatusRepository) MarkGraded(ctx context.Context, exec sqlx.ExtContext, studentID, contentID string, score float64) error {
	const query = `UPDATE submission_statuses SET state = $3, score = $4, updated_at = $5
        WHERE student_id = $1 AND content_id = $2`
	res, err := r.exec(exec).ExecContext(ctx, query, studentID, contentID, models.StatusMarked, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark graded: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Find returns the status row for one (student, content) pair.
func (r *StatusRepository) Find(ctx context.Context, studentID, contentID string) (*models.SubmissionStatus, error) {
	const query = `SELECT student_id, content_id, state, submission_id, score, is_late, updated_at
        FROM submission_statuses WHERE student_id = $1 AND content_id = $2`
	var status models.SubmissionStatus
	if err := r.db.GetContext(ctx, &status, query, studentID, contentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find status: %w", err)
	}
	return &status, nil
}

// ListForContentAndGroup answers "status of every student in group G
// for content C" in one pass over the index joined with the roster.
// The submissions table is never touched.
func (r *StatusRepository) ListForContentAndGroup(ctx context.Context, contentID, groupID string) ([]models.GroupStatusRow, error) {
	const query = `SELECT st.id AS student_id, st.full_name AS student_name,
            COALESCE(ss.state, 'ASSIGNED') AS state, ss.score, COALESCE(ss.is_late, FALSE) AS is_late,
            COALESCE(ss.updated_at, st.created_at) AS updated_at
        FROM students st
        LEFT JOIN submission_statuses ss ON ss.student_id = st.id AND ss.content_id = $1
        WHERE st.group_id = $2
        ORDER BY st.full_name ASC`
	var rows []models.GroupStatusRow
	if err := r.db.SelectContext(ctx, &rows, query, contentID, groupID); err != nil {
		return nil, fmt.Errorf("list group statuses: %w", err)
	}
	return rows, nil
}
