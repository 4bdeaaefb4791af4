package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/franciumm/edusite-api/internal/models"
)

// ContentRepository persists content items and their linkage rows
// (groups, exceptions, rejections, enrollments, section children).
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository constructs the repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func (r *ContentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

const contentColumns = `id, content_type, name, created_by, grade_id, start_at, end_at, publish_at, allow_late, bucket, file_key, answer_key, created_at`

// Create inserts the content row.
func (r *ContentRepository) Create(ctx context.Context, exec sqlx.ExtContext, content *models.Content) error {
	if content.ID == "" {
		content.ID = uuid.NewString()
	}
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO contents (id, content_type, name, created_by, grade_id, start_at, end_at, publish_at, allow_late, bucket, file_key, answer_key, created_at)
        VALUES (:id, :content_type, :name, :created_by, :grade_id, :start_at, :end_at, :publish_at, :allow_late, :bucket, :file_key, :answer_key, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, content); err != nil {
		return fmt.Errorf("create content: %w", err)
	}
	return nil
}

// FindByID returns a content item by ID.
func (r *ContentRepository) FindByID(ctx context.Context, id string) (*models.Content, error) {
	query := fmt.Sprintf(`SELECT %s FROM contents WHERE id = $1`, contentColumns)
	var content models.Content
	if err := r.db.GetContext(ctx, &content, query, id); err != nil {
		return nil, err
	}
	return &content, nil
}

// ListByIDs fetches content rows preserving no particular order.
func (r *ContentRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Content, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT %s FROM contents WHERE id IN (?)`, contentColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("build content query: %w", err)
	}
	query = r.db.Rebind(query)
	var contents []models.Content
	if err := r.db.SelectContext(ctx, &contents, query, args...); err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	return contents, nil
}

// ListByType returns every content item of one type, newest first.
// Used by the main-teacher listing which bypasses the stream index.
func (r *ContentRepository) ListByType(ctx context.Context, contentType models.ContentType) ([]models.Content, error) {
	query := fmt.Sprintf(`SELECT %s FROM contents WHERE content_type = $1 ORDER BY created_at DESC`, contentColumns)
	var contents []models.Content
	if err := r.db.SelectContext(ctx, &contents, query, contentType); err != nil {
		return nil, fmt.Errorf("list contents by type: %w", err)
	}
	return contents, nil
}

// UpdateMeta updates the mutable fields of a content row.
func (r *ContentRepository) UpdateMeta(ctx context.Context, exec sqlx.ExtContext, content *models.Content) error {
	const query = `UPDATE contents SET name = :name, start_at = :start_at, end_at = :end_at,
        publish_at = :publish_at, allow_late = :allow_late WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, content); err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

// Delete removes the content row, reporting whether it existed.
func (r *ContentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM contents WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete content: %w", err)
	}
	return n > 0, nil
}

// DeleteLinks removes every linkage row owned by the content.
func (r *ContentRepository) DeleteLinks(ctx context.Context, exec sqlx.ExtContext, contentID string) error {
	statements := []string{
		`DELETE FROM content_groups WHERE content_id = $1`,
		`DELETE FROM content_exceptions WHERE content_id = $1`,
		`DELETE FROM content_rejections WHERE content_id = $1`,
		`DELETE FROM content_enrollments WHERE content_id = $1`,
		`DELETE FROM section_children WHERE section_id = $1 OR child_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := r.exec(exec).ExecContext(ctx, stmt, contentID); err != nil {
			return fmt.Errorf("delete content links: %w", err)
		}
	}
	return nil
}

// ListGroupIDs returns the groups the content is linked to.
func (r *ContentRepository) ListGroupIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids,
		`SELECT group_id FROM content_groups WHERE content_id = $1`, contentID); err != nil {
		return nil, fmt.Errorf("list content groups: %w", err)
	}
	return ids, nil
}

// ReplaceGroups swaps the group linkage set.
func (r *ContentRepository) ReplaceGroups(ctx context.Context, exec sqlx.ExtContext, contentID string, groupIDs []string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM content_groups WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("clear content groups: %w", err)
	}
	return r.insertPairs(ctx, exec, "content_groups", "group_id", contentID, groupIDs)
}

// FindException returns the per-student window override, nil when none.
func (r *ContentRepository) FindException(ctx context.Context, contentID, studentID string) (*models.ContentException, error) {
	const query = `SELECT content_id, student_id, start_at, end_at FROM content_exceptions
        WHERE content_id = $1 AND student_id = $2`
	var exc models.ContentException
	if err := r.db.GetContext(ctx, &exc, query, contentID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find exception: %w", err)
	}
	return &exc, nil
}

// ListExceptionsForStudent batch-loads a student's overrides for a set
// of contents; used by the feed listing.
func (r *ContentRepository) ListExceptionsForStudent(ctx context.Context, studentID string, contentIDs []string) (map[string]models.ContentException, error) {
	result := make(map[string]models.ContentException)
	if len(contentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT content_id, student_id, start_at, end_at FROM content_exceptions
        WHERE student_id = ? AND content_id IN (?)`, studentID, contentIDs)
	if err != nil {
		return nil, fmt.Errorf("build exceptions query: %w", err)
	}
	query = r.db.Rebind(query)
	var excs []models.ContentException
	if err := r.db.SelectContext(ctx, &excs, query, args...); err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	for _, e := range excs {
		result[e.ContentID] = e
	}
	return result, nil
}

// ReplaceExceptions swaps the override list for a content item.
func (r *ContentRepository) ReplaceExceptions(ctx context.Context, exec sqlx.ExtContext, contentID string, excs []models.ContentException) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM content_exceptions WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("clear exceptions: %w", err)
	}
	for _, e := range excs {
		if _, err := r.exec(exec).ExecContext(ctx,
			`INSERT INTO content_exceptions (content_id, student_id, start_at, end_at) VALUES ($1, $2, $3, $4)`,
			contentID, e.StudentID, e.StartAt, e.EndAt); err != nil {
			return fmt.Errorf("insert exception: %w", err)
		}
	}
	return nil
}

// IsRejected reports whether the student is on the content's deny-list.
func (r *ContentRepository) IsRejected(ctx context.Context, contentID, studentID string) (bool, error) {
	return r.pairExists(ctx, "content_rejections", contentID, studentID)
}

// ListRejectionsForStudent batch-loads deny-list membership.
func (r *ContentRepository) ListRejectionsForStudent(ctx context.Context, studentID string, contentIDs []string) (map[string]bool, error) {
	return r.pairsForStudent(ctx, "content_rejections", studentID, contentIDs)
}

// ReplaceRejections swaps the deny-list.
func (r *ContentRepository) ReplaceRejections(ctx context.Context, exec sqlx.ExtContext, contentID string, studentIDs []string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM content_rejections WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("clear rejections: %w", err)
	}
	return r.insertPairs(ctx, exec, "content_rejections", "student_id", contentID, studentIDs)
}

// IsEnrolled reports whether the student is on the assignment
// allow-list that bypasses group linkage.
func (r *ContentRepository) IsEnrolled(ctx context.Context, contentID, studentID string) (bool, error) {
	return r.pairExists(ctx, "content_enrollments", contentID, studentID)
}

// ListEnrolledStudentIDs returns the allow-list for a content item.
func (r *ContentRepository) ListEnrolledStudentIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids,
		`SELECT student_id FROM content_enrollments WHERE content_id = $1`, contentID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return ids, nil
}

// ReplaceEnrollments swaps the allow-list.
func (r *ContentRepository) ReplaceEnrollments(ctx context.Context, exec sqlx.ExtContext, contentID string, studentIDs []string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM content_enrollments WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("clear enrollments: %w", err)
	}
	return r.insertPairs(ctx, exec, "content_enrollments", "student_id", contentID, studentIDs)
}

// AddChildren links child content items under a section.
func (r *ContentRepository) AddChildren(ctx context.Context, exec sqlx.ExtContext, sectionID string, childIDs []string) error {
	for _, child := range childIDs {
		if _, err := r.exec(exec).ExecContext(ctx,
			`INSERT INTO section_children (section_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			sectionID, child); err != nil {
			return fmt.Errorf("add section child: %w", err)
		}
	}
	return nil
}

// ListChildIDs returns the content items owned by a section.
func (r *ContentRepository) ListChildIDs(ctx context.Context, exec sqlx.ExtContext, sectionID string) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids,
		`SELECT child_id FROM section_children WHERE section_id = $1`, sectionID); err != nil {
		return nil, fmt.Errorf("list section children: %w", err)
	}
	return ids, nil
}

// ListChildren returns the child rows of a section.
func (r *ContentRepository) ListChildren(ctx context.Context, exec sqlx.ExtContext, sectionID string) ([]models.Content, error) {
	query := fmt.Sprintf(`SELECT %s FROM contents
        WHERE id IN (SELECT child_id FROM section_children WHERE section_id = $1)`, contentColumns)
	var contents []models.Content
	if err := sqlx.SelectContext(ctx, r.exec(exec), &contents, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section children: %w", err)
	}
	return contents, nil
}

// ListForGroup returns every content item reachable from a group,
// directly linked or owned by a section linked to the group. This is
// the per-student propagation diff source when membership changes.
func (r *ContentRepository) ListForGroup(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]models.Content, error) {
	query := fmt.Sprintf(`SELECT %s FROM contents WHERE id IN (
            SELECT content_id FROM content_groups WHERE group_id = $1
            UNION
            SELECT sc.child_id FROM section_children sc
            JOIN content_groups cg ON cg.content_id = sc.section_id
            WHERE cg.group_id = $1
        )`, contentColumns)
	var contents []models.Content
	if err := sqlx.SelectContext(ctx, r.exec(exec), &contents, query, groupID); err != nil {
		return nil, fmt.Errorf("list contents for group: %w", err)
	}
	return contents, nil
}

// ListForPermissions returns contents of one type linked to any of the
// given groups; used to rebuild an assistant's stream entries.
func (r *ContentRepository) ListForPermissions(ctx context.Context, exec sqlx.ExtContext, contentType models.ContentType, groupIDs []string) ([]models.Content, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT %s FROM contents
        WHERE content_type = ? AND id IN (SELECT content_id FROM content_groups WHERE group_id IN (?))`,
		contentColumns), contentType, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("build permissions query: %w", err)
	}
	query = r.db.Rebind(query)
	var contents []models.Content
	if err := sqlx.SelectContext(ctx, r.exec(exec), &contents, query, args...); err != nil {
		return nil, fmt.Errorf("list contents for permissions: %w", err)
	}
	return contents, nil
}

func (r *ContentRepository) pairExists(ctx context.Context, table, contentID, studentID string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE content_id = $1 AND student_id = $2 LIMIT 1`, table)
	var one int
	if err := r.db.GetContext(ctx, &one, query, contentID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return true, nil
}

func (r *ContentRepository) pairsForStudent(ctx context.Context, table, studentID string, contentIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(contentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT content_id FROM %s WHERE student_id = ? AND content_id IN (?)`, table), studentID, contentIDs)
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", table, err)
	}
	query = r.db.Rebind(query)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}

func (r *ContentRepository) insertPairs(ctx context.Context, exec sqlx.ExtContext, table, column, contentID string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	placeholders := make([]string, len(values))
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, contentID)
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("($1, $%d)", i+2)
		args = append(args, v)
	}
	query := fmt.Sprintf(`INSERT INTO %s (content_id, %s) VALUES %s ON CONFLICT DO NOTHING`,
		table, column, strings.Join(placeholders, ", "))
	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}
