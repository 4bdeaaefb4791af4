package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/franciumm/edusite-api/internal/models"
)

// GroupRepository handles persistence of grades and groups.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key
// error, letting services map it to a Conflict.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateGrade persists a grade.
func (r *GroupRepository) CreateGrade(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grades (id, name, created_at) VALUES (:id, :name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// FindGradeByID returns one grade.
func (r *GroupRepository) FindGradeByID(ctx context.Context, id string) (*models.Grade, error) {
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, `SELECT id, name, created_at FROM grades WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// ListGrades returns every grade.
func (r *GroupRepository) ListGrades(ctx context.Context) ([]models.Grade, error) {
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, `SELECT id, name, created_at FROM grades ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// CreateGroup persists a group. Duplicate (name, grade) surfaces as a
// unique violation.
func (r *GroupRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO groups (id, name, grade_id, created_at) VALUES (:id, :name, :grade_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// FindGroupByID returns one group.
func (r *GroupRepository) FindGroupByID(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	if err := r.db.GetContext(ctx, &group, `SELECT id, name, grade_id, created_at FROM groups WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups returns groups decorated with grade name and roster size.
func (r *GroupRepository) ListGroups(ctx context.Context, gradeID string) ([]models.GroupDetail, error) {
	query := `SELECT g.id, g.name, g.grade_id, g.created_at, gr.name AS grade_name,
            (SELECT COUNT(*) FROM students s WHERE s.group_id = g.id) AS student_count
        FROM groups g JOIN grades gr ON gr.id = g.grade_id`
	var args []interface{}
	if gradeID != "" {
		query += ` WHERE g.grade_id = $1`
		args = append(args, gradeID)
	}
	query += ` ORDER BY gr.name, g.name`
	var groups []models.GroupDetail
	if err := r.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes the group row, reporting whether it existed. The
// caller detaches students and clears indexes in the same transaction.
func (r *GroupRepository) DeleteGroup(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM teacher_permissions WHERE group_id = $1`, id); err != nil {
		return false, fmt.Errorf("clear group permissions: %w", err)
	}
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM content_groups WHERE group_id = $1`, id); err != nil {
		return false, fmt.Errorf("clear group links: %w", err)
	}
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete group: %w", err)
	}
	return n > 0, nil
}

// DetachStudents clears group_id for every member, returning their IDs.
func (r *GroupRepository) DetachStudents(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error) {
	var ids []string
	const query = `UPDATE students SET group_id = NULL WHERE group_id = $1 RETURNING id`
	rows, err := r.exec(exec).QueryxContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("detach students: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan detached student: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
