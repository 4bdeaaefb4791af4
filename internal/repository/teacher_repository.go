package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/franciumm/edusite-api/internal/models"
)

// TeacherRepository handles persistence of teachers and assistant
// permission grants.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs the repository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

func (r *TeacherRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

const teacherColumns = `id, full_name, email, password_hash, role, active, created_at`

// Create persists a new teacher.
func (r *TeacherRepository) Create(ctx context.Context, teacher *models.Teacher) error {
	if teacher.ID == "" {
		teacher.ID = uuid.NewString()
	}
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO teachers (id, full_name, email, password_hash, role, active, created_at)
        VALUES (:id, :full_name, :email, :password_hash, :role, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, teacher); err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	return nil
}

// FindByID returns one teacher.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers WHERE id = $1`, teacherColumns)
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// FindByEmail returns one teacher by login email.
func (r *TeacherRepository) FindByEmail(ctx context.Context, email string) (*models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers WHERE email = $1`, teacherColumns)
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, email); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ListPermissions returns every grant held by a teacher.
func (r *TeacherRepository) ListPermissions(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.TeacherPermission, error) {
	const query = `SELECT teacher_id, content_type, group_id FROM teacher_permissions WHERE teacher_id = $1`
	var perms []models.TeacherPermission
	if err := sqlx.SelectContext(ctx, r.exec(exec), &perms, query, teacherID); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

// ReplacePermissions swaps a teacher's whole grant set.
func (r *TeacherRepository) ReplacePermissions(ctx context.Context, exec sqlx.ExtContext, teacherID string, perms []models.TeacherPermission) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM teacher_permissions WHERE teacher_id = $1`, teacherID); err != nil {
		return fmt.Errorf("clear permissions: %w", err)
	}
	if len(perms) == 0 {
		return nil
	}
	placeholders := make([]string, len(perms))
	args := make([]interface{}, 0, len(perms)*3)
	for i, p := range perms {
		base := i * 3
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3)
		args = append(args, teacherID, p.ContentType, p.GroupID)
	}
	query := fmt.Sprintf(`INSERT INTO teacher_permissions (teacher_id, content_type, group_id)
        VALUES %s ON CONFLICT DO NOTHING`, strings.Join(placeholders, ", "))
	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert permissions: %w", err)
	}
	return nil
}

// ListTeacherIDsWithGroupGrant returns teachers holding any grant on
// the group. Read before the group's permission rows are deleted so
// each holder's stream entries can be rebuilt.
func (r *TeacherRepository) ListTeacherIDsWithGroupGrant(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error) {
	const query = `SELECT DISTINCT teacher_id FROM teacher_permissions WHERE group_id = $1`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, groupID); err != nil {
		return nil, fmt.Errorf("list group grant holders: %w", err)
	}
	return ids, nil
}

// ListAssistantIDsWithPermission returns assistants granted the given
// content type in any of the given groups; used at content-creation
// fan-out.
func (r *TeacherRepository) ListAssistantIDsWithPermission(ctx context.Context, exec sqlx.ExtContext, contentType models.ContentType, groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT DISTINCT teacher_id FROM teacher_permissions
        WHERE content_type = ? AND group_id IN (?)`, contentType, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("build assistants query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list permitted assistants: %w", err)
	}
	return ids, nil
}
