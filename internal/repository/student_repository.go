package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/franciumm/edusite-api/internal/models"
)

// StudentRepository handles persistence of students.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

const studentColumns = `id, full_name, email, password_hash, grade_id, group_id, active, created_at`

// Create persists a new student.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO students (id, full_name, email, password_hash, grade_id, group_id, active, created_at)
        VALUES (:id, :full_name, :email, :password_hash, :grade_id, :group_id, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// FindByID returns one student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByEmail returns one student by login email.
func (r *StudentRepository) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE email = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, email); err != nil {
		return nil, err
	}
	return &student, nil
}

// UpdateGroup sets or clears the student's group membership. Passing
// nil detaches the student.
func (r *StudentRepository) UpdateGroup(ctx context.Context, exec sqlx.ExtContext, studentID string, groupID *string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `UPDATE students SET group_id = $2 WHERE id = $1`, studentID, groupID); err != nil {
		return fmt.Errorf("update student group: %w", err)
	}
	return nil
}

// ListIDsByGroup returns the roster of a group.
func (r *StudentRepository) ListIDsByGroup(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids,
		`SELECT id FROM students WHERE group_id = $1`, groupID); err != nil {
		return nil, fmt.Errorf("list group roster: %w", err)
	}
	return ids, nil
}

// ListIDsByGroups returns the combined roster of several groups.
func (r *StudentRepository) ListIDsByGroups(ctx context.Context, exec sqlx.ExtContext, groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM students WHERE group_id IN (?)`, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("build roster query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list rosters: %w", err)
	}
	return ids, nil
}

// ListByGroup returns full student rows for a group.
func (r *StudentRepository) ListByGroup(ctx context.Context, groupID string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE group_id = $1 ORDER BY full_name ASC`, studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, groupID); err != nil {
		return nil, fmt.Errorf("list students by group: %w", err)
	}
	return students, nil
}
