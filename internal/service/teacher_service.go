package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type teacherRepo interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	ListPermissions(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.TeacherPermission, error)
	ReplacePermissions(ctx context.Context, exec sqlx.ExtContext, teacherID string, perms []models.TeacherPermission) error
}

type permissionPropagator interface {
	AssistantPermissionsUpdated(ctx context.Context, tx sqlx.ExtContext, teacherID string, perms []models.TeacherPermission) error
	InvalidateFeeds(ctx context.Context, userIDs []string, contentTypes ...models.ContentType)
}

// PermissionInput is one (content type, group) grant for an assistant.
type PermissionInput struct {
	ContentType models.ContentType `json:"content_type"`
	GroupID     string             `json:"group_id"`
}

// TeacherService manages assistant permission grants. Replacing the
// grant set rebuilds the assistant's feed in the same transaction, so
// an assistant never sees content their permissions no longer cover.
type TeacherService struct {
	db          txBeginner
	teachers    teacherRepo
	propagation permissionPropagator
	logger      *zap.Logger
}

// NewTeacherService constructs the service.
func NewTeacherService(db txBeginner, teachers teacherRepo, propagation permissionPropagator, logger *zap.Logger) *TeacherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{db: db, teachers: teachers, propagation: propagation, logger: logger}
}

// ListPermissions returns one assistant's grants.
func (s *TeacherService) ListPermissions(ctx context.Context, actor models.User, teacherID string) ([]models.TeacherPermission, error) {
	if !actor.IsMainTeacher() && actor.ID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "assistants may only view their own permissions")
	}
	if _, err := s.findTeacher(ctx, teacherID); err != nil {
		return nil, err
	}
	return s.teachers.ListPermissions(ctx, nil, teacherID)
}

// ReplacePermissions swaps an assistant's grant set and rebuilds their
// feed from it.
func (s *TeacherService) ReplacePermissions(ctx context.Context, actor models.User, teacherID string, inputs []PermissionInput) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can grant permissions")
	}
	teacher, err := s.findTeacher(ctx, teacherID)
	if err != nil {
		return err
	}
	if teacher.Role != models.RoleAssistant {
		return appErrors.Clone(appErrors.ErrValidation, "permissions apply to assistants only")
	}

	perms := make([]models.TeacherPermission, 0, len(inputs))
	for _, in := range inputs {
		if !in.ContentType.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, "unknown content type")
		}
		if in.GroupID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "permission group is required")
		}
		perms = append(perms, models.TeacherPermission{
			TeacherID:   teacherID,
			ContentType: in.ContentType,
			GroupID:     in.GroupID,
		})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.teachers.ReplacePermissions(ctx, tx, teacherID, perms); err != nil {
		return err
	}
	if err := s.propagation.AssistantPermissionsUpdated(ctx, tx, teacherID, perms); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit permissions")
	}

	s.propagation.InvalidateFeeds(ctx, []string{teacherID})
	return nil
}

func (s *TeacherService) findTeacher(ctx context.Context, teacherID string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, err
	}
	return teacher, nil
}
