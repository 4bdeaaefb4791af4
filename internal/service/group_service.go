package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/repository"
	"github.com/franciumm/edusite-api/pkg/clock"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type groupRepo interface {
	CreateGrade(ctx context.Context, grade *models.Grade) error
	FindGradeByID(ctx context.Context, id string) (*models.Grade, error)
	ListGrades(ctx context.Context) ([]models.Grade, error)
	CreateGroup(ctx context.Context, group *models.Group) error
	FindGroupByID(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context, gradeID string) ([]models.GroupDetail, error)
	DeleteGroup(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	DetachStudents(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error)
}

type groupStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	UpdateGroup(ctx context.Context, exec sqlx.ExtContext, studentID string, groupID *string) error
	ListByGroup(ctx context.Context, groupID string) ([]models.Student, error)
}

type membershipPropagator interface {
	StudentJoinedGroup(ctx context.Context, tx sqlx.ExtContext, studentID, groupID string) error
	StudentLeftGroup(ctx context.Context, tx sqlx.ExtContext, studentID, groupID string) error
	GroupDeleted(ctx context.Context, tx sqlx.ExtContext, groupID string, detachedStudentIDs []string) error
	InvalidateFeeds(ctx context.Context, userIDs []string, contentTypes ...models.ContentType)
}

// CreateGradeInput names a new grade.
type CreateGradeInput struct {
	Name string `validate:"required,min=1,max=100"`
}

// CreateGroupInput names a new group inside a grade.
type CreateGroupInput struct {
	Name    string `validate:"required,min=1,max=100"`
	GradeID string `validate:"required,uuid"`
}

// GroupService manages grades, groups and group membership. Membership
// changes run through the propagation service so a student's feed
// follows their group within the same transaction.
type GroupService struct {
	db          txBeginner
	groups      groupRepo
	students    groupStudentRepo
	propagation membershipPropagator
	clock       clock.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGroupService constructs the service.
func NewGroupService(db txBeginner, groups groupRepo, students groupStudentRepo, propagation membershipPropagator, clk clock.Clock, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{
		db:          db,
		groups:      groups,
		students:    students,
		propagation: propagation,
		clock:       clk,
		validator:   validator.New(),
		logger:      logger,
	}
}

// CreateGrade adds a year level.
func (s *GroupService) CreateGrade(ctx context.Context, actor models.User, input CreateGradeInput) (*models.Grade, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage grades")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	grade := &models.Grade{ID: uuid.NewString(), Name: input.Name, CreatedAt: s.clock.Now()}
	if err := s.groups.CreateGrade(ctx, grade); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a grade with this name already exists")
		}
		return nil, err
	}
	return grade, nil
}

// ListGrades returns every grade.
func (s *GroupService) ListGrades(ctx context.Context) ([]models.Grade, error) {
	return s.groups.ListGrades(ctx)
}

// CreateGroup adds a class group. Group names are unique per grade.
func (s *GroupService) CreateGroup(ctx context.Context, actor models.User, input CreateGroupInput) (*models.Group, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage groups")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if _, err := s.groups.FindGradeByID(ctx, input.GradeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, err
	}
	group := &models.Group{ID: uuid.NewString(), Name: input.Name, GradeID: input.GradeID, CreatedAt: s.clock.Now()}
	if err := s.groups.CreateGroup(ctx, group); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a group with this name already exists in the grade")
		}
		return nil, err
	}
	return group, nil
}

// ListGroups returns the groups of one grade, or all groups when
// gradeID is empty.
func (s *GroupService) ListGroups(ctx context.Context, gradeID string) ([]models.GroupDetail, error) {
	return s.groups.ListGroups(ctx, gradeID)
}

// Roster lists the students currently in the group. Students enrolled
// into individual assignments from other groups do not appear here.
func (s *GroupService) Roster(ctx context.Context, groupID string) ([]models.Student, error) {
	if _, err := s.findGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.students.ListByGroup(ctx, groupID)
}

// AddStudent places a student into a group and backfills their feed
// with everything the group can already see. A student already in a
// group must be removed first.
func (s *GroupService) AddStudent(ctx context.Context, actor models.User, groupID, studentID string) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage membership")
	}
	if _, err := s.findGroup(ctx, groupID); err != nil {
		return err
	}
	student, err := s.findStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student.GroupID != nil {
		if *student.GroupID == groupID {
			return appErrors.Clone(appErrors.ErrConflict, "student is already in this group")
		}
		return appErrors.Clone(appErrors.ErrConflict, "student already belongs to another group")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.students.UpdateGroup(ctx, tx, studentID, &groupID); err != nil {
		return err
	}
	if err := s.propagation.StudentJoinedGroup(ctx, tx, studentID, groupID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit membership")
	}

	s.propagation.InvalidateFeeds(ctx, []string{studentID})
	return nil
}

// RemoveStudent detaches a student from their group and clears their
// group-derived feed. Submitted work survives the removal.
func (s *GroupService) RemoveStudent(ctx context.Context, actor models.User, groupID, studentID string) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage membership")
	}
	student, err := s.findStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student.GroupID == nil || *student.GroupID != groupID {
		return appErrors.Clone(appErrors.ErrValidation, "student is not in this group")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.students.UpdateGroup(ctx, tx, studentID, nil); err != nil {
		return err
	}
	if err := s.propagation.StudentLeftGroup(ctx, tx, studentID, groupID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit membership")
	}

	s.propagation.InvalidateFeeds(ctx, []string{studentID})
	return nil
}

// DeleteGroup removes a group after detaching its students and
// clearing their group-derived index rows. Content linked to the group
// survives; it simply reaches nobody through this group anymore.
func (s *GroupService) DeleteGroup(ctx context.Context, actor models.User, groupID string) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage groups")
	}
	if _, err := s.findGroup(ctx, groupID); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	detached, err := s.groups.DetachStudents(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if err := s.propagation.GroupDeleted(ctx, tx, groupID, detached); err != nil {
		return err
	}
	existed, err := s.groups.DeleteGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if !existed {
		return appErrors.Clone(appErrors.ErrNotFound, "group not found")
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit group delete")
	}

	s.propagation.InvalidateFeeds(ctx, detached)
	return nil
}

func (s *GroupService) findGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.groups.FindGroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, err
	}
	return group, nil
}

func (s *GroupService) findStudent(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, err
	}
	return student, nil
}
