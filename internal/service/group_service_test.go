package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type fakeGroupRepo struct {
	grades     map[string]*models.Grade
	groups     map[string]*models.Group
	detachHook func(groupID string) ([]string, error)
}

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{grades: map[string]*models.Grade{}, groups: map[string]*models.Group{}}
}

func (f *fakeGroupRepo) CreateGrade(ctx context.Context, grade *models.Grade) error {
	for _, g := range f.grades {
		if g.Name == grade.Name {
			return &pq.Error{Code: "23505"}
		}
	}
	c := *grade
	f.grades[grade.ID] = &c
	return nil
}

func (f *fakeGroupRepo) FindGradeByID(ctx context.Context, id string) (*models.Grade, error) {
	if g, ok := f.grades[id]; ok {
		out := *g
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeGroupRepo) ListGrades(ctx context.Context) ([]models.Grade, error) {
	var out []models.Grade
	for _, g := range f.grades {
		out = append(out, *g)
	}
	return out, nil
}

func (f *fakeGroupRepo) CreateGroup(ctx context.Context, group *models.Group) error {
	for _, g := range f.groups {
		if g.GradeID == group.GradeID && g.Name == group.Name {
			return &pq.Error{Code: "23505"}
		}
	}
	c := *group
	f.groups[group.ID] = &c
	return nil
}

func (f *fakeGroupRepo) FindGroupByID(ctx context.Context, id string) (*models.Group, error) {
	if g, ok := f.groups[id]; ok {
		out := *g
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeGroupRepo) ListGroups(ctx context.Context, gradeID string) ([]models.GroupDetail, error) {
	var out []models.GroupDetail
	for _, g := range f.groups {
		if gradeID != "" && g.GradeID != gradeID {
			continue
		}
		out = append(out, models.GroupDetail{Group: *g})
	}
	return out, nil
}

func (f *fakeGroupRepo) DeleteGroup(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	_, ok := f.groups[id]
	delete(f.groups, id)
	return ok, nil
}

type fakeGroupStudentRepo struct {
	students map[string]*models.Student
}

func (f *fakeGroupStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := f.students[id]; ok {
		out := *s
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeGroupStudentRepo) UpdateGroup(ctx context.Context, exec sqlx.ExtContext, studentID string, groupID *string) error {
	s, ok := f.students[studentID]
	if !ok {
		return sql.ErrNoRows
	}
	s.GroupID = groupID
	return nil
}

func (f *fakeGroupStudentRepo) ListByGroup(ctx context.Context, groupID string) ([]models.Student, error) {
	var out []models.Student
	for _, s := range f.students {
		if s.GroupID != nil && *s.GroupID == groupID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeGroupRepo) DetachStudents(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error) {
	// Membership is owned by the student repo in these fixtures; the
	// group fixture tracks detachment through detachHook.
	if f.detachHook != nil {
		return f.detachHook(groupID)
	}
	return nil, nil
}

type fakeMembershipPropagator struct {
	joined      []string
	left        []string
	deleted     []string
	invalidated []string
}

func (f *fakeMembershipPropagator) StudentJoinedGroup(ctx context.Context, tx sqlx.ExtContext, studentID, groupID string) error {
	f.joined = append(f.joined, studentID+"|"+groupID)
	return nil
}

func (f *fakeMembershipPropagator) StudentLeftGroup(ctx context.Context, tx sqlx.ExtContext, studentID, groupID string) error {
	f.left = append(f.left, studentID+"|"+groupID)
	return nil
}

func (f *fakeMembershipPropagator) GroupDeleted(ctx context.Context, tx sqlx.ExtContext, groupID string, detachedStudentIDs []string) error {
	f.deleted = append(f.deleted, groupID)
	return nil
}

func (f *fakeMembershipPropagator) InvalidateFeeds(ctx context.Context, userIDs []string, contentTypes ...models.ContentType) {
	f.invalidated = append(f.invalidated, userIDs...)
}

type groupFixture struct {
	svc        *GroupService
	groups     *fakeGroupRepo
	students   *fakeGroupStudentRepo
	propagator *fakeMembershipPropagator
}

func newGroupFixture(t *testing.T, txPairs int) *groupFixture {
	db, mock := newTestTxDB(t)
	for i := 0; i < txPairs; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	groups := newFakeGroupRepo()
	students := &fakeGroupStudentRepo{students: map[string]*models.Student{}}
	prop := &fakeMembershipPropagator{}
	groups.detachHook = func(groupID string) ([]string, error) {
		var detached []string
		for _, s := range students.students {
			if s.GroupID != nil && *s.GroupID == groupID {
				s.GroupID = nil
				detached = append(detached, s.ID)
			}
		}
		return detached, nil
	}
	svc := NewGroupService(db, groups, students, prop, clock.NewFixed(windowStart), nil)
	return &groupFixture{svc: svc, groups: groups, students: students, propagator: prop}
}

func TestCreateGradeAndGroup(t *testing.T) {
	fx := newGroupFixture(t, 0)

	grade, err := fx.svc.CreateGrade(context.Background(), mainTeacher, CreateGradeInput{Name: "Grade 10"})
	require.NoError(t, err)

	group, err := fx.svc.CreateGroup(context.Background(), mainTeacher, CreateGroupInput{Name: "10-A", GradeID: grade.ID})
	require.NoError(t, err)
	assert.Equal(t, grade.ID, group.GradeID)

	_, err = fx.svc.CreateGroup(context.Background(), mainTeacher, CreateGroupInput{Name: "10-A", GradeID: grade.ID})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestCreateGradeDuplicateName(t *testing.T) {
	fx := newGroupFixture(t, 0)

	_, err := fx.svc.CreateGrade(context.Background(), mainTeacher, CreateGradeInput{Name: "Grade 10"})
	require.NoError(t, err)

	_, err = fx.svc.CreateGrade(context.Background(), mainTeacher, CreateGradeInput{Name: "Grade 10"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestCreateGroupUnknownGrade(t *testing.T) {
	fx := newGroupFixture(t, 0)

	_, err := fx.svc.CreateGroup(context.Background(), mainTeacher, CreateGroupInput{Name: "10-A", GradeID: "7b1e6c9e-0000-4000-8000-000000000000"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestCreateGradeRequiresMainTeacher(t *testing.T) {
	fx := newGroupFixture(t, 0)

	_, err := fx.svc.CreateGrade(context.Background(), models.User{ID: "t-asst", Role: models.RoleAssistant}, CreateGradeInput{Name: "Grade 10"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestAddStudentMovesIntoGroup(t *testing.T) {
	fx := newGroupFixture(t, 1)
	fx.groups.groups["g1"] = &models.Group{ID: "g1", Name: "10-A", GradeID: "gr1"}
	fx.students.students["stu-1"] = &models.Student{ID: "stu-1", FullName: "Amal"}

	require.NoError(t, fx.svc.AddStudent(context.Background(), mainTeacher, "g1", "stu-1"))

	require.NotNil(t, fx.students.students["stu-1"].GroupID)
	assert.Equal(t, "g1", *fx.students.students["stu-1"].GroupID)
	assert.Equal(t, []string{"stu-1|g1"}, fx.propagator.joined)
	assert.Equal(t, []string{"stu-1"}, fx.propagator.invalidated)
}

func TestAddStudentAlreadyInGroup(t *testing.T) {
	fx := newGroupFixture(t, 0)
	fx.groups.groups["g1"] = &models.Group{ID: "g1", Name: "10-A", GradeID: "gr1"}
	fx.groups.groups["g2"] = &models.Group{ID: "g2", Name: "10-B", GradeID: "gr1"}
	g1 := "g1"
	fx.students.students["stu-1"] = &models.Student{ID: "stu-1", GroupID: &g1}

	err := fx.svc.AddStudent(context.Background(), mainTeacher, "g1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	err = fx.svc.AddStudent(context.Background(), mainTeacher, "g2", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
	assert.Empty(t, fx.propagator.joined)
}

func TestRemoveStudentDetaches(t *testing.T) {
	fx := newGroupFixture(t, 1)
	fx.groups.groups["g1"] = &models.Group{ID: "g1", Name: "10-A", GradeID: "gr1"}
	g1 := "g1"
	fx.students.students["stu-1"] = &models.Student{ID: "stu-1", GroupID: &g1}

	require.NoError(t, fx.svc.RemoveStudent(context.Background(), mainTeacher, "g1", "stu-1"))

	assert.Nil(t, fx.students.students["stu-1"].GroupID)
	assert.Equal(t, []string{"stu-1|g1"}, fx.propagator.left)
}

func TestRemoveStudentNotInGroup(t *testing.T) {
	fx := newGroupFixture(t, 0)
	fx.students.students["stu-1"] = &models.Student{ID: "stu-1"}

	err := fx.svc.RemoveStudent(context.Background(), mainTeacher, "g1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestDeleteGroupDetachesRoster(t *testing.T) {
	fx := newGroupFixture(t, 1)
	fx.groups.groups["g1"] = &models.Group{ID: "g1", Name: "10-A", GradeID: "gr1"}
	g1 := "g1"
	fx.students.students["stu-1"] = &models.Student{ID: "stu-1", GroupID: &g1}
	fx.students.students["stu-2"] = &models.Student{ID: "stu-2", GroupID: &g1}

	require.NoError(t, fx.svc.DeleteGroup(context.Background(), mainTeacher, "g1"))

	assert.Empty(t, fx.groups.groups)
	assert.Nil(t, fx.students.students["stu-1"].GroupID)
	assert.Nil(t, fx.students.students["stu-2"].GroupID)
	assert.Equal(t, []string{"g1"}, fx.propagator.deleted)
	assert.ElementsMatch(t, []string{"stu-1", "stu-2"}, fx.propagator.invalidated)
}

func TestDeleteGroupUnknown(t *testing.T) {
	fx := newGroupFixture(t, 0)

	err := fx.svc.DeleteGroup(context.Background(), mainTeacher, "missing")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestRosterListsGroupMembers(t *testing.T) {
	fx := newGroupFixture(t, 0)
	fx.groups.groups["g1"] = &models.Group{ID: "g1", Name: "10-A", GradeID: "gr1"}
	g1 := "g1"
	fx.students.students["stu-1"] = &models.Student{ID: "stu-1", FullName: "Amal", GroupID: &g1}
	fx.students.students["stu-2"] = &models.Student{ID: "stu-2", FullName: "Badr"}

	roster, err := fx.svc.Roster(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "stu-1", roster[0].ID)
}
