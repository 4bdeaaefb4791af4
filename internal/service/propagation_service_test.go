package service

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/repository"
)

type mockStreamRepo struct {
	entries map[string]models.StreamEntry
}

func newMockStreamRepo() *mockStreamRepo {
	return &mockStreamRepo{entries: map[string]models.StreamEntry{}}
}

func (m *mockStreamRepo) UpsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.StreamEntry) error {
	for _, e := range entries {
		key := streamKey(e.UserID, e.ContentID)
		if _, ok := m.entries[key]; ok {
			continue
		}
		m.entries[key] = e
	}
	return nil
}

func (m *mockStreamRepo) Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StreamFilter) error {
	match := func(e models.StreamEntry) bool {
		if filter.UserID != "" && e.UserID != filter.UserID {
			return false
		}
		if len(filter.UserIDs) > 0 {
			found := false
			for _, id := range filter.UserIDs {
				if e.UserID == id {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		if filter.ContentID != "" && e.ContentID != filter.ContentID {
			return false
		}
		if filter.GroupID != "" && (e.GroupID == nil || *e.GroupID != filter.GroupID) {
			return false
		}
		return true
	}
	for key, e := range m.entries {
		if match(e) {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *mockStreamRepo) ListUserIDsForContent(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	var ids []string
	for _, e := range m.entries {
		if e.ContentID == contentID {
			ids = append(ids, e.UserID)
		}
	}
	return ids, nil
}

func (m *mockStreamRepo) has(userID, contentID string) bool {
	_, ok := m.entries[streamKey(userID, contentID)]
	return ok
}

type mockStatusRepo struct {
	states map[string]models.SubmissionState
}

func newMockStatusRepo() *mockStatusRepo {
	return &mockStatusRepo{states: map[string]models.SubmissionState{}}
}

func statusKey(studentID, contentID string) string { return studentID + "|" + contentID }

func (m *mockStatusRepo) AssignBatch(ctx context.Context, exec sqlx.ExtContext, pairs []repository.StatusPair) error {
	for _, p := range pairs {
		key := statusKey(p.StudentID, p.ContentID)
		if _, ok := m.states[key]; ok {
			continue
		}
		m.states[key] = models.StatusAssigned
	}
	return nil
}

func (m *mockStatusRepo) Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StatusFilter) error {
	match := func(studentID, contentID string) bool {
		if filter.StudentID != "" && studentID != filter.StudentID {
			return false
		}
		if len(filter.StudentIDs) > 0 {
			found := false
			for _, id := range filter.StudentIDs {
				if studentID == id {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		if filter.ContentID != "" && contentID != filter.ContentID {
			return false
		}
		return true
	}
	for key := range m.states {
		parts := strings.SplitN(key, "|", 2)
		if match(parts[0], parts[1]) {
			delete(m.states, key)
		}
	}
	return nil
}

type mockStudentLister struct {
	byGroup map[string][]string
}

func (m *mockStudentLister) ListIDsByGroup(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error) {
	return m.byGroup[groupID], nil
}

func (m *mockStudentLister) ListIDsByGroups(ctx context.Context, exec sqlx.ExtContext, groupIDs []string) ([]string, error) {
	var ids []string
	for _, g := range groupIDs {
		ids = append(ids, m.byGroup[g]...)
	}
	return ids, nil
}

type mockTeacherLister struct {
	assistants map[string][]string // contentType -> teacher IDs
	perms      map[string][]models.TeacherPermission
}

func (m *mockTeacherLister) ListAssistantIDsWithPermission(ctx context.Context, exec sqlx.ExtContext, contentType models.ContentType, groupIDs []string) ([]string, error) {
	return m.assistants[string(contentType)], nil
}

func (m *mockTeacherLister) ListPermissions(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.TeacherPermission, error) {
	return m.perms[teacherID], nil
}

func (m *mockTeacherLister) ListTeacherIDsWithGroupGrant(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error) {
	var ids []string
	for teacherID, perms := range m.perms {
		for _, p := range perms {
			if p.GroupID == groupID {
				ids = append(ids, teacherID)
				break
			}
		}
	}
	return ids, nil
}

type mockContentLister struct {
	byGroup  map[string][]models.Content
	byPerms  map[string][]models.Content
	groupIDs map[string][]string
	children map[string][]models.Content
	enrolled map[string][]string
}

func (m *mockContentLister) ListForGroup(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]models.Content, error) {
	return m.byGroup[groupID], nil
}

func (m *mockContentLister) ListForPermissions(ctx context.Context, exec sqlx.ExtContext, contentType models.ContentType, groupIDs []string) ([]models.Content, error) {
	allowed := make(map[string]bool, len(groupIDs))
	for _, g := range groupIDs {
		allowed[g] = true
	}
	var out []models.Content
	for _, c := range m.byPerms[string(contentType)] {
		for _, g := range m.groupIDs[c.ID] {
			if allowed[g] {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *mockContentLister) ListGroupIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	return m.groupIDs[contentID], nil
}

func (m *mockContentLister) ListChildren(ctx context.Context, exec sqlx.ExtContext, sectionID string) ([]models.Content, error) {
	return m.children[sectionID], nil
}

func (m *mockContentLister) ListEnrolledStudentIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	return m.enrolled[contentID], nil
}

type mockFeedCache struct {
	deleted []string
}

func (m *mockFeedCache) Delete(ctx context.Context, keys ...string) error {
	m.deleted = append(m.deleted, keys...)
	return nil
}

func newPropagationFixture() (*PropagationService, *mockStreamRepo, *mockStatusRepo, *mockStudentLister, *mockTeacherLister, *mockContentLister, *mockFeedCache) {
	stream := newMockStreamRepo()
	statuses := newMockStatusRepo()
	students := &mockStudentLister{byGroup: map[string][]string{}}
	teachers := &mockTeacherLister{assistants: map[string][]string{}, perms: map[string][]models.TeacherPermission{}}
	contents := &mockContentLister{
		byGroup:  map[string][]models.Content{},
		byPerms:  map[string][]models.Content{},
		groupIDs: map[string][]string{},
		children: map[string][]models.Content{},
		enrolled: map[string][]string{},
	}
	cache := &mockFeedCache{}
	svc := NewPropagationService(stream, statuses, students, teachers, contents, cache, nil, nil)
	return svc, stream, statuses, students, teachers, contents, cache
}

func TestContentCreatedFansOutToRosterCreatorAndAssistants(t *testing.T) {
	svc, stream, statuses, students, teachers, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1", "stu-2"}
	teachers.assistants[string(models.ContentExam)] = []string{"t-asst"}

	exam := &models.Content{ID: "e1", ContentType: models.ContentExam, CreatedBy: "t-main"}
	affected, err := svc.ContentCreated(context.Background(), nil, exam, []string{"g1"}, nil)
	require.NoError(t, err)

	sort.Strings(affected)
	assert.Equal(t, []string{"stu-1", "stu-2", "t-asst", "t-main"}, affected)
	assert.True(t, stream.has("stu-1", "e1"))
	assert.True(t, stream.has("t-asst", "e1"))
	assert.True(t, stream.has("t-main", "e1"))

	// Status rows only for students.
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-1", "e1")])
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-2", "e1")])
	_, teacherHasStatus := statuses.states[statusKey("t-main", "e1")]
	assert.False(t, teacherHasStatus)
}

func TestContentCreatedMaterialSkipsStatusRows(t *testing.T) {
	svc, stream, statuses, students, _, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}

	material := &models.Content{ID: "m1", ContentType: models.ContentMaterial, CreatedBy: "t-main"}
	_, err := svc.ContentCreated(context.Background(), nil, material, []string{"g1"}, nil)
	require.NoError(t, err)

	assert.True(t, stream.has("stu-1", "m1"))
	assert.Empty(t, statuses.states)
}

func TestContentCreatedEnrolledStudentGetsStatusNotStream(t *testing.T) {
	svc, stream, statuses, students, _, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}

	a := &models.Content{ID: "a1", ContentType: models.ContentAssignment, CreatedBy: "t-main"}
	_, err := svc.ContentCreated(context.Background(), nil, a, []string{"g1"}, []string{"outsider"})
	require.NoError(t, err)

	assert.False(t, stream.has("outsider", "a1"), "enrollment is a parallel grant path, not a stream entry")
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("outsider", "a1")])
}

func TestContentCreatedIsIdempotent(t *testing.T) {
	svc, stream, statuses, students, _, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}

	a := &models.Content{ID: "a1", ContentType: models.ContentAssignment, CreatedBy: "t-main"}
	_, err := svc.ContentCreated(context.Background(), nil, a, []string{"g1"}, nil)
	require.NoError(t, err)

	// Mark submitted, then replay the event: the state must survive.
	statuses.states[statusKey("stu-1", "a1")] = models.StatusSubmitted
	_, err = svc.ContentCreated(context.Background(), nil, a, []string{"g1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSubmitted, statuses.states[statusKey("stu-1", "a1")])
	assert.True(t, stream.has("stu-1", "a1"))
}

func TestSectionCreatedMaterializesChildren(t *testing.T) {
	svc, stream, _, students, _, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}

	section := &models.Content{ID: "s1", ContentType: models.ContentSection, CreatedBy: "t-main"}
	child := &models.Content{ID: "m1", ContentType: models.ContentMaterial, CreatedBy: "t-main"}

	affected, err := svc.SectionCreated(context.Background(), nil, section, []string{"g1"}, []*models.Content{child})
	require.NoError(t, err)

	assert.True(t, stream.has("stu-1", "s1"))
	assert.True(t, stream.has("stu-1", "m1"), "section visibility reaches children without traversal")
	sort.Strings(affected)
	assert.Equal(t, []string{"stu-1", "t-main"}, affected)
}

func TestContentGroupsChangedDiffs(t *testing.T) {
	svc, stream, statuses, students, _, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}
	students.byGroup["g2"] = []string{"stu-2"}

	a := &models.Content{ID: "a1", ContentType: models.ContentAssignment, CreatedBy: "t-main"}
	_, err := svc.ContentCreated(context.Background(), nil, a, []string{"g1"}, nil)
	require.NoError(t, err)

	affected, err := svc.ContentGroupsChanged(context.Background(), nil, a, []string{"g1"}, []string{"g2"})
	require.NoError(t, err)

	sort.Strings(affected)
	assert.Equal(t, []string{"stu-1", "stu-2"}, affected)
	assert.False(t, stream.has("stu-1", "a1"))
	assert.True(t, stream.has("stu-2", "a1"))
	assert.True(t, stream.has("t-main", "a1"), "creator entry survives relinking")
	_, removed := statuses.states[statusKey("stu-1", "a1")]
	assert.False(t, removed)
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-2", "a1")])
}

func TestStudentJoinAndLeaveGroup(t *testing.T) {
	svc, stream, statuses, _, _, contents, _ := newPropagationFixture()
	contents.byGroup["g1"] = []models.Content{
		{ID: "a1", ContentType: models.ContentAssignment},
		{ID: "m1", ContentType: models.ContentMaterial},
	}

	require.NoError(t, svc.StudentJoinedGroup(context.Background(), nil, "stu-9", "g1"))
	assert.True(t, stream.has("stu-9", "a1"))
	assert.True(t, stream.has("stu-9", "m1"))
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-9", "a1")])
	_, materialStatus := statuses.states[statusKey("stu-9", "m1")]
	assert.False(t, materialStatus)

	require.NoError(t, svc.StudentLeftGroup(context.Background(), nil, "stu-9", "g1"))
	assert.False(t, stream.has("stu-9", "a1"))
	assert.False(t, stream.has("stu-9", "m1"))
	assert.Empty(t, statuses.states)
}

func TestJoinThenLeaveRoundTripLeavesNoResidue(t *testing.T) {
	svc, stream, statuses, _, _, contents, _ := newPropagationFixture()
	contents.byGroup["g1"] = []models.Content{
		{ID: "a1", ContentType: models.ContentAssignment},
		{ID: "e1", ContentType: models.ContentExam},
		{ID: "m1", ContentType: models.ContentMaterial},
	}

	require.NoError(t, svc.StudentJoinedGroup(context.Background(), nil, "stu-1", "g1"))
	require.NoError(t, svc.StudentLeftGroup(context.Background(), nil, "stu-1", "g1"))

	assert.Empty(t, stream.entries)
	assert.Empty(t, statuses.states)
}

func TestAssistantPermissionsUpdatedRebuilds(t *testing.T) {
	svc, stream, _, _, _, contents, _ := newPropagationFixture()
	contents.byPerms[string(models.ContentExam)] = []models.Content{
		{ID: "e1", ContentType: models.ContentExam},
	}
	contents.groupIDs["e1"] = []string{"g1"}

	// Stale entry from a revoked grant.
	require.NoError(t, stream.UpsertBatch(context.Background(), nil, []models.StreamEntry{
		{UserID: "t-asst", ContentID: "a-old", ContentType: models.ContentAssignment},
	}))

	perms := []models.TeacherPermission{
		{TeacherID: "t-asst", ContentType: models.ContentExam, GroupID: "g1"},
	}
	require.NoError(t, svc.AssistantPermissionsUpdated(context.Background(), nil, "t-asst", perms))

	assert.False(t, stream.has("t-asst", "a-old"))
	assert.True(t, stream.has("t-asst", "e1"))
}

func TestSectionRelinkFollowsChildren(t *testing.T) {
	svc, stream, statuses, students, _, contents, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}
	students.byGroup["g2"] = []string{"stu-2"}

	section := &models.Content{ID: "s1", ContentType: models.ContentSection, CreatedBy: "t-main"}
	child := &models.Content{ID: "c1", ContentType: models.ContentAssignment, CreatedBy: "t-main"}
	contents.children["s1"] = []models.Content{*child}

	_, err := svc.SectionCreated(context.Background(), nil, section, []string{"g1"}, []*models.Content{child})
	require.NoError(t, err)

	affected, err := svc.ContentGroupsChanged(context.Background(), nil, section, []string{"g1"}, []string{"g2"})
	require.NoError(t, err)

	sort.Strings(affected)
	assert.Equal(t, []string{"stu-1", "stu-2"}, affected)
	assert.False(t, stream.has("stu-1", "s1"))
	assert.False(t, stream.has("stu-1", "c1"), "materialized child entry must follow the removed group")
	assert.True(t, stream.has("stu-2", "s1"))
	assert.True(t, stream.has("stu-2", "c1"), "materialized child entry must follow the added group")

	_, stale := statuses.states[statusKey("stu-1", "c1")]
	assert.False(t, stale)
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-2", "c1")])
}

func TestGroupDeletedRebuildsAssistantEntries(t *testing.T) {
	svc, stream, _, students, teachers, contents, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}
	teachers.assistants[string(models.ContentExam)] = []string{"t-asst", "t-other"}
	teachers.perms["t-asst"] = []models.TeacherPermission{
		{TeacherID: "t-asst", ContentType: models.ContentExam, GroupID: "g1"},
	}
	teachers.perms["t-other"] = []models.TeacherPermission{
		{TeacherID: "t-other", ContentType: models.ContentExam, GroupID: "g1"},
		{TeacherID: "t-other", ContentType: models.ContentExam, GroupID: "g2"},
	}

	exam := &models.Content{ID: "e1", ContentType: models.ContentExam, CreatedBy: "t-main"}
	contents.groupIDs["e1"] = []string{"g1", "g2"}
	contents.byPerms[string(models.ContentExam)] = []models.Content{*exam}
	_, err := svc.ContentCreated(context.Background(), nil, exam, []string{"g1"}, nil)
	require.NoError(t, err)
	require.True(t, stream.has("t-asst", "e1"))

	require.NoError(t, svc.GroupDeleted(context.Background(), nil, "g1", []string{"stu-1"}))

	assert.False(t, stream.has("t-asst", "e1"), "entry must die with the assistant's only grant")
	assert.True(t, stream.has("t-other", "e1"), "a surviving grant keeps the entry alive")
	assert.False(t, stream.has("stu-1", "e1"))
}

func TestStudentLeftGroupKeepsEnrolledStatus(t *testing.T) {
	svc, stream, statuses, _, _, contents, _ := newPropagationFixture()
	contents.byGroup["g1"] = []models.Content{
		{ID: "a1", ContentType: models.ContentAssignment},
	}
	contents.enrolled["a1"] = []string{"stu-1"}

	require.NoError(t, svc.StudentJoinedGroup(context.Background(), nil, "stu-1", "g1"))
	require.NoError(t, svc.StudentLeftGroup(context.Background(), nil, "stu-1", "g1"))

	assert.False(t, stream.has("stu-1", "a1"))
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-1", "a1")],
		"enrollment keeps the assignment reachable after leaving the group")
}

func TestGroupsChangedKeepsEnrolledStatus(t *testing.T) {
	svc, stream, statuses, students, _, contents, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1", "stu-2"}
	contents.enrolled["a1"] = []string{"stu-1"}

	a := &models.Content{ID: "a1", ContentType: models.ContentAssignment, CreatedBy: "t-main"}
	_, err := svc.ContentCreated(context.Background(), nil, a, []string{"g1"}, []string{"stu-1"})
	require.NoError(t, err)

	_, err = svc.ContentGroupsChanged(context.Background(), nil, a, []string{"g1"}, nil)
	require.NoError(t, err)

	assert.False(t, stream.has("stu-1", "a1"))
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-1", "a1")])
	_, gone := statuses.states[statusKey("stu-2", "a1")]
	assert.False(t, gone)
}

func TestContentDeletedClearsIndexes(t *testing.T) {
	svc, stream, statuses, students, _, _, _ := newPropagationFixture()
	students.byGroup["g1"] = []string{"stu-1"}

	a := &models.Content{ID: "a1", ContentType: models.ContentAssignment, CreatedBy: "t-main"}
	_, err := svc.ContentCreated(context.Background(), nil, a, []string{"g1"}, nil)
	require.NoError(t, err)

	affected, err := svc.ContentDeleted(context.Background(), nil, "a1")
	require.NoError(t, err)

	sort.Strings(affected)
	assert.Equal(t, []string{"stu-1", "t-main"}, affected)
	assert.Empty(t, stream.entries)
	assert.Empty(t, statuses.states)
}

func TestEnrollmentChangedDiffsStatusRows(t *testing.T) {
	svc, _, statuses, _, _, _, _ := newPropagationFixture()

	a := &models.Content{ID: "a1", ContentType: models.ContentAssignment}
	require.NoError(t, svc.EnrollmentChanged(context.Background(), nil, a, nil, []string{"stu-1", "stu-2"}))
	assert.Len(t, statuses.states, 2)

	require.NoError(t, svc.EnrollmentChanged(context.Background(), nil, a, []string{"stu-1", "stu-2"}, []string{"stu-2"}))
	_, ok := statuses.states[statusKey("stu-1", "a1")]
	assert.False(t, ok)
	assert.Equal(t, models.StatusAssigned, statuses.states[statusKey("stu-2", "a1")])
}

func TestInvalidateFeedsBuildsPerTypeKeys(t *testing.T) {
	svc, _, _, _, _, _, cache := newPropagationFixture()
	svc.InvalidateFeeds(context.Background(), []string{"u1"}, models.ContentAssignment)
	assert.Equal(t, []string{"stream:u1:ASSIGNMENT"}, cache.deleted)
}
