package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	"github.com/franciumm/edusite-api/pkg/config"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type fakeContentRepo struct {
	contents    map[string]*models.Content
	groups      map[string][]string
	enrollments map[string][]string
	children    map[string][]string
	linksWiped  []string
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{
		contents:    map[string]*models.Content{},
		groups:      map[string][]string{},
		enrollments: map[string][]string{},
		children:    map[string][]string{},
	}
}

func (f *fakeContentRepo) Create(ctx context.Context, exec sqlx.ExtContext, content *models.Content) error {
	c := *content
	f.contents[content.ID] = &c
	return nil
}

func (f *fakeContentRepo) FindByID(ctx context.Context, id string) (*models.Content, error) {
	if c, ok := f.contents[id]; ok {
		out := *c
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeContentRepo) ListByIDs(ctx context.Context, ids []string) ([]models.Content, error) {
	var out []models.Content
	for _, id := range ids {
		if c, ok := f.contents[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeContentRepo) ListByType(ctx context.Context, contentType models.ContentType) ([]models.Content, error) {
	var out []models.Content
	for _, c := range f.contents {
		if c.ContentType == contentType {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeContentRepo) UpdateMeta(ctx context.Context, exec sqlx.ExtContext, content *models.Content) error {
	c := *content
	f.contents[content.ID] = &c
	return nil
}

func (f *fakeContentRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	_, ok := f.contents[id]
	delete(f.contents, id)
	return ok, nil
}

func (f *fakeContentRepo) DeleteLinks(ctx context.Context, exec sqlx.ExtContext, contentID string) error {
	f.linksWiped = append(f.linksWiped, contentID)
	delete(f.groups, contentID)
	delete(f.enrollments, contentID)
	delete(f.children, contentID)
	return nil
}

func (f *fakeContentRepo) ListGroupIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	return f.groups[contentID], nil
}

func (f *fakeContentRepo) ReplaceGroups(ctx context.Context, exec sqlx.ExtContext, contentID string, groupIDs []string) error {
	f.groups[contentID] = groupIDs
	return nil
}

func (f *fakeContentRepo) ListExceptionsForStudent(ctx context.Context, studentID string, contentIDs []string) (map[string]models.ContentException, error) {
	return map[string]models.ContentException{}, nil
}

func (f *fakeContentRepo) ReplaceExceptions(ctx context.Context, exec sqlx.ExtContext, contentID string, excs []models.ContentException) error {
	return nil
}

func (f *fakeContentRepo) ListRejectionsForStudent(ctx context.Context, studentID string, contentIDs []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeContentRepo) ReplaceRejections(ctx context.Context, exec sqlx.ExtContext, contentID string, studentIDs []string) error {
	return nil
}

func (f *fakeContentRepo) ListEnrolledStudentIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error) {
	return f.enrollments[contentID], nil
}

func (f *fakeContentRepo) ReplaceEnrollments(ctx context.Context, exec sqlx.ExtContext, contentID string, studentIDs []string) error {
	f.enrollments[contentID] = studentIDs
	return nil
}

func (f *fakeContentRepo) AddChildren(ctx context.Context, exec sqlx.ExtContext, sectionID string, childIDs []string) error {
	f.children[sectionID] = append(f.children[sectionID], childIDs...)
	return nil
}

func (f *fakeContentRepo) ListChildIDs(ctx context.Context, exec sqlx.ExtContext, sectionID string) ([]string, error) {
	return f.children[sectionID], nil
}

type fakeSubmissionLister struct {
	byContent map[string][]models.Submission
}

func (f *fakeSubmissionLister) ListByContent(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]models.Submission, error) {
	return f.byContent[contentID], nil
}

func (f *fakeSubmissionLister) DeleteByContent(ctx context.Context, exec sqlx.ExtContext, contentID string) (int64, error) {
	n := int64(len(f.byContent[contentID]))
	delete(f.byContent, contentID)
	return n, nil
}

type fakeStreamLister struct {
	byUser map[string][]string
}

func (f *fakeStreamLister) ListContentIDsForUser(ctx context.Context, userID string, contentType models.ContentType) ([]string, error) {
	return f.byUser[userID], nil
}

type fakePropagator struct {
	created       []string
	deleted       []string
	groupsChanged []string
	invalidated   []string
}

func (f *fakePropagator) ContentCreated(ctx context.Context, tx sqlx.ExtContext, content *models.Content, groupIDs, enrolledStudentIDs []string) ([]string, error) {
	f.created = append(f.created, content.ID)
	return []string{"stu-1"}, nil
}

func (f *fakePropagator) SectionCreated(ctx context.Context, tx sqlx.ExtContext, section *models.Content, groupIDs []string, children []*models.Content) ([]string, error) {
	f.created = append(f.created, section.ID)
	for _, c := range children {
		f.created = append(f.created, c.ID)
	}
	return []string{"stu-1"}, nil
}

func (f *fakePropagator) ContentGroupsChanged(ctx context.Context, tx sqlx.ExtContext, content *models.Content, oldGroupIDs, newGroupIDs []string) ([]string, error) {
	f.groupsChanged = append(f.groupsChanged, content.ID)
	return []string{"stu-1"}, nil
}

func (f *fakePropagator) EnrollmentChanged(ctx context.Context, tx sqlx.ExtContext, content *models.Content, oldIDs, newIDs []string) error {
	return nil
}

func (f *fakePropagator) ContentDeleted(ctx context.Context, tx sqlx.ExtContext, contentID string) ([]string, error) {
	f.deleted = append(f.deleted, contentID)
	return []string{"stu-1"}, nil
}

func (f *fakePropagator) InvalidateFeeds(ctx context.Context, userIDs []string, contentTypes ...models.ContentType) {
	f.invalidated = append(f.invalidated, userIDs...)
}

type fakeStore struct {
	objects    map[string][]byte
	putErr     map[string]error
	deleteErr  map[string]error
	deletedKey []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, putErr: map[string]error{}, deleteErr: map[string]error{}}
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err, ok := f.putErr[key]; ok {
		return err
	}
	f.objects[bucket+"/"+key] = data
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, bucket, key string) error {
	f.deletedKey = append(f.deletedKey, key)
	if err, ok := f.deleteErr[key]; ok {
		return err
	}
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeStore) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://files.example/" + bucket + "/" + key, nil
}

type allowAllEvaluator struct{}

func (allowAllEvaluator) CanAccess(ctx context.Context, user models.User, contentID string, contentType models.ContentType) (Decision, error) {
	return allow(), nil
}

func (allowAllEvaluator) EvaluateTimeline(content *models.Content, exc *models.ContentException, rejected bool, now time.Time) Decision {
	return allow()
}

func newTestTxDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

type contentFixture struct {
	svc         *ContentService
	repo        *fakeContentRepo
	submissions *fakeSubmissionLister
	propagator  *fakePropagator
	store       *fakeStore
	mock        sqlmock.Sqlmock
}

func newContentFixture(t *testing.T) *contentFixture {
	db, mock := newTestTxDB(t)
	repo := newFakeContentRepo()
	subs := &fakeSubmissionLister{byContent: map[string][]models.Submission{}}
	prop := &fakePropagator{}
	store := newFakeStore()
	storageCfg := config.StorageConfig{ContentBucket: "contents", SubmissionBucket: "submissions", PresignTTL: time.Hour}
	svc := NewContentService(db, repo, subs, &fakeStreamLister{byUser: map[string][]string{}}, prop, allowAllEvaluator{}, store, nil, storageCfg, config.StreamConfig{}, nil, clock.NewFixed(windowStart), nil)
	return &contentFixture{svc: svc, repo: repo, submissions: subs, propagator: prop, store: store, mock: mock}
}

var mainTeacher = models.User{ID: "t-main", Role: models.RoleMainTeacher}

func TestCreateContentPersistsAndFansOut(t *testing.T) {
	fx := newContentFixture(t)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	content, err := fx.svc.Create(context.Background(), mainTeacher, CreateContentInput{
		ContentType: models.ContentAssignment,
		Name:        "Essay",
		GroupIDs:    []string{"g1"},
		StartAt:     timePtr(windowStart),
		EndAt:       timePtr(windowEnd),
		File:        &UploadInput{FileName: "brief.pdf", Data: []byte("pdf")},
	})
	require.NoError(t, err)

	assert.Contains(t, fx.repo.contents, content.ID)
	assert.Equal(t, []string{content.ID}, fx.propagator.created)
	require.NotNil(t, content.FileKey)
	assert.Contains(t, fx.store.objects, "contents/"+*content.FileKey)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateContentRejectsNonMainTeacher(t *testing.T) {
	fx := newContentFixture(t)
	_, err := fx.svc.Create(context.Background(), models.User{ID: "t-asst", Role: models.RoleAssistant}, CreateContentInput{
		ContentType: models.ContentMaterial,
		Name:        "Notes",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestCreateContentWindowValidation(t *testing.T) {
	fx := newContentFixture(t)

	_, err := fx.svc.Create(context.Background(), mainTeacher, CreateContentInput{
		ContentType: models.ContentAssignment,
		Name:        "No window",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = fx.svc.Create(context.Background(), mainTeacher, CreateContentInput{
		ContentType: models.ContentAssignment,
		Name:        "Backwards",
		StartAt:     timePtr(windowEnd),
		EndAt:       timePtr(windowStart),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestCreateContentUploadFailureCompensates(t *testing.T) {
	fx := newContentFixture(t)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	// Compensation transaction.
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	fx.svc.store = &failingPutStore{inner: fx.store}

	_, err := fx.svc.Create(context.Background(), mainTeacher, CreateContentInput{
		ContentType: models.ContentMaterial,
		Name:        "Notes",
		GroupIDs:    []string{"g1"},
		File:        &UploadInput{FileName: "notes.pdf", Data: []byte("pdf")},
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDependencyFailure.Code))

	assert.Empty(t, fx.repo.contents, "row must not survive a failed upload")
	assert.NotEmpty(t, fx.propagator.deleted, "index entries must be compensated")
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

type failingPutStore struct {
	inner *fakeStore
}

func (f *failingPutStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return errors.New("minio down")
}

func (f *failingPutStore) Delete(ctx context.Context, bucket, key string) error {
	return f.inner.Delete(ctx, bucket, key)
}

func (f *failingPutStore) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return f.inner.PresignedGetURL(ctx, bucket, key, ttl)
}

func TestDeleteContentCascades(t *testing.T) {
	fx := newContentFixture(t)

	fileKey := "contents/a1/brief.pdf"
	fx.repo.contents["a1"] = &models.Content{
		ID: "a1", ContentType: models.ContentAssignment, Name: "Essay",
		Bucket: "contents", FileKey: &fileKey,
	}
	fx.submissions.byContent["a1"] = []models.Submission{
		{ID: "sub-1", StudentID: "stu-1", ContentID: "a1", Bucket: "submissions", FileKey: "submissions/a1/stu-1/work.pdf"},
	}

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	require.NoError(t, fx.svc.Delete(context.Background(), mainTeacher, "a1"))

	assert.Empty(t, fx.repo.contents)
	assert.Empty(t, fx.submissions.byContent)
	assert.Equal(t, []string{"a1"}, fx.propagator.deleted)
	assert.ElementsMatch(t, []string{"submissions/a1/stu-1/work.pdf", fileKey}, fx.store.deletedKey)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestDeleteSectionCascadesIntoChildren(t *testing.T) {
	fx := newContentFixture(t)
	fx.repo.contents["s1"] = &models.Content{ID: "s1", ContentType: models.ContentSection, Name: "Unit 1", Bucket: "contents"}
	fx.repo.contents["a1"] = &models.Content{ID: "a1", ContentType: models.ContentAssignment, Name: "Essay", Bucket: "contents"}
	fx.repo.children["s1"] = []string{"a1"}

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	require.NoError(t, fx.svc.Delete(context.Background(), mainTeacher, "s1"))

	assert.Empty(t, fx.repo.contents)
	assert.ElementsMatch(t, []string{"s1", "a1"}, fx.propagator.deleted)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestDeleteContentBlobFailureIsBestEffort(t *testing.T) {
	fx := newContentFixture(t)
	fileKey := "contents/a1/brief.pdf"
	fx.repo.contents["a1"] = &models.Content{
		ID: "a1", ContentType: models.ContentAssignment, Name: "Essay",
		Bucket: "contents", FileKey: &fileKey,
	}
	fx.store.deleteErr[fileKey] = errors.New("minio down")

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	err := fx.svc.Delete(context.Background(), mainTeacher, "a1")
	require.NoError(t, err, "blob failure after commit must not fail the delete")
	assert.Empty(t, fx.repo.contents)
}

func TestDeleteContentTwiceReturnsNotFound(t *testing.T) {
	fx := newContentFixture(t)
	fx.repo.contents["a1"] = &models.Content{ID: "a1", ContentType: models.ContentAssignment, Name: "Essay", Bucket: "contents"}

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	require.NoError(t, fx.svc.Delete(context.Background(), mainTeacher, "a1"))

	err := fx.svc.Delete(context.Background(), mainTeacher, "a1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestUpdateContentRelinksGroups(t *testing.T) {
	fx := newContentFixture(t)
	fx.repo.contents["a1"] = &models.Content{
		ID: "a1", ContentType: models.ContentAssignment, Name: "Essay",
		StartAt: timePtr(windowStart), EndAt: timePtr(windowEnd), Bucket: "contents",
	}
	fx.repo.groups["a1"] = []string{"g1"}

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	_, err := fx.svc.Update(context.Background(), mainTeacher, "a1", UpdateContentInput{GroupIDs: []string{"g2"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"g2"}, fx.repo.groups["a1"])
	assert.Equal(t, []string{"a1"}, fx.propagator.groupsChanged)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestListFeedMainTeacherSeesEverything(t *testing.T) {
	fx := newContentFixture(t)
	fx.repo.contents["a1"] = &models.Content{ID: "a1", ContentType: models.ContentAssignment, Name: "Essay"}
	fx.repo.contents["m1"] = &models.Content{ID: "m1", ContentType: models.ContentMaterial, Name: "Notes"}

	contents, err := fx.svc.ListFeed(context.Background(), mainTeacher, models.ContentAssignment)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "a1", contents[0].ID)
}
