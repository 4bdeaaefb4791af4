package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	"github.com/franciumm/edusite-api/pkg/config"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/storage"
)

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type contentRepo interface {
	Create(ctx context.Context, exec sqlx.ExtContext, content *models.Content) error
	FindByID(ctx context.Context, id string) (*models.Content, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Content, error)
	ListByType(ctx context.Context, contentType models.ContentType) ([]models.Content, error)
	UpdateMeta(ctx context.Context, exec sqlx.ExtContext, content *models.Content) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	DeleteLinks(ctx context.Context, exec sqlx.ExtContext, contentID string) error
	ListGroupIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error)
	ReplaceGroups(ctx context.Context, exec sqlx.ExtContext, contentID string, groupIDs []string) error
	ListExceptionsForStudent(ctx context.Context, studentID string, contentIDs []string) (map[string]models.ContentException, error)
	ReplaceExceptions(ctx context.Context, exec sqlx.ExtContext, contentID string, excs []models.ContentException) error
	ListRejectionsForStudent(ctx context.Context, studentID string, contentIDs []string) (map[string]bool, error)
	ReplaceRejections(ctx context.Context, exec sqlx.ExtContext, contentID string, studentIDs []string) error
	ListEnrolledStudentIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error)
	ReplaceEnrollments(ctx context.Context, exec sqlx.ExtContext, contentID string, studentIDs []string) error
	AddChildren(ctx context.Context, exec sqlx.ExtContext, sectionID string, childIDs []string) error
	ListChildIDs(ctx context.Context, exec sqlx.ExtContext, sectionID string) ([]string, error)
}

type contentSubmissionRepo interface {
	ListByContent(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]models.Submission, error)
	DeleteByContent(ctx context.Context, exec sqlx.ExtContext, contentID string) (int64, error)
}

type contentStreamReader interface {
	ListContentIDsForUser(ctx context.Context, userID string, contentType models.ContentType) ([]string, error)
}

type contentPropagator interface {
	ContentCreated(ctx context.Context, tx sqlx.ExtContext, content *models.Content, groupIDs, enrolledStudentIDs []string) ([]string, error)
	SectionCreated(ctx context.Context, tx sqlx.ExtContext, section *models.Content, groupIDs []string, children []*models.Content) ([]string, error)
	ContentGroupsChanged(ctx context.Context, tx sqlx.ExtContext, content *models.Content, oldGroupIDs, newGroupIDs []string) ([]string, error)
	EnrollmentChanged(ctx context.Context, tx sqlx.ExtContext, content *models.Content, oldIDs, newIDs []string) error
	ContentDeleted(ctx context.Context, tx sqlx.ExtContext, contentID string) ([]string, error)
	InvalidateFeeds(ctx context.Context, userIDs []string, contentTypes ...models.ContentType)
}

type contentCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type timelineEvaluator interface {
	CanAccess(ctx context.Context, user models.User, contentID string, contentType models.ContentType) (Decision, error)
	EvaluateTimeline(content *models.Content, exc *models.ContentException, rejected bool, now time.Time) Decision
}

// UploadInput carries one file to be stored alongside a content item.
type UploadInput struct {
	FileName    string `validate:"required"`
	ContentType string
	Data        []byte `validate:"required"`
}

// CreateContentInput is the request to publish a new content item.
type CreateContentInput struct {
	ContentType models.ContentType `validate:"required"`
	Name        string             `validate:"required,min=1,max=255"`
	GradeID     *string
	GroupIDs    []string
	StartAt     *time.Time
	EndAt       *time.Time
	PublishAt   *time.Time
	AllowLate   bool
	EnrolledIDs []string
	File        *UploadInput
	AnswerFile  *UploadInput
}

// CreateSectionInput groups several child items under one section.
type CreateSectionInput struct {
	Name     string `validate:"required,min=1,max=255"`
	GradeID  *string
	GroupIDs []string
	Children []CreateContentInput `validate:"dive"`
}

// UpdateContentInput edits metadata and linkage of an existing item.
// Nil slices leave the corresponding list untouched.
type UpdateContentInput struct {
	Name        *string
	StartAt     *time.Time
	EndAt       *time.Time
	PublishAt   *time.Time
	AllowLate   *bool
	GroupIDs    []string
	EnrolledIDs []string
}

// ContentDetail is a content row plus the pieces a single fetch needs.
type ContentDetail struct {
	Content  models.Content   `json:"content"`
	Children []models.Content `json:"children,omitempty"`
	FileURL  string           `json:"file_url,omitempty"`
}

// ContentService owns the content lifecycle: creation with fan-out,
// edits, the per-user feed, and the cascading delete. All index
// mutation is delegated to the propagation service inside the same
// transaction as the triggering write.
type ContentService struct {
	db          txBeginner
	contents    contentRepo
	submissions contentSubmissionRepo
	stream      contentStreamReader
	propagation contentPropagator
	access      timelineEvaluator
	store       storage.Store
	cache       contentCache
	storageCfg  config.StorageConfig
	streamCfg   config.StreamConfig
	metrics     *MetricsService
	clock       clock.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewContentService constructs the service.
func NewContentService(
	db txBeginner,
	contents contentRepo,
	submissions contentSubmissionRepo,
	stream contentStreamReader,
	propagation contentPropagator,
	access timelineEvaluator,
	store storage.Store,
	cache contentCache,
	storageCfg config.StorageConfig,
	streamCfg config.StreamConfig,
	metrics *MetricsService,
	clk clock.Clock,
	logger *zap.Logger,
) *ContentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentService{
		db:          db,
		contents:    contents,
		submissions: submissions,
		stream:      stream,
		propagation: propagation,
		access:      access,
		store:       store,
		cache:       cache,
		storageCfg:  storageCfg,
		streamCfg:   streamCfg,
		metrics:     metrics,
		clock:       clk,
		validator:   validator.New(),
		logger:      logger,
	}
}

// Create publishes a new assignment, exam or material and fans it out.
// The database transaction commits before the file is uploaded; if the
// upload then fails, the row and its index entries are compensated away
// so no content ever points at a blob that does not exist.
func (s *ContentService) Create(ctx context.Context, actor models.User, input CreateContentInput) (*models.Content, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can create content")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if input.ContentType == models.ContentSection {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sections are created through the section endpoint")
	}
	if err := validateContentInput(input); err != nil {
		return nil, err
	}

	content := s.buildContent(actor, input)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.contents.Create(ctx, tx, content); err != nil {
		return nil, err
	}
	if err := s.contents.ReplaceGroups(ctx, tx, content.ID, input.GroupIDs); err != nil {
		return nil, err
	}
	if len(input.EnrolledIDs) > 0 {
		if err := s.contents.ReplaceEnrollments(ctx, tx, content.ID, input.EnrolledIDs); err != nil {
			return nil, err
		}
	}
	affected, err := s.propagation.ContentCreated(ctx, tx, content, input.GroupIDs, input.EnrolledIDs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit content")
	}

	if err := s.uploadFiles(ctx, content, input); err != nil {
		s.compensateCreate(ctx, content.ID)
		return nil, err
	}

	s.propagation.InvalidateFeeds(ctx, affected, content.ContentType)
	return content, nil
}

// CreateSection publishes a section together with its children in a
// single transaction. Children must be assignments, exams or materials.
func (s *ContentService) CreateSection(ctx context.Context, actor models.User, input CreateSectionInput) (*ContentDetail, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can create content")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	section := &models.Content{
		ID:          uuid.NewString(),
		ContentType: models.ContentSection,
		Name:        input.Name,
		CreatedBy:   actor.ID,
		GradeID:     input.GradeID,
		Bucket:      s.storageCfg.ContentBucket,
		CreatedAt:   s.clock.Now(),
	}

	children := make([]*models.Content, 0, len(input.Children))
	childInputs := make([]CreateContentInput, 0, len(input.Children))
	for _, ci := range input.Children {
		if ci.ContentType == models.ContentSection {
			return nil, appErrors.Clone(appErrors.ErrValidation, "sections cannot be nested")
		}
		if err := validateContentInput(ci); err != nil {
			return nil, err
		}
		children = append(children, s.buildContent(actor, ci))
		childInputs = append(childInputs, ci)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.contents.Create(ctx, tx, section); err != nil {
		return nil, err
	}
	if err := s.contents.ReplaceGroups(ctx, tx, section.ID, input.GroupIDs); err != nil {
		return nil, err
	}
	childIDs := make([]string, 0, len(children))
	for _, child := range children {
		if err := s.contents.Create(ctx, tx, child); err != nil {
			return nil, err
		}
		childIDs = append(childIDs, child.ID)
	}
	if err := s.contents.AddChildren(ctx, tx, section.ID, childIDs); err != nil {
		return nil, err
	}
	affected, err := s.propagation.SectionCreated(ctx, tx, section, input.GroupIDs, children)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit section")
	}

	for i, child := range children {
		if err := s.uploadFiles(ctx, child, childInputs[i]); err != nil {
			s.logger.Error("child upload failed after section commit",
				zap.String("section_id", section.ID),
				zap.String("content_id", child.ID),
				zap.Error(err))
			return nil, err
		}
	}

	s.propagation.InvalidateFeeds(ctx, affected)

	detail := &ContentDetail{Content: *section}
	for _, c := range children {
		detail.Children = append(detail.Children, *c)
	}
	return detail, nil
}

// Update edits metadata and linkage. Group changes are diffed so only
// students of the added and removed groups are touched.
func (s *ContentService) Update(ctx context.Context, actor models.User, contentID string, input UpdateContentInput) (*models.Content, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can edit content")
	}
	content, err := s.findContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		content.Name = *input.Name
	}
	if input.StartAt != nil {
		content.StartAt = input.StartAt
	}
	if input.EndAt != nil {
		content.EndAt = input.EndAt
	}
	if input.PublishAt != nil {
		content.PublishAt = input.PublishAt
	}
	if input.AllowLate != nil {
		content.AllowLate = *input.AllowLate
	}
	if content.HasWindow() && !content.EndAt.After(*content.StartAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must be after start")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.contents.UpdateMeta(ctx, tx, content); err != nil {
		return nil, err
	}

	var affected []string
	if input.GroupIDs != nil {
		oldGroups, err := s.contents.ListGroupIDs(ctx, tx, contentID)
		if err != nil {
			return nil, err
		}
		if err := s.contents.ReplaceGroups(ctx, tx, contentID, input.GroupIDs); err != nil {
			return nil, err
		}
		affected, err = s.propagation.ContentGroupsChanged(ctx, tx, content, oldGroups, input.GroupIDs)
		if err != nil {
			return nil, err
		}
	}
	if input.EnrolledIDs != nil {
		oldEnrolled, err := s.contents.ListEnrolledStudentIDs(ctx, tx, contentID)
		if err != nil {
			return nil, err
		}
		if err := s.contents.ReplaceEnrollments(ctx, tx, contentID, input.EnrolledIDs); err != nil {
			return nil, err
		}
		if err := s.propagation.EnrollmentChanged(ctx, tx, content, oldEnrolled, input.EnrolledIDs); err != nil {
			return nil, err
		}
		affected = append(affected, oldEnrolled...)
		affected = append(affected, input.EnrolledIDs...)
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit update")
	}

	s.propagation.InvalidateFeeds(ctx, affected, content.ContentType)
	return content, nil
}

// ReplaceExceptions swaps the per-student window overrides. Exceptions
// only exist for windowed content.
func (s *ContentService) ReplaceExceptions(ctx context.Context, actor models.User, contentID string, excs []models.ContentException) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage exceptions")
	}
	content, err := s.findContent(ctx, contentID)
	if err != nil {
		return err
	}
	if !content.ContentType.Assignable() {
		return appErrors.Clone(appErrors.ErrValidation, "exceptions apply to assignments and exams only")
	}
	for _, exc := range excs {
		if !exc.EndAt.After(exc.StartAt) {
			return appErrors.Clone(appErrors.ErrValidation, "exception end must be after start")
		}
	}
	for i := range excs {
		excs[i].ContentID = contentID
	}
	return s.contents.ReplaceExceptions(ctx, nil, contentID, excs)
}

// ReplaceRejections swaps the per-student rejection list. Rejection is
// evaluated at decision time, so no index work is needed.
func (s *ContentService) ReplaceRejections(ctx context.Context, actor models.User, contentID string, studentIDs []string) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can manage rejections")
	}
	if _, err := s.findContent(ctx, contentID); err != nil {
		return err
	}
	return s.contents.ReplaceRejections(ctx, nil, contentID, studentIDs)
}

// Get returns one content item after an access check, with a presigned
// file URL and, for sections, the child rows.
func (s *ContentService) Get(ctx context.Context, user models.User, contentID string) (*ContentDetail, error) {
	content, err := s.findContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	decision, err := s.access.CanAccess(ctx, user, contentID, content.ContentType)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}

	detail := &ContentDetail{Content: *content}
	if content.FileKey != nil {
		url, err := s.store.PresignedGetURL(ctx, content.Bucket, *content.FileKey, s.storageCfg.PresignTTL)
		if err != nil {
			s.logger.Warn("presign failed", zap.String("content_id", contentID), zap.Error(err))
		} else {
			detail.FileURL = url
		}
	}
	if content.ContentType == models.ContentSection {
		childIDs, err := s.contents.ListChildIDs(ctx, nil, contentID)
		if err != nil {
			return nil, err
		}
		children, err := s.contents.ListByIDs(ctx, childIDs)
		if err != nil {
			return nil, err
		}
		if user.IsStudent() {
			children, err = s.filterForStudent(ctx, user.ID, children)
			if err != nil {
				return nil, err
			}
		}
		detail.Children = children
	}
	return detail, nil
}

// ListFeed returns the content items of one type the user can see
// right now. Teachers read their index directly; the main teacher sees
// everything. Student feeds are filtered through the timeline policy
// and cached briefly in Redis.
func (s *ContentService) ListFeed(ctx context.Context, user models.User, contentType models.ContentType) ([]models.Content, error) {
	if !contentType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown content type")
	}
	if user.IsMainTeacher() {
		return s.contents.ListByType(ctx, contentType)
	}

	cacheKey := feedCacheKey(user.ID, contentType)
	if s.cacheEnabled() {
		var cached []models.Content
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			s.metrics.RecordFeedCache(true)
			return cached, nil
		} else if !appErrors.HasCode(err, appErrors.ErrCacheMiss.Code) {
			s.logger.Warn("feed cache read failed", zap.Error(err))
		}
		s.metrics.RecordFeedCache(false)
	}

	ids, err := s.stream.ListContentIDsForUser(ctx, user.ID, contentType)
	if err != nil {
		return nil, err
	}
	contents, err := s.contents.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if user.IsStudent() {
		contents, err = s.filterForStudent(ctx, user.ID, contents)
		if err != nil {
			return nil, err
		}
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, cacheKey, contents, s.streamCfg.CacheTTL); err != nil {
			s.logger.Warn("feed cache write failed", zap.Error(err))
		}
	}
	return contents, nil
}

// Delete removes a content item, every dependent row, and then the
// blobs. A section cascades into its children. The database work is a
// single transaction; blob deletion happens afterwards and a blob
// failure is logged but never fails the call, since the decision
// engine already treats the content as gone.
func (s *ContentService) Delete(ctx context.Context, actor models.User, contentID string) error {
	if !actor.IsMainTeacher() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can delete content")
	}
	root, err := s.findContent(ctx, contentID)
	if err != nil {
		return err
	}

	targets := []models.Content{*root}
	if root.ContentType == models.ContentSection {
		childIDs, err := s.contents.ListChildIDs(ctx, nil, contentID)
		if err != nil {
			return err
		}
		children, err := s.contents.ListByIDs(ctx, childIDs)
		if err != nil {
			return err
		}
		targets = append(targets, children...)
	}

	type blob struct{ bucket, key string }
	var blobs []blob
	var affected []string

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	for i := range targets {
		c := targets[i]
		if c.ContentType.Assignable() {
			subs, err := s.submissions.ListByContent(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				blobs = append(blobs, blob{bucket: sub.Bucket, key: sub.FileKey})
			}
			if _, err := s.submissions.DeleteByContent(ctx, tx, c.ID); err != nil {
				return err
			}
		}
		users, err := s.propagation.ContentDeleted(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		affected = append(affected, users...)
		if err := s.contents.DeleteLinks(ctx, tx, c.ID); err != nil {
			return err
		}
		if _, err := s.contents.Delete(ctx, tx, c.ID); err != nil {
			return err
		}
		if c.FileKey != nil {
			blobs = append(blobs, blob{bucket: c.Bucket, key: *c.FileKey})
		}
		if c.AnswerKey != nil {
			blobs = append(blobs, blob{bucket: c.Bucket, key: *c.AnswerKey})
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit delete")
	}

	for _, b := range blobs {
		if err := s.store.Delete(ctx, b.bucket, b.key); err != nil {
			s.logger.Error("orphaned blob after content delete",
				zap.String("bucket", b.bucket),
				zap.String("key", b.key),
				zap.Error(err))
		}
	}

	s.propagation.InvalidateFeeds(ctx, affected)
	return nil
}

func (s *ContentService) findContent(ctx context.Context, contentID string) (*models.Content, error) {
	content, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "content not found")
		}
		return nil, err
	}
	return content, nil
}

func (s *ContentService) buildContent(actor models.User, input CreateContentInput) *models.Content {
	id := uuid.NewString()
	content := &models.Content{
		ID:          id,
		ContentType: input.ContentType,
		Name:        input.Name,
		CreatedBy:   actor.ID,
		GradeID:     input.GradeID,
		StartAt:     input.StartAt,
		EndAt:       input.EndAt,
		PublishAt:   input.PublishAt,
		AllowLate:   input.AllowLate,
		Bucket:      s.storageCfg.ContentBucket,
		CreatedAt:   s.clock.Now(),
	}
	if input.File != nil {
		key := blobKey("contents", id, input.File.FileName)
		content.FileKey = &key
	}
	if input.AnswerFile != nil {
		key := blobKey("answers", id, input.AnswerFile.FileName)
		content.AnswerKey = &key
	}
	return content
}

// uploadFiles runs the second phase of the create: the row is already
// committed, so a failed put must be compensated by the caller.
func (s *ContentService) uploadFiles(ctx context.Context, content *models.Content, input CreateContentInput) error {
	if input.File != nil && content.FileKey != nil {
		if err := s.store.Put(ctx, content.Bucket, *content.FileKey, input.File.Data, input.File.ContentType); err != nil {
			return appErrors.Wrap(err, appErrors.ErrDependencyFailure.Code, appErrors.ErrDependencyFailure.Status, "file upload failed")
		}
	}
	if input.AnswerFile != nil && content.AnswerKey != nil {
		if err := s.store.Put(ctx, content.Bucket, *content.AnswerKey, input.AnswerFile.Data, input.AnswerFile.ContentType); err != nil {
			return appErrors.Wrap(err, appErrors.ErrDependencyFailure.Code, appErrors.ErrDependencyFailure.Status, "answer key upload failed")
		}
	}
	return nil
}

func (s *ContentService) compensateCreate(ctx context.Context, contentID string) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Error("compensation failed to begin", zap.String("content_id", contentID), zap.Error(err))
		return
	}
	defer tx.Rollback()

	if _, err := s.propagation.ContentDeleted(ctx, tx, contentID); err != nil {
		s.logger.Error("compensation index cleanup failed", zap.String("content_id", contentID), zap.Error(err))
		return
	}
	if err := s.contents.DeleteLinks(ctx, tx, contentID); err != nil {
		s.logger.Error("compensation link cleanup failed", zap.String("content_id", contentID), zap.Error(err))
		return
	}
	if _, err := s.contents.Delete(ctx, tx, contentID); err != nil {
		s.logger.Error("compensation row delete failed", zap.String("content_id", contentID), zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("compensation commit failed", zap.String("content_id", contentID), zap.Error(err))
	}
}

// filterForStudent reapplies the timeline policy over a batch, loading
// the student's exceptions and rejections in two queries.
func (s *ContentService) filterForStudent(ctx context.Context, studentID string, contents []models.Content) ([]models.Content, error) {
	if len(contents) == 0 {
		return contents, nil
	}
	ids := make([]string, 0, len(contents))
	for _, c := range contents {
		ids = append(ids, c.ID)
	}
	excs, err := s.contents.ListExceptionsForStudent(ctx, studentID, ids)
	if err != nil {
		return nil, err
	}
	rejections, err := s.contents.ListRejectionsForStudent(ctx, studentID, ids)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	visible := make([]models.Content, 0, len(contents))
	for i := range contents {
		c := contents[i]
		var exc *models.ContentException
		if e, ok := excs[c.ID]; ok {
			e := e
			exc = &e
		}
		decision := s.access.EvaluateTimeline(&c, exc, rejections[c.ID], now)
		if decision.Allowed {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

func (s *ContentService) cacheEnabled() bool {
	return s.cache != nil && s.streamCfg.CacheEnabled
}

func validateContentInput(input CreateContentInput) error {
	if !input.ContentType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown content type")
	}
	if (input.StartAt == nil) != (input.EndAt == nil) {
		return appErrors.Clone(appErrors.ErrValidation, "start and end must be set together")
	}
	if input.StartAt != nil && !input.EndAt.After(*input.StartAt) {
		return appErrors.Clone(appErrors.ErrValidation, "end must be after start")
	}
	if input.ContentType.Assignable() && input.StartAt == nil {
		return appErrors.Clone(appErrors.ErrValidation, "assignments and exams require a submission window")
	}
	if input.ContentType == models.ContentMaterial && input.StartAt != nil {
		return appErrors.Clone(appErrors.ErrValidation, "materials do not carry a submission window")
	}
	if len(input.EnrolledIDs) > 0 && input.ContentType != models.ContentAssignment {
		return appErrors.Clone(appErrors.ErrValidation, "enrollment lists apply to assignments only")
	}
	return nil
}

func blobKey(prefix, contentID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, contentID, path.Base(fileName))
}
