package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/repository"
	"github.com/franciumm/edusite-api/pkg/clock"
	"github.com/franciumm/edusite-api/pkg/config"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/storage"
)

type submissionRepo interface {
	Upsert(ctx context.Context, exec sqlx.ExtContext, sub *models.Submission) error
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindByStudentAndContent(ctx context.Context, studentID, contentID string) (*models.Submission, error)
	SetScore(ctx context.Context, exec sqlx.ExtContext, id string, score float64, feedback *string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type submissionStatusRepo interface {
	MarkSubmitted(ctx context.Context, exec sqlx.ExtContext, studentID, contentID, submissionID string, isLate bool) error
	MarkGraded(ctx context.Context, exec sqlx.ExtContext, studentID, contentID string, score float64) error
	Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StatusFilter) error
	AssignBatch(ctx context.Context, exec sqlx.ExtContext, pairs []repository.StatusPair) error
	Find(ctx context.Context, studentID, contentID string) (*models.SubmissionStatus, error)
	ListForContentAndGroup(ctx context.Context, contentID, groupID string) ([]models.GroupStatusRow, error)
}

type submissionContentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Content, error)
}

type submissionAuthorizer interface {
	AuthorizeSubmission(ctx context.Context, student models.User, content *models.Content) (bool, error)
	CanViewSubmissionsFor(ctx context.Context, user models.User, contentID string, contentType models.ContentType) (Decision, error)
}

// MarkInput is a teacher's grade for one submission.
type MarkInput struct {
	Score    float64 `validate:"gte=0,lte=100"`
	Feedback *string
}

// SubmissionService handles the submit, grade and status-listing flow.
// The submission row is authoritative; the status index row is updated
// in the same transaction so the two can never disagree.
type SubmissionService struct {
	db          txBeginner
	submissions submissionRepo
	statuses    submissionStatusRepo
	contents    submissionContentFinder
	access      submissionAuthorizer
	store       storage.Store
	storageCfg  config.StorageConfig
	clock       clock.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSubmissionService constructs the service.
func NewSubmissionService(
	db txBeginner,
	submissions submissionRepo,
	statuses submissionStatusRepo,
	contents submissionContentFinder,
	access submissionAuthorizer,
	store storage.Store,
	storageCfg config.StorageConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		db:          db,
		submissions: submissions,
		statuses:    statuses,
		contents:    contents,
		access:      access,
		store:       store,
		storageCfg:  storageCfg,
		clock:       clk,
		validator:   validator.New(),
		logger:      logger,
	}
}

// Submit records a student's work for an assignment or exam. The
// authorization pass decides lateness from the student's effective
// window; an instant exactly on the deadline is on time. Re-submission
// overwrites the previous version. The row commits before the file
// upload; an upload failure rolls the submission back so the indexes
// never point at a blob that was never stored.
func (s *SubmissionService) Submit(ctx context.Context, student models.User, contentID string, file UploadInput) (*models.Submission, error) {
	if err := s.validator.Struct(file); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	content, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "content not found")
		}
		return nil, err
	}
	isLate, err := s.access.AuthorizeSubmission(ctx, student, content)
	if err != nil {
		return nil, err
	}

	prev, err := s.submissions.FindByStudentAndContent(ctx, student.ID, contentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	sub := &models.Submission{
		ID:          uuid.NewString(),
		StudentID:   student.ID,
		ContentID:   contentID,
		ContentType: content.ContentType,
		Bucket:      s.storageCfg.SubmissionBucket,
		FileKey:     submissionKey(contentID, student.ID, file.FileName),
		IsLate:      isLate,
		SubmittedAt: s.clock.Now(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.submissions.Upsert(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := s.statuses.MarkSubmitted(ctx, tx, student.ID, contentID, sub.ID, isLate); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit submission")
	}

	if err := s.store.Put(ctx, sub.Bucket, sub.FileKey, file.Data, file.ContentType); err != nil {
		s.compensateSubmit(ctx, sub, prev)
		return nil, appErrors.Wrap(err, appErrors.ErrDependencyFailure.Code, appErrors.ErrDependencyFailure.Status, "submission upload failed")
	}

	// The superseded version's blob is unreachable once the new upload
	// lands. Best-effort removal; a failure only leaks storage.
	if prev != nil && prev.FileKey != sub.FileKey {
		if err := s.store.Delete(ctx, prev.Bucket, prev.FileKey); err != nil {
			s.logger.Warn("superseded submission blob not removed",
				zap.String("bucket", prev.Bucket),
				zap.String("key", prev.FileKey),
				zap.Error(err))
		}
	}
	return sub, nil
}

// compensateSubmit undoes a committed submission whose upload failed.
// A first submission is removed and the status row returns to ASSIGNED.
// A re-submission is restored to the previous version, whose blob is
// still in the store under its own key.
func (s *SubmissionService) compensateSubmit(ctx context.Context, sub *models.Submission, prev *models.Submission) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Error("submission compensation failed to begin", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	defer tx.Rollback()

	if prev != nil {
		if err := s.submissions.Upsert(ctx, tx, prev); err != nil {
			s.logger.Error("submission compensation restore failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return
		}
		if err := s.statuses.MarkSubmitted(ctx, tx, prev.StudentID, prev.ContentID, prev.ID, prev.IsLate); err != nil {
			s.logger.Error("submission compensation status restore failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return
		}
	} else {
		if err := s.submissions.Delete(ctx, tx, sub.ID); err != nil {
			s.logger.Error("submission compensation delete failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return
		}
		if err := s.statuses.Remove(ctx, tx, models.StatusFilter{StudentID: sub.StudentID, ContentID: sub.ContentID}); err != nil {
			s.logger.Error("submission compensation status reset failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return
		}
		if err := s.statuses.AssignBatch(ctx, tx, []repository.StatusPair{{StudentID: sub.StudentID, ContentID: sub.ContentID}}); err != nil {
			s.logger.Error("submission compensation reassign failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("submission compensation commit failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

// Mark grades a submission. The score lands on the submission row and
// the status index in one transaction, moving the state to MARKED.
func (s *SubmissionService) Mark(ctx context.Context, teacher models.User, submissionID string, input MarkInput) (*models.Submission, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	sub, err := s.findSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	decision, err := s.access.CanViewSubmissionsFor(ctx, teacher, sub.ContentID, sub.ContentType)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.submissions.SetScore(ctx, tx, sub.ID, input.Score, input.Feedback); err != nil {
		return nil, err
	}
	if err := s.statuses.MarkGraded(ctx, tx, sub.StudentID, sub.ContentID, input.Score); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit grade")
	}

	sub.Score = &input.Score
	sub.Feedback = input.Feedback
	return sub, nil
}

// StatusForGroup answers "where does every student in this group stand
// on this content" from the status index joined with the roster.
// Students without a status row read as ASSIGNED.
func (s *SubmissionService) StatusForGroup(ctx context.Context, user models.User, contentID, groupID string) ([]models.GroupStatusRow, error) {
	content, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "content not found")
		}
		return nil, err
	}
	if !content.ContentType.Assignable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status listings apply to assignments and exams only")
	}
	decision, err := s.access.CanViewSubmissionsFor(ctx, user, contentID, content.ContentType)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}
	return s.statuses.ListForContentAndGroup(ctx, contentID, groupID)
}

// StatusForStudent returns one student's status row. Students may only
// ask about themselves.
func (s *SubmissionService) StatusForStudent(ctx context.Context, user models.User, studentID, contentID string) (*models.SubmissionStatus, error) {
	if user.IsStudent() && user.ID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own status")
	}
	status, err := s.statuses.Find(ctx, studentID, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "status not found")
		}
		return nil, err
	}
	return status, nil
}

// DownloadURL presigns the submitted file. Students download their own
// work; teachers go through the submission-view check.
func (s *SubmissionService) DownloadURL(ctx context.Context, user models.User, submissionID string) (string, error) {
	sub, err := s.findSubmission(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if user.IsStudent() {
		if sub.StudentID != user.ID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students may only download their own submissions")
		}
	} else {
		decision, err := s.access.CanViewSubmissionsFor(ctx, user, sub.ContentID, sub.ContentType)
		if err != nil {
			return "", err
		}
		if !decision.Allowed {
			return "", appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
		}
	}
	url, err := s.store.PresignedGetURL(ctx, sub.Bucket, sub.FileKey, s.storageCfg.PresignTTL)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrDependencyFailure.Code, appErrors.ErrDependencyFailure.Status, "failed to presign submission")
	}
	return url, nil
}

func (s *SubmissionService) findSubmission(ctx context.Context, id string) (*models.Submission, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, err
	}
	return sub, nil
}

func submissionKey(contentID, studentID, fileName string) string {
	return fmt.Sprintf("submissions/%s/%s/%s-%s", contentID, studentID, uuid.NewString()[:8], path.Base(fileName))
}
