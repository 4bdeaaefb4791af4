package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type accessStreamReader interface {
	Find(ctx context.Context, userID, contentID string, contentType models.ContentType) (*models.StreamEntry, error)
}

type accessContentReader interface {
	FindByID(ctx context.Context, id string) (*models.Content, error)
	FindException(ctx context.Context, contentID, studentID string) (*models.ContentException, error)
	IsRejected(ctx context.Context, contentID, studentID string) (bool, error)
	IsEnrolled(ctx context.Context, contentID, studentID string) (bool, error)
}

// Decision is the outcome of an access check. Reason is a short
// human-readable cause used in Forbidden responses and logs.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// AccessService is the access decision engine. It is strictly
// read-only: it consults the stream index, the content row and the
// per-student lists, and reapplies the timeline policy on every call.
type AccessService struct {
	stream   accessStreamReader
	contents accessContentReader
	metrics  *MetricsService
	clock    clock.Clock
	logger   *zap.Logger
}

// NewAccessService constructs the engine.
func NewAccessService(stream accessStreamReader, contents accessContentReader, metrics *MetricsService, clk clock.Clock, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{stream: stream, contents: contents, metrics: metrics, clock: clk, logger: logger}
}

// CanAccess decides whether user may see the content right now.
//
// Main teachers bypass the index entirely. Other teachers are granted
// by stream-entry existence alone. Students combine the entry (or the
// assignment enrollment allow-list, a deliberately separate grant path)
// with the timeline policy.
func (s *AccessService) CanAccess(ctx context.Context, user models.User, contentID string, contentType models.ContentType) (Decision, error) {
	decision, err := s.decide(ctx, user, contentID, contentType)
	if err == nil && !decision.Allowed {
		s.metrics.RecordAccessDenial(decision.Reason)
	}
	return decision, err
}

func (s *AccessService) decide(ctx context.Context, user models.User, contentID string, contentType models.ContentType) (Decision, error) {
	if user.IsMainTeacher() {
		return allow(), nil
	}

	entry, err := s.stream.Find(ctx, user.ID, contentID, contentType)
	if err != nil {
		return deny("lookup failed"), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check content visibility")
	}

	if user.IsTeacher() {
		if entry == nil {
			return deny("content not assigned to you"), nil
		}
		return allow(), nil
	}

	// Student path. The enrollment allow-list can grant an assignment to
	// a student outside every linked group, so a missing entry is not
	// final for assignments.
	if entry == nil {
		if contentType != models.ContentAssignment {
			return deny("content not available"), nil
		}
		enrolled, err := s.contents.IsEnrolled(ctx, contentID, user.ID)
		if err != nil {
			return deny("lookup failed"), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return deny("content not available"), nil
		}
	}

	content, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deny("content not found"), appErrors.Clone(appErrors.ErrNotFound, "content not found")
		}
		return deny("lookup failed"), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load content")
	}

	return s.evaluateStudent(ctx, user.ID, content)
}

// CanViewSubmissionsFor decides whether user may inspect submissions of
// a content item. Main teachers always may; everyone else follows the
// same visibility rules as CanAccess.
func (s *AccessService) CanViewSubmissionsFor(ctx context.Context, user models.User, contentID string, contentType models.ContentType) (Decision, error) {
	return s.CanAccess(ctx, user, contentID, contentType)
}

// AuthorizeSubmission checks that the student may submit work for the
// content right now and reports whether the submission is late. The
// boundary is inclusive: submitting at exactly the effective end is on
// time; any instant after is late, and late work is rejected unless the
// content allows it.
func (s *AccessService) AuthorizeSubmission(ctx context.Context, student models.User, content *models.Content) (bool, error) {
	if !student.IsStudent() {
		return false, appErrors.Clone(appErrors.ErrForbidden, "only students submit work")
	}
	if !content.ContentType.Assignable() {
		return false, appErrors.Clone(appErrors.ErrValidation, "content does not accept submissions")
	}

	entry, err := s.stream.Find(ctx, student.ID, content.ID, content.ContentType)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check content visibility")
	}
	if entry == nil {
		enrolled := false
		if content.ContentType == models.ContentAssignment {
			enrolled, err = s.contents.IsEnrolled(ctx, content.ID, student.ID)
			if err != nil {
				return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
			}
		}
		if !enrolled {
			return false, appErrors.Clone(appErrors.ErrForbidden, "content not available")
		}
	}

	rejected, err := s.contents.IsRejected(ctx, content.ID, student.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check rejection list")
	}
	if rejected {
		return false, appErrors.Clone(appErrors.ErrForbidden, "submissions are not accepted from you for this content")
	}

	exc, err := s.contents.FindException(ctx, content.ID, student.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exception window")
	}

	now := s.clock.Now()
	w := content.EffectiveWindow(exc)
	if w == nil {
		return false, nil
	}
	if now.Before(w.Start) {
		return false, appErrors.Clone(appErrors.ErrForbidden, "submission window not open yet")
	}
	if now.After(w.End) {
		if !content.AllowLate {
			return false, appErrors.Clone(appErrors.ErrForbidden, "deadline passed")
		}
		return true, nil
	}
	return false, nil
}

// EvaluateTimeline applies the student timeline policy to an already
// loaded content row. Exposed for the feed listing, which batch-loads
// exceptions and rejections instead of querying per item.
func (s *AccessService) EvaluateTimeline(content *models.Content, exc *models.ContentException, rejected bool, now time.Time) Decision {
	if rejected {
		return deny("rejected")
	}
	if content.PublishAt != nil {
		if now.Before(*content.PublishAt) {
			return deny("not published yet")
		}
		return allow()
	}
	w := content.EffectiveWindow(exc)
	if w == nil {
		return allow()
	}
	if now.Before(w.Start) {
		return deny("window not open yet")
	}
	if now.After(w.End) {
		if content.AllowLate {
			return allow()
		}
		return deny("deadline passed")
	}
	return allow()
}

func (s *AccessService) evaluateStudent(ctx context.Context, studentID string, content *models.Content) (Decision, error) {
	rejected, err := s.contents.IsRejected(ctx, content.ID, studentID)
	if err != nil {
		return deny("lookup failed"), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check rejection list")
	}
	exc, err := s.contents.FindException(ctx, content.ID, studentID)
	if err != nil {
		return deny("lookup failed"), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exception window")
	}
	return s.EvaluateTimeline(content, exc, rejected, s.clock.Now()), nil
}
