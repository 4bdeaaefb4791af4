package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/repository"
)

type propagationStreamRepo interface {
	UpsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.StreamEntry) error
	Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StreamFilter) error
	ListUserIDsForContent(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error)
}

type propagationStatusRepo interface {
	AssignBatch(ctx context.Context, exec sqlx.ExtContext, pairs []repository.StatusPair) error
	Remove(ctx context.Context, exec sqlx.ExtContext, filter models.StatusFilter) error
}

type propagationStudentRepo interface {
	ListIDsByGroup(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error)
	ListIDsByGroups(ctx context.Context, exec sqlx.ExtContext, groupIDs []string) ([]string, error)
}

type propagationTeacherRepo interface {
	ListAssistantIDsWithPermission(ctx context.Context, exec sqlx.ExtContext, contentType models.ContentType, groupIDs []string) ([]string, error)
	ListPermissions(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.TeacherPermission, error)
	ListTeacherIDsWithGroupGrant(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]string, error)
}

type propagationContentRepo interface {
	ListForGroup(ctx context.Context, exec sqlx.ExtContext, groupID string) ([]models.Content, error)
	ListForPermissions(ctx context.Context, exec sqlx.ExtContext, contentType models.ContentType, groupIDs []string) ([]models.Content, error)
	ListGroupIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error)
	ListChildren(ctx context.Context, exec sqlx.ExtContext, sectionID string) ([]models.Content, error)
	ListEnrolledStudentIDs(ctx context.Context, exec sqlx.ExtContext, contentID string) ([]string, error)
}

type feedCache interface {
	Delete(ctx context.Context, keys ...string) error
}

// PropagationService keeps the stream and status indexes consistent
// with ground truth. It is the only component allowed to write them.
// Every method takes the caller's transaction so the index mutation
// commits or aborts together with the triggering write.
type PropagationService struct {
	stream   propagationStreamRepo
	statuses propagationStatusRepo
	students propagationStudentRepo
	teachers propagationTeacherRepo
	contents propagationContentRepo
	cache    feedCache
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewPropagationService constructs the service.
func NewPropagationService(
	stream propagationStreamRepo,
	statuses propagationStatusRepo,
	students propagationStudentRepo,
	teachers propagationTeacherRepo,
	contents propagationContentRepo,
	cache feedCache,
	metrics *MetricsService,
	logger *zap.Logger,
) *PropagationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PropagationService{
		stream:   stream,
		statuses: statuses,
		students: students,
		teachers: teachers,
		contents: contents,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

// ContentCreated fans a new content item out to every student in its
// linked groups, every explicitly enrolled student, the creator, and
// every assistant holding a matching permission. Returns the affected
// user IDs so the caller can invalidate feed caches after commit.
func (s *PropagationService) ContentCreated(ctx context.Context, tx sqlx.ExtContext, content *models.Content, groupIDs, enrolledStudentIDs []string) ([]string, error) {
	start := time.Now()
	studentIDs, err := s.students.ListIDsByGroups(ctx, tx, groupIDs)
	if err != nil {
		return nil, err
	}
	assistantIDs, err := s.teachers.ListAssistantIDsWithPermission(ctx, tx, content.ContentType, groupIDs)
	if err != nil {
		return nil, err
	}

	groupOf := make(map[string]string)
	for _, g := range groupIDs {
		roster, err := s.students.ListIDsByGroup(ctx, tx, g)
		if err != nil {
			return nil, err
		}
		for _, id := range roster {
			groupOf[id] = g
		}
	}

	seen := make(map[string]bool)
	var entries []models.StreamEntry
	var pairs []repository.StatusPair
	addEntry := func(userID string, groupID *string) {
		if seen[userID] {
			return
		}
		seen[userID] = true
		entries = append(entries, models.StreamEntry{
			UserID:      userID,
			ContentID:   content.ID,
			ContentType: content.ContentType,
			GroupID:     groupID,
			GradeID:     content.GradeID,
		})
	}

	for _, id := range studentIDs {
		var gid *string
		if g, ok := groupOf[id]; ok {
			g := g
			gid = &g
		}
		addEntry(id, gid)
		if content.ContentType.Assignable() {
			pairs = append(pairs, repository.StatusPair{StudentID: id, ContentID: content.ID})
		}
	}
	// Enrollment grants live outside the stream index (the engine checks
	// the allow-list directly), but enrolled students still need status
	// rows so their submissions are tracked.
	for _, id := range enrolledStudentIDs {
		if content.ContentType.Assignable() && !seen[id] {
			pairs = append(pairs, repository.StatusPair{StudentID: id, ContentID: content.ID})
		}
	}
	addEntry(content.CreatedBy, nil)
	for _, id := range assistantIDs {
		addEntry(id, nil)
	}

	if err := s.stream.UpsertBatch(ctx, tx, entries); err != nil {
		return nil, err
	}
	if err := s.statuses.AssignBatch(ctx, tx, pairs); err != nil {
		return nil, err
	}

	affected := make([]string, 0, len(seen))
	for id := range seen {
		affected = append(affected, id)
	}
	s.metrics.ObserveFanout(len(affected), time.Since(start))
	return affected, nil
}

// SectionCreated fans out the section itself and then each child, so
// transitive visibility stays a single (user, content) lookup.
func (s *PropagationService) SectionCreated(ctx context.Context, tx sqlx.ExtContext, section *models.Content, groupIDs []string, children []*models.Content) ([]string, error) {
	affected, err := s.ContentCreated(ctx, tx, section, groupIDs, nil)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		more, err := s.ContentCreated(ctx, tx, child, groupIDs, nil)
		if err != nil {
			return nil, err
		}
		affected = append(affected, more...)
	}
	return dedupe(affected), nil
}

// ContentGroupsChanged diffs the old and new linkage sets and touches
// only students of the added and removed groups. A section carries its
// children through the relink, so the materialized child entries follow
// the same diff. Entries for the creator and assistants survive an edit.
func (s *PropagationService) ContentGroupsChanged(ctx context.Context, tx sqlx.ExtContext, content *models.Content, oldGroupIDs, newGroupIDs []string) ([]string, error) {
	added, removed := diffSets(oldGroupIDs, newGroupIDs)

	targets := []models.Content{*content}
	if content.ContentType == models.ContentSection {
		children, err := s.contents.ListChildren(ctx, tx, content.ID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, children...)
	}

	var affected []string
	for i := range targets {
		more, err := s.applyGroupDiff(ctx, tx, &targets[i], added, removed)
		if err != nil {
			return nil, err
		}
		affected = append(affected, more...)
	}
	return dedupe(affected), nil
}

func (s *PropagationService) applyGroupDiff(ctx context.Context, tx sqlx.ExtContext, content *models.Content, added, removed []string) ([]string, error) {
	var affected []string

	for _, g := range removed {
		roster, err := s.students.ListIDsByGroup(ctx, tx, g)
		if err != nil {
			return nil, err
		}
		if len(roster) == 0 {
			continue
		}
		if err := s.stream.Remove(ctx, tx, models.StreamFilter{UserIDs: roster, ContentID: content.ID}); err != nil {
			return nil, err
		}
		if content.ContentType.Assignable() {
			removable, err := s.withoutEnrolled(ctx, tx, content.ID, roster)
			if err != nil {
				return nil, err
			}
			if len(removable) > 0 {
				if err := s.statuses.Remove(ctx, tx, models.StatusFilter{StudentIDs: removable, ContentID: content.ID}); err != nil {
					return nil, err
				}
			}
		}
		affected = append(affected, roster...)
	}

	for _, g := range added {
		roster, err := s.students.ListIDsByGroup(ctx, tx, g)
		if err != nil {
			return nil, err
		}
		var entries []models.StreamEntry
		var pairs []repository.StatusPair
		for _, id := range roster {
			g := g
			entries = append(entries, models.StreamEntry{
				UserID:      id,
				ContentID:   content.ID,
				ContentType: content.ContentType,
				GroupID:     &g,
				GradeID:     content.GradeID,
			})
			if content.ContentType.Assignable() {
				pairs = append(pairs, repository.StatusPair{StudentID: id, ContentID: content.ID})
			}
		}
		if err := s.stream.UpsertBatch(ctx, tx, entries); err != nil {
			return nil, err
		}
		if err := s.statuses.AssignBatch(ctx, tx, pairs); err != nil {
			return nil, err
		}
		affected = append(affected, roster...)
	}

	return affected, nil
}

// withoutEnrolled filters out the students still on the content's
// enrollment allow-list. Their pairing stays reachable through the
// direct grant, so the status row must survive the group change.
func (s *PropagationService) withoutEnrolled(ctx context.Context, tx sqlx.ExtContext, contentID string, studentIDs []string) ([]string, error) {
	enrolled, err := s.contents.ListEnrolledStudentIDs(ctx, tx, contentID)
	if err != nil {
		return nil, err
	}
	if len(enrolled) == 0 {
		return studentIDs, nil
	}
	keep := make(map[string]bool, len(enrolled))
	for _, id := range enrolled {
		keep[id] = true
	}
	out := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if !keep[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// StudentJoinedGroup backfills entries for every content item already
// reachable from the group, without touching other students' rows.
func (s *PropagationService) StudentJoinedGroup(ctx context.Context, tx sqlx.ExtContext, studentID, groupID string) error {
	contents, err := s.contents.ListForGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}
	var entries []models.StreamEntry
	var pairs []repository.StatusPair
	for i := range contents {
		c := contents[i]
		g := groupID
		entries = append(entries, models.StreamEntry{
			UserID:      studentID,
			ContentID:   c.ID,
			ContentType: c.ContentType,
			GroupID:     &g,
			GradeID:     c.GradeID,
		})
		if c.ContentType.Assignable() {
			pairs = append(pairs, repository.StatusPair{StudentID: studentID, ContentID: c.ID})
		}
	}
	if err := s.stream.UpsertBatch(ctx, tx, entries); err != nil {
		return err
	}
	return s.statuses.AssignBatch(ctx, tx, pairs)
}

// StudentLeftGroup removes the student's group-derived entries and
// status rows. A status row backed by an enrollment grant survives, as
// does submitted work.
func (s *PropagationService) StudentLeftGroup(ctx context.Context, tx sqlx.ExtContext, studentID, groupID string) error {
	contents, err := s.contents.ListForGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if len(contents) == 0 {
		return nil
	}
	for i := range contents {
		c := contents[i]
		if err := s.stream.Remove(ctx, tx, models.StreamFilter{UserID: studentID, ContentID: c.ID}); err != nil {
			return err
		}
		if !c.ContentType.Assignable() {
			continue
		}
		removable, err := s.withoutEnrolled(ctx, tx, c.ID, []string{studentID})
		if err != nil {
			return err
		}
		if len(removable) == 0 {
			continue
		}
		if err := s.statuses.Remove(ctx, tx, models.StatusFilter{StudentID: studentID, ContentID: c.ID}); err != nil {
			return err
		}
	}
	return nil
}

// AssistantPermissionsUpdated rebuilds one teacher's entries from the
// new grant set. The affected set is bounded to a single user, so an
// exhaustive rebuild is acceptable here.
func (s *PropagationService) AssistantPermissionsUpdated(ctx context.Context, tx sqlx.ExtContext, teacherID string, perms []models.TeacherPermission) error {
	if err := s.stream.Remove(ctx, tx, models.StreamFilter{UserID: teacherID}); err != nil {
		return err
	}

	byType := make(map[models.ContentType][]string)
	for _, p := range perms {
		byType[p.ContentType] = append(byType[p.ContentType], p.GroupID)
	}

	var entries []models.StreamEntry
	for contentType, groupIDs := range byType {
		contents, err := s.contents.ListForPermissions(ctx, tx, contentType, groupIDs)
		if err != nil {
			return err
		}
		for i := range contents {
			c := contents[i]
			entries = append(entries, models.StreamEntry{
				UserID:      teacherID,
				ContentID:   c.ID,
				ContentType: c.ContentType,
				GradeID:     c.GradeID,
			})
		}
	}
	return s.stream.UpsertBatch(ctx, tx, entries)
}

// GroupDeleted clears group-scoped index rows. Assistant grants on the
// group die with it, so each holder's entries are rebuilt from the
// grants that remain. The caller detaches the students and removes the
// group row, with its permission rows, in the same transaction; this
// must run before that removal while the grants are still readable.
func (s *PropagationService) GroupDeleted(ctx context.Context, tx sqlx.ExtContext, groupID string, detachedStudentIDs []string) error {
	contents, err := s.contents.ListForGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}

	holderIDs, err := s.teachers.ListTeacherIDsWithGroupGrant(ctx, tx, groupID)
	if err != nil {
		return err
	}
	for _, teacherID := range holderIDs {
		perms, err := s.teachers.ListPermissions(ctx, tx, teacherID)
		if err != nil {
			return err
		}
		remaining := make([]models.TeacherPermission, 0, len(perms))
		for _, p := range perms {
			if p.GroupID != groupID {
				remaining = append(remaining, p)
			}
		}
		if err := s.AssistantPermissionsUpdated(ctx, tx, teacherID, remaining); err != nil {
			return err
		}
	}

	if err := s.stream.Remove(ctx, tx, models.StreamFilter{GroupID: groupID}); err != nil {
		return err
	}
	if len(detachedStudentIDs) == 0 {
		return nil
	}
	for i := range contents {
		c := contents[i]
		if !c.ContentType.Assignable() {
			continue
		}
		removable, err := s.withoutEnrolled(ctx, tx, c.ID, detachedStudentIDs)
		if err != nil {
			return err
		}
		if len(removable) == 0 {
			continue
		}
		if err := s.statuses.Remove(ctx, tx, models.StatusFilter{StudentIDs: removable, ContentID: c.ID}); err != nil {
			return err
		}
	}
	return nil
}

// ContentDeleted removes every index row for the content. Returns the
// users whose feeds referenced it.
func (s *PropagationService) ContentDeleted(ctx context.Context, tx sqlx.ExtContext, contentID string) ([]string, error) {
	affected, err := s.stream.ListUserIDsForContent(ctx, tx, contentID)
	if err != nil {
		return nil, err
	}
	if err := s.stream.Remove(ctx, tx, models.StreamFilter{ContentID: contentID}); err != nil {
		return nil, err
	}
	if err := s.statuses.Remove(ctx, tx, models.StatusFilter{ContentID: contentID}); err != nil {
		return nil, err
	}
	return affected, nil
}

// EnrollmentChanged diffs an assignment's allow-list, creating and
// removing status rows. Stream entries are untouched: enrollment is a
// parallel grant path evaluated directly by the access engine.
func (s *PropagationService) EnrollmentChanged(ctx context.Context, tx sqlx.ExtContext, content *models.Content, oldIDs, newIDs []string) error {
	if !content.ContentType.Assignable() {
		return nil
	}
	added, removed := diffSets(oldIDs, newIDs)
	if len(removed) > 0 {
		if err := s.statuses.Remove(ctx, tx, models.StatusFilter{StudentIDs: removed, ContentID: content.ID}); err != nil {
			return err
		}
	}
	var pairs []repository.StatusPair
	for _, id := range added {
		pairs = append(pairs, repository.StatusPair{StudentID: id, ContentID: content.ID})
	}
	return s.statuses.AssignBatch(ctx, tx, pairs)
}

// InvalidateFeeds drops the cached feed of each user after a commit.
// Best-effort: a cache failure is logged, never surfaced.
func (s *PropagationService) InvalidateFeeds(ctx context.Context, userIDs []string, contentTypes ...models.ContentType) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	if len(contentTypes) == 0 {
		contentTypes = []models.ContentType{models.ContentAssignment, models.ContentExam, models.ContentMaterial, models.ContentSection}
	}
	keys := make([]string, 0, len(userIDs)*len(contentTypes))
	for _, id := range userIDs {
		for _, t := range contentTypes {
			keys = append(keys, feedCacheKey(id, t))
		}
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("feed cache invalidation failed", zap.Error(err))
	}
}

func feedCacheKey(userID string, contentType models.ContentType) string {
	return fmt.Sprintf("stream:%s:%s", userID, contentType)
}

func diffSets(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, v := range old {
		oldSet[v] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, v := range new {
		newSet[v] = true
		if !oldSet[v] {
			added = append(added, v)
		}
	}
	for _, v := range old {
		if !newSet[v] {
			removed = append(removed, v)
		}
	}
	return added, removed
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
