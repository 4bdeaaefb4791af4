package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	start = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end   = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
)

func ts(t time.Time) *time.Time { return &t }

func TestWindowContainsInclusiveEnd(t *testing.T) {
	w := Window{Start: start, End: end}

	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(end), "the deadline instant itself is on time")
	assert.True(t, w.Contains(start.Add(time.Hour)))
	assert.False(t, w.Contains(start.Add(-time.Second)))
	assert.False(t, w.Contains(end.Add(time.Second)))
}

func TestEffectiveWindowPrefersException(t *testing.T) {
	c := &Content{ContentType: ContentAssignment, StartAt: ts(start), EndAt: ts(end)}
	exc := &ContentException{StartAt: end, EndAt: end.Add(48 * time.Hour)}

	w := c.EffectiveWindow(exc)
	assert.Equal(t, end, w.Start)
	assert.Equal(t, end.Add(48*time.Hour), w.End)

	w = c.EffectiveWindow(nil)
	assert.Equal(t, start, w.Start)
}

func TestEffectiveWindowNilWithoutDates(t *testing.T) {
	c := &Content{ContentType: ContentMaterial}
	assert.Nil(t, c.EffectiveWindow(nil))
}

func TestVisibilityAtWindowStates(t *testing.T) {
	c := &Content{ContentType: ContentAssignment, StartAt: ts(start), EndAt: ts(end)}

	assert.Equal(t, VisibilityPending, c.VisibilityAt(start.Add(-time.Minute), nil))
	assert.Equal(t, VisibilityOpen, c.VisibilityAt(start, nil))
	assert.Equal(t, VisibilityOpen, c.VisibilityAt(end, nil))
	assert.Equal(t, VisibilityClosed, c.VisibilityAt(end.Add(time.Second), nil))
}

func TestVisibilityAtPublishGate(t *testing.T) {
	publish := start.Add(24 * time.Hour)
	c := &Content{ContentType: ContentMaterial, PublishAt: ts(publish)}

	assert.Equal(t, VisibilityPending, c.VisibilityAt(publish.Add(-time.Second), nil))
	assert.Equal(t, VisibilityOpen, c.VisibilityAt(publish, nil))
}

func TestVisibilityAtNoWindowIsOpen(t *testing.T) {
	c := &Content{ContentType: ContentMaterial}
	assert.Equal(t, VisibilityOpen, c.VisibilityAt(start, nil))
}

func TestContentTypePredicates(t *testing.T) {
	assert.True(t, ContentAssignment.Assignable())
	assert.True(t, ContentExam.Assignable())
	assert.False(t, ContentMaterial.Assignable())
	assert.False(t, ContentSection.Assignable())

	assert.True(t, ContentSection.Valid())
	assert.False(t, ContentType("QUIZ").Valid())
}
