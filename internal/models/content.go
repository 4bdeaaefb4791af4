package models

import "time"

// ContentType discriminates the content variants.
type ContentType string

const (
	ContentAssignment ContentType = "ASSIGNMENT"
	ContentExam       ContentType = "EXAM"
	ContentMaterial   ContentType = "MATERIAL"
	ContentSection    ContentType = "SECTION"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentAssignment, ContentExam, ContentMaterial, ContentSection:
		return true
	}
	return false
}

// Assignable reports whether students submit work for this type.
func (t ContentType) Assignable() bool {
	return t == ContentAssignment || t == ContentExam
}

// Content is the normalized representation of every variant. Variant
// differences are expressed through the accessors below instead of
// per-type field names.
type Content struct {
	ID          string      `db:"id" json:"id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	Name        string      `db:"name" json:"name"`
	CreatedBy   string      `db:"created_by" json:"created_by"`
	GradeID     *string     `db:"grade_id" json:"grade_id,omitempty"`
	StartAt     *time.Time  `db:"start_at" json:"start_at,omitempty"`
	EndAt       *time.Time  `db:"end_at" json:"end_at,omitempty"`
	PublishAt   *time.Time  `db:"publish_at" json:"publish_at,omitempty"`
	AllowLate   bool        `db:"allow_late" json:"allow_late"`
	Bucket      string      `db:"bucket" json:"-"`
	FileKey     *string     `db:"file_key" json:"file_key,omitempty"`
	AnswerKey   *string     `db:"answer_key" json:"answer_key,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Window is a closed visibility interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window. The end instant
// itself is inside: a submission at exactly End is on time.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// ContentException overrides the main window for a single student.
type ContentException struct {
	ContentID string    `db:"content_id" json:"content_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
}

// HasWindow reports whether the content carries a start/end window.
// Materials and sections usually do not.
func (c *Content) HasWindow() bool {
	return c.StartAt != nil && c.EndAt != nil
}

// EffectiveWindow resolves the window that applies to one student: the
// personal exception when present, otherwise the main window. Nil means
// the content has no window concept at all.
func (c *Content) EffectiveWindow(exc *ContentException) *Window {
	if exc != nil {
		return &Window{Start: exc.StartAt, End: exc.EndAt}
	}
	if !c.HasWindow() {
		return nil
	}
	return &Window{Start: *c.StartAt, End: *c.EndAt}
}

// Visibility is the student-perceived timeline state. It is recomputed
// on every check and never persisted.
type Visibility int

const (
	VisibilityOpen Visibility = iota
	VisibilityPending
	VisibilityClosed
)

// VisibilityAt evaluates the timeline state machine for one student at
// the given instant.
func (c *Content) VisibilityAt(now time.Time, exc *ContentException) Visibility {
	if c.PublishAt != nil {
		if now.Before(*c.PublishAt) {
			return VisibilityPending
		}
		return VisibilityOpen
	}
	w := c.EffectiveWindow(exc)
	if w == nil {
		return VisibilityOpen
	}
	if now.Before(w.Start) {
		return VisibilityPending
	}
	if now.After(w.End) {
		return VisibilityClosed
	}
	return VisibilityOpen
}

// SectionChild links a section to one of its owned content items.
// Deleting the section cascades into every child.
type SectionChild struct {
	SectionID string `db:"section_id" json:"section_id"`
	ChildID   string `db:"child_id" json:"child_id"`
}
