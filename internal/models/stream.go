package models

import "time"

// StreamEntry is the derived fact "user may potentially see content".
// For teachers existence alone grants access; for students it is
// combined with the timeline policy. Only the propagation service
// writes these rows.
type StreamEntry struct {
	UserID      string      `db:"user_id" json:"user_id"`
	ContentID   string      `db:"content_id" json:"content_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	GroupID     *string     `db:"group_id" json:"group_id,omitempty"`
	GradeID     *string     `db:"grade_id" json:"grade_id,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// StreamFilter selects stream entries for targeted removal. Zero-value
// fields are ignored; at least one must be set.
type StreamFilter struct {
	UserID      string
	UserIDs     []string
	ContentID   string
	ContentType ContentType
	GroupID     string
}

// Empty reports whether the filter selects nothing.
func (f StreamFilter) Empty() bool {
	return f.UserID == "" && len(f.UserIDs) == 0 && f.ContentID == "" && f.ContentType == "" && f.GroupID == ""
}
