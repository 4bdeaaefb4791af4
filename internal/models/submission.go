package models

import "time"

// Submission is the authoritative record of a student's submitted work
// for one assignable content item. Re-submission overwrites the row and
// bumps Version; there is never more than one current submission per
// (student, content).
type Submission struct {
	ID          string      `db:"id" json:"id"`
	StudentID   string      `db:"student_id" json:"student_id"`
	ContentID   string      `db:"content_id" json:"content_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	Version     int         `db:"version" json:"version"`
	Bucket      string      `db:"bucket" json:"-"`
	FileKey     string      `db:"file_key" json:"-"`
	Score       *float64    `db:"score" json:"score,omitempty"`
	Feedback    *string     `db:"feedback" json:"feedback,omitempty"`
	IsLate      bool        `db:"is_late" json:"is_late"`
	SubmittedAt time.Time   `db:"submitted_at" json:"submitted_at"`
}

// SubmissionState is the per-student lifecycle tracked by the status index.
type SubmissionState string

const (
	StatusAssigned  SubmissionState = "ASSIGNED"
	StatusSubmitted SubmissionState = "SUBMITTED"
	StatusMarked    SubmissionState = "MARKED"
)

// SubmissionStatus is the denormalized per-(student, content) row that
// lets "status of every student in a group" be answered without
// scanning submissions. Score, lateness and the submission pointer are
// read optimizations only; the Submission row stays authoritative.
type SubmissionStatus struct {
	StudentID    string          `db:"student_id" json:"student_id"`
	ContentID    string          `db:"content_id" json:"content_id"`
	State        SubmissionState `db:"state" json:"state"`
	SubmissionID *string         `db:"submission_id" json:"submission_id,omitempty"`
	Score        *float64        `db:"score" json:"score,omitempty"`
	IsLate       bool            `db:"is_late" json:"is_late"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// StatusFilter selects status rows for targeted removal.
type StatusFilter struct {
	StudentID  string
	StudentIDs []string
	ContentID  string
}

// Empty reports whether the filter selects nothing.
func (f StatusFilter) Empty() bool {
	return f.StudentID == "" && len(f.StudentIDs) == 0 && f.ContentID == ""
}

// GroupStatusRow is one line of the per-group status listing: the
// status index joined with the roster.
type GroupStatusRow struct {
	StudentID   string          `db:"student_id" json:"student_id"`
	StudentName string          `db:"student_name" json:"student_name"`
	State       SubmissionState `db:"state" json:"state"`
	Score       *float64        `db:"score" json:"score,omitempty"`
	IsLate      bool            `db:"is_late" json:"is_late"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}
