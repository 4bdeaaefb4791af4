package models

import "time"

// Grade is a year level (e.g. grade 10). Every group belongs to one grade.
type Grade struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Group is a class section inside a grade. Its roster is derived from
// students.group_id, never stored separately.
type Group struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	GradeID   string    `db:"grade_id" json:"grade_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupDetail decorates a group with roster size for listings.
type GroupDetail struct {
	Group
	GradeName    string `db:"grade_name" json:"grade_name"`
	StudentCount int    `db:"student_count" json:"student_count"`
}
