package models

import "time"

// UserRole discriminates the three actor kinds.
type UserRole string

const (
	RoleStudent     UserRole = "STUDENT"
	RoleMainTeacher UserRole = "MAIN_TEACHER"
	RoleAssistant   UserRole = "ASSISTANT"
)

// User is the resolved identity the access engine consumes. Identity
// resolution (JWT) happens upstream; the core trusts this pair.
type User struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

// IsStudent reports whether the user is a student.
func (u User) IsStudent() bool { return u.Role == RoleStudent }

// IsTeacher reports whether the user is any kind of teacher.
func (u User) IsTeacher() bool { return u.Role == RoleMainTeacher || u.Role == RoleAssistant }

// IsMainTeacher reports whether the user bypasses the stream index.
func (u User) IsMainTeacher() bool { return u.Role == RoleMainTeacher }

// Student is an enrolled learner. GroupID is the single source of truth
// for membership: a student belongs to at most one group at a time.
type Student struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	GradeID      string    `db:"grade_id" json:"grade_id"`
	GroupID      *string   `db:"group_id" json:"group_id,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Teacher is a staff member, either the main teacher or an assistant.
type Teacher struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TeacherPermission grants an assistant management rights over one
// content category within one group. Main teachers need no rows here.
type TeacherPermission struct {
	TeacherID   string      `db:"teacher_id" json:"teacher_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	GroupID     string      `db:"group_id" json:"group_id"`
}
