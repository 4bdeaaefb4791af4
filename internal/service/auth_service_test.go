package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	"github.com/franciumm/edusite-api/pkg/config"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type fakeStudentAccounts struct {
	byEmail map[string]*models.Student
}

func (f *fakeStudentAccounts) Create(ctx context.Context, student *models.Student) error {
	c := *student
	f.byEmail[student.Email] = &c
	return nil
}

func (f *fakeStudentAccounts) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	if s, ok := f.byEmail[email]; ok {
		out := *s
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

type fakeTeacherAccounts struct {
	byEmail map[string]*models.Teacher
}

func (f *fakeTeacherAccounts) Create(ctx context.Context, teacher *models.Teacher) error {
	c := *teacher
	f.byEmail[teacher.Email] = &c
	return nil
}

func (f *fakeTeacherAccounts) FindByEmail(ctx context.Context, email string) (*models.Teacher, error) {
	if t, ok := f.byEmail[email]; ok {
		out := *t
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type authFixture struct {
	svc      *AuthService
	students *fakeStudentAccounts
	teachers *fakeTeacherAccounts
}

func newAuthFixture(t *testing.T) *authFixture {
	students := &fakeStudentAccounts{byEmail: map[string]*models.Student{}}
	teachers := &fakeTeacherAccounts{byEmail: map[string]*models.Teacher{}}
	jwtCfg := config.JWTConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "edusite"}
	// Token expiry is checked against wall time during parsing, so the
	// fixture clock sits at now rather than a canned date.
	svc := NewAuthService(students, teachers, jwtCfg, clock.NewFixed(time.Now()), nil)
	return &authFixture{svc: svc, students: students, teachers: teachers}
}

func TestLoginTeacherAndTokenRoundTrip(t *testing.T) {
	fx := newAuthFixture(t)
	fx.teachers.byEmail["amal@school.test"] = &models.Teacher{
		ID: "t-main", FullName: "Amal", Email: "amal@school.test",
		PasswordHash: mustHash(t, "correct horse"), Role: models.RoleMainTeacher, Active: true,
	}

	resp, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "amal@school.test", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "t-main", resp.User.ID)
	assert.Equal(t, models.RoleMainTeacher, resp.User.Role)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := fx.svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "t-main", claims.UserID)
	assert.Equal(t, models.RoleMainTeacher, claims.Role)
	assert.Equal(t, "edusite", claims.Issuer)
}

func TestLoginStudent(t *testing.T) {
	fx := newAuthFixture(t)
	fx.students.byEmail["badr@school.test"] = &models.Student{
		ID: "stu-1", FullName: "Badr", Email: "badr@school.test",
		PasswordHash: mustHash(t, "correct horse"), Active: true,
	}

	resp, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "badr@school.test", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	fx := newAuthFixture(t)
	fx.students.byEmail["badr@school.test"] = &models.Student{
		ID: "stu-1", Email: "badr@school.test",
		PasswordHash: mustHash(t, "correct horse"), Active: true,
	}

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "badr@school.test", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "nobody@school.test", Password: "whatever"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))
}

func TestLoginInactiveAccount(t *testing.T) {
	fx := newAuthFixture(t)
	fx.teachers.byEmail["amal@school.test"] = &models.Teacher{
		ID: "t-1", Email: "amal@school.test",
		PasswordHash: mustHash(t, "correct horse"), Role: models.RoleAssistant, Active: false,
	}

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "amal@school.test", Password: "correct horse"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInactiveAccount.Code))
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	fx := newAuthFixture(t)
	fx.teachers.byEmail["amal@school.test"] = &models.Teacher{
		ID: "t-main", Email: "amal@school.test",
		PasswordHash: mustHash(t, "correct horse"), Role: models.RoleMainTeacher, Active: true,
	}
	resp, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "amal@school.test", Password: "correct horse"})
	require.NoError(t, err)

	other := newAuthFixture(t)
	other.svc.jwtCfg.Secret = "different-secret"
	_, err = other.svc.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestRegisterStudentHashesPassword(t *testing.T) {
	fx := newAuthFixture(t)

	student, err := fx.svc.RegisterStudent(context.Background(), mainTeacher, RegisterStudentInput{
		FullName: "Badr Khalid",
		Email:    "badr@school.test",
		Password: "longenough",
		GradeID:  "7b1e6c9e-0000-4000-8000-000000000000",
	})
	require.NoError(t, err)
	assert.True(t, student.Active)
	assert.NotEqual(t, "longenough", student.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(student.PasswordHash), []byte("longenough")))
}

func TestRegisterStudentRequiresMainTeacher(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.RegisterStudent(context.Background(), models.User{ID: "t-asst", Role: models.RoleAssistant}, RegisterStudentInput{
		FullName: "Badr Khalid",
		Email:    "badr@school.test",
		Password: "longenough",
		GradeID:  "7b1e6c9e-0000-4000-8000-000000000000",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestRegisterTeacherValidatesRole(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.RegisterTeacher(context.Background(), mainTeacher, RegisterTeacherInput{
		FullName: "Amal Noor",
		Email:    "amal@school.test",
		Password: "longenough",
		Role:     "STUDENT",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	teacher, err := fx.svc.RegisterTeacher(context.Background(), mainTeacher, RegisterTeacherInput{
		FullName: "Amal Noor",
		Email:    "amal@school.test",
		Password: "longenough",
		Role:     models.RoleAssistant,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, teacher.Role)
}
