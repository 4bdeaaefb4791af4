package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	"github.com/franciumm/edusite-api/pkg/config"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
)

type authStudentRepo interface {
	Create(ctx context.Context, student *models.Student) error
	FindByEmail(ctx context.Context, email string) (*models.Student, error)
}

type authTeacherRepo interface {
	Create(ctx context.Context, teacher *models.Teacher) error
	FindByEmail(ctx context.Context, email string) (*models.Teacher, error)
}

// RegisterStudentInput creates a student account. The student starts
// without a group; membership is assigned separately.
type RegisterStudentInput struct {
	FullName string `validate:"required,min=2,max=255"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	GradeID  string `validate:"required,uuid"`
}

// RegisterTeacherInput creates a teacher account.
type RegisterTeacherInput struct {
	FullName string          `validate:"required,min=2,max=255"`
	Email    string          `validate:"required,email"`
	Password string          `validate:"required,min=8"`
	Role     models.UserRole `validate:"required,oneof=MAIN_TEACHER ASSISTANT"`
}

// AuthService authenticates students and teachers against one shared
// login endpoint and issues signed access tokens.
type AuthService struct {
	students  authStudentRepo
	teachers  authTeacherRepo
	jwtCfg    config.JWTConfig
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthService constructs the service.
func NewAuthService(students authStudentRepo, teachers authTeacherRepo, jwtCfg config.JWTConfig, clk clock.Clock, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		students:  students,
		teachers:  teachers,
		jwtCfg:    jwtCfg,
		clock:     clk,
		validator: validator.New(),
		logger:    logger,
	}
}

// Login checks credentials against teachers first, then students, and
// returns a signed token. Both lookups miss with the same error so the
// response does not reveal which table held the email.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	if teacher, err := s.teachers.FindByEmail(ctx, req.Email); err == nil {
		if !teacher.Active {
			return nil, appErrors.ErrInactiveAccount
		}
		if bcrypt.CompareHashAndPassword([]byte(teacher.PasswordHash), []byte(req.Password)) != nil {
			return nil, appErrors.ErrInvalidCredentials
		}
		return s.issue(models.UserInfo{ID: teacher.ID, Email: teacher.Email, FullName: teacher.FullName, Role: teacher.Role})
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	student, err := s.students.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, err
	}
	if !student.Active {
		return nil, appErrors.ErrInactiveAccount
	}
	if bcrypt.CompareHashAndPassword([]byte(student.PasswordHash), []byte(req.Password)) != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	return s.issue(models.UserInfo{ID: student.ID, Email: student.Email, FullName: student.FullName, Role: models.RoleStudent})
}

// RegisterStudent creates a student account.
func (s *AuthService) RegisterStudent(ctx context.Context, actor models.User, input RegisterStudentInput) (*models.Student, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can register accounts")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	student := &models.Student{
		ID:           uuid.NewString(),
		FullName:     input.FullName,
		Email:        input.Email,
		PasswordHash: string(hash),
		GradeID:      input.GradeID,
		Active:       true,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}

// RegisterTeacher creates a teacher account.
func (s *AuthService) RegisterTeacher(ctx context.Context, actor models.User, input RegisterTeacherInput) (*models.Teacher, error) {
	if !actor.IsMainTeacher() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the main teacher can register accounts")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	teacher := &models.Teacher{
		ID:           uuid.NewString(),
		FullName:     input.FullName,
		Email:        input.Email,
		PasswordHash: string(hash),
		Role:         input.Role,
		Active:       true,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.teachers.Create(ctx, teacher); err != nil {
		return nil, err
	}
	return teacher, nil
}

// ValidateToken parses and verifies an access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.jwtCfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) issue(info models.UserInfo) (*models.LoginResponse, error) {
	now := s.clock.Now()
	claims := models.JWTClaims{
		UserID:   info.ID,
		Role:     info.Role,
		Email:    info.Email,
		FullName: info.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwtCfg.Issuer,
			Subject:   info.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtCfg.Expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtCfg.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}
	return &models.LoginResponse{
		AccessToken: signed,
		ExpiresIn:   int64(s.jwtCfg.Expiration.Seconds()),
		IssuedAt:    now,
		User:        info,
	}, nil
}
