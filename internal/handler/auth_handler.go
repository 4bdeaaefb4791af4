package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/service"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// AuthHandler exposes login and account registration.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login godoc
// @Summary Authenticate a student or teacher
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RegisterStudent godoc
// @Summary Register a student account
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body service.RegisterStudentInput true "Student payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /auth/students [post]
func (h *AuthHandler) RegisterStudent(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.RegisterStudentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.auth.RegisterStudent(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// RegisterTeacher godoc
// @Summary Register a teacher account
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body service.RegisterTeacherInput true "Teacher payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /auth/teachers [post]
func (h *AuthHandler) RegisterTeacher(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.RegisterTeacherInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	teacher, err := h.auth.RegisterTeacher(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, teacher)
}
