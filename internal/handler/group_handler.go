package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/service"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// GroupHandler exposes grade, group and membership endpoints.
type GroupHandler struct {
	groups *service.GroupService
}

// NewGroupHandler constructs handler.
func NewGroupHandler(groups *service.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// CreateGrade godoc
// @Summary Create a grade
// @Tags Groups
// @Accept json
// @Produce json
// @Param payload body service.CreateGradeInput true "Grade payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /grades [post]
func (h *GroupHandler) CreateGrade(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.CreateGradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	grade, err := h.groups.CreateGrade(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// ListGrades godoc
// @Summary List grades
// @Tags Groups
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grades [get]
func (h *GroupHandler) ListGrades(c *gin.Context) {
	grades, err := h.groups.ListGrades(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// CreateGroup godoc
// @Summary Create a group within a grade
// @Tags Groups
// @Accept json
// @Produce json
// @Param payload body service.CreateGroupInput true "Group payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /groups [post]
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.CreateGroupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	group, err := h.groups.CreateGroup(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}

// ListGroups godoc
// @Summary List groups, optionally filtered by grade
// @Tags Groups
// @Produce json
// @Param gradeId query string false "Grade ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /groups [get]
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListGroups(c.Request.Context(), c.Query("gradeId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// Roster godoc
// @Summary List the students in a group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /groups/{id}/students [get]
func (h *GroupHandler) Roster(c *gin.Context) {
	students, err := h.groups.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// AddStudent godoc
// @Summary Add a student to a group
// @Tags Groups
// @Param id path string true "Group ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Security BearerAuth
// @Router /groups/{id}/students/{studentId} [put]
func (h *GroupHandler) AddStudent(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.groups.AddStudent(c.Request.Context(), actor, c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveStudent godoc
// @Summary Remove a student from a group
// @Tags Groups
// @Param id path string true "Group ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Security BearerAuth
// @Router /groups/{id}/students/{studentId} [delete]
func (h *GroupHandler) RemoveStudent(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.groups.RemoveStudent(c.Request.Context(), actor, c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DeleteGroup godoc
// @Summary Delete a group
// @Tags Groups
// @Param id path string true "Group ID"
// @Success 204
// @Security BearerAuth
// @Router /groups/{id} [delete]
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.groups.DeleteGroup(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
