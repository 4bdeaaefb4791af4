package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/service"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// TeacherHandler exposes assistant permission management.
type TeacherHandler struct {
	teachers *service.TeacherService
}

// NewTeacherHandler constructs handler.
func NewTeacherHandler(teachers *service.TeacherService) *TeacherHandler {
	return &TeacherHandler{teachers: teachers}
}

// ListPermissions godoc
// @Summary List an assistant's permission grants
// @Tags Teachers
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/{id}/permissions [get]
func (h *TeacherHandler) ListPermissions(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	perms, err := h.teachers.ListPermissions(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, perms, nil)
}

// ReplacePermissions godoc
// @Summary Replace an assistant's permission grants
// @Tags Teachers
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body []service.PermissionInput true "Grants"
// @Success 204
// @Security BearerAuth
// @Router /teachers/{id}/permissions [put]
func (h *TeacherHandler) ReplacePermissions(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var inputs []service.PermissionInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.teachers.ReplacePermissions(c.Request.Context(), actor, c.Param("id"), inputs); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
