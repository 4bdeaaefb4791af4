package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/service"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// SubmissionHandler exposes the submit, grade and status endpoints.
type SubmissionHandler struct {
	submissions *service.SubmissionService
}

// NewSubmissionHandler constructs handler.
func NewSubmissionHandler(submissions *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// Submit godoc
// @Summary Submit work for an assignment or exam
// @Tags Submissions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Content ID"
// @Param file formData file true "Submitted file"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /contents/{id}/submissions [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	student, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	upload, err := readUpload(c, "file")
	if err != nil {
		response.Error(c, err)
		return
	}
	if upload == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "a file is required"))
		return
	}
	sub, err := h.submissions.Submit(c.Request.Context(), student, c.Param("id"), *upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

// Mark godoc
// @Summary Grade a submission
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.MarkInput true "Score payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /submissions/{id}/mark [post]
func (h *SubmissionHandler) Mark(c *gin.Context) {
	teacher, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.MarkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	sub, err := h.submissions.Mark(c.Request.Context(), teacher, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// GroupStatus godoc
// @Summary Status of every student in a group for one content item
// @Tags Submissions
// @Produce json
// @Param id path string true "Content ID"
// @Param groupId query string true "Group ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /contents/{id}/status [get]
func (h *SubmissionHandler) GroupStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rows, err := h.submissions.StatusForGroup(c.Request.Context(), user, c.Param("id"), c.Query("groupId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// StudentStatus godoc
// @Summary One student's status on one content item
// @Tags Submissions
// @Produce json
// @Param id path string true "Content ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /contents/{id}/students/{studentId}/status [get]
func (h *SubmissionHandler) StudentStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.submissions.StatusForStudent(c.Request.Context(), user, c.Param("studentId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Download godoc
// @Summary Presigned download link for a submitted file
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /submissions/{id}/download [get]
func (h *SubmissionHandler) Download(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	url, err := h.submissions.DownloadURL(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"url": url}, nil)
}
