package handler

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/service"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// ContentHandler exposes the content lifecycle and the per-user feed.
type ContentHandler struct {
	contents *service.ContentService
}

// NewContentHandler constructs handler.
func NewContentHandler(contents *service.ContentService) *ContentHandler {
	return &ContentHandler{contents: contents}
}

// Create godoc
// @Summary Publish a new assignment, exam or material
// @Tags Contents
// @Accept multipart/form-data
// @Produce json
// @Param payload formData string true "Content payload as JSON"
// @Param file formData file false "Attached file"
// @Param answer formData file false "Answer key file"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /contents [post]
func (h *ContentHandler) Create(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.CreateContentInput
	if err := json.Unmarshal([]byte(c.PostForm("payload")), &input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	file, err := readUpload(c, "file")
	if err != nil {
		response.Error(c, err)
		return
	}
	input.File = file
	answer, err := readUpload(c, "answer")
	if err != nil {
		response.Error(c, err)
		return
	}
	input.AnswerFile = answer

	content, err := h.contents.Create(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, content)
}

// CreateSection godoc
// @Summary Publish a section with child contents
// @Tags Contents
// @Accept json
// @Produce json
// @Param payload body service.CreateSectionInput true "Section payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /sections [post]
func (h *ContentHandler) CreateSection(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.CreateSectionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.contents.CreateSection(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Feed godoc
// @Summary List the contents of one type visible to the caller
// @Tags Contents
// @Produce json
// @Param type query string true "Content type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /contents [get]
func (h *ContentHandler) Feed(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	contents, err := h.contents.ListFeed(c.Request.Context(), user, models.ContentType(c.Query("type")))
	if err != nil {
		response.Error(c, err)
		return
	}

	page := 1
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && v > 0 {
		page = v
	}
	size := 20
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && v > 0 && v <= 100 {
		size = v
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: len(contents)}

	start := (page - 1) * size
	if start >= len(contents) {
		response.JSON(c, http.StatusOK, []models.Content{}, pagination)
		return
	}
	end := start + size
	if end > len(contents) {
		end = len(contents)
	}
	response.JSON(c, http.StatusOK, contents[start:end], pagination)
}

// Get godoc
// @Summary Fetch one content item
// @Tags Contents
// @Produce json
// @Param id path string true "Content ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /contents/{id} [get]
func (h *ContentHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.contents.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Update godoc
// @Summary Edit content metadata and linkage
// @Tags Contents
// @Accept json
// @Produce json
// @Param id path string true "Content ID"
// @Param payload body service.UpdateContentInput true "Update payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /contents/{id} [patch]
func (h *ContentHandler) Update(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var input service.UpdateContentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	content, err := h.contents.Update(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, content, nil)
}

// Delete godoc
// @Summary Delete a content item and everything that depends on it
// @Tags Contents
// @Param id path string true "Content ID"
// @Success 204
// @Security BearerAuth
// @Router /contents/{id} [delete]
func (h *ContentHandler) Delete(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.contents.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReplaceExceptions godoc
// @Summary Replace per-student window exceptions
// @Tags Contents
// @Accept json
// @Produce json
// @Param id path string true "Content ID"
// @Param payload body []models.ContentException true "Exceptions"
// @Success 204
// @Security BearerAuth
// @Router /contents/{id}/exceptions [put]
func (h *ContentHandler) ReplaceExceptions(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var excs []models.ContentException
	if err := c.ShouldBindJSON(&excs); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.contents.ReplaceExceptions(c.Request.Context(), actor, c.Param("id"), excs); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReplaceRejections godoc
// @Summary Replace the per-student rejection list
// @Tags Contents
// @Accept json
// @Produce json
// @Param id path string true "Content ID"
// @Param payload body []string true "Student IDs"
// @Success 204
// @Security BearerAuth
// @Router /contents/{id}/rejections [put]
func (h *ContentHandler) ReplaceRejections(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var studentIDs []string
	if err := c.ShouldBindJSON(&studentIDs); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.contents.ReplaceRejections(c.Request.Context(), actor, c.Param("id"), studentIDs); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func readUpload(c *gin.Context, field string) (*service.UploadInput, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid file upload")
	}
	data, contentType, err := readFileHeader(fileHeader)
	if err != nil {
		return nil, err
	}
	return &service.UploadInput{
		FileName:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not open upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not read upload")
	}
	return data, fh.Header.Get("Content-Type"), nil
}
