package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/service"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// ReportHandler serves submission status exports.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// GroupStatus godoc
// @Summary Export a per-group submission status report
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Content ID"
// @Param groupId query string true "Group ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /contents/{id}/status/export [get]
func (h *ReportHandler) GroupStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.ReportFormat(c.DefaultQuery("format", "csv"))
	report, err := h.reports.GroupStatusReport(c.Request.Context(), user, c.Param("id"), c.Query("groupId"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}
