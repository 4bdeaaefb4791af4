package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/pkg/clock"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/export"
)

// ReportFormat selects the export encoding.
type ReportFormat string

const (
	ReportCSV ReportFormat = "csv"
	ReportPDF ReportFormat = "pdf"
)

type statusLister interface {
	StatusForGroup(ctx context.Context, user models.User, contentID, groupID string) ([]models.GroupStatusRow, error)
}

type reportContentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Content, error)
}

// Report is a rendered export ready to be served as a download.
type Report struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ReportService renders per-group submission status listings into CSV
// or PDF. Authorization is inherited from the status listing itself.
type ReportService struct {
	statuses statusLister
	contents reportContentFinder
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	clock    clock.Clock
	logger   *zap.Logger
}

// NewReportService constructs the service.
func NewReportService(statuses statusLister, contents reportContentFinder, clk clock.Clock, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		statuses: statuses,
		contents: contents,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		clock:    clk,
		logger:   logger,
	}
}

// GroupStatusReport exports the status of every student in the group
// for one assignment or exam.
func (s *ReportService) GroupStatusReport(ctx context.Context, user models.User, contentID, groupID string, format ReportFormat) (*Report, error) {
	rows, err := s.statuses.StatusForGroup(ctx, user, contentID, groupID)
	if err != nil {
		return nil, err
	}
	content, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "State", "Score", "Late", "Updated"},
	}
	for _, row := range rows {
		score := ""
		if row.Score != nil {
			score = strconv.FormatFloat(*row.Score, 'f', 2, 64)
		}
		late := "no"
		if row.IsLate {
			late = "yes"
		}
		updated := ""
		if !row.UpdatedAt.IsZero() {
			updated = row.UpdatedAt.Format("2006-01-02 15:04")
		}
		dataset.Rows = append(dataset.Rows, []string{
			row.StudentName,
			string(row.State),
			score,
			late,
			updated,
		})
	}

	switch format {
	case ReportCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "csv export failed")
		}
		return &Report{
			FileName:    fmt.Sprintf("status-%s.csv", contentID),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case ReportPDF:
		data, err := s.pdf.Render(dataset, content.Name, s.clock.Now())
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "pdf export failed")
		}
		return &Report{
			FileName:    fmt.Sprintf("status-%s.pdf", contentID),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown report format")
	}
}
