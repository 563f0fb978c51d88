package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kestrel-research/rdm-api/internal/models"
	"github.com/kestrel-research/rdm-api/pkg/export"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type exportQueryRunner interface {
	GetData(ctx context.Context, user *models.User, studyID string, req QueryRequest) (json.RawMessage, bool, error)
}

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// ExportService renders query results as downloadable files. It runs the
// same resolution path as a query, so an export can never leak rows the
// caller could not have read.
type ExportService struct {
	queries exportQueryRunner
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(queries exportQueryRunner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		queries: queries,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// Export runs the query without an aggregation and renders the resolved flat
// records in the requested format.
func (s *ExportService) Export(ctx context.Context, user *models.User, studyID, format string, req QueryRequest) ([]byte, string, error) {
	req.Aggregation = nil
	payload, _, err := s.queries.GetData(ctx, user, studyID, req)
	if err != nil {
		return nil, "", err
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode query result")
	}

	dataset := toExportDataset(records)
	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", nil
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, fmt.Sprintf("Study %s data export", studyID))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func toExportDataset(records []map[string]interface{}) export.Dataset {
	headerSet := make(map[string]struct{})
	for _, record := range records {
		for key := range record {
			headerSet[key] = struct{}{}
		}
	}
	headers := make([]string, 0, len(headerSet))
	for key := range headerSet {
		headers = append(headers, key)
	}
	sort.Strings(headers)

	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		row := make(map[string]string, len(record))
		for _, key := range headers {
			if v, ok := record[key]; ok && v != nil {
				row[key] = fmt.Sprintf("%v", v)
			} else {
				row[key] = ""
			}
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
