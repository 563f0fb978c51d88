package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-research/rdm-api/internal/service"
	"github.com/kestrel-research/rdm-api/pkg/response"
)

// ExportHandler renders query results as downloadable files.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler creates a new handler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Export godoc
// @Summary Export study data
// @Description Resolve the study data visible to the caller and render it as CSV or PDF
// @Tags Data
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param format query string false "Export format (csv or pdf)" default(csv)
// @Param projectId query string false "Project id"
// @Param versionId query string false "Pin to data version"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /studies/{studyId}/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	user := userFromContext(c)
	studyID := c.Param("studyId")

	format := c.DefaultQuery("format", service.ExportFormatCSV)
	var req service.QueryRequest
	if v := c.Query("projectId"); v != "" {
		req.ProjectID = &v
	}
	if v := c.Query("versionId"); v != "" {
		req.VersionID = &v
	}

	data, contentType, err := h.exports.Export(c.Request.Context(), user, studyID, format, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.%s", studyID, time.Now().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}
