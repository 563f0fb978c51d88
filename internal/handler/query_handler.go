package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-research/rdm-api/internal/models"
	"github.com/kestrel-research/rdm-api/internal/service"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
	"github.com/kestrel-research/rdm-api/pkg/response"
)

type queryService interface {
	GetData(ctx context.Context, user *models.User, studyID string, req service.QueryRequest) (json.RawMessage, bool, error)
	GetFields(ctx context.Context, user *models.User, studyID string, projectID, versionID *string) ([]models.Field, error)
	WriteData(ctx context.Context, user *models.User, studyID string, req service.WriteRequest) error
	WriteFields(ctx context.Context, user *models.User, studyID string, req service.WriteFieldsRequest) error
	DeleteData(ctx context.Context, user *models.User, studyID string, req service.DeleteRequest) error
}

// QueryHandler exposes data query, write and delete endpoints.
type QueryHandler struct {
	queries queryService
	metrics *service.MetricsService
}

// NewQueryHandler creates a new handler.
func NewQueryHandler(queries queryService, metrics *service.MetricsService) *QueryHandler {
	return &QueryHandler{queries: queries, metrics: metrics}
}

// Query godoc
// @Summary Query study data
// @Description Resolve and return study data visible to the caller, optionally transformed by an aggregation
// @Tags Data
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param payload body service.QueryRequest true "Query payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId}/query [post]
func (h *QueryHandler) Query(c *gin.Context) {
	var req service.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query payload"))
		return
	}

	user := userFromContext(c)
	studyID := c.Param("studyId")

	start := time.Now()
	payload, hit, err := h.queries.GetData(c.Request.Context(), user, studyID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.ObserveQuery(studyID, hit, time.Since(start))

	response.JSON(c, http.StatusOK, payload, map[string]interface{}{"cache_hit": hit})
}

// GetFields godoc
// @Summary List field dictionary
// @Description Return the field dictionary entries the caller may see at the requested version
// @Tags Data
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param projectId query string false "Project id"
// @Param versionId query string false "Pin to data version"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId}/fields [get]
func (h *QueryHandler) GetFields(c *gin.Context) {
	user := userFromContext(c)
	studyID := c.Param("studyId")

	var projectID, versionID *string
	if v := c.Query("projectId"); v != "" {
		projectID = &v
	}
	if v := c.Query("versionId"); v != "" {
		versionID = &v
	}

	fields, err := h.queries.GetFields(c.Request.Context(), user, studyID, projectID, versionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, fields)
}

// WriteData godoc
// @Summary Append data points
// @Description Append new data points to the study draft state; values must pass the field verifiers
// @Tags Data
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param payload body service.WriteRequest true "Write payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /studies/{studyId}/data [post]
func (h *QueryHandler) WriteData(c *gin.Context) {
	var req service.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid write payload"))
		return
	}

	user := userFromContext(c)
	if err := h.queries.WriteData(c.Request.Context(), user, c.Param("studyId"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{"appended": len(req.Entries)})
}

// WriteFields godoc
// @Summary Append field definitions
// @Description Append new field dictionary entries to the study draft state
// @Tags Data
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param payload body service.WriteFieldsRequest true "Field definitions payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /studies/{studyId}/fields [post]
func (h *QueryHandler) WriteFields(c *gin.Context) {
	var req service.WriteFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid field definitions payload"))
		return
	}

	user := userFromContext(c)
	if err := h.queries.WriteFields(c.Request.Context(), user, c.Param("studyId"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{"appended": len(req.Entries)})
}

// DeleteData godoc
// @Summary Tombstone data points
// @Description Mark data points as deleted by appending tombstone rows
// @Tags Data
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param payload body service.DeleteRequest true "Delete payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /studies/{studyId}/data [delete]
func (h *QueryHandler) DeleteData(c *gin.Context) {
	var req service.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid delete payload"))
		return
	}

	user := userFromContext(c)
	if err := h.queries.DeleteData(c.Request.Context(), user, c.Param("studyId"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
