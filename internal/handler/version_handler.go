package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-research/rdm-api/internal/models"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
	"github.com/kestrel-research/rdm-api/pkg/response"
)

// CheckpointRequest is the payload for committing a new data version.
type CheckpointRequest struct {
	Version   string  `json:"version"`
	ContentID string  `json:"content_id" binding:"required"`
	Tag       *string `json:"tag"`
}

type versionService interface {
	GetStudy(ctx context.Context, studyID string) (*models.Study, error)
	CreateCheckpoint(ctx context.Context, studyID string, version, contentID string, tag *string) (*models.DataVersion, error)
}

// VersionHandler exposes the checkpoint history endpoints.
type VersionHandler struct {
	versions versionService
}

// NewVersionHandler creates a new handler.
func NewVersionHandler(versions versionService) *VersionHandler {
	return &VersionHandler{versions: versions}
}

// List godoc
// @Summary List data versions
// @Description Return the ordered checkpoint history of a study
// @Tags Versions
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId}/versions [get]
func (h *VersionHandler) List(c *gin.Context) {
	study, err := h.versions.GetStudy(c.Request.Context(), c.Param("studyId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, study.DataVersions, map[string]interface{}{
		"current_data_version": study.CurrentDataVersion,
	})
}

// Create godoc
// @Summary Commit a checkpoint
// @Description Commit the current drafts as a new immutable data version
// @Tags Versions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studyId path string true "Study id"
// @Param payload body CheckpointRequest true "Checkpoint payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId}/versions [post]
func (h *VersionHandler) Create(c *gin.Context) {
	var req CheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid checkpoint payload"))
		return
	}

	version, err := h.versions.CreateCheckpoint(c.Request.Context(), c.Param("studyId"), req.Version, req.ContentID, req.Tag)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, version)
}
