package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-research/rdm-api/internal/models"
	"github.com/kestrel-research/rdm-api/internal/service"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
	"github.com/kestrel-research/rdm-api/pkg/response"
)

// RoleHandler exposes role permission utilities.
type RoleHandler struct {
	permissions *service.PermissionService
}

// NewRoleHandler creates a new handler.
func NewRoleHandler(permissions *service.PermissionService) *RoleHandler {
	return &RoleHandler{permissions: permissions}
}

// Validate godoc
// @Summary Validate role permission patterns
// @Description Check that every regular expression in a permission payload compiles
// @Tags Roles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RolePermissions true "Permission payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /roles/validate [post]
func (h *RoleHandler) Validate(c *gin.Context) {
	var perms models.RolePermissions
	if err := c.ShouldBindJSON(&perms); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid permission payload"))
		return
	}

	if err := h.permissions.ValidatePatterns(perms); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"valid": true})
}
