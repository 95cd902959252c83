package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/service"
	"github.com/subkernel/subkernel/internal/types"

	"github.com/subkernel/subkernel/internal/domain/credential"
)

type EntitlementHandler struct {
	service service.EntitlementService
	log     *logger.Logger
}

func NewEntitlementHandler(service service.EntitlementService, log *logger.Logger) *EntitlementHandler {
	return &EntitlementHandler{service: service, log: log}
}

// @Summary Check a user's entitlement
// @Description Check whether a user currently holds an active entitlement
// @Tags Entitlements
// @Produce json
// @Param user_id path string true "User ID"
// @Param key path string true "Entitlement key"
// @Success 200 {object} dto.CheckEntitlementResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /users/{user_id}/entitlements/{key} [get]
func (h *EntitlementHandler) CheckEntitlement(c *gin.Context) {
	userID := c.Param("user_id")
	key := c.Param("key")
	if userID == "" || key == "" {
		c.Error(ierr.NewError("user_id and key are required").
			WithHint("Provide both the user id and the entitlement key").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CheckEntitlement(c.Request.Context(), userID, key)
	if err != nil {
		h.log.Error("Failed to check entitlement", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List a user's entitlements
// @Tags Entitlements
// @Produce json
// @Param user_id path string true "User ID"
// @Success 200 {array} entitlement.GrantedEntitlement
// @Router /users/{user_id}/entitlements [get]
func (h *EntitlementHandler) ListEntitlements(c *gin.Context) {
	grants, err := h.service.ListForUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.log.Error("Failed to list entitlements", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, grants)
}

// credentialChangeRequest is the webhook body the credential pipeline posts
// when a user's credential status moves
type credentialChangeRequest struct {
	UserID         string                 `json:"user_id" binding:"required"`
	CredentialType types.CredentialType   `json:"credential_type" binding:"required"`
	NewStatus      types.CredentialStatus `json:"new_status" binding:"required"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// @Summary Apply a credential status change
// @Description Re-evaluate credential-gated entitlements after an external status change
// @Tags Entitlements
// @Accept json
// @Produce json
// @Param change body credentialChangeRequest true "Credential change"
// @Success 202
// @Failure 400 {object} ierr.ErrorResponse
// @Router /credentials/changes [post]
func (h *EntitlementHandler) HandleCredentialChange(c *gin.Context) {
	var req credentialChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	ctx := c.Request.Context()
	event := &credential.ChangeEvent{
		TenantID:       types.GetTenantID(ctx),
		EnvironmentID:  types.GetEnvironmentID(ctx),
		UserID:         req.UserID,
		CredentialType: req.CredentialType,
		NewStatus:      req.NewStatus,
		OccurredAt:     occurredAt,
	}
	if err := h.service.HandleCredentialChange(ctx, event); err != nil {
		h.log.Error("Failed to apply credential change", "error", err)
		c.Error(err)
		return
	}

	c.Status(http.StatusAccepted)
}
