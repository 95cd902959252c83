package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/service"
)

type AnalyticsHandler struct {
	service service.AnalyticsService
	log     *logger.Logger
}

func NewAnalyticsHandler(service service.AnalyticsService, log *logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, log: log}
}

// @Summary Get a revenue and lifecycle snapshot
// @Description MRR, ARR, churn, trial conversion and revenue-split totals, optionally scoped to a vendor
// @Tags Analytics
// @Produce json
// @Param vendor_id query string false "Vendor ID"
// @Success 200 {object} dto.AnalyticsResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /analytics [get]
func (h *AnalyticsHandler) GetSnapshot(c *gin.Context) {
	req := &dto.GetAnalyticsRequest{VendorID: c.Query("vendor_id")}

	resp, err := h.service.GetSnapshot(c.Request.Context(), req)
	if err != nil {
		h.log.Error("Failed to build analytics snapshot", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
