package cron

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/service"
)

// LifecycleCronHandler handles the periodic billing sweeps
type LifecycleCronHandler struct {
	subscriptionService service.SubscriptionService
	invoiceService      service.InvoiceService
	logger              *logger.Logger
}

// NewLifecycleCronHandler creates a new lifecycle cron handler
func NewLifecycleCronHandler(
	subscriptionService service.SubscriptionService,
	invoiceService service.InvoiceService,
	logger *logger.Logger,
) *LifecycleCronHandler {
	return &LifecycleCronHandler{
		subscriptionService: subscriptionService,
		invoiceService:      invoiceService,
		logger:              logger,
	}
}

// ProcessRenewals bills every subscription whose period has lapsed
func (h *LifecycleCronHandler) ProcessRenewals(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting renewal sweep cron job", "time", now.Format(time.RFC3339))

	processed, err := h.subscriptionService.RenewalSweep(c.Request.Context(), now)
	if err != nil {
		h.logger.Errorw("renewal sweep failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed renewal sweep cron job", "processed", processed)
	c.JSON(http.StatusOK, gin.H{"status": "success", "processed": processed})
}

// ProcessExpirations finishes subscriptions canceled at period end
func (h *LifecycleCronHandler) ProcessExpirations(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting expiry sweep cron job", "time", now.Format(time.RFC3339))

	expired, err := h.subscriptionService.ExpirySweep(c.Request.Context(), now)
	if err != nil {
		h.logger.Errorw("expiry sweep failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed expiry sweep cron job", "expired", expired)
	c.JSON(http.StatusOK, gin.H{"status": "success", "expired": expired})
}

// SendTrialNotices emails customers whose trial ends within the notice window
func (h *LifecycleCronHandler) SendTrialNotices(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting trial notice cron job", "time", now.Format(time.RFC3339))

	notified, err := h.subscriptionService.TrialNoticeSweep(c.Request.Context(), now)
	if err != nil {
		h.logger.Errorw("trial notice sweep failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed trial notice cron job", "notified", notified)
	c.JSON(http.StatusOK, gin.H{"status": "success", "notified": notified})
}

// FlagOverdueInvoices marks unpaid invoices past their due date
func (h *LifecycleCronHandler) FlagOverdueInvoices(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting overdue invoice cron job", "time", now.Format(time.RFC3339))

	flagged, err := h.invoiceService.MarkOverdueSweep(c.Request.Context(), now)
	if err != nil {
		h.logger.Errorw("overdue invoice sweep failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed overdue invoice cron job", "flagged", flagged)
	c.JSON(http.StatusOK, gin.H{"status": "success", "flagged": flagged})
}
