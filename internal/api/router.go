package api

import (
	"github.com/gin-gonic/gin"

	"github.com/subkernel/subkernel/internal/api/cron"
	v1 "github.com/subkernel/subkernel/internal/api/v1"
	"github.com/subkernel/subkernel/internal/config"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/rest/middleware"
	"github.com/subkernel/subkernel/internal/service"
)

// Handlers collects every HTTP handler the router mounts
type Handlers struct {
	Plan         *v1.PlanHandler
	Subscription *v1.SubscriptionHandler
	Entitlement  *v1.EntitlementHandler
	Invoice      *v1.InvoiceHandler
	Analytics    *v1.AnalyticsHandler
	Cron         *cron.LifecycleCronHandler
}

// NewHandlers builds all handlers from a shared service parameter set
func NewHandlers(params service.ServiceParams) Handlers {
	subscriptionService := service.NewSubscriptionService(params)
	invoiceService := service.NewInvoiceService(params)
	return Handlers{
		Plan:         v1.NewPlanHandler(service.NewPlanService(params), params.Logger),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, params.Logger),
		Entitlement:  v1.NewEntitlementHandler(service.NewEntitlementService(params), params.Logger),
		Invoice:      v1.NewInvoiceHandler(invoiceService, params.Logger),
		Analytics:    v1.NewAnalyticsHandler(service.NewAnalyticsService(params), params.Logger),
		Cron:         cron.NewLifecycleCronHandler(subscriptionService, invoiceService, params.Logger),
	}
}

// NewRouter wires the middleware stack and mounts every route
func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.ContextMiddleware(),
		middleware.LoggingMiddleware(log),
		middleware.ErrorHandler(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	{
		plans := api.Group("/plans")
		{
			plans.POST("", handlers.Plan.CreatePlan)
			plans.GET("", handlers.Plan.ListPlans)
			plans.GET("/:id", handlers.Plan.GetPlan)
			plans.POST("/:id/versions", handlers.Plan.CreatePlanVersion)
		}

		subscriptions := api.Group("/subscriptions")
		{
			subscriptions.POST("", handlers.Subscription.CreateSubscription)
			subscriptions.GET("", handlers.Subscription.ListSubscriptions)
			subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
			subscriptions.POST("/:id/convert", handlers.Subscription.ConvertTrial)
			subscriptions.POST("/:id/change-plan", handlers.Subscription.ChangePlan)
			subscriptions.POST("/:id/cancel", handlers.Subscription.CancelSubscription)
			subscriptions.POST("/:id/pause", handlers.Subscription.PauseSubscription)
			subscriptions.POST("/:id/resume", handlers.Subscription.ResumeSubscription)
			subscriptions.POST("/:id/suspend", handlers.Subscription.SuspendSubscription)
			subscriptions.POST("/:id/unsuspend", handlers.Subscription.UnsuspendSubscription)
			subscriptions.PUT("/:id/seats", handlers.Subscription.UpdateSeats)
			subscriptions.POST("/:id/usage", handlers.Subscription.RecordUsage)
			subscriptions.POST("/:id/members", handlers.Subscription.AddMember)
			subscriptions.GET("/:id/members", handlers.Subscription.ListMembers)
			subscriptions.DELETE("/:id/members/:user_id", handlers.Subscription.RemoveMember)
		}

		users := api.Group("/users")
		{
			users.GET("/:user_id/entitlements", handlers.Entitlement.ListEntitlements)
			users.GET("/:user_id/entitlements/:key", handlers.Entitlement.CheckEntitlement)
		}
		api.POST("/credentials/changes", handlers.Entitlement.HandleCredentialChange)

		invoices := api.Group("/invoices")
		{
			invoices.GET("", handlers.Invoice.ListInvoices)
			invoices.GET("/:id", handlers.Invoice.GetInvoice)
			invoices.POST("/:id/payments", handlers.Invoice.RecordPayment)
			invoices.POST("/:id/void", handlers.Invoice.VoidInvoice)
		}

		api.GET("/analytics", handlers.Analytics.GetSnapshot)

		jobs := api.Group("/cron")
		{
			jobs.POST("/renewals", handlers.Cron.ProcessRenewals)
			jobs.POST("/expirations", handlers.Cron.ProcessExpirations)
			jobs.POST("/trial-notices", handlers.Cron.SendTrialNotices)
			jobs.POST("/invoices/overdue", handlers.Cron.FlagOverdueInvoices)
		}
	}

	return router
}
