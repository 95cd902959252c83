package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/subkernel/subkernel/internal/api"
	"github.com/subkernel/subkernel/internal/cache"
	"github.com/subkernel/subkernel/internal/config"
	"github.com/subkernel/subkernel/internal/domain/credential"
	"github.com/subkernel/subkernel/internal/domain/payment"
	"github.com/subkernel/subkernel/internal/email"
	"github.com/subkernel/subkernel/internal/integration/credhub"
	"github.com/subkernel/subkernel/internal/integration/stripecharge"
	"github.com/subkernel/subkernel/internal/locks"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/publisher"
	"github.com/subkernel/subkernel/internal/repository/inmemory"
	"github.com/subkernel/subkernel/internal/service"
)

func main() {
	fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			newCache,
			newPublisher,
			newGateway,
			newCredentialLookup,
			newEmailService,
			newServiceParams,
			api.NewHandlers,
			newRouter,
		),
		fx.Invoke(startServer),
	).Run()
}

func newCache(cfg *config.Configuration, log *logger.Logger) cache.Cache {
	return cache.Initialize(cfg, log)
}

func newPublisher(log *logger.Logger) publisher.Publisher {
	return publisher.NewPublisher(log)
}

func newGateway(cfg *config.Configuration, log *logger.Logger) (payment.Gateway, error) {
	gateway, err := stripecharge.NewGateway(cfg, log)
	if err != nil {
		return nil, err
	}
	return gateway, nil
}

func newCredentialLookup(cfg *config.Configuration, log *logger.Logger) credential.StatusLookup {
	return credhub.NewClient(cfg, log)
}

func newEmailService(cfg *config.Configuration, log *logger.Logger) *email.Service {
	return email.NewService(email.NewClient(cfg), log)
}

// newServiceParams assembles the shared dependency bundle. Storage is the
// in-memory implementation; a database-backed repository layer plugs in here
// without touching the services.
func newServiceParams(
	cfg *config.Configuration,
	log *logger.Logger,
	c cache.Cache,
	pub publisher.Publisher,
	gateway payment.Gateway,
	lookup credential.StatusLookup,
	emailService *email.Service,
) service.ServiceParams {
	stores := inmemory.NewStores()
	return service.ServiceParams{
		Logger:           log,
		Config:           cfg,
		PlanRepo:         stores.Plans,
		SubRepo:          stores.Subscriptions,
		EntitlementRepo:  stores.Entitlements,
		InvoiceRepo:      stores.Invoices,
		RevenueShareRepo: stores.RevenueShares,
		PaymentGateway:   gateway,
		CredentialLookup: lookup,
		EventPublisher:   pub,
		Cache:            c,
		EmailService:     emailService,
		SubLocks:         locks.NewKeyedMutex(),
	}
}

func newRouter(handlers api.Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	return api.NewRouter(handlers, cfg, log)
}

func startServer(lc fx.Lifecycle, router *gin.Engine, cfg *config.Configuration, log *logger.Logger) {
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting server", "address", cfg.Server.Address)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalw("server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
}
