package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/ExpandFox/app/controllers"
	apiv1 "github.com/ManuelReschke/ExpandFox/internal/api/v1"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/accounts"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/billing"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/cache"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/constants"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/database"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/env"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/middleware"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/quota"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/router"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/upgrade"
)

func main() {
	env.SetupEnvFile()
	cfg := config.Load()

	app, jobs, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("[Main] startup failed: %v", err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Main] shutting down")
		if jobs != nil {
			jobs.Stop()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[Main] shutdown: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
		log.Fatalf("[Main] listen: %v", err)
	}
}

// NewApplication wires storage, services and routes. The returned manager is
// nil when background jobs are disabled.
func NewApplication(cfg config.Config) (*fiber.App, *jobqueue.Manager, error) {
	db, err := database.SetupDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	client := cache.SetupCache(cfg.Cache)

	enforcer := quota.NewEnforcer(db, cache.NewEntitlementCache(client, cfg.Quota.SnapshotTTL))
	referrals := referral.NewEngine(db)
	provider := billing.NewProviderClient(cfg.Billing)
	coordinator := upgrade.NewCoordinator(db, enforcer, referrals, provider, cfg.Billing.ProviderTimeout)
	ingestor := billing.NewIngestor(db, cfg.Billing, enforcer, referrals, coordinator, provider)
	factory := accounts.NewFactory(db, referrals)

	billingController := controllers.NewBillingController(ingestor)
	api := apiv1.NewAPIServer(
		controllers.NewAccountController(factory),
		controllers.NewQuotaController(enforcer),
		controllers.NewUpgradeController(coordinator),
		controllers.NewReferralController(referrals),
		billingController,
	)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics, same token as the internal api
	app.Get(constants.MonitorRoute, middleware.InternalTokenMiddleware(cfg.Server.InternalToken), monitor.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsBasePath,
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:         billingController,
		API:             api,
		InternalToken:   cfg.Server.InternalToken,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		LimiterStorage:  ratelimit.NewStorage(cfg.Cache),
	})

	if !cfg.Jobs.Enabled {
		log.Info("[Main] background jobs disabled")
		return app, nil, nil
	}

	jobs := jobqueue.NewManager(
		jobqueue.NewQueue(client, cfg.Jobs.Workers),
		redsync.New(goredis.NewPool(client)),
		cfg.Jobs,
		enforcer,
		ingestor.Ledger(),
		ingestor,
	)
	if err := jobs.Start(); err != nil {
		return nil, nil, err
	}
	return app, jobs, nil
}
