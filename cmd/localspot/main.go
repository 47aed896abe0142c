package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/LocalSpotHQ/LocalSpot/app/controllers"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/billing"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/cache"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/database"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/env"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/jobqueue"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/lock"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()
	manager.Start()
	defer manager.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	processor, err := billing.NewStripeProcessorFromEnv()
	if err != nil {
		log.Fatalf("billing processor setup failed: %v", err)
	}

	repo := billing.NewRepository(database.GetDB())
	locker := lock.NewManager(cache.GetClient(), 30*time.Second)
	events := billing.NewEventHandler(repo, processor, locker)
	reconciler := billing.NewReconciler(repo, processor, locker)
	controllers.SetupBilling(events, reconciler)

	app := fiber.New(fiber.Config{
		AppName: "LocalSpot",
	})

	app.Use(recover.New(), logger.New())

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", ""),
		},
	}), monitor.New())

	router.InstallRouter(app)

	return app, jobqueue.NewManager(reconciler)
}
