package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/LocalSpotHQ/LocalSpot/app/controllers"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/env"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// The processor posts signed events here; the raw body must reach the
	// handler untouched for signature verification.
	app.Post("/webhook/stripe", controllers.HandleStripeWebhook)

	admin := app.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", ""),
		},
	}))
	admin.Post("/reconcile", controllers.HandleAdminReconcile)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
