package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/LocalSpotHQ/LocalSpot/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")
	v1.Get("/listings", controllers.HandleListListings)
	v1.Get("/listings/:slug", controllers.HandleGetListing)
	v1.Get("/businesses/:slug/subscription", controllers.HandleBusinessSubscription)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
