package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-agent/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health       *handlers.HealthHandler
	Events       *handlers.EventsHandler
	Commands     *handlers.CommandsHandler
	Interactions *handlers.InteractionsHandler
	Signature    fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	webhooks := app.Group("/chat", cfg.Signature)
	webhooks.Post("/events", cfg.Events.Handle)
	webhooks.Post("/commands", cfg.Commands.Handle)
	webhooks.Post("/interactions", cfg.Interactions.Handle)
}
