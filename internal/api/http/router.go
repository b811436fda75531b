package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-platform/internal/api/http/handlers"
	"github.com/spec-kit/ticket-platform/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Auth            *handlers.AuthHandler
	Tickets         *handlers.TicketsHandler
	ActorMiddleware *auth.ActorMiddleware
}

// RegisterRoutes wires HTTP routes. Everything under /api requires an
// authenticated actor: staff arrive with a bearer token, chat-platform
// gateways with tenant headers. The same handler serves both since the
// actor on the context is all the service layer looks at.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/staff/login", cfg.Auth.Login)

	api := app.Group("/api", cfg.ActorMiddleware.Handle)

	api.Post("/tickets", cfg.Tickets.Create)
	api.Get("/tickets", cfg.Tickets.List)
	api.Get("/tickets/:id", cfg.Tickets.Get)
	api.Post("/tickets/:id/claim", cfg.Tickets.Claim)
	api.Post("/tickets/:id/unclaim", cfg.Tickets.Unclaim)
	api.Post("/tickets/:id/close", cfg.Tickets.Close)
	api.Post("/tickets/:id/close-request", cfg.Tickets.RequestClose)
	api.Post("/tickets/:id/reopen", cfg.Tickets.Reopen)
	api.Put("/tickets/:id/participants/:identityId", cfg.Tickets.AddParticipant)
	api.Delete("/tickets/:id/participants/:identityId", cfg.Tickets.RemoveParticipant)
	api.Get("/tickets/:id/events", cfg.Tickets.ListEvents)

	api.Post("/close-requests/:id/approve", cfg.Tickets.ApproveClose)
	api.Post("/close-requests/:id/deny", cfg.Tickets.DenyClose)
}
