package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/number-provisioning/internal/app"
	numbersvc "github.com/acme/number-provisioning/internal/service/number"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	numbers   *numbersvc.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	return &HandlerSet{
		container: container,
		numbers:   container.Services().Numbers,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	numbers := v1.Group("/numbers")
	numbers.Post("/", h.purchaseNumber)
	numbers.Get("/", h.listNumbers)
	numbers.Get("/:id", h.getNumber)
	numbers.Post("/:id/retry", h.retryProvisioning)
	numbers.Get("/:id/configuration", h.getConfiguration)
	numbers.Put("/:id/configuration", h.updateConfiguration)
	numbers.Get("/:id/jobs", h.listNumberJobs)
	numbers.Get("/:id/attempts", h.listNumberAttempts)

	jobs := v1.Group("/jobs")
	jobs.Post("/", h.enqueueJob)
	jobs.Get("/:id", h.getJob)

	webhooks := v1.Group("/webhooks")
	webhooks.Post("/provider", h.providerEvent)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if h.container.Redis != nil {
		if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
			errs["redis"] = err.Error()
		}
	}

	if h.container.Scylla != nil {
		if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
			errs["scylla"] = err.Error()
		}
	}

	status := fiber.StatusOK
	health := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		health = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": health, "errors": errs})
}
