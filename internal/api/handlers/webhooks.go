package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	numbersvc "github.com/acme/number-provisioning/internal/service/number"
)

type providerEventRequest struct {
	Type       string `json:"type"`
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
}

// providerEvent ingests provider webhook events. These update number state
// directly, bypassing the queue, through the shared transition helpers.
func (h *HandlerSet) providerEvent(ctx *fiber.Ctx) error {
	var req providerEventRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProviderID == "" {
		return fiber.NewError(http.StatusBadRequest, "provider_id is required")
	}

	eventType := numbersvc.ProviderEventType(req.Type)
	if err := h.numbers.HandleProviderEvent(ctx.Context(), eventType, req.ProviderID, req.Reason); err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusNoContent)
}
