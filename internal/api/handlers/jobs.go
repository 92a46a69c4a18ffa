package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
)

type enqueueJobRequest struct {
	NumberID string         `json:"number_id"`
	Action   string         `json:"action"`
	Priority int            `json:"priority"`
	Metadata map[string]any `json:"metadata"`
}

type jobResponse struct {
	ID           uuid.UUID        `json:"id"`
	NumberID     uuid.UUID        `json:"number_id"`
	Action       domain.JobAction `json:"action"`
	Status       domain.JobStatus `json:"status"`
	Priority     int              `json:"priority"`
	Attempts     int              `json:"attempts"`
	MaxAttempts  int              `json:"max_attempts"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type listJobsResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

func (h *HandlerSet) enqueueJob(ctx *fiber.Ctx) error {
	var req enqueueJobRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	numberID, err := uuid.Parse(req.NumberID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	job, err := h.numbers.Enqueue(ctx.Context(), numberID, domain.JobAction(req.Action), req.Priority, req.Metadata)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toJobResponse(job))
}

func (h *HandlerSet) getJob(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid job id")
	}

	job, err := h.numbers.GetJob(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(toJobResponse(job))
}

func toJobResponse(job *domain.ProvisioningJob) jobResponse {
	return jobResponse{
		ID:           job.ID,
		NumberID:     job.NumberID,
		Action:       job.Action,
		Status:       job.Status,
		Priority:     job.Priority,
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		ScheduledFor: job.ScheduledFor,
		ProcessedAt:  job.ProcessedAt,
		ErrorMessage: job.ErrorMessage,
		Metadata:     job.Metadata,
		CreatedAt:    job.CreatedAt,
	}
}
