package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
	numbersvc "github.com/acme/number-provisioning/internal/service/number"
)

type purchaseNumberRequest struct {
	OwnerID     string `json:"owner_id"`
	PhoneNumber string `json:"phone_number"`
	CountryCode string `json:"country_code"`
	AreaCode    string `json:"area_code"`
	OrderID     string `json:"order_id"`
	Priority    int    `json:"priority"`
}

type numberResponse struct {
	ID          uuid.UUID           `json:"id"`
	OwnerID     uuid.UUID           `json:"owner_id"`
	PhoneNumber string              `json:"phone_number"`
	CountryCode string              `json:"country_code"`
	AreaCode    string              `json:"area_code,omitempty"`
	ProviderID  *string             `json:"provider_id,omitempty"`
	Status      domain.NumberStatus `json:"status"`
	Attempts    int                 `json:"attempts"`
	LastError   *string             `json:"last_error,omitempty"`
	IsActive    bool                `json:"is_active"`
	ActivatedAt *time.Time          `json:"activated_at,omitempty"`
	PurchasedAt time.Time           `json:"purchased_at"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

type configurationRequest struct {
	ForwardingType       string `json:"forwarding_type"`
	ForwardingNumber     string `json:"forwarding_number"`
	VoicemailEnabled     bool   `json:"voicemail_enabled"`
	VoicemailEmail       string `json:"voicemail_email"`
	CallRecordingEnabled bool   `json:"call_recording_enabled"`
}

type configurationResponse struct {
	NumberID             uuid.UUID             `json:"number_id"`
	ForwardingType       domain.ForwardingType `json:"forwarding_type"`
	ForwardingNumber     string                `json:"forwarding_number,omitempty"`
	VoicemailEnabled     bool                  `json:"voicemail_enabled"`
	VoicemailEmail       string                `json:"voicemail_email,omitempty"`
	CallRecordingEnabled bool                  `json:"call_recording_enabled"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

type listNumbersResponse struct {
	Numbers []numberResponse `json:"numbers"`
}

type attemptResponse struct {
	ID         uuid.UUID        `json:"id"`
	JobID      uuid.UUID        `json:"job_id"`
	Action     domain.JobAction `json:"action"`
	AttemptNum int              `json:"attempt_number"`
	Success    bool             `json:"success"`
	ProviderID string           `json:"provider_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

func (h *HandlerSet) purchaseNumber(ctx *fiber.Ctx) error {
	var req purchaseNumberRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid owner id")
	}

	number, err := h.numbers.Purchase(ctx.Context(), numbersvc.PurchaseInput{
		OwnerID:     ownerID,
		PhoneNumber: req.PhoneNumber,
		CountryCode: req.CountryCode,
		AreaCode:    req.AreaCode,
		OrderID:     req.OrderID,
		Priority:    req.Priority,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toNumberResponse(number))
}

func (h *HandlerSet) getNumber(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	number, err := h.numbers.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(toNumberResponse(number))
}

func (h *HandlerSet) listNumbers(ctx *fiber.Ctx) error {
	ownerID, err := uuid.Parse(ctx.Query("owner_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "owner_id query parameter is required")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	numbers, err := h.numbers.ListByOwner(ctx.Context(), ownerID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listNumbersResponse{Numbers: make([]numberResponse, 0, len(numbers))}
	for _, number := range numbers {
		resp.Numbers = append(resp.Numbers, toNumberResponse(number))
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) retryProvisioning(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	job, err := h.numbers.RetryProvisioning(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toJobResponse(job))
}

func (h *HandlerSet) getConfiguration(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	cfg, err := h.numbers.GetConfiguration(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(toConfigurationResponse(cfg))
}

func (h *HandlerSet) updateConfiguration(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	var req configurationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	cfg, err := h.numbers.UpdateConfiguration(ctx.Context(), id, numbersvc.ConfigurationInput{
		ForwardingType:       domain.ForwardingType(req.ForwardingType),
		ForwardingNumber:     req.ForwardingNumber,
		VoicemailEnabled:     req.VoicemailEnabled,
		VoicemailEmail:       req.VoicemailEmail,
		CallRecordingEnabled: req.CallRecordingEnabled,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(toConfigurationResponse(cfg))
}

func (h *HandlerSet) listNumberJobs(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	jobs, err := h.numbers.ListJobs(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listJobsResponse{Jobs: make([]jobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) listNumberAttempts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid number id")
	}

	attempts := h.container.Repositories().Attempts
	if attempts == nil {
		return ctx.JSON(fiber.Map{"attempts": []attemptResponse{}})
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	records, err := attempts.ListByNumber(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]attemptResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, attemptResponse{
			ID:         record.ID,
			JobID:      record.JobID,
			Action:     record.Action,
			AttemptNum: record.AttemptNum,
			Success:    record.Success,
			ProviderID: record.ProviderID,
			Error:      record.Error,
			DurationMs: int64(record.Duration / time.Millisecond),
			CreatedAt:  record.CreatedAt,
		})
	}
	return ctx.JSON(fiber.Map{"attempts": resp})
}

func toNumberResponse(n *domain.PurchasedNumber) numberResponse {
	return numberResponse{
		ID:          n.ID,
		OwnerID:     n.OwnerID,
		PhoneNumber: n.PhoneNumber,
		CountryCode: n.CountryCode,
		AreaCode:    n.AreaCode,
		ProviderID:  n.ProviderID,
		Status:      n.Status,
		Attempts:    n.Attempts,
		LastError:   n.LastError,
		IsActive:    n.IsActive,
		ActivatedAt: n.ActivatedAt,
		PurchasedAt: n.PurchasedAt,
		ExpiresAt:   n.ExpiresAt,
	}
}

func toConfigurationResponse(cfg *domain.NumberConfiguration) configurationResponse {
	return configurationResponse{
		NumberID:             cfg.NumberID,
		ForwardingType:       cfg.ForwardingType,
		ForwardingNumber:     cfg.ForwardingNumber,
		VoicemailEnabled:     cfg.VoicemailEnabled,
		VoicemailEmail:       cfg.VoicemailEmail,
		CallRecordingEnabled: cfg.CallRecordingEnabled,
		UpdatedAt:            cfg.UpdatedAt,
	}
}
