package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/service"
	"github.com/trackfeedback/api/pkg/response"
)

// WorkerHandler receives results from external render workers.
type WorkerHandler struct {
	service   *service.RenderService
	validator *validator.Validate
}

func NewWorkerHandler(svc *service.RenderService, v *validator.Validate) *WorkerHandler {
	return &WorkerHandler{
		service:   svc,
		validator: v,
	}
}

// Complete handles POST /api/worker/renders/:jobId/complete
// @Summary      Complete render from worker
// @Description  Record externally rendered stems and mark the job COMPLETED
// @Tags         Worker
// @Accept       json
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        request body model.WorkerCompleteRequest true "Rendered stems"
// @Success      200 {object} model.WorkerCompleteResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     WorkerKey
// @Router       /api/worker/renders/{jobId}/complete [post]
func (h *WorkerHandler) Complete(c *fiber.Ctx) error {
	var req model.WorkerCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CompleteFromWorker(c.UserContext(), c.Params("jobId"), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}
