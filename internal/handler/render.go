package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/middleware"
	"github.com/trackfeedback/api/internal/service"
	"github.com/trackfeedback/api/pkg/response"
)

type RenderHandler struct {
	service *service.RenderService
}

func NewRenderHandler(svc *service.RenderService) *RenderHandler {
	return &RenderHandler{service: svc}
}

// Trigger handles POST /api/renders/:jobId/render
// @Summary      Trigger stem render
// @Description  Move a PENDING or FAILED render job to RENDERING and dispatch it
// @Tags         Render
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      202 {object} model.RenderTriggerResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/renders/{jobId}/render [post]
func (h *RenderHandler) Trigger(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Trigger(c.UserContext(), jobID, middleware.GetUserID(c))
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// TriggerForTrack handles POST /api/tracks/:trackId/render
func (h *RenderHandler) TriggerForTrack(c *fiber.Ctx) error {
	trackID := c.Params("trackId")
	if trackID == "" {
		return response.ValidationError(c, "Track ID is required", nil)
	}

	result, err := h.service.TriggerForTrack(c.UserContext(), trackID, middleware.GetUserID(c))
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/renders/:jobId
// @Summary      Get render job status
// @Description  Get the status, progress and ordered stems of a render job
// @Tags         Render
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.RenderStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/renders/{jobId} [get]
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// TrackStatus handles GET /api/tracks/:trackId/render
func (h *RenderHandler) TrackStatus(c *fiber.Ctx) error {
	result, err := h.service.GetStatusForTrack(c.UserContext(), c.Params("trackId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// List handles GET /api/renders?state=active|finished&limit=N
func (h *RenderHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List(c.UserContext(), c.Query("state", "active"), c.QueryInt("limit", 0))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}
