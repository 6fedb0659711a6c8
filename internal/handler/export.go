package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/service"
	"github.com/trackfeedback/api/pkg/response"
)

type ExportHandler struct {
	service *service.ExportService
}

func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Stems handles POST /api/renders/:jobId/export
// @Summary      Export stems
// @Description  Zip every stem of a completed render and return a download URL
// @Tags         Export
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ExportStemsResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/renders/{jobId}/export [post]
func (h *ExportHandler) Stems(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.ExportStems(c.UserContext(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}
