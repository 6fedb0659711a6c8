package handler

import (
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/service"
	"github.com/trackfeedback/api/pkg/response"
)

// projectField is the multipart field carrying the project archive.
const projectField = "project"

type ProjectHandler struct {
	service *service.ProjectService
}

func NewProjectHandler(svc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{service: svc}
}

func (h *ProjectHandler) archiveFile(c *fiber.Ctx) (*multipart.FileHeader, error) {
	file, err := c.FormFile(projectField)
	if err != nil {
		return nil, response.ValidationError(c, "Missing project archive", map[string]string{projectField: "required"})
	}
	if limit := h.service.MaxArchiveBytes(); limit > 0 && file.Size > limit {
		return nil, response.TooLarge(c, service.ErrArchiveTooLarge.Error())
	}
	return file, nil
}

// Upload handles POST /api/tracks/:trackId/project
// @Summary      Attach project archive
// @Description  Parse a zipped project bundle, store it and queue the track's render job as PENDING
// @Tags         Projects
// @Accept       multipart/form-data
// @Produce      json
// @Param        trackId path string true "Track ID"
// @Param        project formData file true "Zipped project bundle"
// @Success      201 {object} model.ProjectUploadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tracks/{trackId}/project [post]
func (h *ProjectHandler) Upload(c *fiber.Ctx) error {
	trackID := c.Params("trackId")
	if trackID == "" {
		return response.ValidationError(c, "Track ID is required", nil)
	}

	file, err := h.archiveFile(c)
	if file == nil {
		return err
	}
	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read upload")
	}
	defer f.Close()

	result, err := h.service.UploadForRender(c.UserContext(), trackID, file.Filename, f, file.Size)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, result)
}

// Analyze handles POST /api/projects/analyze
// @Summary      Analyze project archive
// @Description  Parse a zipped project bundle into an analysis session with bounded sample buffers
// @Tags         Projects
// @Accept       multipart/form-data
// @Produce      json
// @Param        project formData file true "Zipped project bundle"
// @Success      201 {object} model.ProjectAnalysisResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/analyze [post]
func (h *ProjectHandler) Analyze(c *fiber.Ctx) error {
	file, err := h.archiveFile(c)
	if file == nil {
		return err
	}
	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read upload")
	}
	defer f.Close()

	result, err := h.service.Analyze(c.UserContext(), f, file.Size)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, result)
}

// Get handles GET /api/projects/:sessionId
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.GetAnalysis(c.Params("sessionId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// LoadSample handles POST /api/projects/:sessionId/samples/:sampleId/load
func (h *ProjectHandler) LoadSample(c *fiber.Ctx) error {
	result, err := h.service.LoadSample(c.UserContext(), c.Params("sessionId"), c.Params("sampleId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// EvictSample handles POST /api/projects/:sessionId/samples/:sampleId/evict
func (h *ProjectHandler) EvictSample(c *fiber.Ctx) error {
	result, err := h.service.EvictSample(c.Params("sessionId"), c.Params("sampleId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// SampleData handles GET /api/projects/:sessionId/samples/:sampleId
// and streams the loaded sample bytes with their detected MIME type.
func (h *ProjectHandler) SampleData(c *fiber.Ctx) error {
	data, mime, err := h.service.SampleData(c.Params("sessionId"), c.Params("sampleId"))
	if err != nil {
		return serviceError(c, err)
	}
	c.Set(fiber.HeaderContentType, mime)
	return c.Send(data)
}

// Close handles DELETE /api/projects/:sessionId
func (h *ProjectHandler) Close(c *fiber.Ctx) error {
	if err := h.service.CloseSession(c.Params("sessionId")); err != nil {
		return serviceError(c, err)
	}
	return response.NoContent(c)
}
