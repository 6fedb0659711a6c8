package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/archive"
	"github.com/trackfeedback/api/internal/descriptor"
	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/service"
	"github.com/trackfeedback/api/internal/store"
	"github.com/trackfeedback/api/pkg/response"
)

// serviceError maps domain errors onto API error responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrArchiveTooLarge):
		return response.TooLarge(c, err.Error())
	case errors.Is(err, archive.ErrNotArchive),
		errors.Is(err, archive.ErrDescriptorNotFound),
		errors.Is(err, descriptor.ErrCorrupted),
		errors.Is(err, descriptor.ErrMalformedXML):
		return response.InvalidProject(c, err.Error())
	case errors.Is(err, store.ErrJobNotFound):
		return response.NotFound(c, "Render job not found")
	case errors.Is(err, ingest.ErrSessionNotFound):
		return response.NotFound(c, "Analysis session not found")
	case errors.Is(err, ingest.ErrSampleNotFound):
		return response.NotFound(c, "Sample not found")
	case errors.Is(err, store.ErrAlreadyRendering):
		return response.Conflict(c, response.CodeAlreadyRendering, "Render already in progress")
	case errors.Is(err, store.ErrAlreadyCompleted):
		return response.Conflict(c, response.CodeAlreadyCompleted, "Render already completed")
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, service.ErrNotCompleted),
		errors.Is(err, service.ErrNothingToExport),
		errors.Is(err, ingest.ErrSampleNotLoaded):
		return response.Conflict(c, response.CodeNotReady, err.Error())
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrDuplicateOrder):
		return response.ValidationError(c, err.Error(), nil)
	}
	return response.ServiceError(c, err.Error())
}

// formatValidationErrors converts validator errors to a map
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Namespace()] = e.Tag()
		}
		return errs
	}
	return nil
}
