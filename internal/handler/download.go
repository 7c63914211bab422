package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fdown/api/internal/model"
	"github.com/fdown/api/internal/service"
	"github.com/fdown/api/pkg/response"
)

type DownloadHandler struct {
	service   *service.DownloadService
	validator *validator.Validate
}

func NewDownloadHandler(svc *service.DownloadService, v *validator.Validate) *DownloadHandler {
	return &DownloadHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/v1/video/download
func (h *DownloadHandler) Submit(c *fiber.Ctx) error {
	var req model.DownloadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return validationResponse(c, err)
	}

	result, err := h.service.Submit(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidURL):
			return response.InvalidURL(c, "Not a supported video URL")
		case errors.Is(err, service.ErrUnsupportedFormat):
			return response.UnsupportedFormat(c, "Requested format is not supported")
		case errors.Is(err, service.ErrBackpressure):
			return response.Backpressure(c, "Download queue is full, retry later")
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/v1/video/status/:jobId
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/v1/video/result/:jobId
func (h *DownloadHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Result(jobID)
	if err != nil {
		var failed *service.JobFailedError
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrNotReady):
			return response.NotReady(c, "Job not completed yet")
		case errors.Is(err, service.ErrExpired):
			return response.Expired(c, "Result expired, submit the download again")
		case errors.As(err, &failed):
			return response.JobFailed(c, failed.Detail, fiber.Map{"errorKind": failed.Kind})
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	c.Set(fiber.HeaderContentType, result.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+result.Filename+`"`)
	return c.SendStream(result.File, int(result.Size))
}

// Cancel handles POST /api/v1/video/cancel/:jobId
func (h *DownloadHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Info handles POST /api/v1/video/info
func (h *DownloadHandler) Info(c *fiber.Ctx) error {
	var req model.InfoRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return validationResponse(c, err)
	}

	info, err := h.service.Info(c.Context(), req.URL)
	if err != nil {
		if errors.Is(err, service.ErrInvalidURL) {
			return response.InvalidURL(c, "Not a supported video URL")
		}
		return response.ExtractionError(c, err.Error())
	}

	return response.OK(c, info)
}
