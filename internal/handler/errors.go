package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/provider"
)

func toHTTPError(err error) error {
	var fetchErr *provider.FetchError

	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoPendingMandate), errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrResolutionInFlight):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.As(err, &fetchErr):
		return fiber.NewError(fiber.StatusBadGateway, fetchErr.Class.UserMessage())
	default:
		return err
	}
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
