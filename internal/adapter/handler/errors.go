package handler

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

var kindStatus = map[domain.Kind]int{
	domain.KindNotFound:           http.StatusNotFound,
	domain.KindRecipientNotFound:  http.StatusNotFound,
	domain.KindAlreadyFinalized:   http.StatusUnprocessableEntity,
	domain.KindInvalidState:       http.StatusUnprocessableEntity,
	domain.KindInsufficientFunds:  http.StatusUnprocessableEntity,
	domain.KindUnauthorized:       http.StatusForbidden,
	domain.KindConflict:           http.StatusConflict,
	domain.KindBusy:               http.StatusServiceUnavailable,
	domain.KindInvalidInput:       http.StatusBadRequest,
	domain.KindStorageUnavailable: http.StatusInternalServerError,
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err as {code, title, message}. Storage failures keep
// their cause out of the response and in the log.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	kind := domain.KindOf(err)
	status := StatusFor(kind)

	message := err.Error()
	if kind == domain.KindStorageUnavailable {
		logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		message = "the service could not complete the request, try again later"
	}
	if kind == domain.KindBusy {
		c.Set(fiber.HeaderRetryAfter, "1")
	}

	return c.Status(status).JSON(fiber.Map{
		"code":    string(kind),
		"title":   http.StatusText(status),
		"message": message,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"code":    string(domain.KindInvalidInput),
		"title":   http.StatusText(http.StatusBadRequest),
		"message": message,
	})
}
