package middleware

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	IdempotencyHitHeader = "X-Idempotency-Hit"
	maxIdempotencyKeyLen = 255
)

type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (status int, body []byte, found bool, err error)
	Save(ctx context.Context, key string, status int, body []byte) error
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. Keys are scoped to the caller and the route, so two users
// can never see each other's responses. Server errors are not stored, which
// lets the client retry them under the same key.
func Idempotency(store IdempotencyStore, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Get Key from Header
		key := c.Get(IdempotencyHeader)
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"code":    "invalid_input",
				"title":   "Bad Request",
				"message": "Idempotency-Key is too long",
			})
		}

		scoped := ActorID(c).String() + ":" + c.Method() + ":" + c.Path() + ":" + key
		ctx := c.UserContext()

		// 2. Check if key exists
		status, body, found, err := store.Lookup(ctx, scoped)
		if err != nil {
			logger.Warn("idempotency lookup failed, handling request normally", zap.String("key", key), zap.Error(err))
		}
		if found {
			logger.Info("idempotency hit, returning stored response", zap.String("key", key))
			c.Set(IdempotencyHitHeader, "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(status).Send(body)
		}

		// 3. Run the Handler
		if err := c.Next(); err != nil {
			return err
		}

		// 4. Save the Result
		resStatus := c.Response().StatusCode()
		if resStatus >= http.StatusInternalServerError {
			return nil
		}
		if err := store.Save(ctx, scoped, resStatus, c.Response().Body()); err != nil {
			logger.Error("failed to save idempotency key", zap.String("key", key), zap.Error(err))
			return nil
		}
		logger.Debug("idempotency key saved", zap.String("key", key))
		return nil
	}
}
