package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

const actorKey = "actor_id"

type TokenParser interface {
	Parse(raw string) (uuid.UUID, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, bool, error)
}

// Protected admits requests carrying a valid bearer token of an active user
// and stores the user id for ActorID.
func Protected(tokens TokenParser, users UserLookup, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Get Token from Header
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthenticated(c, "missing bearer token")
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return unauthenticated(c, "invalid authorization header format")
		}

		// 2. Verify signature and expiry
		userID, err := tokens.Parse(token)
		if err != nil {
			logger.Debug("rejected bearer token", zap.Error(err))
			return unauthenticated(c, "invalid or expired token")
		}

		// 3. The user must still exist and be active
		user, found, err := users.GetUserByID(c.UserContext(), userID)
		if err != nil {
			logger.Error("failed to load token subject", zap.String("user_id", userID.String()), zap.Error(err))
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"code":    string(domain.KindStorageUnavailable),
				"title":   "Internal Server Error",
				"message": "could not verify credentials",
			})
		}
		if !found || !user.Active {
			return unauthenticated(c, "user is not active")
		}

		// 4. Save the user id so handlers know who is calling
		c.Locals(actorKey, userID)
		return c.Next()
	}
}

// ActorID returns the authenticated user id, or uuid.Nil outside Protected.
func ActorID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(actorKey).(uuid.UUID)
	return id
}

func unauthenticated(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
		"code":    "unauthenticated",
		"title":   "Unauthorized",
		"message": message,
	})
}
