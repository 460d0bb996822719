package handler

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

type Depositor interface {
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (domain.User, error)
}

// AccountHandler serves the caller's own user record.
type AccountHandler struct {
	Users  UserRepository
	Ledger Depositor
	Logger *zap.Logger
}

type DepositRequest struct {
	Amount amountField `json:"amount"`
}

func (h *AccountHandler) Me(c *fiber.Ctx) error {
	user, found, err := h.Users.GetUserByID(c.UserContext(), middleware.ActorID(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	if !found {
		return writeError(c, h.Logger, domain.NewError(domain.KindNotFound, "user not found"))
	}
	return c.JSON(user)
}

// DeleteMe deactivates the caller. Payments and logs keep referring to the
// anonymized row.
func (h *AccountHandler) DeleteMe(c *fiber.Ctx) error {
	actor := middleware.ActorID(c)
	if _, err := h.Users.DeleteUser(c.UserContext(), actor); err != nil {
		return writeError(c, h.Logger, err)
	}
	h.Logger.Info("user deleted", zap.String("user_id", actor.String()))
	return c.SendStatus(http.StatusNoContent)
}

func (h *AccountHandler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest

	// 1. Parse JSON
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// 2. Validate Amount
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		return writeError(c, h.Logger, err)
	}

	// 3. Credit inside a ledger transaction
	user, err := h.Ledger.Deposit(c.UserContext(), middleware.ActorID(c), amount)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(user)
}
