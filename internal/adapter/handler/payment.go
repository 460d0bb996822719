package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
	"github.com/ibrahimkeyboad/payflow/internal/core/transfer"
)

type PaymentService interface {
	Create(ctx context.Context, req transfer.CreateRequest) (domain.Payment, error)
	Execute(ctx context.Context, cmd transfer.Command) (domain.Payment, error)
	Get(ctx context.Context, paymentID, actor uuid.UUID) (domain.Payment, error)
	List(ctx context.Context, actor uuid.UUID, filter domain.PaymentFilter) ([]domain.Payment, error)
	Logs(ctx context.Context, paymentID, actor uuid.UUID) ([]domain.PaymentLog, error)
}

type PaymentHandler struct {
	Payments PaymentService
	Logger   *zap.Logger
}

// amountField keeps the literal text of an amount sent as a JSON string or
// number, so 19.99 is never routed through a float.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	*a = amountField(raw)
	return nil
}

type CreatePaymentRequest struct {
	RecipientID string      `json:"recipient_id"`
	Amount      amountField `json:"amount"`
	CardNumber  string      `json:"card_number"`
	CardLast4   string      `json:"card_last4"`
	CardHolder  string      `json:"card_holder"`
}

type UpdatePaymentRequest struct {
	Status  string `json:"status"`
	Version *int64 `json:"version"`
}

type PaymentResponse struct {
	domain.Payment
	CardBrand domain.CardType `json:"card_brand,omitempty"`
}

func (h *PaymentHandler) Create(c *fiber.Ctx) error {
	var req CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// 1. Validate Recipient and Amount
	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		return badRequest(c, "recipient_id must be a UUID")
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		return writeError(c, h.Logger, err)
	}

	// 2. Validate Card Logic. A full number is checked and cut to its last
	// four digits before it goes anywhere.
	var (
		inst  domain.Instrument
		brand domain.CardType
	)
	if req.CardNumber != "" {
		inst, brand, err = domain.InstrumentFromCard(req.CardNumber, req.CardHolder)
	} else {
		inst, err = domain.NewInstrument(req.CardLast4, req.CardHolder)
	}
	if err != nil {
		return writeError(c, h.Logger, err)
	}

	// 3. Record the payment. Funds move on confirm.
	p, err := h.Payments.Create(c.UserContext(), transfer.CreateRequest{
		SenderID:    middleware.ActorID(c),
		RecipientID: recipientID,
		Instrument:  inst,
		Amount:      amount,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.Status(http.StatusCreated).JSON(PaymentResponse{Payment: p, CardBrand: brand})
}

func (h *PaymentHandler) List(c *fiber.Ctx) error {
	var filter domain.PaymentFilter

	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return writeError(c, h.Logger, err)
		}
		filter.Status = &status
	}
	var err error
	if filter.MinAmount, err = queryAmount(c, "min_sum"); err != nil {
		return badRequest(c, err.Error())
	}
	if filter.MaxAmount, err = queryAmount(c, "max_sum"); err != nil {
		return badRequest(c, err.Error())
	}

	payments, err := h.Payments.List(c.UserContext(), middleware.ActorID(c), filter)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return c.JSON(payments)
}

func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	p, err := h.Payments.Get(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(p)
}

func (h *PaymentHandler) Confirm(c *fiber.Ctx) error {
	return h.execute(c, domain.ActionConfirm, "", nil)
}

func (h *PaymentHandler) Cancel(c *fiber.Ctx) error {
	return h.execute(c, domain.ActionCancel, "", nil)
}

func (h *PaymentHandler) Update(c *fiber.Ctx) error {
	var req UpdatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return h.execute(c, domain.ActionUpdate, status, req.Version)
}

func (h *PaymentHandler) Delete(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	_, err = h.Payments.Execute(c.UserContext(), transfer.Command{
		PaymentID: id,
		Actor:     middleware.ActorID(c),
		Action:    domain.ActionDelete,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *PaymentHandler) Logs(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	logs, err := h.Payments.Logs(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	if logs == nil {
		logs = []domain.PaymentLog{}
	}
	return c.JSON(logs)
}

func (h *PaymentHandler) execute(c *fiber.Ctx, action domain.Action, status domain.PaymentStatus, version *int64) error {
	id, err := paymentID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	p, err := h.Payments.Execute(c.UserContext(), transfer.Command{
		PaymentID:       id,
		Actor:           middleware.ActorID(c),
		Action:          action,
		NewStatus:       status,
		ExpectedVersion: version,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(p)
}

var errPaymentID = errors.New("payment id must be a UUID")

// queryAmount reads an optional decimal bound. Absent means unbounded.
func queryAmount(c *fiber.Ctx, param string) (*decimal.Decimal, error) {
	raw := c.Query(param)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a decimal number", param)
	}
	return &d, nil
}

func paymentID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, errPaymentID
	}
	return id, nil
}
