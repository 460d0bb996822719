package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/adapter/middleware"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Users       UserRepository
	Payments    PaymentService
	Ledger      Depositor
	Tokens      TokenAuth
	Idempotency middleware.IdempotencyStore
	// RateLimit guards /v1. Nil disables it.
	RateLimit      fiber.Handler
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

// TokenAuth both issues and parses bearer tokens.
type TokenAuth interface {
	TokenIssuer
	middleware.TokenParser
}

// NewRouter builds the fiber app with every route registered.
func NewRouter(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          errorHandler(d.Logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())
	if d.TracerProvider != nil {
		app.Use(middleware.Tracing(d.TracerProvider))
	}
	app.Use(middleware.RequestLogger(d.Logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/v1")
	if d.RateLimit != nil {
		api.Use(d.RateLimit)
	}

	auth := &AuthHandler{Users: d.Users, Tokens: d.Tokens, Logger: d.Logger}
	accounts := &AccountHandler{Users: d.Users, Ledger: d.Ledger, Logger: d.Logger}
	payments := &PaymentHandler{Payments: d.Payments, Logger: d.Logger}

	// Public
	api.Post("/auth/register", auth.Register)
	api.Post("/auth/login", auth.Login)

	// Protected
	protected := middleware.Protected(d.Tokens, d.Users, d.Logger)
	idempotent := middleware.Idempotency(d.Idempotency, d.Logger)

	users := api.Group("/users/me", protected)
	users.Get("/", accounts.Me)
	users.Delete("/", accounts.DeleteMe)
	users.Post("/deposit", idempotent, accounts.Deposit)

	pay := api.Group("/payments", protected)
	pay.Post("/", idempotent, payments.Create)
	pay.Get("/", payments.List)
	pay.Get("/:id", payments.Get)
	pay.Put("/:id", idempotent, payments.Update)
	pay.Delete("/:id", idempotent, payments.Delete)
	pay.Post("/:id/confirm", idempotent, payments.Confirm)
	pay.Post("/:id/cancel", idempotent, payments.Cancel)
	pay.Get("/:id/logs", payments.Logs)

	return app
}

// errorHandler renders errors that escaped a handler, such as fiber's own
// 404 and 405, in the same shape as domain errors.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := http.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		message := http.StatusText(status)
		if fe != nil {
			message = fe.Message
		}
		return c.Status(status).JSON(fiber.Map{
			"code":    strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")),
			"title":   http.StatusText(status),
			"message": message,
		})
	}
}
