package handler

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
	"github.com/ibrahimkeyboad/payflow/internal/core/security"
)

// UserRepository is the account storage both ledger stores provide.
type UserRepository interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	DeleteUser(ctx context.Context, id uuid.UUID) (domain.User, error)
}

type TokenIssuer interface {
	Issue(userID uuid.UUID) (string, time.Time, error)
}

type AuthHandler struct {
	Users  UserRepository
	Tokens TokenIssuer
	Logger *zap.Logger
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest

	// 1. Parse JSON
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// 2. Validate Input
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return badRequest(c, "a valid email is required")
	}
	if req.Username == "" || len(req.Username) > 150 {
		return badRequest(c, "username is required and must be at most 150 characters")
	}
	hash, err := security.HashPassword(req.Password)
	if errors.Is(err, security.ErrWeakPassword) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return writeError(c, h.Logger, err)
	}

	// 3. Call Storage
	user, err := h.Users.CreateUser(c.UserContext(), domain.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}

	h.Logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return c.Status(http.StatusCreated).JSON(user)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, found, err := h.Users.GetUserByEmail(c.UserContext(), strings.TrimSpace(req.Email))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	// Same answer for unknown email and wrong password.
	if !found || !user.Active || !security.CheckPassword(user.PasswordHash, req.Password) {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"code":    "unauthenticated",
			"title":   http.StatusText(http.StatusUnauthorized),
			"message": "invalid email or password",
		})
	}

	token, expiresAt, err := h.Tokens.Issue(user.ID)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(TokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}
