package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ibrahimkeyboad/payflow/internal/adapter/storage/memory"
	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
	"github.com/ibrahimkeyboad/payflow/internal/core/security"
)

type fixture struct {
	store  *memory.Store
	tokens *security.TokenIssuer
	user   domain.User
	token  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	tokens := security.NewTokenIssuer("test-secret", time.Minute)

	u, err := store.CreateUser(context.Background(), domain.User{Email: "a@example.com", Username: "a", Active: true})
	require.NoError(t, err)
	token, _, err := tokens.Issue(u.ID)
	require.NoError(t, err)

	return fixture{store: store, tokens: tokens, user: u, token: token}
}

func (f fixture) app(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(Protected(f.tokens, f.store, zap.NewNop()))
	for _, h := range handlers {
		app.Use(h)
	}
	return app
}

func request(method, path, token string, headers ...string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

func TestProtected(t *testing.T) {
	f := newFixture(t)
	app := f.app()
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(ActorID(c).String())
	})

	resp, err := app.Test(request("GET", "/me", f.token))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, f.user.ID.String(), string(body))

	unknown, _, err := f.tokens.Issue(uuid.New())
	require.NoError(t, err)

	for name, req := range map[string]*http.Request{
		"no header":     request("GET", "/me", ""),
		"wrong scheme":  request("GET", "/me", "", "Authorization", "Basic abc"),
		"garbage token": request("GET", "/me", "not-a-jwt"),
		"unknown user":  request("GET", "/me", unknown),
	} {
		resp, err := app.Test(req)
		require.NoError(t, err, name)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
	}

	_, err = f.store.DeleteUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	resp, err = app.Test(request("GET", "/me", f.token))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "deleted users lose access")
}

func TestIdempotency_Replays(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	app := f.app(Idempotency(f.store, zap.NewNop()))
	app.Post("/payments", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(http.StatusCreated).JSON(fiber.Map{"call": n})
	})

	first, err := app.Test(request("POST", "/payments", f.token, IdempotencyHeader, "abc"))
	require.NoError(t, err)
	firstBody, _ := io.ReadAll(first.Body)
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	assert.Empty(t, first.Header.Get(IdempotencyHitHeader))

	second, err := app.Test(request("POST", "/payments", f.token, IdempotencyHeader, "abc"))
	require.NoError(t, err)
	secondBody, _ := io.ReadAll(second.Body)
	assert.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get(IdempotencyHitHeader))
	assert.JSONEq(t, string(firstBody), string(secondBody))
	assert.Equal(t, int32(1), calls.Load())

	_, err = app.Test(request("POST", "/payments", f.token, IdempotencyHeader, "other"))
	require.NoError(t, err)
	_, err = app.Test(request("POST", "/payments", f.token))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "new key and no key both run the handler")

	resp, err := app.Test(request("POST", "/payments", f.token, IdempotencyHeader, strings.Repeat("k", 300)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdempotency_ScopedPerUser(t *testing.T) {
	f := newFixture(t)
	other, err := f.store.CreateUser(context.Background(), domain.User{Email: "b@example.com", Active: true})
	require.NoError(t, err)
	otherToken, _, err := f.tokens.Issue(other.ID)
	require.NoError(t, err)

	var calls atomic.Int32
	app := f.app(Idempotency(f.store, zap.NewNop()))
	app.Post("/payments", func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.JSON(fiber.Map{"actor": ActorID(c)})
	})

	_, err = app.Test(request("POST", "/payments", f.token, IdempotencyHeader, "same"))
	require.NoError(t, err)
	resp, err := app.Test(request("POST", "/payments", otherToken, IdempotencyHeader, "same"))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get(IdempotencyHitHeader))
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	app := f.app(Idempotency(f.store, zap.NewNop()))
	app.Post("/payments", func(c *fiber.Ctx) error {
		if calls.Add(1) == 1 {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"code": "busy"})
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{"ok": true})
	})

	resp, err := app.Test(request("POST", "/payments", f.token, IdempotencyHeader, "retry-me"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = app.Test(request("POST", "/payments", f.token, IdempotencyHeader, "retry-me"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTracingAndRequestLogger(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	core, logs := observer.New(zapcore.InfoLevel)

	app := fiber.New()
	app.Use(Tracing(tp), RequestLogger(zap.New(core)))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /health", ended[0].Name())

	entries := logs.FilterMessage("request handled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/health", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, ended[0].SpanContext().TraceID().String(), fields["trace_id"])
}
