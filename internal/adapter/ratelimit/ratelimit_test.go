package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client), mr
}

func TestRedisStorage_GetSetDelete(t *testing.T) {
	s, mr := newStorage(t)

	val, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists(keyPrefix+"k"))

	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, val, "expired")

	require.NoError(t, s.Set("k", []byte("v"), 0))
	require.NoError(t, s.Delete("k"))
	assert.False(t, mr.Exists(keyPrefix+"k"))

	require.NoError(t, s.Set("", []byte("v"), 0))
	require.NoError(t, s.Set("empty", nil, 0))
	assert.False(t, mr.Exists(keyPrefix+"empty"))
}

func TestRedisStorage_ResetOnlyOwnKeys(t *testing.T) {
	s, mr := newStorage(t)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(k, []byte("1"), 0))
	}
	require.NoError(t, mr.Set("other", "keep"))

	require.NoError(t, s.Reset())
	assert.False(t, mr.Exists(keyPrefix+"a"))
	assert.True(t, mr.Exists("other"))
	assert.NoError(t, s.Close())
}

func TestLimiter_SharedRedisCounters(t *testing.T) {
	s, _ := newStorage(t)

	newApp := func() *fiber.App {
		app := fiber.New()
		app.Use(New(2, time.Minute, s))
		app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
		return app
	}
	first, second := newApp(), newApp()

	resp, err := first.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = second.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = first.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode, "both instances count against the same key")
}
