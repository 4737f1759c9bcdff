package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/archive/adapter"
	redisclient "github.com/aelexs/archivebot/internal/redis"
)

func newTestInFlight(t *testing.T) (*adapter.RedisInFlight, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return adapter.NewRedisInFlight(client.RDB), mr
}

func TestRedisInFlight_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins", func(t *testing.T) {
		inflight, mr := newTestInFlight(t)

		ok, err := inflight.Claim(ctx, "msg-1", 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, mr.Exists("inflight:msg-1"))
		assert.Equal(t, 10*time.Minute, mr.TTL("inflight:msg-1"))

		ok, err = inflight.Claim(ctx, "msg-1", 10*time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second claim within the TTL must lose")
	})

	t.Run("claim is available again after expiry", func(t *testing.T) {
		inflight, mr := newTestInFlight(t)

		_, err := inflight.Claim(ctx, "msg-2", time.Minute)
		require.NoError(t, err)
		mr.FastForward(time.Minute + time.Second)

		ok, err := inflight.Claim(ctx, "msg-2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("distinct identities are independent", func(t *testing.T) {
		inflight, _ := newTestInFlight(t)

		a, err := inflight.Claim(ctx, "msg-a", time.Minute)
		require.NoError(t, err)
		b, err := inflight.Claim(ctx, "msg-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, a)
		assert.True(t, b)
	})

	t.Run("server error is returned", func(t *testing.T) {
		inflight, mr := newTestInFlight(t)
		mr.SetError("LOADING")

		_, err := inflight.Claim(ctx, "msg-3", time.Minute)
		assert.Error(t, err)
	})
}
