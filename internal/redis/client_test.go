package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iredis "github.com/aelexs/archivebot/internal/redis"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client := iredis.NewClient(iredis.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	require.NotNil(t, client.RDB)
	var _ iredis.Cmdable = client.RDB

	require.NoError(t, client.Ping(context.Background()))
}

func TestPing_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := iredis.NewClient(iredis.Config{Addr: addr, ReadTimeout: time.Second, WriteTimeout: time.Second})
	t.Cleanup(func() { _ = client.Close() })

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
