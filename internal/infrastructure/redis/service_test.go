package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	svc := NewServiceWithAddr(mr.Addr(), "")
	require.NotNil(t, svc)
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.Ping(ctx))
	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))

	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.FastForward(2 * time.Minute)
	_, err = svc.Get(ctx, "k")
	assert.True(t, errors.Is(err, Nil))

	require.NoError(t, svc.Set(ctx, "k2", "v2", 0))
	require.NoError(t, svc.Delete(ctx, "k2"))
	_, err = svc.Get(ctx, "k2")
	assert.True(t, errors.Is(err, Nil))
}

func TestNewServiceUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	assert.Nil(t, NewServiceWithAddr(addr, ""))
}

func TestNewServiceUnconfigured(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	assert.Nil(t, NewService())
}
