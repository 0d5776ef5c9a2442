package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_CacheBudget(t *testing.T) {
	c := NewController(Config{CacheBytes: 100})

	assert.True(t, c.ReserveCache(60))
	assert.True(t, c.ReserveCache(40))
	assert.False(t, c.ReserveCache(1))
	assert.ErrorIs(t, c.MustReserveCache(1), ErrCacheBudgetExceeded)
	assert.Equal(t, int64(100), c.Usage().CacheBytes)

	c.ReleaseCache(60)
	assert.True(t, c.ReserveCache(50))
	assert.Equal(t, Usage{CacheBytes: 90, CacheLimit: 100, MaintenanceMax: 1}, c.Usage())
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})
	assert.True(t, c.ReserveCache(1<<40))
	assert.Equal(t, int64(1<<40), c.Usage().CacheBytes)
}

func TestController_NilIsUnlimited(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	assert.True(t, c.ReserveCache(10))
	c.ReleaseCache(10)
	end, err := c.BeginMaintenance(ctx)
	require.NoError(t, err)
	end()
	require.NoError(t, c.WaitTransfer(ctx, 1<<20))
	assert.Equal(t, Usage{}, c.Usage())
}

func TestController_Maintenance(t *testing.T) {
	c := NewController(Config{MaintenanceJobs: 1})
	ctx := context.Background()

	end, err := c.BeginMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Usage().MaintenanceJobs)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = c.BeginMaintenance(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	end()
	end() // second call is a no-op
	assert.Zero(t, c.Usage().MaintenanceJobs)

	end, err = c.BeginMaintenance(ctx)
	require.NoError(t, err)
	end()
}

func TestThrottledIO(t *testing.T) {
	c := NewController(Config{TransferBytesPerSec: 1 << 20})
	ctx := context.Background()

	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("x"), 4096)
	n, err := ThrottleWriter(ctx, &buf, c).Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	out, err := io.ReadAll(ThrottleReader(ctx, &buf, c))
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	var plain bytes.Buffer
	assert.Same(t, &plain, ThrottleWriter(ctx, &plain, nil))
}
