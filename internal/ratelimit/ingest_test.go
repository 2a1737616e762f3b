package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitraceslab/koota/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalGuardSerializesSameKey(t *testing.T) {
	g := NewIngestGuard(nil, config.Config{}, zap.NewNop())
	ctx := context.Background()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := g.LockTable(ctx, "dev1", "battery")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak)
	assert.Empty(t, g.local.slots)
}

func TestLocalGuardHonorsContext(t *testing.T) {
	g := NewLocalGuard()

	unlock, err := g.LockTable(context.Background(), "dev1", "t")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.LockTable(ctx, "dev1", "t")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := g.LockTable(context.Background(), "dev1", "other")
	require.NoError(t, err)
	other()
	unlock()
	unlock()
}

func TestAllowWithoutRedis(t *testing.T) {
	g := NewLocalGuard()
	ok, wait := g.AllowDevice(context.Background(), "dev1")
	assert.True(t, ok)
	assert.Zero(t, wait)
}
