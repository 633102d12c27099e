package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SingleHolder(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "p1")
	assert.False(t, ok)

	// другой ключ независим
	r2, ok, _ := l.TryLock(ctx, "p2")
	assert.True(t, ok)
	r2()

	release()
	release() // повторный вызов безопасен
	r3, ok, _ := l.TryLock(ctx, "p1")
	assert.True(t, ok)
	r3()
}

func TestLocal_Concurrent(t *testing.T) {
	l := NewLocal()
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := l.TryLock(context.Background(), "same"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRedis_Key(t *testing.T) {
	r := NewRedis(nil, "lambra", time.Minute)
	assert.Equal(t, "lambra:lock:01HX", r.Key("01HX"))
}

// Требует живой Redis: LAMBRA_TEST_REDIS=localhost:6379
func TestRedis_TryLock(t *testing.T) {
	addr := os.Getenv("LAMBRA_TEST_REDIS")
	if addr == "" {
		t.Skip("LAMBRA_TEST_REDIS is not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	r := NewRedis(client, "lambra-test", 5*time.Second)
	release, ok, err := r.TryLock(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryLock(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	r2, ok, err := r.TryLock(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	r2()
}
