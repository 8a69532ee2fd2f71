package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestBudget creates a CallBudget against a miniredis instance.
func setupTestBudget(t *testing.T, limit int, window time.Duration) (*CallBudget, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	budget, err := NewCallBudget(&CallBudgetConfig{
		Redis:  client,
		Limit:  limit,
		Window: window,
	})
	require.NoError(t, err)

	return budget, mr
}

func TestNewCallBudget(t *testing.T) {
	t.Run("requires redis", func(t *testing.T) {
		_, err := NewCallBudget(&CallBudgetConfig{})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		budget, _ := setupTestBudget(t, 0, 0)
		assert.Equal(t, DefaultBudgetLimit, budget.Limit())
		assert.Equal(t, DefaultBudgetWindow, budget.Window())
	})

	t.Run("rejects negative limit", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		_, err = NewCallBudget(&CallBudgetConfig{Redis: client, Limit: -1})
		assert.Error(t, err)
	})
}

func TestCallBudgetTryConsumeEnforcesLimit(t *testing.T) {
	budget, _ := setupTestBudget(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := budget.TryConsume(ctx)
		require.True(t, allowed, "request %d should be within budget", i+1)
	}

	allowed, wait := budget.TryConsume(ctx)
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0), "denied consume must suggest a wait")

	used, err := budget.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, used, "denied requests must not advance the counter")
}

func TestCallBudgetSharedAcrossClients(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	newBudget := func() *CallBudget {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b, err := NewCallBudget(&CallBudgetConfig{Redis: client, Limit: 2, Window: time.Minute})
		require.NoError(t, err)
		return b
	}

	// Two processes sharing one provider key see one combined budget.
	server, worker := newBudget(), newBudget()
	ctx := context.Background()

	allowed, _ := server.TryConsume(ctx)
	require.True(t, allowed)
	allowed, _ = worker.TryConsume(ctx)
	require.True(t, allowed)

	allowed, _ = server.TryConsume(ctx)
	assert.False(t, allowed)
	allowed, _ = worker.TryConsume(ctx)
	assert.False(t, allowed)
}

func TestCallBudgetDeniesOnRedisError(t *testing.T) {
	budget, mr := setupTestBudget(t, 5, time.Minute)
	mr.Close()

	allowed, wait := budget.TryConsume(context.Background())
	assert.False(t, allowed, "budget must fail closed when Redis is unreachable")
	assert.Greater(t, wait, time.Duration(0))
}

func TestBudgetLimiterWait(t *testing.T) {
	budget, _ := setupTestBudget(t, 2, 50*time.Millisecond)
	limiter := NewBudgetLimiter(budget)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "third call must wait for the next window")

	snap := limiter.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.Consumed)
	assert.GreaterOrEqual(t, snap.Denied, int64(1))
}

func TestBudgetLimiterWaitHonorsContext(t *testing.T) {
	budget, _ := setupTestBudget(t, 1, time.Hour)
	limiter := NewBudgetLimiter(budget)

	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
}
