package policy

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const today = "2026-03-01"

func TestReserve_CorruptRecordReadsAsZero(t *testing.T) {
	for _, stored := range []string{"-50", "garbage", ""} {
		rdb, mr := newTestRedis(t)
		mr.HSet(spendKey(agent), "day", today, "spent", stored)

		ok, spent, err := NewRedisSpendStore(rdb).Reserve(context.Background(), agent, today, big.NewInt(10), big.NewInt(100))
		require.NoError(t, err)
		assert.True(t, ok, stored)
		assert.Equal(t, "10", spent.String(), stored)

		mem := NewMemorySpendStore()
		mem.Set(agent, today, stored)
		ok, spent, err = mem.Reserve(context.Background(), agent, today, big.NewInt(10), big.NewInt(100))
		require.NoError(t, err)
		assert.True(t, ok, stored)
		assert.Equal(t, "10", spent.String(), stored)
	}
}

func TestRedisStore_PersistsDecimalString(t *testing.T) {
	rdb, mr := newTestRedis(t)
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	limit := new(big.Int).Mul(huge, big.NewInt(2))

	ok, _, err := NewRedisSpendStore(rdb).Reserve(context.Background(), agent, today, huge, limit)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, huge.String(), mr.HGet(spendKey(agent), "spent"))
	assert.Equal(t, today, mr.HGet(spendKey(agent), "day"))
	assert.True(t, mr.TTL(spendKey(agent)) > 0)
}

func TestRedisStore_SurvivesRestart(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()

	_, _, err := NewRedisSpendStore(rdb).Reserve(ctx, agent, today, big.NewInt(700), big.NewInt(1000))
	require.NoError(t, err)

	// a fresh store over the same Redis sees the accumulator
	ok, spent, err := NewRedisSpendStore(rdb).Reserve(ctx, agent, today, big.NewInt(400), big.NewInt(1000))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "700", spent.String())
}

func TestRelease_ClampsAtZeroAndSkipsOtherDay(t *testing.T) {
	stores(t, func(t *testing.T, s SpendStore) {
		ctx := context.Background()
		_, _, err := s.Reserve(ctx, agent, today, big.NewInt(50), big.NewInt(100))
		require.NoError(t, err)

		require.NoError(t, s.Release(ctx, agent, "2026-02-28", big.NewInt(50)))
		_, spent, err := s.Reserve(ctx, agent, today, big.NewInt(0), big.NewInt(100))
		require.NoError(t, err)
		assert.Equal(t, "50", spent.String())

		require.NoError(t, s.Release(ctx, agent, today, big.NewInt(80)))
		_, spent, err = s.Reserve(ctx, agent, today, big.NewInt(0), big.NewInt(100))
		require.NoError(t, err)
		assert.Equal(t, "0", spent.String())
	})
}

func TestReserve_ConcurrentNeverOverspends(t *testing.T) {
	stores(t, func(t *testing.T, s SpendStore) {
		var (
			wg      sync.WaitGroup
			allowed atomic.Int64
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, _, err := s.Reserve(context.Background(), agent, today, big.NewInt(100), big.NewInt(1000))
				if err != nil {
					t.Errorf("Reserve: %v", err)
					return
				}
				if ok {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(10), allowed.Load())
	})
}

func TestReserve_TwoProcessesShareLimit(t *testing.T) {
	rdb, _ := newTestRedis(t)
	// separate stores model separate gateway processes: no shared keyed lock
	a, b := NewRedisSpendStore(rdb), NewRedisSpendStore(rdb)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for _, s := range []*RedisSpendStore{a, b} {
		wg.Add(1)
		go func(s *RedisSpendStore) {
			defer wg.Done()
			ok, _, err := s.Reserve(context.Background(), agent, today, big.NewInt(600), big.NewInt(1000))
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}(s)
	}
	wg.Wait()
	assert.Equal(t, int64(1), allowed.Load())
}

func TestReserve_QueuedCallerHonorsDeadline(t *testing.T) {
	rdb, _ := newTestRedis(t)
	redisStore := NewRedisSpendStore(rdb)
	memStore := NewMemorySpendStore()

	for name, tc := range map[string]struct {
		store SpendStore
		hold  func() func()
	}{
		"redis":  {redisStore, func() func() { return redisStore.locks.Lock(spendKey(agent)) }},
		"memory": {memStore, func() func() { return memStore.locks.Lock(agentKey(agent)) }},
	} {
		unlock := tc.hold()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		start := time.Now()
		_, _, err := tc.store.Reserve(ctx, agent, today, big.NewInt(1), big.NewInt(100))
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded, name)
		assert.Less(t, time.Since(start), time.Second, name)
		unlock()

		// Nothing was reserved by the abandoned call.
		ok, spent, err := tc.store.Reserve(context.Background(), agent, today, big.NewInt(1), big.NewInt(100))
		require.NoError(t, err, name)
		assert.True(t, ok, name)
		assert.Equal(t, "1", spent.String(), name)
	}
}
