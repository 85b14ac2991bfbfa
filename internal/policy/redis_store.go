package policy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/agent-paygate/internal/keylock"
)

const (
	spendKeyPrefix = "policy:spent:"
	// Records outlive their day by one so a late Release still finds them.
	spendKeyTTL   = 48 * time.Hour
	maxTxRetries  = 16
	commitTimeout = 5 * time.Second
)

// ErrContention is returned when optimistic updates keep losing the race.
var ErrContention = errors.New("spend accumulator contention")

// RedisSpendStore persists accumulators in a Redis hash per agent:
//
//	policy:spent:<agent> → { day: "2006-01-02", spent: "<decimal>" }
//
// Updates run under WATCH/MULTI so several gateway processes can share the
// store. Within one process a keyed lock avoids pointless WATCH aborts.
type RedisSpendStore struct {
	rdb   *redis.Client
	locks *keylock.Map
}

func NewRedisSpendStore(rdb *redis.Client) *RedisSpendStore {
	return &RedisSpendStore{rdb: rdb, locks: keylock.New()}
}

func spendKey(agent common.Address) string {
	return spendKeyPrefix + agentKey(agent)
}

func (s *RedisSpendStore) Reserve(ctx context.Context, agent common.Address, day string, amount, limit *big.Int) (bool, *big.Int, error) {
	key := spendKey(agent)
	unlock, err := s.locks.LockContext(ctx, key)
	if err != nil {
		return false, nil, fmt.Errorf("reserve spend %s: %w", key, err)
	}
	defer unlock()
	ctx, cancel := detach(ctx)
	defer cancel()

	var (
		allowed bool
		spent   *big.Int
	)
	err = s.update(ctx, key, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current := currentSpent(vals["day"], vals["spent"], day)
		next := new(big.Int).Add(current, amount)
		if next.Cmp(limitOrZero(limit)) > 0 {
			allowed, spent = false, current
			return nil
		}
		if err := write(ctx, tx, key, day, next); err != nil {
			return err
		}
		allowed, spent = true, next
		return nil
	})
	if err != nil {
		return false, nil, fmt.Errorf("reserve spend %s: %w", key, err)
	}
	return allowed, spent, nil
}

func (s *RedisSpendStore) Release(ctx context.Context, agent common.Address, day string, amount *big.Int) error {
	key := spendKey(agent)
	unlock, err := s.locks.LockContext(ctx, key)
	if err != nil {
		return fmt.Errorf("release spend %s: %w", key, err)
	}
	defer unlock()
	ctx, cancel := detach(ctx)
	defer cancel()

	err = s.update(ctx, key, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if vals["day"] != day {
			return nil
		}
		next := new(big.Int).Sub(currentSpent(vals["day"], vals["spent"], day), amount)
		if next.Sign() < 0 {
			next.SetInt64(0)
		}
		return write(ctx, tx, key, day, next)
	})
	if err != nil {
		return fmt.Errorf("release spend %s: %w", key, err)
	}
	return nil
}

// detach lets a transaction started under the lock finish even if the
// caller's deadline fires, so the caller always learns whether it committed.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

func (s *RedisSpendStore) update(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return ErrContention
}

func write(ctx context.Context, tx *redis.Tx, key, day string, spent *big.Int) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "day", day, "spent", spent.String())
		pipe.Expire(ctx, key, spendKeyTTL)
		return nil
	})
	return err
}
