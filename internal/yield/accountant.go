package yield

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/keylock"
)

// DefaultHistoryLimit is how many snapshots are kept per key. It is also the
// ceiling: a larger limit passed to NewAccountant is lowered to it.
const DefaultHistoryLimit = 100

// Accountant appends snapshots to bounded per-key histories. Writes to one
// key are serialized; other keys proceed in parallel.
type Accountant struct {
	store HistoryStore
	limit int
	locks *keylock.Map
	log   *zap.Logger
}

func NewAccountant(store HistoryStore, limit int, log *zap.Logger) *Accountant {
	if limit < 1 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return &Accountant{store: store, limit: limit, locks: keylock.New(), log: log}
}

// Record validates snap against the stored history and appends it, evicting
// the oldest entries beyond the limit. A rejected snapshot leaves the stored
// history untouched.
func (a *Accountant) Record(ctx context.Context, snap Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}
	key := snap.Key()
	unlock, err := a.locks.LockContext(ctx, key)
	if err != nil {
		return fmt.Errorf("record snapshot %s: %w", key, err)
	}
	defer unlock()

	var evicted int
	err = a.store.Update(ctx, key, func(history []Snapshot) ([]Snapshot, error) {
		if n := len(history); n > 0 && snap.Timestamp <= history[n-1].Timestamp {
			return nil, fmt.Errorf("%w: %d not after last stored %d", ErrInvalidSnapshotOrder, snap.Timestamp, history[n-1].Timestamp)
		}
		next := append(history, snap)
		if over := len(next) - a.limit; over > 0 {
			evicted = over
			next = next[over:]
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("record snapshot %s: %w", key, err)
	}
	a.log.Debug("snapshot recorded",
		zap.String("key", key),
		zap.Int64("timestamp", snap.Timestamp),
		zap.String("underlying", snap.Underlying.String()),
		zap.Int("evicted", evicted),
	)
	return nil
}

// History returns the stored snapshots for agent in vault, oldest first.
func (a *Accountant) History(ctx context.Context, agent, vault common.Address) ([]Snapshot, error) {
	return a.store.Load(ctx, Key(agent, vault))
}

// Summary is the delta from the oldest to the newest stored snapshot.
func (a *Accountant) Summary(ctx context.Context, agent, vault common.Address) (YieldDelta, error) {
	history, err := a.History(ctx, agent, vault)
	if err != nil {
		return YieldDelta{}, err
	}
	if len(history) < 2 {
		return YieldDelta{}, fmt.Errorf("%w: %d stored", ErrInsufficientHistory, len(history))
	}
	return Delta(history[0], history[len(history)-1])
}
