package yield

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidSnapshotOrder rejects a snapshot that does not strictly
	// follow the previous one for its key, or a delta across keys.
	ErrInvalidSnapshotOrder = errors.New("invalid snapshot order")
	// ErrSerialization marks a persisted history that could not be decoded.
	ErrSerialization = errors.New("snapshot history serialization error")
	// ErrInvalidSnapshot rejects snapshots with missing or negative amounts.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrInsufficientHistory means a summary needs at least two snapshots.
	ErrInsufficientHistory = errors.New("insufficient snapshot history")
)

// Snapshot is a point-in-time reading of one agent's position in one vault.
// All amounts are in the smallest unit of their asset. Native and Stable are
// wallet context and may be nil when they were not captured; Shares and
// Underlying are required.
type Snapshot struct {
	Agent      common.Address
	Vault      common.Address
	Native     *big.Int
	Stable     *big.Int
	Shares     *big.Int
	Underlying *big.Int
	Timestamp  int64
}

// Key identifies the history a snapshot belongs to.
func (s Snapshot) Key() string {
	return Key(s.Agent, s.Vault)
}

func Key(agent, vault common.Address) string {
	return strings.ToLower(agent.Hex()) + ":" + strings.ToLower(vault.Hex())
}

func (s Snapshot) validate() error {
	for name, v := range map[string]*big.Int{
		"shares":     s.Shares,
		"underlying": s.Underlying,
	} {
		if v == nil {
			return fmt.Errorf("%w: %s missing", ErrInvalidSnapshot, name)
		}
	}
	for name, v := range map[string]*big.Int{
		"native":     s.Native,
		"stable":     s.Stable,
		"shares":     s.Shares,
		"underlying": s.Underlying,
	} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%w: %s negative", ErrInvalidSnapshot, name)
		}
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp %d", ErrInvalidSnapshot, s.Timestamp)
	}
	return nil
}

// YieldDelta is the change between two snapshots of the same key. Deltas
// are signed: a negative DeltaUnderlying is a withdrawal or a loss.
type YieldDelta struct {
	From            Snapshot
	To              Snapshot
	DeltaUnderlying *big.Int
	DeltaShares     *big.Int
	DeltaTimeSec    int64
}

// Delta subtracts from from to. It fails unless to is strictly later and
// both snapshots share a key.
func Delta(from, to Snapshot) (YieldDelta, error) {
	if from.Key() != to.Key() {
		return YieldDelta{}, fmt.Errorf("%w: %s vs %s", ErrInvalidSnapshotOrder, from.Key(), to.Key())
	}
	if to.Timestamp <= from.Timestamp {
		return YieldDelta{}, fmt.Errorf("%w: to=%d not after from=%d", ErrInvalidSnapshotOrder, to.Timestamp, from.Timestamp)
	}
	return YieldDelta{
		From:            from,
		To:              to,
		DeltaUnderlying: new(big.Int).Sub(orZero(to.Underlying), orZero(from.Underlying)),
		DeltaShares:     new(big.Int).Sub(orZero(to.Shares), orZero(from.Shares)),
		DeltaTimeSec:    to.Timestamp - from.Timestamp,
	}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
