package policy

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/agent-paygate/internal/keylock"
)

// SpendStore owns the off-chain daily accumulator. The chain only stores
// limits; how much an agent has spent today lives here.
type SpendStore interface {
	// Reserve adds amount to the agent's accumulator for day if the result
	// stays within limit. It returns whether the reservation was made and the
	// accumulator value afterwards (or the unchanged value on refusal). A
	// stored record for a different day counts as zero.
	Reserve(ctx context.Context, agent common.Address, day string, amount, limit *big.Int) (bool, *big.Int, error)
	// Release gives back an earlier reservation made on day. The accumulator
	// never drops below zero and a record for another day is left alone.
	Release(ctx context.Context, agent common.Address, day string, amount *big.Int) error
}

func agentKey(agent common.Address) string {
	return strings.ToLower(agent.Hex())
}

// currentSpent normalizes a stored record: wrong day, missing, unparsable
// or negative all read as zero.
func currentSpent(storedDay, storedSpent, day string) *big.Int {
	if storedDay != day {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(storedSpent, 10)
	if !ok || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

type memoryRecord struct {
	day   string
	spent string
}

// MemorySpendStore keeps accumulators in process memory. Suitable for a
// single gateway instance and for tests; state is lost on restart.
type MemorySpendStore struct {
	locks   *keylock.Map
	mu      sync.RWMutex
	records map[string]memoryRecord
}

func NewMemorySpendStore() *MemorySpendStore {
	return &MemorySpendStore{locks: keylock.New(), records: make(map[string]memoryRecord)}
}

func (s *MemorySpendStore) Reserve(ctx context.Context, agent common.Address, day string, amount, limit *big.Int) (bool, *big.Int, error) {
	key := agentKey(agent)
	unlock, err := s.locks.LockContext(ctx, key)
	if err != nil {
		return false, nil, err
	}
	defer unlock()

	rec := s.get(key)
	current := currentSpent(rec.day, rec.spent, day)
	next := new(big.Int).Add(current, amount)
	if next.Cmp(limitOrZero(limit)) > 0 {
		return false, current, nil
	}
	s.put(key, memoryRecord{day: day, spent: next.String()})
	return true, next, nil
}

func (s *MemorySpendStore) Release(ctx context.Context, agent common.Address, day string, amount *big.Int) error {
	key := agentKey(agent)
	unlock, err := s.locks.LockContext(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	rec := s.get(key)
	if rec.day != day {
		return nil
	}
	next := new(big.Int).Sub(currentSpent(rec.day, rec.spent, day), amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	s.put(key, memoryRecord{day: day, spent: next.String()})
	return nil
}

// Set overwrites a record verbatim. Used to seed state in tests and by
// recovery tooling.
func (s *MemorySpendStore) Set(agent common.Address, day, spent string) {
	s.put(agentKey(agent), memoryRecord{day: day, spent: spent})
}

func (s *MemorySpendStore) get(key string) memoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key]
}

func (s *MemorySpendStore) put(key string, rec memoryRecord) {
	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()
}

func limitOrZero(limit *big.Int) *big.Int {
	if limit == nil {
		return new(big.Int)
	}
	return limit
}
