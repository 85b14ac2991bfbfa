package policy

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/agent-paygate/internal/chain"
)

// ErrPolicyHashMismatch means the published policyHash does not commit to
// the limits read alongside it.
var ErrPolicyHashMismatch = errors.New("policy hash mismatch")

// HashVerifier checks a policy's parameters against its on-chain hash. A
// Gate without one skips the check.
type HashVerifier interface {
	Verify(p chain.OnChainPolicy) error
}

var limitsArgs = func() abi.Arguments {
	u256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "dailySpendLimit", Type: u256}, {Name: "maxPerTransaction", Type: u256}}
}()

// PolicyHash is keccak256(abi.encode(uint256 dailySpendLimit, uint256 maxPerTransaction)).
func PolicyHash(dailySpendLimit, maxPerTransaction *big.Int) ([32]byte, error) {
	encoded, err := limitsArgs.Pack(dailySpendLimit, maxPerTransaction)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode limits: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// KeccakHashVerifier recomputes PolicyHash from the read limits. A zero
// policyHash means none was published and passes.
type KeccakHashVerifier struct{}

func (KeccakHashVerifier) Verify(p chain.OnChainPolicy) error {
	if p.PolicyHash == ([32]byte{}) {
		return nil
	}
	want, err := PolicyHash(p.DailySpendLimit, p.MaxPerTransaction)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPolicyHashMismatch, err)
	}
	if want != p.PolicyHash {
		return fmt.Errorf("%w: stored %x, computed %x", ErrPolicyHashMismatch, p.PolicyHash, want)
	}
	return nil
}
