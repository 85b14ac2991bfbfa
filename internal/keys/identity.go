// Package keys loads the signing identity used by privileged setup tooling.
//
// The gateway itself never holds a signing key: request authorization only
// reads chain state. A SigningIdentity exists solely so that cmd/setpolicy
// can send policy transactions on behalf of an agent.
package keys

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EnvAdminKey is the environment variable holding the admin private key.
const EnvAdminKey = "ADMIN_PRIVATE_KEY"

// SigningIdentity is an authenticated signer for chain writes.
type SigningIdentity struct {
	key     *ecdsa.PrivateKey
	Address common.Address
}

// FromHex parses a 32-byte hex private key, with or without the 0x prefix.
func FromHex(raw string) (*SigningIdentity, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("keys: private key must be a 32-byte hex string (got %d chars)", len(keyHex))
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	return &SigningIdentity{key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// FromEnv loads the identity from ADMIN_PRIVATE_KEY.
func FromEnv() (*SigningIdentity, error) {
	raw := os.Getenv(EnvAdminKey)
	if raw == "" {
		return nil, fmt.Errorf("keys: %s is not set", EnvAdminKey)
	}
	return FromHex(raw)
}

// Transactor builds transaction options signed by this identity.
func (s *SigningIdentity) Transactor(chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(s.key, chainID)
}
