package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Intent is the JSON payload an agent signs before paying for a call. Keys
// are sorted so every client serializes it the same way.
type Intent struct {
	Amount     string `json:"amount"`
	ExpiresAt  int64  `json:"expires_at"`
	MerchantID string `json:"merchant_id"`
	Nonce      string `json:"nonce"`
	TargetURL  string `json:"target_url"`
}

// AmountInt parses Amount as a base-10 integer in the token's smallest unit.
func (i Intent) AmountInt() (*big.Int, error) {
	v, ok := new(big.Int).SetString(i.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", i.Amount)
	}
	return v, nil
}

// RecoverSigner returns the address whose key produced sig over the
// EIP-191 personal-message hash of msg. V may be 0/1 or 27/28.
func RecoverSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("invalid signature length")
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignIntent produces the X-Signed-Intent and X-Agent-Signature header
// values for in. Agents and tests use it; the gateway only verifies.
func SignIntent(key *ecdsa.PrivateKey, in Intent) (intentB64, sigHex string, err error) {
	msg, err := json.Marshal(in)
	if err != nil {
		return "", "", err
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return "", "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return base64.StdEncoding.EncodeToString(msg), "0x" + hex.EncodeToString(sig), nil
}
