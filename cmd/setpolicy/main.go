// cmd/setpolicy writes an agent's spending policy to the policy registry.
//
// The transaction is signed by ADMIN_PRIVATE_KEY, which must be the agent's
// own key: the registry stores one policy per msg.sender. Unless --hash is
// given, the policy hash is keccak256(abi.encode(daily, maxPerTx)), which is
// what the gateway checks when POLICY_VERIFY_HASH is on.
//
// Usage:
//
//	ADMIN_PRIVATE_KEY=0x<key> \
//	go run ./cmd/setpolicy/ \
//	  --rpc       https://evmrpc-testnet.0g.ai \
//	  --chain-id  16602 \
//	  --registry  0x<policy registry> \
//	  --daily     1000000 \
//	  --max-tx    100000
//
// --rpc, --chain-id and --registry default to RPC_URL, CHAIN_ID and
// POLICY_REGISTRY.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/chain"
	"github.com/0gfoundation/agent-paygate/internal/keys"
	"github.com/0gfoundation/agent-paygate/internal/policy"
)

func main() {
	_ = godotenv.Load()

	rpc := flag.String("rpc", envOr("RPC_URL", "https://evmrpc-testnet.0g.ai"), "RPC endpoint")
	chainIDFlag := flag.String("chain-id", envOr("CHAIN_ID", "16602"), "Chain ID")
	registryHex := flag.String("registry", os.Getenv("POLICY_REGISTRY"), "Policy registry address")
	daily := flag.String("daily", "", "Daily spend limit in token base units")
	maxTx := flag.String("max-tx", "", "Max per-transaction amount in token base units")
	hashHex := flag.String("hash", "", "Explicit 32-byte policy hash (default: derived from limits)")
	flag.Parse()

	chainID, err := parseChainID(*chainIDFlag)
	if err != nil {
		fatalf("%v", err)
	}
	dailyLimit, err := parseAmount("daily", *daily)
	if err != nil {
		fatalf("%v", err)
	}
	maxPerTx, err := parseAmount("max-tx", *maxTx)
	if err != nil {
		fatalf("%v", err)
	}
	if !common.IsHexAddress(*registryHex) {
		fatalf("--registry must be an address (or set POLICY_REGISTRY)")
	}
	hash, err := policyHash(*hashHex, dailyLimit, maxPerTx)
	if err != nil {
		fatalf("%v", err)
	}

	signer, err := keys.FromEnv()
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("agent:    %s\n", signer.Address.Hex())
	fmt.Printf("registry: %s\n", *registryHex)
	fmt.Printf("rpc:      %s\n", *rpc)
	fmt.Printf("chain id: %d\n", chainID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, *rpc)
	if err != nil {
		fatalf("dial rpc: %v", err)
	}
	defer eth.Close()

	log, _ := zap.NewDevelopment()
	defer log.Sync() //nolint:errcheck

	registry := common.HexToAddress(*registryHex)
	admin, err := chain.NewPolicyAdmin(eth, registry, signer, big.NewInt(chainID), chain.DefaultRetryPolicy(), log)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("\nsetPolicy daily=%s maxPerTx=%s hash=%s\n", dailyLimit, maxPerTx, common.Hash(hash).Hex())
	receipt, err := admin.SetPolicy(ctx, dailyLimit, maxPerTx, hash)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("      tx: %s (block %s)\n", receipt.TxHash.Hex(), receipt.BlockNumber)
	fmt.Println("      confirmed ✓")

	// Read back through the same retried reader the gateway uses.
	p, err := policyReader(eth, registry, log).GetPolicy(ctx, signer.Address)
	if err != nil {
		fatalf("read back: %v", err)
	}
	fmt.Printf("\non-chain policy:\n")
	fmt.Printf("  daily:     %s\n", p.DailySpendLimit)
	fmt.Printf("  maxPerTx:  %s\n", p.MaxPerTransaction)
	fmt.Printf("  frozen:    %t\n", p.IsFrozen)
	fmt.Printf("  hash ok:   %t\n", policy.KeccakHashVerifier{}.Verify(p) == nil)
}

// parseAmount reads a non-negative base-10 integer flag.
func parseAmount(name, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("--%s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}

// policyReader is the retried read path for the policy registry only.
func policyReader(backend chain.Backend, registry common.Address, log *zap.Logger) chain.Reader {
	return chain.NewResilient(chain.NewClient(backend, common.Address{}, registry), chain.DefaultRetryPolicy(), log)
}

// parseChainID reads a positive chain id from the flag or CHAIN_ID.
func parseChainID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("--chain-id must be a positive integer, got %q", raw)
	}
	return id, nil
}

// policyHash returns the explicit hash when given, otherwise the hash the
// gateway derives from the limits.
func policyHash(explicit string, daily, maxPerTx *big.Int) ([32]byte, error) {
	if explicit == "" {
		return policy.PolicyHash(daily, maxPerTx)
	}
	s := strings.TrimPrefix(explicit, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("--hash must be 32 bytes of hex, got %d chars", len(s))
	}
	return common.HexToHash(s), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
