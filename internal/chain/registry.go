package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// The adapters in this file are stateless: every call takes the caller and
// the contract address explicitly, so no contract handle is shared between
// concurrent requests.

// MerchantRegistryMetaData is the slice of the merchant registry ABI the gateway reads.
var MerchantRegistryMetaData = &bind.MetaData{
	ABI: `[{"type":"function","name":"getMerchant","stateMutability":"view",
		"inputs":[{"name":"merchantId","type":"bytes32","internalType":"bytes32"}],
		"outputs":[{"name":"wallet","type":"address","internalType":"address"},
			{"name":"isActive","type":"bool","internalType":"bool"},
			{"name":"metadataURI","type":"string","internalType":"string"}]}]`,
}

// PolicyRegistryMetaData covers the agent policy read and the privileged write.
var PolicyRegistryMetaData = &bind.MetaData{
	ABI: `[{"type":"function","name":"getPolicy","stateMutability":"view",
		"inputs":[{"name":"agent","type":"address","internalType":"address"}],
		"outputs":[{"name":"dailySpendLimit","type":"uint256","internalType":"uint256"},
			{"name":"maxPerTransaction","type":"uint256","internalType":"uint256"},
			{"name":"policyHash","type":"bytes32","internalType":"bytes32"},
			{"name":"isFrozen","type":"bool","internalType":"bool"},
			{"name":"lastUpdated","type":"uint256","internalType":"uint256"}]},
		{"type":"function","name":"setPolicy","stateMutability":"nonpayable",
		"inputs":[{"name":"dailySpendLimit","type":"uint256","internalType":"uint256"},
			{"name":"maxPerTransaction","type":"uint256","internalType":"uint256"},
			{"name":"policyHash","type":"bytes32","internalType":"bytes32"}],
		"outputs":[]}]`,
}

// ERC20MetaData is balanceOf only.
var ERC20MetaData = &bind.MetaData{
	ABI: `[{"type":"function","name":"balanceOf","stateMutability":"view",
		"inputs":[{"name":"account","type":"address","internalType":"address"}],
		"outputs":[{"name":"","type":"uint256","internalType":"uint256"}]}]`,
}

// VaultMetaData is the ERC-4626 share balance and share→asset conversion.
var VaultMetaData = &bind.MetaData{
	ABI: `[{"type":"function","name":"balanceOf","stateMutability":"view",
		"inputs":[{"name":"account","type":"address","internalType":"address"}],
		"outputs":[{"name":"","type":"uint256","internalType":"uint256"}]},
		{"type":"function","name":"convertToAssets","stateMutability":"view",
		"inputs":[{"name":"shares","type":"uint256","internalType":"uint256"}],
		"outputs":[{"name":"assets","type":"uint256","internalType":"uint256"}]}]`,
}

// RateScale is the fixed-point scale of VaultExchangeRate: underlying
// assets per RateScale shares.
var RateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MerchantKey maps a merchant identifier to its registry key. A 0x-prefixed
// 32-byte hex id is used verbatim; anything else is keccak256-hashed.
func MerchantKey(merchantID string) [32]byte {
	var key [32]byte
	if s, ok := strings.CutPrefix(merchantID, "0x"); ok && len(s) == 64 {
		if b, err := hex.DecodeString(s); err == nil {
			copy(key[:], b)
			return key
		}
	}
	return crypto.Keccak256Hash([]byte(merchantID))
}

func call(ctx context.Context, caller bind.ContractCaller, meta *bind.MetaData, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := meta.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	contract := bind.NewBoundContract(addr, *parsed, caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func callUint(ctx context.Context, caller bind.ContractCaller, meta *bind.MetaData, addr common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := call(ctx, caller, meta, addr, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// GetMerchant reads getMerchant(bytes32) from the merchant registry.
func GetMerchant(ctx context.Context, caller bind.ContractCaller, registry common.Address, merchantID string) (Merchant, error) {
	out, err := call(ctx, caller, MerchantRegistryMetaData, registry, "getMerchant", MerchantKey(merchantID))
	if err != nil {
		return Merchant{}, err
	}
	return Merchant{
		ID:          merchantID,
		Wallet:      *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		IsActive:    *abi.ConvertType(out[1], new(bool)).(*bool),
		MetadataURI: *abi.ConvertType(out[2], new(string)).(*string),
	}, nil
}

// GetPolicy reads getPolicy(address) from the policy registry.
func GetPolicy(ctx context.Context, caller bind.ContractCaller, registry, agent common.Address) (OnChainPolicy, error) {
	out, err := call(ctx, caller, PolicyRegistryMetaData, registry, "getPolicy", agent)
	if err != nil {
		return OnChainPolicy{}, err
	}
	return OnChainPolicy{
		Agent:             agent,
		DailySpendLimit:   *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		MaxPerTransaction: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		PolicyHash:        *abi.ConvertType(out[2], new([32]byte)).(*[32]byte),
		IsFrozen:          *abi.ConvertType(out[3], new(bool)).(*bool),
		LastUpdated:       *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}, nil
}

// TokenBalance reads ERC-20 balanceOf(holder).
func TokenBalance(ctx context.Context, caller bind.ContractCaller, token, holder common.Address) (*big.Int, error) {
	return callUint(ctx, caller, ERC20MetaData, token, "balanceOf", holder)
}

// VaultShares reads the ERC-4626 share balance of holder.
func VaultShares(ctx context.Context, caller bind.ContractCaller, vault, holder common.Address) (*big.Int, error) {
	return callUint(ctx, caller, VaultMetaData, vault, "balanceOf", holder)
}

// VaultExchangeRate returns convertToAssets(RateScale), i.e. underlying units
// per RateScale shares.
func VaultExchangeRate(ctx context.Context, caller bind.ContractCaller, vault common.Address) (*big.Int, error) {
	return callUint(ctx, caller, VaultMetaData, vault, "convertToAssets", new(big.Int).Set(RateScale))
}
