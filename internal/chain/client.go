package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/config"
)

// Merchant is a read-only projection of a merchant registry entry.
type Merchant struct {
	ID          string
	Wallet      common.Address
	IsActive    bool
	MetadataURI string
}

// Registered reports whether the registry holds a wallet for the merchant.
func (m Merchant) Registered() bool { return m.Wallet != (common.Address{}) }

// OnChainPolicy is the agent policy as stored in the policy registry. The
// chain only stores limits; consumption is tracked off-chain by policy.Gate.
type OnChainPolicy struct {
	Agent             common.Address
	DailySpendLimit   *big.Int
	MaxPerTransaction *big.Int
	PolicyHash        [32]byte
	IsFrozen          bool
	LastUpdated       *big.Int
}

// Reader is the read-only chain surface handed to the authorization and
// yield components. It has no state-changing methods.
type Reader interface {
	GetMerchant(ctx context.Context, merchantID string) (Merchant, error)
	GetPolicy(ctx context.Context, agent common.Address) (OnChainPolicy, error)
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	VaultShares(ctx context.Context, vault, holder common.Address) (*big.Int, error)
	VaultExchangeRate(ctx context.Context, vault common.Address) (*big.Int, error)
}

// Backend is what Client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client binds a backend to the registry addresses. All fields are set at
// construction and never mutated.
type Client struct {
	backend          Backend
	merchantRegistry common.Address
	policyRegistry   common.Address
}

func NewClient(backend Backend, merchantRegistry, policyRegistry common.Address) *Client {
	return &Client{
		backend:          backend,
		merchantRegistry: merchantRegistry,
		policyRegistry:   policyRegistry,
	}
}

// Dial connects to the configured RPC endpoint.
func Dial(cfg *config.Config) (*Client, *ethclient.Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClient(
		eth,
		common.HexToAddress(cfg.Chain.MerchantRegistry),
		common.HexToAddress(cfg.Chain.PolicyRegistry),
	), eth, nil
}

func (c *Client) GetMerchant(ctx context.Context, merchantID string) (Merchant, error) {
	return GetMerchant(ctx, c.backend, c.merchantRegistry, merchantID)
}

func (c *Client) GetPolicy(ctx context.Context, agent common.Address) (OnChainPolicy, error) {
	return GetPolicy(ctx, c.backend, c.policyRegistry, agent)
}

func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("BalanceAt: %w", err)
	}
	return bal, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return TokenBalance(ctx, c.backend, token, holder)
}

func (c *Client) VaultShares(ctx context.Context, vault, holder common.Address) (*big.Int, error) {
	return VaultShares(ctx, c.backend, vault, holder)
}

func (c *Client) VaultExchangeRate(ctx context.Context, vault common.Address) (*big.Int, error) {
	return VaultExchangeRate(ctx, c.backend, vault)
}

// Resilient routes every Reader call through Do with a shared policy.
type Resilient struct {
	inner  Reader
	policy RetryPolicy
	log    *zap.Logger
}

func NewResilient(inner Reader, policy RetryPolicy, log *zap.Logger) *Resilient {
	return &Resilient{inner: inner, policy: policy, log: log}
}

func (r *Resilient) GetMerchant(ctx context.Context, merchantID string) (Merchant, error) {
	return Do(ctx, r.policy, r.log, "getMerchant", func(ctx context.Context) (Merchant, error) {
		return r.inner.GetMerchant(ctx, merchantID)
	})
}

func (r *Resilient) GetPolicy(ctx context.Context, agent common.Address) (OnChainPolicy, error) {
	return Do(ctx, r.policy, r.log, "getPolicy", func(ctx context.Context) (OnChainPolicy, error) {
		return r.inner.GetPolicy(ctx, agent)
	})
}

func (r *Resilient) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return Do(ctx, r.policy, r.log, "nativeBalance", func(ctx context.Context) (*big.Int, error) {
		return r.inner.NativeBalance(ctx, addr)
	})
}

func (r *Resilient) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return Do(ctx, r.policy, r.log, "tokenBalance", func(ctx context.Context) (*big.Int, error) {
		return r.inner.TokenBalance(ctx, token, holder)
	})
}

func (r *Resilient) VaultShares(ctx context.Context, vault, holder common.Address) (*big.Int, error) {
	return Do(ctx, r.policy, r.log, "vaultShares", func(ctx context.Context) (*big.Int, error) {
		return r.inner.VaultShares(ctx, vault, holder)
	})
}

func (r *Resilient) VaultExchangeRate(ctx context.Context, vault common.Address) (*big.Int, error) {
	return Do(ctx, r.policy, r.log, "vaultExchangeRate", func(ctx context.Context) (*big.Int, error) {
		return r.inner.VaultExchangeRate(ctx, vault)
	})
}
