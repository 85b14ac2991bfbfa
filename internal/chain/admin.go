package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/keys"
)

// TransactBackend can send transactions and wait for their receipts.
// *ethclient.Client satisfies it.
type TransactBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// PolicyAdmin is the privileged policy write path. It is only constructed by
// setup/recovery tooling; the request path receives a Reader, which cannot
// reach it.
type PolicyAdmin struct {
	backend  TransactBackend
	registry common.Address
	signer   *keys.SigningIdentity
	chainID  *big.Int
	policy   RetryPolicy
	log      *zap.Logger
}

func NewPolicyAdmin(
	backend TransactBackend,
	registry common.Address,
	signer *keys.SigningIdentity,
	chainID *big.Int,
	policy RetryPolicy,
	log *zap.Logger,
) (*PolicyAdmin, error) {
	if signer == nil {
		return nil, errors.New("policy admin requires a signing identity")
	}
	return &PolicyAdmin{
		backend:  backend,
		registry: registry,
		signer:   signer,
		chainID:  chainID,
		policy:   policy,
		log:      log,
	}, nil
}

// SetPolicy sends setPolicy(daily, maxPerTx, hash) as the signer and waits
// for the receipt. A reverted transaction is an error.
func (a *PolicyAdmin) SetPolicy(ctx context.Context, dailySpendLimit, maxPerTransaction *big.Int, policyHash [32]byte) (*types.Receipt, error) {
	parsed, err := PolicyRegistryMetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	contract := bind.NewBoundContract(a.registry, *parsed, a.backend, a.backend, a.backend)

	tx, err := Do(ctx, a.policy, a.log, "setPolicy", func(ctx context.Context) (*types.Transaction, error) {
		opts, err := a.signer.Transactor(a.chainID)
		if err != nil {
			return nil, fmt.Errorf("build tx opts: %w", err)
		}
		opts.Context = ctx
		return contract.Transact(opts, "setPolicy", dailySpendLimit, maxPerTransaction, policyHash)
	})
	if err != nil {
		return nil, fmt.Errorf("setPolicy tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, a.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("tx reverted: %s", tx.Hash().Hex())
	}
	return receipt, nil
}
