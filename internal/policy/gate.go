package policy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/chain"
)

// Deny reasons produced by the gate.
const (
	ReasonPolicyFrozen   = "PolicyFrozen"
	ReasonLimitExceeded  = "LimitExceeded"
	ReasonPolicyTampered = "PolicyTampered"
)

// Which limit a LimitExceeded denial hit.
const (
	ScopePerTransaction = "per_transaction"
	ScopeDaily          = "daily"
)

// Verdict is the gate's answer. Denials are verdicts, not errors.
type Verdict struct {
	Allowed    bool
	Reason     string
	Scope      string
	Day        string
	SpentToday *big.Int
	Policy     chain.OnChainPolicy
}

// UTCDay is the accumulator bucket for t.
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type Gate struct {
	reader chain.Reader
	store  SpendStore
	hash   HashVerifier
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Gate)

// WithHashVerifier enables policyHash checking.
func WithHashVerifier(h HashVerifier) Option {
	return func(g *Gate) { g.hash = h }
}

// WithClock replaces time.Now for day bucketing.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func NewGate(reader chain.Reader, store SpendStore, log *zap.Logger, opts ...Option) *Gate {
	g := &Gate{reader: reader, store: store, now: time.Now, log: log}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Authorize evaluates amount against the agent's on-chain policy and, on
// success, reserves it in today's accumulator. Chain errors are returned
// as-is; the reader has already retried them.
func (g *Gate) Authorize(ctx context.Context, agent common.Address, amount *big.Int) (Verdict, error) {
	p, err := g.reader.GetPolicy(ctx, agent)
	if err != nil {
		return Verdict{}, fmt.Errorf("read policy %s: %w", agent.Hex(), err)
	}
	v := Verdict{Day: UTCDay(g.now()), Policy: p}

	if p.IsFrozen {
		v.Reason = ReasonPolicyFrozen
		return v, nil
	}
	if g.hash != nil {
		if err := g.hash.Verify(p); err != nil {
			g.log.Warn("policy hash check failed", zap.String("agent", agent.Hex()), zap.Error(err))
			v.Reason = ReasonPolicyTampered
			return v, nil
		}
	}
	if p.MaxPerTransaction == nil || amount.Cmp(p.MaxPerTransaction) > 0 {
		v.Reason, v.Scope = ReasonLimitExceeded, ScopePerTransaction
		return v, nil
	}

	allowed, spent, err := g.store.Reserve(ctx, agent, v.Day, amount, p.DailySpendLimit)
	if err != nil {
		return Verdict{}, err
	}
	v.SpentToday = spent
	if !allowed {
		v.Reason, v.Scope = ReasonLimitExceeded, ScopeDaily
		return v, nil
	}
	v.Allowed = true
	return v, nil
}

// Release returns an allowed amount to the accumulator, for when a later
// check rejects the request after the gate reserved it.
func (g *Gate) Release(ctx context.Context, agent common.Address, v Verdict, amount *big.Int) error {
	if !v.Allowed {
		return nil
	}
	return g.store.Release(ctx, agent, v.Day, amount)
}
