package authorize

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/chain"
	"github.com/0gfoundation/agent-paygate/internal/identity"
	"github.com/0gfoundation/agent-paygate/internal/metrics"
	"github.com/0gfoundation/agent-paygate/internal/policy"
)

// IdentityVerifier is satisfied by *identity.Verifier.
type IdentityVerifier interface {
	Verify(ctx context.Context, merchantID string) (chain.Merchant, error)
}

// PolicyGate is satisfied by *policy.Gate.
type PolicyGate interface {
	Authorize(ctx context.Context, agent common.Address, amount *big.Int) (policy.Verdict, error)
	Release(ctx context.Context, agent common.Address, v policy.Verdict, amount *big.Int) error
}

// TargetGuard is satisfied by *upstream.Guard.
type TargetGuard interface {
	Validate(ctx context.Context, rawURL string) error
}

// Sink receives every decision after it is made. Errors are logged only.
type Sink interface {
	Write(ctx context.Context, d Decision) error
}

const sinkTimeout = 5 * time.Second

type Authorizer struct {
	identity IdentityVerifier
	gate     PolicyGate
	guard    TargetGuard
	sink     Sink
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Authorizer)

// WithTimeout bounds each Authorize call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(a *Authorizer) { a.timeout = d }
}

func WithSink(s Sink) Option {
	return func(a *Authorizer) { a.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

func New(id IdentityVerifier, gate PolicyGate, guard TargetGuard, log *zap.Logger, opts ...Option) *Authorizer {
	a := &Authorizer{identity: id, gate: gate, guard: guard, now: time.Now, log: log}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authorize runs identity, then policy, then (with a target) the upstream
// guard, stopping at the first denial. It always returns a decision.
func (a *Authorizer) Authorize(ctx context.Context, req Request) Decision {
	d := Decision{
		ID:         uuid.NewString(),
		MerchantID: req.MerchantID,
		Agent:      req.Agent,
		Amount:     req.Amount,
		Timestamp:  a.now().UTC(),
	}

	evalCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	a.evaluate(evalCtx, req, &d)
	a.emit(ctx, d)
	return d
}

func (a *Authorizer) evaluate(ctx context.Context, req Request, d *Decision) {
	if req.MerchantID == "" || req.Amount == nil || req.Amount.Sign() <= 0 {
		deny(d, ReasonInvalidRequest, "merchant id and a positive amount are required")
		return
	}

	if _, err := a.identity.Verify(ctx, req.MerchantID); err != nil {
		if errors.Is(err, identity.ErrNotRegistered) || errors.Is(err, identity.ErrInactive) {
			deny(d, ReasonNotRegistered, err.Error())
			return
		}
		a.fail(ctx, d, err)
		return
	}

	v, err := a.gate.Authorize(ctx, req.Agent, req.Amount)
	if err != nil {
		a.fail(ctx, d, err)
		return
	}
	if !v.Allowed {
		deny(d, Reason(v.Reason), limitDetail(v, req.Amount))
		d.Scope = v.Scope
		return
	}
	if ctx.Err() != nil {
		a.release(ctx, req, v)
		deny(d, ReasonTimeout, ctx.Err().Error())
		return
	}

	if req.TargetURL != "" && a.guard != nil {
		if err := a.guard.Validate(ctx, req.TargetURL); err != nil {
			a.release(ctx, req, v)
			if ctx.Err() != nil {
				deny(d, ReasonTimeout, err.Error())
				return
			}
			deny(d, ReasonSsrfBlocked, err.Error())
			return
		}
	}

	d.Outcome = OutcomeAllow
}

// fail maps a component error to a denial. Deadline and cancellation win
// over whatever the component wrapped them in.
func (a *Authorizer) fail(ctx context.Context, d *Decision, err error) {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		deny(d, ReasonTimeout, err.Error())
	case errors.Is(err, chain.ErrUpstreamChain):
		deny(d, ReasonUpstreamChainError, err.Error())
	default:
		deny(d, ReasonInternal, err.Error())
	}
}

func (a *Authorizer) release(ctx context.Context, req Request, v policy.Verdict) {
	// the reservation must be returned even if ctx has already expired
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := a.gate.Release(rctx, req.Agent, v, req.Amount); err != nil {
		a.log.Error("release reservation", zap.String("agent", req.Agent.Hex()), zap.Error(err))
	}
}

func (a *Authorizer) emit(ctx context.Context, d Decision) {
	metrics.Decisions.WithLabelValues(string(d.Outcome), string(d.Reason)).Inc()

	fields := []zap.Field{
		zap.String("decision_id", d.ID),
		zap.String("merchant_id", d.MerchantID),
		zap.String("agent", d.Agent.Hex()),
		zap.String("amount", d.AmountString()),
		zap.String("outcome", string(d.Outcome)),
	}
	if d.Allowed() {
		a.log.Info("authorization decision", fields...)
	} else {
		fields = append(fields, zap.String("reason", string(d.Reason)), zap.String("detail", d.Detail))
		a.log.Warn("authorization decision", fields...)
	}

	if a.sink == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := a.sink.Write(sctx, d); err != nil {
		a.log.Error("decision sink", zap.String("decision_id", d.ID), zap.Error(err))
	}
}

func deny(d *Decision, r Reason, detail string) {
	d.Outcome = OutcomeDeny
	d.Reason = r
	d.Detail = detail
}

func limitDetail(v policy.Verdict, amount *big.Int) string {
	if v.Reason != policy.ReasonLimitExceeded {
		return ""
	}
	switch v.Scope {
	case policy.ScopePerTransaction:
		return fmt.Sprintf("amount %s exceeds per-transaction limit %s", amount, v.Policy.MaxPerTransaction)
	case policy.ScopeDaily:
		return fmt.Sprintf("amount %s exceeds daily headroom: spent %s of %s on %s", amount, v.SpentToday, v.Policy.DailySpendLimit, v.Day)
	}
	return ""
}
