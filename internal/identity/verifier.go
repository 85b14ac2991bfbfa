package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/chain"
)

var (
	// ErrNotRegistered means the registry holds the zero wallet for the id.
	ErrNotRegistered = errors.New("merchant not registered")
	// ErrInactive means the merchant exists but its isActive flag is off.
	ErrInactive = errors.New("merchant inactive")
)

// Verifier resolves merchant ids against the registry on every call.
// Nothing is cached, so a deregistration takes effect on the next request.
type Verifier struct {
	reader chain.Reader
	log    *zap.Logger
}

func NewVerifier(reader chain.Reader, log *zap.Logger) *Verifier {
	return &Verifier{reader: reader, log: log}
}

func (v *Verifier) Verify(ctx context.Context, merchantID string) (chain.Merchant, error) {
	m, err := v.reader.GetMerchant(ctx, merchantID)
	if err != nil {
		return chain.Merchant{}, fmt.Errorf("verify merchant %q: %w", merchantID, err)
	}
	if !m.Registered() {
		return m, fmt.Errorf("%w: %s", ErrNotRegistered, merchantID)
	}
	if !m.IsActive {
		return m, fmt.Errorf("%w: %s", ErrInactive, merchantID)
	}
	v.log.Debug("merchant verified",
		zap.String("merchant_id", merchantID),
		zap.String("wallet", m.Wallet.Hex()),
	)
	return m, nil
}
