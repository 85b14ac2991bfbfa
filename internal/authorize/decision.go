package authorize

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Outcome string

const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeDeny  Outcome = "DENY"
)

// Reason is the machine-readable cause of a denial. Agents branch on it,
// e.g. waiting for the UTC day to roll over after LimitExceeded.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotRegistered      Reason = "NotRegistered"
	ReasonPolicyFrozen       Reason = "PolicyFrozen"
	ReasonLimitExceeded      Reason = "LimitExceeded"
	ReasonSsrfBlocked        Reason = "SsrfBlocked"
	ReasonUpstreamChainError Reason = "UpstreamChainError"
	ReasonTimeout            Reason = "Timeout"
	ReasonPolicyTampered     Reason = "PolicyTampered"
	ReasonInvalidRequest     Reason = "InvalidRequest"
	ReasonInternal           Reason = "InternalError"
)

// Request is one inbound payment authorization.
type Request struct {
	MerchantID string
	Agent      common.Address
	Amount     *big.Int
	TargetURL  string
}

// Decision is produced once per request and never mutated afterwards.
type Decision struct {
	ID         string         `json:"id"`
	MerchantID string         `json:"merchant_id"`
	Agent      common.Address `json:"agent"`
	Amount     *big.Int       `json:"-"`
	Outcome    Outcome        `json:"outcome"`
	Reason     Reason         `json:"reason,omitempty"`
	Scope      string         `json:"scope,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// AmountString renders Amount in decimal, or "" if unset.
func (d Decision) AmountString() string {
	if d.Amount == nil {
		return ""
	}
	return d.Amount.String()
}
