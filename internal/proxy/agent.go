package proxy

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/agent-paygate/internal/auth"
	"github.com/0gfoundation/agent-paygate/internal/authorize"
)

// withAgent lets a request through only when the :agent path parameter is
// the authenticated agent.
func (h *Handler) withAgent(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		param := c.Param("agent")
		if !common.IsHexAddress(param) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid agent address"})
			return
		}
		agent, ok := auth.AgentFrom(c)
		if !ok || agent != common.HexToAddress(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		next(c)
	}
}

// stripAuthHeaders removes the agent's credentials so the merchant never
// sees a replayable signature.
func stripAuthHeaders(h http.Header) {
	h.Del(auth.HeaderAgent)
	h.Del(auth.HeaderIntent)
	h.Del(auth.HeaderSignature)
}

// StatusFor maps a denial reason to the HTTP status returned to the agent.
func StatusFor(r authorize.Reason) int {
	switch r {
	case authorize.ReasonNotRegistered, authorize.ReasonPolicyFrozen,
		authorize.ReasonPolicyTampered, authorize.ReasonSsrfBlocked:
		return http.StatusForbidden
	case authorize.ReasonLimitExceeded:
		return http.StatusPaymentRequired
	case authorize.ReasonUpstreamChainError:
		return http.StatusBadGateway
	case authorize.ReasonTimeout:
		return http.StatusGatewayTimeout
	case authorize.ReasonInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
