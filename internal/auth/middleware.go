package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	HeaderAgent     = "X-Agent-Address"
	HeaderIntent    = "X-Signed-Intent"
	HeaderSignature = "X-Agent-Signature"

	ctxAgent  = "agent_address"
	ctxIntent = "intent"

	nonceKeyPrefix  = "paygate:nonce:"
	maxFutureWindow = 5 * time.Minute
)

// Middleware authenticates the calling agent from its signed intent. It
// checks expiry, recovers the EIP-191 signer and burns the nonce in Redis
// so a captured request cannot be replayed.
func Middleware(rdb *redis.Client, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentHdr := c.GetHeader(HeaderAgent)
		intentB64 := c.GetHeader(HeaderIntent)
		sigHex := c.GetHeader(HeaderSignature)

		if agentHdr == "" || intentB64 == "" || sigHex == "" {
			unauthorized(c, "missing auth headers")
			return
		}
		if !common.IsHexAddress(agentHdr) {
			unauthorized(c, "invalid "+HeaderAgent)
			return
		}

		msg, err := base64.StdEncoding.DecodeString(intentB64)
		if err != nil {
			unauthorized(c, "invalid "+HeaderIntent+" encoding")
			return
		}
		var in Intent
		if err := json.Unmarshal(msg, &in); err != nil {
			unauthorized(c, "invalid signed intent JSON")
			return
		}
		if in.Nonce == "" {
			unauthorized(c, "missing nonce")
			return
		}

		now := time.Now().Unix()
		if in.ExpiresAt <= now {
			unauthorized(c, "request expired")
			return
		}
		if in.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			unauthorized(c, "expires_at too far in future")
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			unauthorized(c, "invalid signature hex")
			return
		}
		agent := common.HexToAddress(agentHdr)
		recovered, err := RecoverSigner(msg, sig)
		if err != nil || recovered != agent {
			unauthorized(c, "invalid signature")
			return
		}

		key := nonceKeyPrefix + strings.ToLower(agent.Hex()) + ":" + in.Nonce
		ttl := time.Duration(in.ExpiresAt-now) * time.Second
		fresh, err := rdb.SetNX(c.Request.Context(), key, 1, ttl).Result()
		if err != nil {
			log.Error("auth: nonce store", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !fresh {
			unauthorized(c, "nonce already used")
			return
		}

		c.Set(ctxAgent, agent)
		c.Set(ctxIntent, in)
		c.Next()
	}
}

// AgentFrom returns the authenticated agent stored by Middleware.
func AgentFrom(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(ctxAgent)
	if !ok {
		return common.Address{}, false
	}
	a, ok := v.(common.Address)
	return a, ok
}

// IntentFrom returns the verified intent stored by Middleware.
func IntentFrom(c *gin.Context) (Intent, bool) {
	v, ok := c.Get(ctxIntent)
	if !ok {
		return Intent{}, false
	}
	in, ok := v.(Intent)
	return in, ok
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
