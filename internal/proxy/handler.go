package proxy

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/auth"
	"github.com/0gfoundation/agent-paygate/internal/authorize"
	"github.com/0gfoundation/agent-paygate/internal/yield"
)

// Authorizer is satisfied by *authorize.Authorizer.
type Authorizer interface {
	Authorize(ctx context.Context, req authorize.Request) authorize.Decision
}

// YieldReader is satisfied by *yield.Accountant.
type YieldReader interface {
	History(ctx context.Context, agent, vault common.Address) ([]yield.Snapshot, error)
	Summary(ctx context.Context, agent, vault common.Address) (yield.YieldDelta, error)
}

// Handler serves the paid forwarding route and the yield report route.
// auth.Middleware must run before it on the group.
type Handler struct {
	authz     Authorizer
	yield     YieldReader
	vault     common.Address
	transport http.RoundTripper
	log       *zap.Logger
}

// NewHandler builds the handler. transport carries forwarded requests and
// should dial through upstream.Guard so the vetted address is the one used.
func NewHandler(authz Authorizer, yr YieldReader, vault common.Address, transport http.RoundTripper, log *zap.Logger) *Handler {
	return &Handler{authz: authz, yield: yr, vault: vault, transport: transport, log: log}
}

// Register mounts the routes. The pay route is a catch-all so agents can
// keep the merchant's path in their own URLs; only target_url is forwarded.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.Any("/pay/*path", h.handlePay)
	rg.GET("/yield/:agent", h.withAgent(h.handleYield))
}

// ── Pay ──────────────────────────────────────────────────────────────────────

func (h *Handler) handlePay(c *gin.Context) {
	agent, _ := auth.AgentFrom(c)
	in, ok := auth.IntentFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	amount, err := in.AmountInt()
	if err != nil {
		amount = nil // the authorizer turns this into InvalidRequest
	}
	d := h.authz.Authorize(c.Request.Context(), authorize.Request{
		MerchantID: in.MerchantID,
		Agent:      agent,
		Amount:     amount,
		TargetURL:  in.TargetURL,
	})
	if !d.Allowed() {
		c.AbortWithStatusJSON(StatusFor(d.Reason), gin.H{"decision": decisionView(d)})
		return
	}
	if in.TargetURL == "" {
		c.JSON(http.StatusOK, gin.H{"decision": decisionView(d)})
		return
	}

	target, err := url.Parse(in.TargetURL)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid target_url"})
		return
	}
	c.Writer.Header().Set("X-Decision-Id", d.ID)
	h.forward(c, target, d)
}

func (h *Handler) forward(c *gin.Context, target *url.URL, d authorize.Decision) {
	rp := &httputil.ReverseProxy{
		Transport: h.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = cloneURL(target)
			pr.Out.Host = target.Host
			stripAuthHeaders(pr.Out.Header)
			pr.Out.Header.Set("X-Decision-Id", d.ID)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.log.Warn("forward failed",
				zap.String("decision_id", d.ID),
				zap.String("target", target.Redacted()),
				zap.Error(err),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(safeWriter{c.Writer}, c.Request)
}

// ── Yield ────────────────────────────────────────────────────────────────────

func (h *Handler) handleYield(c *gin.Context) {
	agent := common.HexToAddress(c.Param("agent"))
	ctx := c.Request.Context()

	history, err := h.yield.History(ctx, agent, h.vault)
	if err != nil {
		h.log.Error("yield history", zap.String("agent", agent.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	resp := gin.H{
		"agent":     agent.Hex(),
		"vault":     h.vault.Hex(),
		"snapshots": snapshotViews(history),
		"summary":   nil,
	}
	summary, err := h.yield.Summary(ctx, agent, h.vault)
	switch {
	case err == nil:
		resp["summary"] = deltaView(summary)
	case errors.Is(err, yield.ErrInsufficientHistory):
	default:
		h.log.Error("yield summary", zap.String("agent", agent.Hex()), zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}

// ── Views ────────────────────────────────────────────────────────────────────

func decisionView(d authorize.Decision) gin.H {
	return gin.H{
		"id":          d.ID,
		"merchant_id": d.MerchantID,
		"agent":       d.Agent.Hex(),
		"amount":      d.AmountString(),
		"outcome":     d.Outcome,
		"reason":      d.Reason,
		"scope":       d.Scope,
		"detail":      d.Detail,
		"timestamp":   d.Timestamp.Unix(),
	}
}

func snapshotViews(history []yield.Snapshot) []gin.H {
	out := make([]gin.H, 0, len(history))
	for _, s := range history {
		out = append(out, gin.H{
			"native":     optionalDecimal(s.Native),
			"stable":     optionalDecimal(s.Stable),
			"shares":     decimal(s.Shares),
			"underlying": decimal(s.Underlying),
			"timestamp":  s.Timestamp,
		})
	}
	return out
}

func deltaView(d yield.YieldDelta) gin.H {
	return gin.H{
		"from":             d.From.Timestamp,
		"to":               d.To.Timestamp,
		"delta_underlying": decimal(d.DeltaUnderlying),
		"delta_shares":     decimal(d.DeltaShares),
		"delta_time_sec":   d.DeltaTimeSec,
	}
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// optionalDecimal renders an amount that may not have been captured as null.
func optionalDecimal(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

// safeWriter wraps gin.ResponseWriter and overrides CloseNotify so that the
// reverse proxy never triggers a type-assertion on the underlying writer.
// gin.ResponseWriter implements the deprecated http.CloseNotifier, but the
// concrete writer in tests (*httptest.ResponseRecorder) does not.
//
//nolint:staticcheck
type safeWriter struct{ gin.ResponseWriter }

//nolint:staticcheck
func (s safeWriter) CloseNotify() <-chan bool { return make(chan bool, 1) }
