package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/audit"
	"github.com/0gfoundation/agent-paygate/internal/auth"
	"github.com/0gfoundation/agent-paygate/internal/authorize"
	"github.com/0gfoundation/agent-paygate/internal/chain"
	"github.com/0gfoundation/agent-paygate/internal/config"
	"github.com/0gfoundation/agent-paygate/internal/identity"
	"github.com/0gfoundation/agent-paygate/internal/policy"
	"github.com/0gfoundation/agent-paygate/internal/proxy"
	"github.com/0gfoundation/agent-paygate/internal/upstream"
	"github.com/0gfoundation/agent-paygate/internal/vault"
	"github.com/0gfoundation/agent-paygate/internal/yield"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	if err := godotenv.Load(); err == nil {
		log.Info("loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chain reader (read-only, retried) ─────────────────────────────────────
	client, eth, err := chain.Dial(cfg)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	defer eth.Close()
	reader := chain.NewResilient(client, retryPolicy(cfg), log)

	// ── Authorization pipeline ────────────────────────────────────────────────
	var gateOpts []policy.Option
	if cfg.Policy.VerifyHash {
		gateOpts = append(gateOpts, policy.WithHashVerifier(policy.KeccakHashVerifier{}))
	}
	gate := policy.NewGate(reader, policy.NewRedisSpendStore(rdb), log, gateOpts...)
	guard := upstream.NewGuard(cfg.Upstream.RequireHTTPS, cfg.Upstream.DNSTimeout(), nil, log)

	sink, closeSink, err := newSink(ctx, cfg, log)
	if err != nil {
		log.Fatal("audit sink init failed", zap.Error(err))
	}
	defer closeSink()

	authz := authorize.New(
		identity.NewVerifier(reader, log),
		gate,
		guard,
		log,
		authorize.WithTimeout(cfg.Policy.RequestTimeout()),
		authorize.WithSink(sink),
	)

	// ── Yield accounting ──────────────────────────────────────────────────────
	accountant := yield.NewAccountant(newHistoryStore(cfg, rdb, log), cfg.Yield.HistoryLimit, log)
	vaultAddr := common.HexToAddress(cfg.Yield.Vault)
	if cfg.Yield.Enabled() {
		addrs, err := watchList(cfg.Yield.Addresses())
		if err != nil {
			log.Fatal("invalid YIELD_WATCH_ADDRESSES", zap.Error(err))
		}
		w := vault.NewWatcher(reader, common.HexToAddress(cfg.Yield.StableToken), vaultAddr, log)
		interval := time.Duration(cfg.Yield.PollIntervalSec) * time.Second
		go w.Run(ctx, interval, addrs, accountant)
	} else {
		log.Info("yield watcher disabled: vault, stable token or watch list not configured")
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := proxy.NewHandler(authz, accountant, vaultAddr, forwardTransport(guard), log)
	r := newRouter(rdb, handler, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newRouter(rdb *redis.Client, handler *proxy.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "redis unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", auth.Middleware(rdb, log))
	handler.Register(api)
	return r
}

func retryPolicy(cfg *config.Config) chain.RetryPolicy {
	return chain.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		Jitter:      cfg.Retry.Jitter(),
	}
}

// forwardTransport dials every forwarded request through the guard, so the
// connection goes to an address that passed the same checks as the URL.
func forwardTransport(guard *upstream.Guard) *http.Transport {
	return &http.Transport{
		DialContext:           guard.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func newHistoryStore(cfg *config.Config, rdb *redis.Client, log *zap.Logger) yield.HistoryStore {
	if cfg.Yield.Store == "file" {
		return yield.NewFileHistoryStore(cfg.Yield.HistoryFile, log)
	}
	return yield.NewRedisHistoryStore(rdb, log)
}

// newSink returns a Postgres sink when AUDIT_DATABASE_URL is set and a no-op
// sink otherwise. The returned func releases the pool.
func newSink(ctx context.Context, cfg *config.Config, log *zap.Logger) (authorize.Sink, func(), error) {
	if cfg.Audit.DatabaseURL == "" {
		log.Info("audit sink disabled: AUDIT_DATABASE_URL not set")
		return audit.NopSink{}, func() {}, nil
	}
	pool, err := audit.Connect(ctx, cfg.Audit.DatabaseURL, log)
	if err != nil {
		return nil, nil, err
	}
	sink := audit.NewPostgresSink(pool)
	if err := sink.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return sink, pool.Close, nil
}

// watchList parses the configured watch addresses, rejecting malformed ones
// and dropping duplicates.
func watchList(raw []string) ([]common.Address, error) {
	seen := make(map[common.Address]bool, len(raw))
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("not an address: %q", s)
		}
		a := common.HexToAddress(s)
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}
