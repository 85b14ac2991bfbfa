package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0gfoundation/agent-paygate/internal/chain"
	"github.com/0gfoundation/agent-paygate/internal/metrics"
	"github.com/0gfoundation/agent-paygate/internal/yield"
)

// Recorder receives snapshots. *yield.Accountant satisfies it.
type Recorder interface {
	Record(ctx context.Context, snap yield.Snapshot) error
}

// Watcher reads wallet and vault balances for one stable token and one
// ERC-4626 vault.
type Watcher struct {
	reader      chain.Reader
	stableToken common.Address
	vault       common.Address
	now         func() time.Time
	log         *zap.Logger
}

func NewWatcher(reader chain.Reader, stableToken, vault common.Address, log *zap.Logger) *Watcher {
	return &Watcher{reader: reader, stableToken: stableToken, vault: vault, now: time.Now, log: log}
}

// Underlying converts shares to asset units at rate (assets per
// chain.RateScale shares), rounding down.
func Underlying(shares, rate *big.Int) *big.Int {
	v := new(big.Int).Mul(shares, rate)
	return v.Quo(v, chain.RateScale)
}

// Snapshot reads the four balances concurrently; the first failure cancels
// the rest. The timestamp is taken once all reads are back.
func (w *Watcher) Snapshot(ctx context.Context, agent common.Address) (yield.Snapshot, error) {
	var native, stable, shares, rate *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		native, err = w.reader.NativeBalance(gctx, agent)
		return err
	})
	g.Go(func() (err error) {
		stable, err = w.reader.TokenBalance(gctx, w.stableToken, agent)
		return err
	})
	g.Go(func() (err error) {
		shares, err = w.reader.VaultShares(gctx, w.vault, agent)
		return err
	})
	g.Go(func() (err error) {
		rate, err = w.reader.VaultExchangeRate(gctx, w.vault)
		return err
	})
	if err := g.Wait(); err != nil {
		return yield.Snapshot{}, fmt.Errorf("snapshot %s: %w", agent.Hex(), err)
	}

	return yield.Snapshot{
		Agent:      agent,
		Vault:      w.vault,
		Native:     native,
		Stable:     stable,
		Shares:     shares,
		Underlying: Underlying(shares, rate),
		Timestamp:  w.now().Unix(),
	}, nil
}

// Run snapshots every address on each tick and hands the results to rec.
// Failures are logged and counted; the loop only stops when ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, addrs []common.Address, rec Recorder) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("wallet watcher started",
		zap.Duration("interval", interval),
		zap.Int("addresses", len(addrs)),
		zap.String("vault", w.vault.Hex()),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("wallet watcher stopped")
			return
		case <-ticker.C:
			w.tick(ctx, addrs, rec)
		}
	}
}

func (w *Watcher) tick(ctx context.Context, addrs []common.Address, rec Recorder) {
	for _, addr := range addrs {
		if ctx.Err() != nil {
			return
		}
		snap, err := w.Snapshot(ctx, addr)
		if err != nil {
			metrics.YieldSnapshots.WithLabelValues("read_error").Inc()
			w.log.Error("watcher: snapshot", zap.String("agent", addr.Hex()), zap.Error(err))
			continue
		}
		err = rec.Record(ctx, snap)
		switch {
		case err == nil:
			metrics.YieldSnapshots.WithLabelValues("recorded").Inc()
		case errors.Is(err, yield.ErrInvalidSnapshotOrder):
			metrics.YieldSnapshots.WithLabelValues("skipped").Inc()
			w.log.Debug("watcher: snapshot not newer than last stored", zap.String("agent", addr.Hex()), zap.Error(err))
		default:
			metrics.YieldSnapshots.WithLabelValues("store_error").Inc()
			w.log.Error("watcher: record", zap.String("agent", addr.Hex()), zap.Error(err))
		}
	}
}
