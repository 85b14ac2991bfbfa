package main

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/yield"
)

var (
	agent = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newAccountant(t *testing.T) *yield.Accountant {
	t.Helper()
	store := yield.NewFileHistoryStore(filepath.Join(t.TempDir(), "history.json"), zap.NewNop())
	return yield.NewAccountant(store, 10, zap.NewNop())
}

func snap(ts int64, shares, underlying int64) yield.Snapshot {
	return yield.Snapshot{
		Agent: agent, Vault: vault,
		Native: big.NewInt(1), Stable: big.NewInt(2),
		Shares: big.NewInt(shares), Underlying: big.NewInt(underlying),
		Timestamp: ts,
	}
}

func TestReport_WithSummary(t *testing.T) {
	acc := newAccountant(t)
	ctx := context.Background()
	require.NoError(t, acc.Record(ctx, snap(1_700_000_000, 100, 1000)))
	require.NoError(t, acc.Record(ctx, snap(1_700_003_600, 100, 1042)))

	var out bytes.Buffer
	require.NoError(t, report(ctx, &out, acc, agent, vault))

	s := out.String()
	assert.Contains(t, s, "snapshots: 2")
	assert.Contains(t, s, "2023-11-14T22:13:20Z")
	assert.Contains(t, s, "underlying +42, shares +0 over 1h0m0s")
}

func TestReport_MissingWalletBalances(t *testing.T) {
	acc := newAccountant(t)
	ctx := context.Background()
	s := snap(1_700_000_000, 100, 1000)
	s.Native, s.Stable = nil, nil
	require.NoError(t, acc.Record(ctx, s))

	var out bytes.Buffer
	require.NoError(t, report(ctx, &out, acc, agent, vault))
	assert.NotContains(t, out.String(), "<nil>")
	assert.Contains(t, out.String(), "-  ")
}

func TestReport_InsufficientHistory(t *testing.T) {
	acc := newAccountant(t)
	ctx := context.Background()
	require.NoError(t, acc.Record(ctx, snap(1_700_000_000, 100, 1000)))

	var out bytes.Buffer
	require.NoError(t, report(ctx, &out, acc, agent, vault))
	assert.Contains(t, out.String(), "snapshots: 1")
	assert.Contains(t, out.String(), "summary: not enough snapshots")
}
