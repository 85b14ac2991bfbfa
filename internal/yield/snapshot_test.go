package yield

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	agentA = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	agentB = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	vaultV = common.HexToAddress("0x00000000000000000000000000000000000000C3")
)

func snap(ts int64, shares, underlying int64) Snapshot {
	return Snapshot{
		Agent:      agentA,
		Vault:      vaultV,
		Native:     big.NewInt(1),
		Stable:     big.NewInt(2),
		Shares:     big.NewInt(shares),
		Underlying: big.NewInt(underlying),
		Timestamp:  ts,
	}
}

func TestDelta_ExactSubtraction(t *testing.T) {
	d, err := Delta(snap(100, 1000, 1050), snap(160, 900, 1000))
	require.NoError(t, err)
	assert.Equal(t, "-50", d.DeltaUnderlying.String())
	assert.Equal(t, "-100", d.DeltaShares.String())
	assert.Equal(t, int64(60), d.DeltaTimeSec)
}

func TestDelta_BeyondFloatRange(t *testing.T) {
	from, to := snap(1, 0, 0), snap(2, 0, 0)
	from.Underlying, _ = new(big.Int).SetString("9007199254740993000000000001", 10)
	to.Underlying, _ = new(big.Int).SetString("9007199254740993000000000004", 10)

	d, err := Delta(from, to)
	require.NoError(t, err)
	assert.Equal(t, "3", d.DeltaUnderlying.String())
}

func TestDelta_RejectsNonIncreasingTimestamps(t *testing.T) {
	for _, tc := range []struct{ from, to int64 }{{100, 100}, {100, 99}, {100, 0}} {
		_, err := Delta(snap(tc.from, 1, 1), snap(tc.to, 1, 1))
		assert.ErrorIs(t, err, ErrInvalidSnapshotOrder, "from=%d to=%d", tc.from, tc.to)
	}
}

func TestDelta_RejectsDifferentKeys(t *testing.T) {
	other := snap(200, 1, 1)
	other.Agent = agentB
	_, err := Delta(snap(100, 1, 1), other)
	assert.ErrorIs(t, err, ErrInvalidSnapshotOrder)
}

func TestKey_CaseInsensitive(t *testing.T) {
	assert.Equal(t,
		"0x00000000000000000000000000000000000000a1:0x00000000000000000000000000000000000000c3",
		Key(agentA, vaultV))
}
