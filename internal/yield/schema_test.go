package yield

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_RoundTripPreservesLargeIntegers(t *testing.T) {
	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	s := snap(1_700_000_000, 0, 0)
	s.Native = new(big.Int).Lsh(big.NewInt(1), 53)
	s.Native.Add(s.Native, big.NewInt(1))
	s.Stable = big.NewInt(0)
	s.Shares = huge
	s.Underlying, _ = new(big.Int).SetString("123456789012345678901234567890123456789", 10)

	b, err := EncodeHistory([]Snapshot{s})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"version":1`)
	assert.Contains(t, string(b), `"native":"9007199254740993"`)

	got, err := DecodeHistory(b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.Agent, got[0].Agent)
	assert.Equal(t, s.Vault, got[0].Vault)
	assert.Equal(t, 0, s.Native.Cmp(got[0].Native))
	assert.Equal(t, 0, s.Stable.Cmp(got[0].Stable))
	assert.Equal(t, 0, s.Shares.Cmp(got[0].Shares))
	assert.Equal(t, 0, s.Underlying.Cmp(got[0].Underlying))
	assert.Equal(t, s.Timestamp, got[0].Timestamp)
}

func TestHistory_WalletBalancesOptional(t *testing.T) {
	s := snap(1_700_000_000, 10, 11)
	s.Native, s.Stable = nil, nil

	b, err := EncodeHistory([]Snapshot{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"native"`)
	assert.NotContains(t, string(b), `"stable"`)

	got, err := DecodeHistory(b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Native)
	assert.Nil(t, got[0].Stable)
	assert.Equal(t, "11", got[0].Underlying.String())

	// Records with and without wallet balances decode side by side.
	full := snap(1_700_000_060, 10, 12)
	b, err = EncodeHistory([]Snapshot{s, full})
	require.NoError(t, err)
	got, err = DecodeHistory(b)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[1].Native.String())
}

func TestAmount_RejectsJSONNumber(t *testing.T) {
	var a Amount
	assert.Error(t, json.Unmarshal([]byte(`12345`), &a))
	assert.Error(t, json.Unmarshal([]byte(`1.5e30`), &a))
	assert.Error(t, json.Unmarshal([]byte(`"12.5"`), &a))
	require.NoError(t, json.Unmarshal([]byte(`"-12"`), &a))
	assert.Equal(t, "-12", a.Int().String())
}

func TestDecodeHistory_Failures(t *testing.T) {
	good, err := EncodeHistory([]Snapshot{snap(1, 1, 1)})
	require.NoError(t, err)

	cases := map[string]string{
		"not json":       `{{{`,
		"numeric amount": strings.Replace(string(good), `"shares":"1"`, `"shares":1`, 1),
		"future version": strings.Replace(string(good), `"version":1`, `"version":2`, 1),
		"missing amount": strings.Replace(string(good), `"shares":"1",`, ``, 1),
		"bad address":    strings.Replace(string(good), agentA.Hex(), "0xnope", 1),
	}
	for name, doc := range cases {
		_, err := DecodeHistory([]byte(doc))
		assert.ErrorIs(t, err, ErrSerialization, name)
	}
}
