package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/chain"
)

type stubReader struct {
	chain.Reader
	merchants map[string]chain.Merchant
	err       error
	calls     int
}

func (s *stubReader) GetMerchant(_ context.Context, id string) (chain.Merchant, error) {
	s.calls++
	if s.err != nil {
		return chain.Merchant{}, s.err
	}
	m := s.merchants[id]
	m.ID = id
	return m, nil
}

var wallet = common.HexToAddress("0x00000000000000000000000000000000000000b1")

func TestVerify_Active(t *testing.T) {
	r := &stubReader{merchants: map[string]chain.Merchant{
		"weather": {Wallet: wallet, IsActive: true, MetadataURI: "ipfs://w"},
	}}
	m, err := NewVerifier(r, zap.NewNop()).Verify(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, wallet, m.Wallet)
	assert.Equal(t, "ipfs://w", m.MetadataURI)
}

func TestVerify_ZeroWalletNotRegistered(t *testing.T) {
	r := &stubReader{merchants: map[string]chain.Merchant{}}
	_, err := NewVerifier(r, zap.NewNop()).Verify(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestVerify_Inactive(t *testing.T) {
	r := &stubReader{merchants: map[string]chain.Merchant{
		"paused": {Wallet: wallet, IsActive: false},
	}}
	_, err := NewVerifier(r, zap.NewNop()).Verify(context.Background(), "paused")
	assert.ErrorIs(t, err, ErrInactive)
	assert.NotErrorIs(t, err, ErrNotRegistered)
}

func TestVerify_ChainFailureSurfaces(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	r := &stubReader{err: &chain.UpstreamError{Op: "getMerchant", Attempts: 3, Err: cause}}
	_, err := NewVerifier(r, zap.NewNop()).Verify(context.Background(), "weather")
	assert.ErrorIs(t, err, chain.ErrUpstreamChain)
	assert.ErrorIs(t, err, cause)
}

func TestVerify_NoCaching(t *testing.T) {
	r := &stubReader{merchants: map[string]chain.Merchant{
		"weather": {Wallet: wallet, IsActive: true},
	}}
	v := NewVerifier(r, zap.NewNop())
	_, err := v.Verify(context.Background(), "weather")
	require.NoError(t, err)

	r.merchants["weather"] = chain.Merchant{}
	_, err = v.Verify(context.Background(), "weather")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Equal(t, 2, r.calls)
}
