package blockchain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/logger"
)

type stubNonces struct {
	nonce uint64
	err   error
}

func (s *stubNonces) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return s.nonce, s.err
}

func TestNonceManagerSequence(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	node := &stubNonces{nonce: 7}
	addr := common.HexToAddress("0x01")

	n, err := nm.GetNonce(context.Background(), 1135, node, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	n, err = nm.GetNonce(context.Background(), 1135, node, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)

	// chains are independent
	n, err = nm.GetNonce(context.Background(), 10, &stubNonces{nonce: 3}, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestNonceManagerRelease(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	node := &stubNonces{nonce: 5}

	n, _ := nm.GetNonce(context.Background(), 10, node, common.Address{})
	nm.ReleaseNonce(10, n)

	again, _ := nm.GetNonce(context.Background(), 10, node, common.Address{})
	assert.Equal(t, n, again)

	// releasing an older nonce is ignored
	_, _ = nm.GetNonce(context.Background(), 10, node, common.Address{})
	nm.ReleaseNonce(10, again)
	next, _ := nm.GetNonce(context.Background(), 10, node, common.Address{})
	assert.Equal(t, uint64(7), next)
}

func TestNonceManagerTrackAndSettle(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	hash := common.HexToHash("0xabc")

	nm.TrackTransaction(1135, hash, 4)
	assert.Equal(t, 1, nm.GetPendingTransactionsCount(1135))

	assert.True(t, nm.Settle(1135, hash))
	assert.False(t, nm.Settle(1135, hash))
	assert.Zero(t, nm.GetPendingTransactionsCount(1135))
}

func TestNonceManagerSync(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	node := &stubNonces{nonce: 10}
	ctx := context.Background()

	_, _ = nm.GetNonce(ctx, 1, node, common.Address{})
	_, _ = nm.GetNonce(ctx, 1, node, common.Address{})

	// nothing pending, the node's lower view wins
	node.nonce = 10
	require.NoError(t, nm.SyncWithBlockchain(ctx, 1, node, common.Address{}))
	n, _ := nm.GetNonce(ctx, 1, node, common.Address{})
	assert.Equal(t, uint64(10), n)

	nm.TrackTransaction(1, common.HexToHash("0x1"), n)
	node.nonce = 2
	require.NoError(t, nm.SyncWithBlockchain(ctx, 1, node, common.Address{}))
	n, _ = nm.GetNonce(ctx, 1, node, common.Address{})
	assert.Equal(t, uint64(11), n)

	node.err = errors.New("rpc down")
	assert.Error(t, nm.SyncWithBlockchain(ctx, 1, node, common.Address{}))
}
