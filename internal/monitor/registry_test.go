package monitor

import (
	"context"
	"math/big"
	"testing"
	"time"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/watcher"
)

// fakeEthClient is a hand-written stand-in for adapter.EthClient. Register
// never calls the chain itself (only the ticker-driven Poll does), so
// every method here is unused in these tests and exists only to satisfy
// the interface.
type fakeEthClient struct{}

func (f *fakeEthClient) SubscribeFilterLogs(context.Context, gethereum.FilterQuery, chan<- types.Log) (gethereum.Subscription, error) {
	return nil, nil
}
func (f *fakeEthClient) FilterLogs(context.Context, gethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeEthClient) BlockByNumber(context.Context, *big.Int) (*types.Block, error) { return nil, nil }
func (f *fakeEthClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, nil
}
func (f *fakeEthClient) CallContract(context.Context, gethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeEthClient) Close() {}

func TestRegistry_RegisterSpawnsWatcherAtDeposit(t *testing.T) {
	events := make(chan watcher.Event, 8)
	registry := NewRegistry(&fakeEthClient{}, time.Hour, events)

	phase, err := registry.Register(context.Background(), common.HexToAddress("0x1"), domain.ChainEthereumMainnet)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDeposit, phase)

	w, ok := registry.Get(common.HexToAddress("0x1"))
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDeposit, w.Phase())

	registry.Stop()
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	events := make(chan watcher.Event, 8)
	registry := NewRegistry(&fakeEthClient{}, time.Hour, events)
	address := common.HexToAddress("0x1")

	_, err := registry.Register(context.Background(), address, domain.ChainEthereumMainnet)
	require.NoError(t, err)

	phase, err := registry.Register(context.Background(), address, domain.ChainEthereumMainnet)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDeposit, phase)

	registry.Stop()
}

func TestRegistry_GetUnknownContractReturnsFalse(t *testing.T) {
	registry := NewRegistry(&fakeEthClient{}, time.Hour, make(chan watcher.Event, 1))

	_, ok := registry.Get(common.HexToAddress("0x1"))
	assert.False(t, ok)
}
