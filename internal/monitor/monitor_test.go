package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/store"
	"github.com/feral-file/ttc-coordinator/internal/watcher"
)

type fakeProverClient struct {
	wakeCalls int
	wakeErr   error
}

func (f *fakeProverClient) Wake(context.Context) error {
	f.wakeCalls++
	return f.wakeErr
}
func (f *fakeProverClient) HealthCheck(context.Context) error         { return nil }
func (f *fakeProverClient) ImageIDContract(context.Context) (string, error) {
	return "bytes32 constant IMAGE_ID = 0xdead;", nil
}

func newTestMonitor() (*Monitor, store.JobStore, *fakeProverClient, chan watcher.Event) {
	jobStore := store.NewMemoryJobStore()
	prover := &fakeProverClient{}
	events := make(chan watcher.Event, 8)
	registry := NewRegistry(&fakeEthClient{}, time.Hour, events)
	return NewMonitor(registry, jobStore, prover, events), jobStore, prover, events
}

func TestMonitor_ProofRequestedCreatesJobAndWakesProver(t *testing.T) {
	m, jobStore, prover, events := newTestMonitor()
	address := common.HexToAddress("0x1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	events <- watcher.Event{Kind: watcher.KindProofRequested, Address: address, ChainID: domain.ChainEthereumMainnet, Block: 100}

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJobByKey(context.Background(), address, 100)
		return err == nil && job.Status == domain.JobStatusPending
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return prover.wakeCalls == 1 }, time.Second, time.Millisecond)
}

func TestMonitor_ProofRequestedIgnoresDuplicateJob(t *testing.T) {
	m, jobStore, prover, events := newTestMonitor()
	address := common.HexToAddress("0x1")

	_, err := jobStore.CreateJob(context.Background(), address, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	events <- watcher.Event{Kind: watcher.KindProofRequested, Address: address, ChainID: domain.ChainEthereumMainnet, Block: 100}

	require.Eventually(t, func() bool { return prover.wakeCalls == 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestMonitor_PhaseChangeEventIsIgnored(t *testing.T) {
	m, _, prover, events := newTestMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	events <- watcher.Event{Kind: watcher.KindPhaseChange, Address: common.HexToAddress("0x1"), From: domain.PhaseDeposit, To: domain.PhaseRank}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, prover.wakeCalls)
}

func TestMonitor_HandleEventWakeErrorIsSwallowed(t *testing.T) {
	m, jobStore, prover, events := newTestMonitor()
	prover.wakeErr = errors.New("prover unreachable")
	address := common.HexToAddress("0x1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	events <- watcher.Event{Kind: watcher.KindProofRequested, Address: address, ChainID: domain.ChainEthereumMainnet, Block: 5}

	require.Eventually(t, func() bool {
		_, err := jobStore.GetJobByKey(context.Background(), address, 5)
		return err == nil
	}, time.Second, time.Millisecond)
}

func TestMonitor_GetProofReturnsNotFoundForUnknownKey(t *testing.T) {
	m, _, _, _ := newTestMonitor()

	_, err := m.GetProof(context.Background(), common.HexToAddress("0x1"), 1)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMonitor_SubscribeProofReturnsImmediatelyForTerminalJob(t *testing.T) {
	m, jobStore, _, _ := newTestMonitor()
	address := common.HexToAddress("0x1")

	id, err := jobStore.CreateJob(context.Background(), address, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = jobStore.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NoError(t, jobStore.Complete(context.Background(), id, []byte("seal"), []byte("journal")))

	results, err := m.SubscribeProof(context.Background(), address, 100)
	require.NoError(t, err)

	select {
	case result, ok := <-results:
		require.True(t, ok)
		assert.Equal(t, domain.JobStatusCompleted, result.Status)
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery for terminal job")
	}

	_, ok := <-results
	assert.False(t, ok, "channel should be closed after single delivery")
}

func TestMonitor_SubscribeProofDeliversOnLaterCompletion(t *testing.T) {
	m, jobStore, _, _ := newTestMonitor()
	address := common.HexToAddress("0x1")

	id, err := jobStore.CreateJob(context.Background(), address, domain.ChainEthereumMainnet, 200)
	require.NoError(t, err)

	results, err := m.SubscribeProof(context.Background(), address, 200)
	require.NoError(t, err)

	_, err = jobStore.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NoError(t, jobStore.Complete(context.Background(), id, []byte("seal"), []byte("journal")))

	select {
	case result, ok := <-results:
		require.True(t, ok)
		assert.Equal(t, domain.JobStatusCompleted, result.Status)
	case <-time.After(time.Second):
		t.Fatal("expected delivery once job completes")
	}
}

func TestMonitor_RegisterContractRejectsUnknownChain(t *testing.T) {
	m, _, _, _ := newTestMonitor()

	_, err := m.RegisterContract(context.Background(), common.HexToAddress("0x1"), domain.Chain("eip155:999"))
	require.Error(t, err)
	var coreErr *domain.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, domain.TagInvalidInput, coreErr.Tag)
}

func TestMonitor_GetPhaseReturnsWatcherNotFound(t *testing.T) {
	m, _, _, _ := newTestMonitor()

	_, err := m.GetPhase(common.HexToAddress("0x1"))
	assert.ErrorIs(t, err, domain.ErrWatcherNotFound)
}

func TestMonitor_ImageIDContractProxiesProver(t *testing.T) {
	m, _, _, _ := newTestMonitor()

	solidity, err := m.ImageIDContract(context.Background())
	require.NoError(t, err)
	assert.Contains(t, solidity, "IMAGE_ID")
}
