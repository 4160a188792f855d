package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// fakeClock is a manually-advanced adapter.Clock, letting ReclaimStale's
// cutoff logic be tested without racing a real sleep.
type fakeClock struct {
	now time.Time
}

var _ adapter.Clock = (*fakeClock)(nil)

func (c *fakeClock) Now() time.Time                                { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration               { return c.now.Sub(t) }
func (c *fakeClock) Sleep(time.Duration)                           {}
func (c *fakeClock) Parse(layout, value string) (time.Time, error) { return time.Parse(layout, value) }
func (c *fakeClock) Unix(sec, nsec int64) time.Time                { return time.Unix(sec, nsec) }
func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestMemoryJobStore_CreateAndClaim(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusInProgress, job.Status)

	_, err = s.ClaimNext(ctx)
	assert.ErrorIs(t, err, domain.ErrNoJobAvailable)
}

func TestMemoryJobStore_DuplicateJobRejected(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	_, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	assert.ErrorIs(t, err, domain.ErrDuplicateJob)
}

func TestMemoryJobStore_DuplicateAllowedAfterTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, id, []byte("proof"), []byte("journal")))

	_, err = s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	assert.NoError(t, err)
}

func TestMemoryJobStore_CompleteRequiresInProgress(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)

	err = s.Complete(ctx, id, nil, nil)
	assert.ErrorIs(t, err, domain.ErrNotInProgress)
}

func TestMemoryJobStore_FailRecordsError(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Fail(ctx, id, errors.New("guest rejected preferences")))

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "guest rejected preferences", job.ErrorText)
}

func TestMemoryJobStore_Subscribe(t *testing.T) {
	s := NewMemoryJobStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	addr := common.HexToAddress("0x1")
	id, err := s.CreateJob(context.Background(), addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = s.ClaimNext(context.Background())
	require.NoError(t, err)

	select {
	case change := <-ch:
		assert.Equal(t, id, change.JobID)
		assert.Equal(t, domain.JobStatusInProgress, change.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status change")
	}
}

func TestMemoryJobStore_ReclaimStale(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)

	s.jobs[id].UpdatedAt = time.Now().Add(-time.Hour)

	n, err := s.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestMemoryJobStore_ReclaimStaleNotifiesSubscribers(t *testing.T) {
	s := NewMemoryJobStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(context.Background(), addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = s.ClaimNext(context.Background())
	require.NoError(t, err)

	s.jobs[id].UpdatedAt = time.Now().Add(-time.Hour)

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	n, err := s.ReclaimStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case change := <-ch:
		assert.Equal(t, id, change.JobID)
		assert.Equal(t, domain.JobStatusPending, change.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reclaim notification")
	}
}

func TestMemoryJobStore_ReclaimStaleUsesInjectedClock(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewMemoryJobStoreWithClock(clock)
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)

	n, err := s.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "job just claimed is not yet stale")

	clock.now = clock.now.Add(time.Hour)

	n, err = s.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.True(t, job.UpdatedAt.Equal(clock.now), "reclaim should stamp UpdatedAt from the injected clock")
}

func TestMemoryJobStore_GetJobByKeyReturnsLatest(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	addr := common.HexToAddress("0x1")

	first, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, first, nil, nil))

	second, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)

	got, err := s.GetJobByKey(ctx, addr, 100)
	require.NoError(t, err)
	assert.Equal(t, second, got.ID)
}
