package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// setupPGStore spins up an ephemeral Postgres container, applies the
// embedded migrations, and returns a ready PGStore plus a cleanup func.
// Skipped in short test runs since it requires a container runtime.
func setupPGStore(t *testing.T) (*PGStore, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("ttc"),
		tcpostgres.WithUsername("ttc"),
		tcpostgres.WithPassword("ttc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn))

	pool, err := NewPool(ctx, dsn, 5, 1, 0, 0)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return NewPGStore(pool), cleanup
}

func TestPGStore_CreateClaimComplete(t *testing.T) {
	s, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()
	addr := common.HexToAddress("0xABCDEF0000000000000000000000000000000001")

	id, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 42)
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusInProgress, job.Status)

	require.NoError(t, s.Complete(ctx, id, []byte("proof"), []byte("journal")))

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, []byte("proof"), got.ProofBlob)
}

func TestPGStore_DuplicateJobRejected(t *testing.T) {
	s, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()
	addr := common.HexToAddress("0xABCDEF0000000000000000000000000000000002")

	_, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 7)
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, 7)
	assert.ErrorIs(t, err, domain.ErrDuplicateJob)
}

func TestPGStore_ClaimIsLinearizableUnderConcurrency(t *testing.T) {
	s, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		addr := common.BigToAddress(new(big.Int).SetInt64(int64(i + 1)))
		_, err := s.CreateJob(ctx, addr, domain.ChainEthereumMainnet, uint64(i))
		require.NoError(t, err)
	}

	seen := make(chan string, n)
	errs := make(chan error, n)
	workers := 5
	for w := 0; w < workers; w++ {
		go func() {
			for {
				job, err := s.ClaimNext(ctx)
				if err != nil {
					errs <- err
					return
				}
				seen <- job.ID.String()
			}
		}()
	}

	claimed := make(map[string]struct{})
	for len(claimed) < n {
		select {
		case id := <-seen:
			_, dup := claimed[id]
			assert.False(t, dup, "job %s claimed twice", id)
			claimed[id] = struct{}{}
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out with %d/%d claimed", len(claimed), n)
		}
	}
}

func TestPGStore_ReclaimStaleNotifies(t *testing.T) {
	s, cleanup := setupPGStore(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := common.HexToAddress("0xABCDEF0000000000000000000000000000000004")
	id, err := s.CreateJob(context.Background(), addr, domain.ChainEthereumMainnet, 1)
	require.NoError(t, err)
	_, err = s.ClaimNext(context.Background())
	require.NoError(t, err)

	_, err = s.pool.Exec(context.Background(),
		`UPDATE prover_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1`, id)
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	n, err := s.ReclaimStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case change := <-ch:
		assert.Equal(t, id, change.JobID)
		assert.Equal(t, domain.JobStatusPending, change.Status)
	case <-ctx.Done():
		t.Fatal("timed out waiting for reclaim notification")
	}
}

func TestPGStore_Subscribe(t *testing.T) {
	s, cleanup := setupPGStore(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	addr := common.HexToAddress("0xABCDEF0000000000000000000000000000000003")
	id, err := s.CreateJob(context.Background(), addr, domain.ChainEthereumMainnet, 1)
	require.NoError(t, err)
	_, err = s.ClaimNext(context.Background())
	require.NoError(t, err)

	select {
	case change := <-ch:
		assert.Equal(t, id, change.JobID)
		assert.Equal(t, domain.JobStatusInProgress, change.Status)
	case <-ctx.Done():
		t.Fatal("timed out waiting for notification")
	}
}
