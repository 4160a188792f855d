package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/logger"
	"github.com/feral-file/ttc-coordinator/internal/store"
	"github.com/feral-file/ttc-coordinator/internal/ttc"
)

// chainReadTimeout bounds a single preference-read attempt, per spec.md
// §5's "worker's chain-read step has a 30-second timeout with retry".
const chainReadTimeout = 30 * time.Second

// chainReadMaxAttempts caps the retry budget for a transient chain-node
// failure before the job is recorded Failed, per spec.md §4.3.
const chainReadMaxAttempts = 3

// WorkerConfig tunes the worker's fallback polling cadence.
type WorkerConfig struct {
	// PollInterval is the local timer fallback used when no external wake
	// arrives, per spec.md §4.3 step 1.
	PollInterval time.Duration

	// StaleThreshold is how long a job may sit InProgress with no update
	// before ReclaimStale returns it to Pending. This is the sole crash
	// recovery mechanism per spec.md §9 — no heartbeats are required,
	// since a crashed worker leaves its claimed row's updated_at frozen.
	StaleThreshold time.Duration

	// ReclaimInterval is how often the worker calls ReclaimStale in the
	// background, independent of PollInterval so the two can be tuned
	// separately (frequent job polling, infrequent crash-recovery sweeps).
	ReclaimInterval time.Duration
}

// Worker is the C3 actor: claim -> compute -> persist, single-threaded per
// instance. It has no goroutine-per-job pool; concurrency across jobs
// comes from running multiple Worker processes, each linearized against
// the same job store via claim_next's row-level locking.
type Worker struct {
	store   store.JobStore
	chain   ChainReader
	proving Proving
	cfg     WorkerConfig

	wake chan struct{}
}

// NewWorker constructs a Worker. cfg.PollInterval defaults to 30s,
// cfg.StaleThreshold to 10 minutes, and cfg.ReclaimInterval to 5 minutes
// if unset.
func NewWorker(jobStore store.JobStore, chain ChainReader, proving Proving, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 5 * time.Minute
	}
	return &Worker{
		store:   jobStore,
		chain:   chain,
		proving: proving,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
}

// Wake requests an immediate drain of the job queue. Idempotent: if a
// wake is already pending, this is a no-op, matching spec.md §4.3's
// "wake() — idempotent, returns immediately".
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drives the main loop until ctx is cancelled: wait for a wake-up
// (RPC-triggered or the periodic fallback), then drain the queue fully
// before waiting again, per spec.md §4.3 steps 1-4. It finishes any job
// already in flight before returning, since proof generation is not
// interruptible mid-run (spec.md §5's cancellation rule).
//
// A stale-job sweep runs once at startup and then on cfg.ReclaimInterval:
// per spec.md §9, reclaiming an InProgress row whose updated_at predates
// cfg.StaleThreshold is the only crash-recovery mechanism this system has,
// since no worker heartbeats are required.
func (w *Worker) Run(ctx context.Context) error {
	go w.fallbackTicker(ctx)
	go w.reclaimTicker(ctx)

	w.reclaimStale(ctx)

	// Drain once at startup in case jobs were queued before the worker
	// came up and no wake arrives until the next external trigger.
	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// fallbackTicker requests a wake every PollInterval using a rate.Limiter
// as the interval source: Wait blocks until a token is available, then
// the loop immediately reserves the next one, giving the same cadence as
// a time.Ticker without introducing a second timer abstraction into a
// codebase that already reaches for x/time/rate elsewhere.
func (w *Worker) fallbackTicker(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(w.cfg.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		w.Wake()
	}
}

// reclaimTicker runs the stale-job sweep every cfg.ReclaimInterval until
// ctx is cancelled.
func (w *Worker) reclaimTicker(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(w.cfg.ReclaimInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		w.reclaimStale(ctx)
	}
}

// reclaimStale resets any InProgress job abandoned by a crashed worker
// back to Pending, then wakes this worker so it can pick the reclaimed
// jobs up immediately rather than waiting for the next fallback tick.
func (w *Worker) reclaimStale(ctx context.Context) {
	n, err := w.store.ReclaimStale(ctx, w.cfg.StaleThreshold)
	if err != nil {
		logger.Error(fmt.Errorf("prover worker: reclaim_stale failed: %w", err))
		return
	}
	if n > 0 {
		logger.Info("prover worker: reclaimed stale jobs", zap.Int("count", n))
		w.Wake()
	}
}

// drain claims and processes jobs until the queue is empty, per spec.md
// §4.3 step 4's "loop to 2 (drain fully on each wake-up)".
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoJobAvailable) {
				return
			}
			logger.Error(fmt.Errorf("prover worker: claim_next failed: %w", err))
			return
		}

		w.processJob(ctx, job)
	}
}

// processJob implements spec.md §4.3 step 3: read pinned preferences,
// invoke the proving pipeline, and persist the outcome. Any failure along
// the way is job-scoped (Fatal, per §7) and recorded as Failed rather than
// stopping the worker.
func (w *Worker) processJob(ctx context.Context, job *store.Job) {
	logger.Info("prover worker: claimed job",
		zap.String("job_id", job.ID.String()),
		zap.String("contract", job.ContractAddress.Hex()),
		zap.Uint64("block", job.BlockNumber))

	prefs, owners, err := w.readPreferencesWithRetry(ctx, job.ContractAddress, job.BlockNumber)
	if err != nil {
		w.fail(ctx, job.ID, err)
		return
	}

	input := Input{
		ContractAddress: job.ContractAddress,
		ChainID:         job.ChainID,
		Block:           job.BlockNumber,
		Preferences:     prefs,
		Owners:          owners,
	}

	seal, journal, err := w.proving.Prove(ctx, input)
	if err != nil {
		w.fail(ctx, job.ID, err)
		return
	}

	if err := w.store.Complete(ctx, job.ID, seal, journal); err != nil {
		logger.Error(fmt.Errorf("prover worker: complete failed for job %s: %w", job.ID, err))
		return
	}

	logger.Info("prover worker: completed job", zap.String("job_id", job.ID.String()))
}

func (w *Worker) fail(ctx context.Context, id uuid.UUID, cause error) {
	logger.Error(fmt.Errorf("prover worker: job %s failed: %w", id, cause))
	if err := w.store.Fail(ctx, id, cause); err != nil {
		logger.Error(fmt.Errorf("prover worker: fail failed for job %s: %w", id, err))
	}
}

// readPreferencesWithRetry reads the contract's preference set at block,
// retrying transient chain-node I/O with bounded exponential backoff up
// to chainReadMaxAttempts total attempts, per spec.md §4.3's failure
// semantics.
func (w *Worker) readPreferencesWithRetry(ctx context.Context, address common.Address, block uint64) (ttc.Preferences, map[domain.TokenHash]common.Address, error) {
	type result struct {
		prefs  ttc.Preferences
		owners map[domain.TokenHash]common.Address
	}
	var out result

	operation := func() error {
		readCtx, cancel := context.WithTimeout(ctx, chainReadTimeout)
		defer cancel()

		prefs, owners, err := w.chain.Preferences(readCtx, address, block)
		if err != nil {
			return err
		}
		out.prefs, out.owners = prefs, owners
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall-clock

	policy := backoff.WithMaxRetries(b, chainReadMaxAttempts-1)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, nil, fmt.Errorf("chain read failed after %d attempts: %w", chainReadMaxAttempts, err)
	}
	return out.prefs, out.owners, nil
}
