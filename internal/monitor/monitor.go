package monitor

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/logger"
	"github.com/feral-file/ttc-coordinator/internal/store"
	"github.com/feral-file/ttc-coordinator/internal/watcher"
)

// ProofResult is the RPC-facing shape of a job, per spec.md §4.5's
// get_proof: (status, proof?, journal?, error?).
type ProofResult struct {
	Status  domain.JobStatus
	Proof   []byte
	Journal []byte
	Error   string
}

func proofResultFromJob(job *store.Job) ProofResult {
	return ProofResult{Status: job.Status, Proof: job.ProofBlob, Journal: job.JournalBlob, Error: job.ErrorText}
}

// Monitor is the C5 orchestrator: it owns the watcher registry, drains
// its event stream, and is the sole caller of C2 and C3 on behalf of
// watchers, per spec.md §4.5.
type Monitor struct {
	registry *Registry
	jobStore store.JobStore
	prover   ProverClient
	events   <-chan watcher.Event
}

// NewMonitor wires a Registry, JobStore, and ProverClient together. events
// must be the same channel the Registry's watchers were constructed to
// send on.
func NewMonitor(registry *Registry, jobStore store.JobStore, prover ProverClient, events <-chan watcher.Event) *Monitor {
	return &Monitor{registry: registry, jobStore: jobStore, prover: prover, events: events}
}

// Run drains the watcher event stream until ctx is cancelled, implementing
// spec.md §4.5's "Proof request path".
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev watcher.Event) {
	if ev.Kind != watcher.KindProofRequested {
		return
	}

	_, err := m.jobStore.CreateJob(ctx, ev.Address, ev.ChainID, ev.Block)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			return
		}
		logger.Error(err, zap.String("contract", ev.Address.Hex()), zap.Uint64("block", ev.Block))
		return
	}

	// Fire-and-forget: any transport error is logged and swallowed, since
	// C3's periodic fallback timer guarantees eventual progress regardless.
	if err := m.prover.Wake(ctx); err != nil {
		logger.Warn("failed to wake prover, relying on its fallback timer", zap.Error(err))
	}
}

// RegisterContract spawns a watcher for address, or returns its current
// phase if one already exists.
func (m *Monitor) RegisterContract(ctx context.Context, address common.Address, chainID domain.Chain) (domain.Phase, error) {
	if !domain.IsValidChain(chainID) {
		return 0, domain.NewInvalidInput("unsupported chain", chainID, nil)
	}
	return m.registry.Register(ctx, address, chainID)
}

// GetPhase returns a registered watcher's current believed phase.
func (m *Monitor) GetPhase(address common.Address) (domain.Phase, error) {
	w, ok := m.registry.Get(address)
	if !ok {
		return 0, domain.ErrWatcherNotFound
	}
	return w.Phase(), nil
}

// GetProof returns the job for (address, block).
func (m *Monitor) GetProof(ctx context.Context, address common.Address, block uint64) (*ProofResult, error) {
	job, err := m.jobStore.GetJobByKey(ctx, address, block)
	if err != nil {
		return nil, err
	}
	result := proofResultFromJob(job)
	return &result, nil
}

// SubscribeProof implements spec.md §4.5's subscription path: it opens a
// C2 status-change stream, filters to the job identified by (address,
// block), and delivers exactly one ProofResult once the job reaches a
// terminal status — returning immediately if it already has. The returned
// channel is closed after that single delivery, or if ctx is cancelled
// first.
func (m *Monitor) SubscribeProof(ctx context.Context, address common.Address, block uint64) (<-chan ProofResult, error) {
	if job, err := m.jobStore.GetJobByKey(ctx, address, block); err == nil {
		if job.Status.IsTerminal() {
			out := make(chan ProofResult, 1)
			out <- proofResultFromJob(job)
			close(out)
			return out, nil
		}
	} else if !errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}

	changes, err := m.jobStore.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan ProofResult, 1)
	go func() {
		defer close(out)
		for change := range changes {
			job, err := m.jobStore.GetJob(ctx, change.JobID)
			if err != nil {
				continue
			}
			if job.ContractAddress != address || job.BlockNumber != block {
				continue
			}
			if !job.Status.IsTerminal() {
				continue
			}
			select {
			case out <- proofResultFromJob(job):
			case <-ctx.Done():
			}
			return
		}
	}()
	return out, nil
}

// ImageIDContract proxies C3's get_image_id_contract.
func (m *Monitor) ImageIDContract(ctx context.Context) (string, error) {
	return m.prover.ImageIDContract(ctx)
}

// HealthCheck reports the monitor's own liveness; it does not proxy C3's,
// since a prover outage should not make the monitor appear unhealthy.
func (m *Monitor) HealthCheck() error {
	return nil
}

// Shutdown implements spec.md §4.5's graceful shutdown: stop every
// watcher before its next poll. The caller is responsible for stopping
// the HTTP server and closing the database pool around this call, per the
// ordering spec.md §4.5 specifies.
func (m *Monitor) Shutdown() {
	m.registry.Stop()
}
