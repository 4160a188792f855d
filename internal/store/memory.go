package store

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// MemoryJobStore is an in-process JobStore used by unit tests and by
// components (C4, C5, the prover worker) that want to exercise job
// lifecycle logic without a live Postgres instance. Every status
// transition is sent to every subscriber registered at the time of the
// transition, except that a subscriber whose 32-entry buffer is full misses
// that change rather than blocking the writer.
type MemoryJobStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*Job
	subscribers []chan StatusChange
	clock       adapter.Clock
}

// NewMemoryJobStore returns an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*Job), clock: adapter.NewClock()}
}

// NewMemoryJobStoreWithClock returns an empty MemoryJobStore whose
// timestamps are driven by clock, so ReclaimStale's cutoff logic can be
// exercised deterministically instead of racing a real sleep.
func NewMemoryJobStoreWithClock(clock adapter.Clock) *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*Job), clock: clock}
}

func (m *MemoryJobStore) CreateJob(_ context.Context, address common.Address, chainID domain.Chain, block uint64) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.ContractAddress == address && j.BlockNumber == block && !j.Status.IsTerminal() {
			return uuid.Nil, domain.ErrDuplicateJob
		}
	}

	now := m.clock.Now()
	job := &Job{
		ID:              uuid.New(),
		ContractAddress: address,
		ChainID:         chainID,
		BlockNumber:     block,
		Status:          domain.JobStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *MemoryJobStore) ClaimNext(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Job
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, domain.ErrNoJobAvailable
	}

	oldest.Status = domain.JobStatusInProgress
	oldest.UpdatedAt = m.clock.Now()
	m.broadcastLocked(StatusChange{JobID: oldest.ID, Status: oldest.Status})

	cp := *oldest
	return &cp, nil
}

func (m *MemoryJobStore) Complete(_ context.Context, id uuid.UUID, proof, journal []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusInProgress {
		return domain.ErrNotInProgress
	}
	job.Status = domain.JobStatusCompleted
	job.ProofBlob = proof
	job.JournalBlob = journal
	job.UpdatedAt = m.clock.Now()
	m.broadcastLocked(StatusChange{JobID: id, Status: job.Status})
	return nil
}

func (m *MemoryJobStore) Fail(_ context.Context, id uuid.UUID, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusInProgress {
		return domain.ErrNotInProgress
	}
	job.Status = domain.JobStatusFailed
	if cause != nil {
		job.ErrorText = cause.Error()
	}
	job.UpdatedAt = m.clock.Now()
	m.broadcastLocked(StatusChange{JobID: id, Status: job.Status})
	return nil
}

func (m *MemoryJobStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryJobStore) GetJobByKey(_ context.Context, address common.Address, block uint64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *Job
	for _, j := range m.jobs {
		if j.ContractAddress != address || j.BlockNumber != block {
			continue
		}
		if found == nil || j.CreatedAt.After(found.CreatedAt) {
			found = j
		}
	}
	if found == nil {
		return nil, domain.ErrJobNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *MemoryJobStore) Subscribe(ctx context.Context) (<-chan StatusChange, error) {
	m.mu.Lock()
	ch := make(chan StatusChange, 32)
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subscribers {
			if c == ch {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (m *MemoryJobStore) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-olderThan)
	n := 0
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusInProgress && j.UpdatedAt.Before(cutoff) {
			j.Status = domain.JobStatusPending
			j.UpdatedAt = m.clock.Now()
			n++
			m.broadcastLocked(StatusChange{JobID: j.ID, Status: j.Status})
		}
	}
	return n, nil
}

// broadcastLocked must be called with m.mu held.
func (m *MemoryJobStore) broadcastLocked(change StatusChange) {
	for _, ch := range m.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}
