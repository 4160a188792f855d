// Package store persists proof jobs and fans out their status transitions,
// backing the at-most-one-in-flight proof coordination the monitor and
// prover worker depend on.
package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// Job is a persisted proof job row.
type Job struct {
	ID              uuid.UUID
	ContractAddress common.Address
	ChainID         domain.Chain
	BlockNumber     uint64
	Status          domain.JobStatus
	ProofBlob       []byte
	JournalBlob     []byte
	ErrorText       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusChange is one notification delivered by Subscribe: a job's id and
// the status it just transitioned into.
type StatusChange struct {
	JobID  uuid.UUID
	Status domain.JobStatus
}

// JobStore is the C2 abstraction: a job table with linearizable claiming
// and a change-notification stream. Every method takes a context so
// callers can bound how long they wait on the database.
type JobStore interface {
	// CreateJob inserts a Pending job for (address, chainID, block).
	// Returns domain.ErrDuplicateJob if a non-terminal job already exists
	// for that key.
	CreateJob(ctx context.Context, address common.Address, chainID domain.Chain, block uint64) (uuid.UUID, error)

	// ClaimNext atomically selects the oldest Pending job, transitions it
	// to InProgress, and returns it. Returns domain.ErrNoJobAvailable if
	// the queue is empty.
	ClaimNext(ctx context.Context) (*Job, error)

	// Complete transitions a job to Completed and stores the proof and
	// journal blobs. Returns domain.ErrNotInProgress if the job isn't
	// currently InProgress.
	Complete(ctx context.Context, id uuid.UUID, proof, journal []byte) error

	// Fail transitions a job to Failed and records the error text.
	// Returns domain.ErrNotInProgress if the job isn't currently
	// InProgress.
	Fail(ctx context.Context, id uuid.UUID, cause error) error

	// GetJob returns the job with the given id, or domain.ErrJobNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// GetJobByKey returns the most recent job for (address, block), or
	// domain.ErrJobNotFound.
	GetJobByKey(ctx context.Context, address common.Address, block uint64) (*Job, error)

	// Subscribe opens a persistent stream of status transitions. The
	// returned channel is closed when ctx is cancelled or the store is
	// closed. Restartable: callers that lose the stream may call
	// Subscribe again.
	Subscribe(ctx context.Context) (<-chan StatusChange, error)

	// ReclaimStale transitions any InProgress job whose UpdatedAt is older
	// than olderThan back to Pending, for crash recovery. Returns the
	// number of rows reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
}
