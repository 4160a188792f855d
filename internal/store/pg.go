package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const notifyChannel = "job_status"

// PGStore is the pgxpool-backed JobStore implementation. It wraps a
// caller-owned connection pool; each Subscribe call acquires its own
// listener connection from that pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pgxpool.Pool. The pool's lifecycle (Close)
// remains the caller's responsibility.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// NewPool builds a pgxpool.Pool from a DSN, applying the connection-pool
// settings and verifying connectivity with a ping.
func NewPool(ctx context.Context, dsn string, maxConns, minConns int32, maxLifetime, maxIdleTime time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns, cfg.MinConns, cfg.MaxConnLifetime, cfg.MaxConnIdleTime =
		NormalizeConnectionPoolSettings(maxConns, minConns, maxLifetime, maxIdleTime)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings
// into safe values.
//
// Defaults (when zero):
//   - MaxConns: 10
//   - MinConns: 2
//   - MaxConnLifetime: 1 hour
//   - MaxConnIdleTime: 10 minutes
func NormalizeConnectionPoolSettings(maxConns, minConns int32, maxLifetime, maxIdleTime time.Duration) (int32, int32, time.Duration, time.Duration) {
	if maxConns == 0 {
		maxConns = 10
	}
	if minConns == 0 {
		minConns = 2
	}
	if maxLifetime == 0 {
		maxLifetime = time.Hour
	}
	if maxIdleTime == 0 {
		maxIdleTime = 10 * time.Minute
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	return maxConns, minConns, maxLifetime, maxIdleTime
}

// Migrate applies the embedded schema migrations to dsn. It opens its own
// database/sql connection via the pgx stdlib driver, since golang-migrate
// operates on database/sql rather than pgxpool.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// CreateJob inserts a Pending job. The partial unique index on
// (contract_address, block_number) where status is non-terminal maps a
// constraint violation directly onto domain.ErrDuplicateJob.
func (s *PGStore) CreateJob(ctx context.Context, address common.Address, chainID domain.Chain, block uint64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prover_jobs (id, contract_address, chain_id, block_number, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, address.Bytes(), string(chainID), block, string(domain.JobStatusPending))

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, domain.ErrDuplicateJob
		}
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the oldest Pending job using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never claim the
// same row and never block on each other's row locks.
func (s *PGStore) ClaimNext(ctx context.Context) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var job Job
	var addrBytes []byte
	err = tx.QueryRow(ctx, `
		SELECT id, contract_address, chain_id, block_number, status, created_at, updated_at
		FROM prover_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(domain.JobStatusPending)).Scan(
		&job.ID, &addrBytes, &job.ChainID, &job.BlockNumber, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("select claimable job: %w", err)
	}
	job.ContractAddress = common.BytesToAddress(addrBytes)

	if _, err := tx.Exec(ctx, `
		UPDATE prover_jobs SET status = $1, updated_at = now() WHERE id = $2
	`, string(domain.JobStatusInProgress), job.ID); err != nil {
		return nil, fmt.Errorf("mark job in progress: %w", err)
	}

	if err := notify(ctx, tx, job.ID, domain.JobStatusInProgress); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	job.Status = domain.JobStatusInProgress
	return &job, nil
}

// Complete transitions a job to Completed and stores its result blobs.
func (s *PGStore) Complete(ctx context.Context, id uuid.UUID, proof, journal []byte) error {
	return s.terminate(ctx, id, domain.JobStatusCompleted, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `
			UPDATE prover_jobs
			SET status = $1, proof_blob = $2, journal_blob = $3, updated_at = now()
			WHERE id = $4 AND status = $5
		`, string(domain.JobStatusCompleted), proof, journal, id, string(domain.JobStatusInProgress))
	})
}

// Fail transitions a job to Failed and records the error text.
func (s *PGStore) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return s.terminate(ctx, id, domain.JobStatusFailed, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `
			UPDATE prover_jobs
			SET status = $1, error_text = $2, updated_at = now()
			WHERE id = $3 AND status = $4
		`, string(domain.JobStatusFailed), detail, id, string(domain.JobStatusInProgress))
	})
}

func (s *PGStore) terminate(ctx context.Context, id uuid.UUID, newStatus domain.JobStatus, exec func(pgx.Tx) (pgconn.CommandTag, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin terminate tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := exec(tx)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInProgress
	}

	if err := notify(ctx, tx, id, newStatus); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit terminate tx: %w", err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *PGStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.scanOne(ctx, `
		SELECT id, contract_address, chain_id, block_number, status, proof_blob, journal_blob, error_text, created_at, updated_at
		FROM prover_jobs WHERE id = $1
	`, id)
}

// GetJobByKey returns the most recent job for (address, block).
func (s *PGStore) GetJobByKey(ctx context.Context, address common.Address, block uint64) (*Job, error) {
	return s.scanOne(ctx, `
		SELECT id, contract_address, chain_id, block_number, status, proof_blob, journal_blob, error_text, created_at, updated_at
		FROM prover_jobs WHERE contract_address = $1 AND block_number = $2
		ORDER BY created_at DESC LIMIT 1
	`, address.Bytes(), block)
}

func (s *PGStore) scanOne(ctx context.Context, query string, args ...any) (*Job, error) {
	var job Job
	var addrBytes []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&job.ID, &addrBytes, &job.ChainID, &job.BlockNumber, &job.Status,
		&job.ProofBlob, &job.JournalBlob, &job.ErrorText, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	job.ContractAddress = common.BytesToAddress(addrBytes)
	return &job, nil
}

// ReclaimStale resets InProgress jobs abandoned by a crashed worker back
// to Pending, so a later ClaimNext picks them up again. Every reclaimed row
// gets its own notify call in the same transaction as the update, matching
// ClaimNext/terminate's one-notification-per-status-change contract.
func (s *PGStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reclaim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE prover_jobs
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval
		RETURNING id
	`, string(domain.JobStatusPending), string(domain.JobStatusInProgress), fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan reclaimed job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}

	for _, id := range ids {
		if err := notify(ctx, tx, id, domain.JobStatusPending); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reclaim tx: %w", err)
	}
	return len(ids), nil
}

// Subscribe opens a dedicated LISTEN connection and streams every
// job_status notification until ctx is cancelled.
func (s *PGStore) Subscribe(ctx context.Context) (<-chan StatusChange, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan StatusChange, 32)
	go func() {
		defer conn.Release()
		defer close(out)
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.WarnCtx(ctx, "job status listener stopped", zap.Error(err))
				}
				return
			}
			change, err := parseNotification(n.Payload)
			if err != nil {
				logger.WarnCtx(ctx, "dropping malformed job status notification", zap.Error(err))
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func notify(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.JobStatus) error {
	payload := id.String() + ":" + string(status)
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", notifyChannel, err)
	}
	return nil
}

func parseNotification(payload string) (StatusChange, error) {
	idx := len(payload) - 1
	for idx >= 0 && payload[idx] != ':' {
		idx--
	}
	if idx <= 0 {
		return StatusChange{}, fmt.Errorf("malformed payload %q", payload)
	}
	id, err := uuid.Parse(payload[:idx])
	if err != nil {
		return StatusChange{}, fmt.Errorf("parse job id from payload %q: %w", payload, err)
	}
	return StatusChange{JobID: id, Status: domain.JobStatus(payload[idx+1:])}, nil
}
