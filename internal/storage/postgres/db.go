// Package postgres implements interfaces.JobRepository, FileRepository,
// and AdminJobRepository on top of pgx/v5. It generalizes a prior
// SurrealDB-backed job-queue store (enqueue/dequeue/complete) onto a
// row-locking relational claim protocol with SQLSTATE-aware error
// classification, since the durable queue here is Postgres rather than
// SurrealDB.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// defaultStatementTimeout is the fallback per-call bound used when a
// store is constructed with a zero/negative timeout (e.g. a test that
// doesn't care about the exact value). Production wiring always supplies
// internal/common.Config's derived DB timeout instead (spec.md §5).
const defaultStatementTimeout = 65 * time.Second

// withTimeout derives a bounded context for a single database call or
// transaction, per spec.md §5's "DB and object-store calls bounded by
// per-call timeouts."
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultStatementTimeout
	}
	return context.WithTimeout(ctx, d)
}

// ErrAlreadyEnqueued is returned by JobRepository.Enqueue when a job for
// the given file already exists — a unique-violation on processing_jobs
// .file_id, surfaced as a distinguishable, non-error outcome per spec.md
// §4.5.
var ErrAlreadyEnqueued = errors.New("job already enqueued for file")

// ErrLeaseLost is returned by JobRepository.Heartbeat when the update
// affected zero rows: the lease expired or was reclaimed by another
// worker (spec.md §4.5, §5).
var ErrLeaseLost = errors.New("lease lost")

// Store wraps a pgxpool.Pool and the shared logger; JobStore, FileStore,
// and AdminStore are thin views over the same pool.
type Store struct {
	Pool   *pgxpool.Pool
	Logger *common.Logger
}

// NewPool opens a pgxpool against databaseURL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// sqlState extracts the Postgres SQLSTATE from err, or "" if err is not a
// *pgconn.PgError.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation reports whether err is a unique-constraint violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return sqlState(err) == "23505"
}

// ClassifiedError wraps a taxonomy.Classified alongside the original
// database error, mirroring the shape internal/storage/objectstore and
// internal/llm use so internal/pipeline can recover {code, retriable,
// message} uniformly across every adapter (spec.md §4.1, §4.7 step 5).
type ClassifiedError struct {
	Classified taxonomy.Classified
	Cause      error
}

func (e *ClassifiedError) Error() string { return e.Classified.Message }
func (e *ClassifiedError) Unwrap() error { return e.Cause }

// ClassifiedOutcome returns the {code, retriable, message} triple.
func (e *ClassifiedError) ClassifiedOutcome() taxonomy.Classified { return e.Classified }

// classifyDBErr wraps err as a *ClassifiedError using its SQLSTATE, per
// spec.md §4.1's db_update_failed classification (SQLSTATE classes 08
// and 53, plus 40001/40P01, are retriable).
func classifyDBErr(err error) error {
	return &ClassifiedError{Classified: taxonomy.ClassifyDB(sqlState(err), err), Cause: err}
}
