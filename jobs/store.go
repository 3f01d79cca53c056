package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mixloft/mixloft-server/ccc/db"
	"github.com/mixloft/mixloft-server/ccc/faults"
)

// Store defines the durable job queue. All job state transitions go through
// the Store; the system offers at-least-once delivery (a claimed job whose
// worker disappears becomes claimable again after the claim timeout), so
// consumers must design their steps to be idempotent.
type Store interface {
	// Enqueue adds a new job to the given queue and returns its ID
	Enqueue(ctx context.Context, queue string, payload any, opts EnqueueOptions) (string, error)

	// Claim atomically takes the next eligible job from the queue for
	// processing. Returns nil if no job is eligible. A job is handed to at
	// most one claimant at a time.
	Claim(ctx context.Context, queue string) (*Job, error)

	// SetProgress records a fractional progress value (0-100) for an active
	// job. Values lower than the current progress are ignored, so observed
	// progress is monotonically non-decreasing. No-op on terminal jobs.
	SetProgress(ctx context.Context, id string, value float64) error

	// SetProgressLabel records a short status label for an active job.
	// No-op on terminal jobs.
	SetProgressLabel(ctx context.Context, id string, label string) error

	// Complete marks a job completed with the given result.
	// No-op if the job is already terminal.
	Complete(ctx context.Context, id string, result any) error

	// Fail marks a job failed with a classified error.
	// No-op if the job is already terminal.
	Fail(ctx context.Context, id string, kind faults.Kind, message string) error

	// Remove deletes a job regardless of state
	Remove(ctx context.Context, id string) error

	// Get retrieves a job by its ID, or nil if it does not exist
	Get(ctx context.Context, id string) (*Job, error)
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db           *sql.DB
	claimTimeout time.Duration
	now          func() time.Time
}

// NewSQLiteStore creates a new SQLite-based job store. claimTimeout is how
// long a claimed job may go without terminating before it becomes claimable
// again.
func NewSQLiteStore(database *sql.DB, claimTimeout time.Duration) (*SQLiteStore, error) {
	store := &SQLiteStore{
		db:           database,
		claimTimeout: claimTimeout,
		now:          time.Now,
	}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables ensures that the required tables exist
func (s *SQLiteStore) createTables() error {
	createJobsTable := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		payload TEXT NOT NULL,
		state TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		progress_label TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error_kind TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL,
		delay_until TEXT,
		claimed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_queue_state ON jobs (queue, state);`

	_, err := s.db.Exec(createJobsTable)
	return err
}

// Enqueue adds a new job to the given queue
func (s *SQLiteStore) Enqueue(ctx context.Context, queue string, payload any, opts EnqueueOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := s.now().UTC()

	state := StateWaiting
	var delayUntil *time.Time
	if opts.Delay > 0 {
		state = StateDelayed
		due := now.Add(opts.Delay)
		delayUntil = &due
	}

	query := `
	INSERT INTO jobs (id, queue, payload, state, created_at, delay_until)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		id, queue, string(data), string(state), db.TimeToString(now), db.TimePtrToString(delayUntil),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// Claim atomically takes the next eligible job from the queue
func (s *SQLiteStore) Claim(ctx context.Context, queue string) (*Job, error) {
	now := s.now().UTC()
	staleBefore := now.Add(-s.claimTimeout)

	// Candidates: waiting jobs, delayed jobs that are due, and active jobs
	// whose claim has gone stale (worker crashed before terminating them).
	selectQuery := `
	SELECT id FROM jobs
	WHERE queue = ?
	  AND (state = ?
	   OR (state = ? AND delay_until <= ?)
	   OR (state = ? AND claimed_at <= ?))
	ORDER BY created_at
	LIMIT 1`

	for {
		var id string
		err := s.db.QueryRowContext(ctx, selectQuery,
			queue, string(StateWaiting),
			string(StateDelayed), db.TimeToString(now),
			string(StateActive), db.TimeToString(staleBefore),
		).Scan(&id)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to select claimable job: %w", err)
		}

		// The conditional update guarantees at most one claimant wins even if
		// two workers selected the same candidate.
		updateQuery := `
		UPDATE jobs SET state = ?, claimed_at = ?, attempts = attempts + 1
		WHERE id = ?
		  AND (state = ?
		   OR (state = ? AND delay_until <= ?)
		   OR (state = ? AND claimed_at <= ?))`

		res, err := s.db.ExecContext(ctx, updateQuery,
			string(StateActive), db.TimeToString(now),
			id,
			string(StateWaiting),
			string(StateDelayed), db.TimeToString(now),
			string(StateActive), db.TimeToString(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check claim result: %w", err)
		}
		if affected == 0 {
			// Lost the race to another claimant; try the next candidate.
			continue
		}

		return s.Get(ctx, id)
	}
}

// SetProgress records a fractional progress value for an active job
func (s *SQLiteStore) SetProgress(ctx context.Context, id string, value float64) error {
	query := `
	UPDATE jobs SET progress = MAX(progress, ?)
	WHERE id = ? AND state = ?`

	_, err := s.db.ExecContext(ctx, query, value, id, string(StateActive))
	if err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}

	return nil
}

// SetProgressLabel records a short status label for an active job
func (s *SQLiteStore) SetProgressLabel(ctx context.Context, id string, label string) error {
	query := `
	UPDATE jobs SET progress_label = ?
	WHERE id = ? AND state = ?`

	_, err := s.db.ExecContext(ctx, query, label, id, string(StateActive))
	if err != nil {
		return fmt.Errorf("failed to set progress label: %w", err)
	}

	return nil
}

// Complete marks a job completed with the given result
func (s *SQLiteStore) Complete(ctx context.Context, id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
	UPDATE jobs SET state = ?, progress = 100, result = ?
	WHERE id = ? AND state NOT IN (?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		string(StateCompleted), string(data), id, string(StateCompleted), string(StateFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return nil
}

// Fail marks a job failed with a classified error
func (s *SQLiteStore) Fail(ctx context.Context, id string, kind faults.Kind, message string) error {
	query := `
	UPDATE jobs SET state = ?, error_kind = ?, error_message = ?
	WHERE id = ? AND state NOT IN (?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		string(StateFailed), string(kind), message, id, string(StateCompleted), string(StateFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return nil
}

// Remove deletes a job regardless of state
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM jobs WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}

	return nil
}

// Get retrieves a job by its ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	query := `
	SELECT id, queue, payload, state, progress, progress_label, attempts,
		   result, error_kind, error_message, created_at, delay_until, claimed_at
	FROM jobs WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	job := &Job{}
	var payload, state, createdAtStr string
	var result, errorKind, errorMessage, delayUntilStr, claimedAtStr sql.NullString
	err := row.Scan(
		&job.ID, &job.Queue, &payload, &state, &job.Progress, &job.ProgressLabel, &job.Attempts,
		&result, &errorKind, &errorMessage, &createdAtStr, &delayUntilStr, &claimedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job by ID: %w", err)
	}

	job.Payload = json.RawMessage(payload)
	job.State = State(state)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errorKind.Valid {
		job.ErrorKind = faults.Kind(errorKind.String)
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}

	job.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	if delayUntilStr.Valid {
		t, err := db.StringToTime(delayUntilStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse delay_until: %w", err)
		}
		job.DelayUntil = &t
	}

	if claimedAtStr.Valid {
		t, err := db.StringToTime(claimedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse claimed_at: %w", err)
		}
		job.ClaimedAt = &t
	}

	return job, nil
}
