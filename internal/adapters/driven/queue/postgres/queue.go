package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/docsync-core/internal/adapters/driven/postgres"
	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// abandonTimeout is how long a processing task may go untouched before
// it is considered abandoned and handed back to the pool.
const abandonTimeout = 5 * time.Minute

// Queue implements TaskQueue on a PostgreSQL table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never fight over a row,
// and a stale processing row is reclaimed after abandonTimeout, which
// keeps the at-least-once contract without a broker.
type Queue struct {
	db *postgres.DB

	// pollInterval spaces out the polling loop inside DequeueWithTimeout.
	pollInterval time.Duration
}

// NewQueue creates a new PostgreSQL-backed task queue.
func NewQueue(db *postgres.DB) *Queue {
	return &Queue{
		db:           db,
		pollInterval: time.Second,
	}
}

// Enqueue adds a task to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, type, connection_id, payload, status, priority,
			attempts, max_attempts, created_at, updated_at, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, string(task.Type), task.ConnectionID, payload, string(task.Status),
		task.Priority, task.Attempts, task.MaxAttempts,
		task.CreatedAt, task.UpdatedAt, task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple tasks in one transaction.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return q.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, task := range tasks {
			if task == nil {
				continue
			}
			payload, err := json.Marshal(task.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload for %s: %w", task.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tasks (
					id, type, connection_id, payload, status, priority,
					attempts, max_attempts, created_at, updated_at, scheduled_for
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				task.ID, string(task.Type), task.ConnectionID, payload, string(task.Status),
				task.Priority, task.Attempts, task.MaxAttempts,
				task.CreatedAt, task.UpdatedAt, task.ScheduledFor,
			)
			if err != nil {
				return fmt.Errorf("enqueue task %s: %w", task.ID, err)
			}
		}
		return nil
	})
}

// DequeueWithTimeout polls for the next ready task, waiting up to
// timeout seconds. Returns nil, nil when nothing became ready.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)

	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(q.pollInterval):
		}
	}
}

// claim atomically takes one ready task. Stale processing rows count as
// ready so abandoned work gets picked back up.
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	var task *domain.Task

	err := q.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, type, connection_id, payload, status, priority,
				attempts, max_attempts, error, created_at, updated_at,
				started_at, completed_at, scheduled_for
			FROM tasks
			WHERE (status = 'pending' AND scheduled_for <= now())
			   OR (status = 'processing' AND updated_at < now() - make_interval(secs => $1))
			ORDER BY priority DESC, scheduled_for
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			int(abandonTimeout.Seconds()),
		)

		t, err := scanTask(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("claim task: %w", err)
		}

		t.MarkProcessing()
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, attempts = $2, started_at = $3, updated_at = $4
			WHERE id = $5`,
			string(t.Status), t.Attempts, t.StartedAt, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}

		task = t
		return nil
	})

	return task, err
}

func scanTask(row interface{ Scan(...interface{}) error }) (*domain.Task, error) {
	var t domain.Task
	var taskType, status string
	var payload []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &taskType, &t.ConnectionID, &payload, &status, &t.Priority,
		&t.Attempts, &t.MaxAttempts, &t.Error, &t.CreatedAt, &t.UpdatedAt,
		&startedAt, &completedAt, &t.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	t.StartedAt = postgres.TimePtr(startedAt)
	t.CompletedAt = postgres.TimePtr(completedAt)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &t, nil
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	now := time.Now()
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, updated_at = $2, error = ''
		WHERE id = $3`,
		string(domain.TaskStatusCompleted), now, taskID,
	)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// Nack returns a failed task: re-scheduled with backoff while budget
// remains, failed otherwise.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	return q.dispose(ctx, taskID, reason, false)
}

// Fail buries a task regardless of remaining retry budget.
func (q *Queue) Fail(ctx context.Context, taskID string, reason string) error {
	return q.dispose(ctx, taskID, reason, true)
}

func (q *Queue) dispose(ctx context.Context, taskID, reason string, terminal bool) error {
	return q.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, type, connection_id, payload, status, priority,
				attempts, max_attempts, error, created_at, updated_at,
				started_at, completed_at, scheduled_for
			FROM tasks WHERE id = $1 FOR UPDATE`, taskID)

		task, err := scanTask(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("load task: %w", err)
		}

		if !terminal && task.CanRetry() {
			task.Retry(reason)
		} else {
			task.MarkFailed(reason)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
			WHERE id = $5`,
			string(task.Status), task.Error, task.UpdatedAt, task.ScheduledFor, task.ID,
		)
		if err != nil {
			return fmt.Errorf("dispose task: %w", err)
		}
		return nil
	})
}

// GetTask retrieves a task by ID. Returns nil, nil when unknown.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, type, connection_id, payload, status, priority,
			attempts, max_attempts, error, created_at, updated_at,
			started_at, completed_at, scheduled_for
		FROM tasks WHERE id = $1`, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &driven.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.TaskStatus(status) {
		case domain.TaskStatusPending:
			stats.PendingCount = count
		case domain.TaskStatusProcessing:
			stats.ProcessingCount = count
		case domain.TaskStatusCompleted:
			stats.CompletedCount = count
		case domain.TaskStatusFailed:
			stats.FailedCount = count
		}
	}
	return stats, rows.Err()
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// The DB handle is shared; the owner closes it.
	return nil
}
