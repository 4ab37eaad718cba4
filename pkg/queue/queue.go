// Package queue is a Redis list backed job queue with bounded retries and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueExports is the Redis list key for results export jobs.
	QueueExports = "worker:exports"
	// QueueDLQ holds jobs that failed MaxRetries times.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of attempts before a job is dead-lettered.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds one blocking dequeue so shutdown is noticed.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeExport JobType = "export"
)

// ExportPayload is the payload for results export jobs.
type ExportPayload struct {
	ExportID  uuid.UUID `json:"export_id"`
	SessionID uuid.UUID `json:"session_id"`
}

// Job is the envelope stored in the list.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Exhausted reports whether a failure of the current attempt should dead-letter the job.
func (job *Job) Exhausted() bool {
	return job.Attempt+1 >= MaxRetries
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client  *redis.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewQueue creates a Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, timeout: PollTimeout}
}

// EnqueueExport enqueues a results export job.
func (q *Queue) EnqueueExport(ctx context.Context, payload ExportPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeExport,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, QueueExports, job); err != nil {
		return err
	}
	q.logger.Debug("export job enqueued",
		zap.String("job_id", job.ID),
		zap.String("export_id", payload.ExportID.String()),
	)
	return nil
}

// Dequeue waits up to PollTimeout for a job. A nil job means nothing arrived or the entry was
// undecodable; undecodable entries are moved to the dead-letter list.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, q.timeout, QueueExports).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", QueueExports, err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("undecodable job dead-lettered", zap.String("raw", result[1]), zap.Error(err))
		if perr := q.client.RPush(ctx, QueueDLQ, result[1]).Err(); perr != nil {
			q.logger.Error("dlq push failed", zap.Error(perr))
		}
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues job with its attempt incremented, or dead-letters it once MaxRetries is reached.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.String("job_id", job.ID), zap.Error(err))
			return err
		}
		q.logger.Warn("job dead-lettered", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, QueueExports, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Pending returns the number of export jobs waiting.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueExports).Result()
}

// DeadLetters returns up to limit dead-lettered jobs, oldest first. Entries that do not decode are skipped.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := q.client.LRange(ctx, QueueDLQ, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", QueueDLQ, err)
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (q *Queue) push(ctx context.Context, list string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, list, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", list, err)
	}
	return nil
}
