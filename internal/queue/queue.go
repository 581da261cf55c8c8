package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/domain/gamecfg"
)

// pendingKey is the sorted set holding one entry per PENDING job, scored by
// priority. Popping the minimum is the queue's single point of mutual
// exclusion.
const pendingKey = "queue:jobs:pending"

// staleMessage marks jobs failed by the sweep, distinct from generation
// failures so operators can tell crashed workers from provider errors.
const staleMessage = "job timed out in PROCESSING; worker presumed crashed"

// RecentWindow bounds the "recent jobs" stat.
const RecentWindow = 24 * time.Hour

// EnqueueParams describes one generation request to be queued.
type EnqueueParams struct {
	Prompt   string
	Template domain.TemplateKind
	UserID   string
	Priority *int
	Config   gamecfg.Config
}

// Stats is a point-in-time summary of queue depth.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	RecentJobs int `json:"recentJobs"`
}

// Queue is a priority job queue: a persistent status ledger plus an ordered
// Redis structure of pending job ids. Mutual exclusion for dequeue is pushed
// down into Redis (ZPOPMIN) so any number of worker processes can share it.
type Queue struct {
	client  *redis.Client
	records domain.JobRecordStore
	logger  zerolog.Logger
}

// New builds a Queue over the shared Redis client and the record store.
func New(client *redis.Client, records domain.JobRecordStore, logger zerolog.Logger) *Queue {
	return &Queue{client: client, records: records, logger: logger}
}

// Enqueue persists a PENDING job record and inserts its pointer into the
// ordered structure. If the pointer insert fails after the record was
// persisted the job is orphaned: the error is returned and the record kept,
// recoverable by a future reconciliation sweep.
func (q *Queue) Enqueue(ctx context.Context, params EnqueueParams) (string, error) {
	priority := domain.DefaultPriority
	if params.Priority != nil {
		priority = *params.Priority
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		Prompt:     params.Prompt,
		Template:   params.Template,
		UserID:     params.UserID,
		Priority:   priority,
		ConfigJSON: gamecfg.MustMarshal(params.Config),
		Status:     domain.JobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := q.records.Create(ctx, job); err != nil {
		return "", fmt.Errorf("queue: persist job record: %w", err)
	}

	err := q.client.ZAdd(ctx, pendingKey, redis.Z{
		Score:  float64(priority),
		Member: job.ID,
	}).Err()
	if err != nil {
		q.logger.Error().Err(err).Str("job_id", job.ID).
			Msg("queue: pending record orphaned, ordering insert failed")
		return "", fmt.Errorf("queue: insert ordering entry: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}

	return job.ID, nil
}

// Dequeue atomically removes the minimum-priority pending entry and marks
// its record PROCESSING. Returns (nil, nil) when the queue is empty. At most
// one caller can receive a given job: the pop removes the ordering entry
// before anyone else can see it.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	popped, err := q.client.ZPopMin(ctx, pendingKey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: pop pending entry: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}
	if len(popped) == 0 {
		return nil, nil
	}

	jobID, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("queue: unexpected member type %T", popped[0].Member)
	}

	job, err := q.records.MarkProcessing(ctx, jobID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Entry pointed at a record that was swept or never committed.
			// The pop already consumed it; nothing to hand out.
			q.logger.Warn().Str("job_id", jobID).Msg("queue: dropped dangling ordering entry")
			return nil, nil
		}
		return nil, fmt.Errorf("queue: mark processing %s: %w", jobID, err)
	}
	return job, nil
}

// Complete transitions the job to COMPLETED when errMsg is empty, FAILED
// otherwise. A job already in a terminal state is left untouched: if the
// sweep failed it while a slow worker was still generating, the sweep's
// verdict stands and the late result is discarded.
func (q *Queue) Complete(ctx context.Context, jobID, resultRef, errMsg string) error {
	if err := q.records.Complete(ctx, jobID, resultRef, errMsg); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			q.logger.Warn().Str("job_id", jobID).Err(err).
				Msg("queue: late completion discarded, job already terminal")
			return nil
		}
		return fmt.Errorf("queue: complete %s: %w", jobID, err)
	}
	return nil
}

// GetStatus returns the current job record.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.records.GetByID(ctx, jobID)
}

// SweepStale fails every record stuck in PROCESSING longer than timeout and
// returns how many were swept. Swept jobs are never requeued automatically.
func (q *Queue) SweepStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	n, err := q.records.SweepStale(ctx, cutoff, staleMessage)
	if err != nil {
		return 0, fmt.Errorf("queue: sweep stale: %w", err)
	}
	if n > 0 {
		q.logger.Warn().Int("count", n).Msg("queue: swept stale processing jobs")
	}
	return n, nil
}

// Stats summarizes queue depth from the status ledger.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pending, processing, recent, err := q.records.Counts(ctx, RecentWindow)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{Pending: pending, Processing: processing, RecentJobs: recent}, nil
}
