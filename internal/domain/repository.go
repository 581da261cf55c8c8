package domain

import (
	"context"
	"time"
)

// JobRecordStore persists job records. The queue's ordering structure lives
// elsewhere; this is the status ledger only.
type JobRecordStore interface {
	Create(ctx context.Context, job *Job) error
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) (*Job, error)
	Complete(ctx context.Context, jobID string, resultRef, errMsg string) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	SweepStale(ctx context.Context, olderThan time.Time, message string) (int, error)
	Counts(ctx context.Context, recentWindow time.Duration) (pending, processing, recent int, err error)
}

// ArtifactStore persists packaged game artifacts.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// EventPublisher emits best-effort analytics events. Implementations must
// never let a publish failure propagate to the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}
