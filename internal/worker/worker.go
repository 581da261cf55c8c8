package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/domain/gamecfg"
	"server/internal/metrics"
	"server/internal/orchestrator"
	"server/internal/queue"
)

// maxErrorMessageLen caps what gets persisted on a failed job so a huge
// provider response body cannot bloat the ledger.
const maxErrorMessageLen = 500

// DefaultPollInterval is used when Options leaves PollInterval zero.
const DefaultPollInterval = 2 * time.Second

// Generator runs one generation request end-to-end.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*domain.GenerationResult, error)
}

// Options wires a Worker.
type Options struct {
	Queue        *queue.Queue
	Generator    Generator
	Metrics      *metrics.Collector
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Worker is the queue's single-minded consumer: it pulls one job at a time,
// runs the generation pipeline on it and records the outcome. Several worker
// processes can run side by side; the queue hands each job to exactly one.
type Worker struct {
	queue        *queue.Queue
	generator    Generator
	metrics      *metrics.Collector
	pollInterval time.Duration
	logger       zerolog.Logger
}

// New builds a Worker. Queue and Generator are required.
func New(opts Options) (*Worker, error) {
	if opts.Queue == nil || opts.Generator == nil {
		return nil, fmt.Errorf("worker: missing collaborator")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		queue:        opts.Queue,
		generator:    opts.Generator,
		metrics:      opts.Metrics,
		pollInterval: interval,
		logger:       opts.Logger,
	}, nil
}

// RunOnce handles at most one pending job. It reports whether a job was
// picked up; the returned error covers queue access only. A failed or
// panicking generation is recorded on the job and never escapes, so one
// poisoned job cannot take the loop down.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

// Run polls the queue until ctx is cancelled. After handling a job it polls
// again immediately to drain bursts; an idle queue is re-checked every poll
// interval, and queue outages back off harder before retrying.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("worker: started")
	for {
		processed, err := w.RunOnce(ctx)

		var delay time.Duration
		switch {
		case err != nil:
			w.logger.Error().Err(err).Msg("worker: dequeue failed, backing off")
			delay = 5 * w.pollInterval
		case processed:
			delay = 0
		default:
			delay = w.pollInterval
		}

		if delay == 0 {
			if ctx.Err() != nil {
				w.logger.Info().Msg("worker: stopping")
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker: stopping")
			return
		case <-time.After(delay):
		}
	}
}

func (w *Worker) process(ctx context.Context, job *domain.Job) {
	start := time.Now()
	log := w.logger.With().Str("job_id", job.ID).Str("template", string(job.Template)).Logger()
	log.Info().Msg("worker: job picked up")

	result, err := w.generate(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("worker: generation failed")
		if completeErr := w.queue.Complete(ctx, job.ID, "", truncate(err.Error())); completeErr != nil {
			log.Error().Err(completeErr).Msg("worker: failed to record job failure")
		}
		if w.metrics != nil {
			w.metrics.JobsFailed.Inc()
		}
		return
	}

	if completeErr := w.queue.Complete(ctx, job.ID, result.ArtifactKey, ""); completeErr != nil {
		log.Error().Err(completeErr).Msg("worker: failed to record job completion")
		return
	}
	if w.metrics != nil {
		w.metrics.JobsCompleted.Inc()
		w.metrics.JobDurationSeconds.Observe(time.Since(start).Seconds())
	}
	log.Info().
		Str("artifact", result.ArtifactKey).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", time.Since(start)).
		Msg("worker: job completed")
}

// generate decodes the job's stored config into a generation request and runs
// it, converting a panic anywhere below into an ordinary error.
func (w *Worker) generate(ctx context.Context, job *domain.Job) (result *domain.GenerationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()

	cfg, err := gamecfg.Decode(job.ConfigJSON)
	if err != nil {
		return nil, err
	}

	return w.generator.Generate(ctx, orchestrator.Request{
		JobID:      job.ID,
		UserID:     job.UserID,
		Template:   job.Template,
		Theme:      cfg.Theme,
		Player:     cfg.Player,
		Difficulty: cfg.Difficulty,
		Mechanics:  cfg.Mechanics,
		Enemies:    cfg.Enemies,
		Style:      cfg.Style,
		Prompt:     job.Prompt,
	})
}

func truncate(s string) string {
	if len(s) > maxErrorMessageLen {
		return s[:maxErrorMessageLen]
	}
	return s
}
