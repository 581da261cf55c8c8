package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/cache"
	"server/internal/domain"
	"server/internal/domain/gamecfg"
	"server/internal/events"
	"server/internal/queue"
)

// defaultPlayer stands in when a request carries only a prompt and no
// structured config.
const defaultPlayer = "a determined hero ready for adventure"

type createJobRequest struct {
	Prompt   string          `json:"prompt"`
	Template string          `json:"template"`
	UserID   string          `json:"userId"`
	Priority *int            `json:"priority"`
	Config   *gamecfg.Config `json:"config"`
}

type createJobResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"jobId,omitempty"`
	Status    string `json:"status,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	ResultRef string `json:"resultRef,omitempty"`
}

type jobView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Template    string     `json:"template"`
	Prompt      string     `json:"prompt"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ResultRef   string     `json:"resultRef,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// JobsCreate accepts a generation request: validate, rate-limit, consult the
// result cache, dedup in-flight duplicates, then enqueue.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}

	template := domain.TemplateKind(req.Template)
	if req.Template == "" {
		template = domain.DefaultTemplate
	}
	if !domain.KnownTemplate(template) {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown template kind")
		return
	}

	cfg := gamecfg.Config{}
	if req.Config != nil {
		cfg = *req.Config
	}
	if cfg.Theme == "" {
		cfg.Theme = req.Prompt
	}
	if cfg.Player == "" {
		cfg.Player = defaultPlayer
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	identity := a.identity(r, req.UserID)
	if a.Limiter != nil && a.RateLimit > 0 {
		decision, err := a.Limiter.CheckAndConsume(r.Context(), identity, a.RateLimit)
		if err != nil {
			a.Logger.Error().Err(err).Msg("handlers: rate limit check failed")
			a.error(w, http.StatusInternalServerError, "internal", "rate limit check failed")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			if a.Metrics != nil {
				a.Metrics.RateLimited.Inc()
			}
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			a.json(w, http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   map[string]string{"code": "rate_limited", "message": "too many generation requests"},
				"resetAt": decision.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}
	}

	// Fast path: an identical recent generation is served straight from the
	// cache without touching the queue. A cache outage degrades to enqueueing.
	if a.Cache != nil {
		var cached domain.GenerationResult
		found, err := a.Cache.Get(r.Context(), cache.ResultKey(template, req.Prompt), &cached)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("handlers: result cache lookup failed")
		}
		if found {
			if a.Metrics != nil {
				a.Metrics.CacheHits.Inc()
			}
			a.Events.Publish(r.Context(), events.CacheHit, map[string]any{
				"template": string(template),
				"user_id":  identity,
			})
			a.json(w, http.StatusOK, createJobResponse{
				Success:   true,
				Cached:    true,
				ResultRef: cached.ArtifactKey,
			})
			return
		}

		acquired, err := a.Cache.SetNX(r.Context(), cache.InFlightKey(identity, template, req.Prompt), 1, cache.InFlightTTL)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("handlers: in-flight dedup unavailable")
		} else if !acquired {
			a.error(w, http.StatusConflict, "conflict", "an identical generation is already in flight")
			return
		}
	}

	jobID, err := a.Queue.Enqueue(r.Context(), queue.EnqueueParams{
		Prompt:   req.Prompt,
		Template: template,
		UserID:   req.UserID,
		Priority: req.Priority,
		Config:   cfg,
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	if a.Metrics != nil {
		a.Metrics.JobsEnqueued.Inc()
	}
	a.Events.Publish(r.Context(), events.JobEnqueued, map[string]any{
		"job_id":   jobID,
		"template": string(template),
	})
	a.json(w, http.StatusAccepted, createJobResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(domain.JobStatusPending),
	})
}

// JobStatus returns the current record for one job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return
	}

	job, err := a.Queue.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "Job not found.")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: status lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"job": jobView{
			ID:          job.ID,
			Status:      string(job.Status),
			Template:    string(job.Template),
			Prompt:      job.Prompt,
			Priority:    job.Priority,
			CreatedAt:   job.CreatedAt,
			StartedAt:   job.StartedAt,
			CompletedAt: job.CompletedAt,
			ResultRef:   job.ResultRef,
			Error:       job.ErrorMessage,
		},
	})
}

// JobsStats summarizes queue depth.
func (a *App) JobsStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Queue.Stats(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: stats failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	if a.Metrics != nil {
		a.Metrics.JobsPending.Set(float64(stats.Pending))
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}
