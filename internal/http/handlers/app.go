package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"server/internal/cache"
	"server/internal/domain"
	"server/internal/events"
	"server/internal/metrics"
	"server/internal/queue"
	"server/internal/ratelimit"
)

// JobQueue is the slice of the queue the HTTP layer needs.
type JobQueue interface {
	Enqueue(ctx context.Context, params queue.EnqueueParams) (string, error)
	GetStatus(ctx context.Context, jobID string) (*domain.Job, error)
	SweepStale(ctx context.Context, timeout time.Duration) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Ticker drives one worker pass from the cron endpoints.
type Ticker interface {
	RunOnce(ctx context.Context) (bool, error)
}

type App struct {
	Queue        JobQueue
	Ticker       Ticker
	Cache        *cache.Store
	Limiter      *ratelimit.Limiter
	Events       *events.Publisher
	Metrics      *metrics.Collector
	CronSecret   string
	RateLimit    int
	StaleTimeout time.Duration
	Logger       zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   map[string]string{"code": slug, "message": message},
	})
}

// identity resolves the rate-limit identity: the caller-supplied user id when
// present, the remote address otherwise.
func (a *App) identity(r *http.Request, userID string) string {
	if userID != "" {
		return userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
