package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorized checks the cron bearer token. An unset secret disables the
// endpoints entirely rather than leaving them open.
func (a *App) authorized(r *http.Request) bool {
	if a.CronSecret == "" {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.CronSecret)) == 1
}

// WorkerTick runs one queue pass. Meant for scheduled invocation on platforms
// without a long-lived worker process.
func (a *App) WorkerTick(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing or invalid cron secret")
		return
	}
	processed, err := a.Ticker.RunOnce(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: worker tick failed")
		a.error(w, http.StatusInternalServerError, "internal", "worker tick failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "processed": processed})
}

// WorkerSweep fails jobs stuck in PROCESSING past the stale timeout.
func (a *App) WorkerSweep(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing or invalid cron secret")
		return
	}
	cleared, err := a.Queue.SweepStale(r.Context(), a.StaleTimeout)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: sweep failed")
		a.error(w, http.StatusInternalServerError, "internal", "sweep failed")
		return
	}
	if a.Metrics != nil && cleared > 0 {
		a.Metrics.JobsFailed.Add(float64(cleared))
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "clearedJobs": cleared})
}
