// Package httpapi serves replayd's operational endpoints: health probes,
// text metrics and the admin catalogue refresh.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arenareplay/engine/internal/auth"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/playback"
	"arenareplay/engine/internal/replay"
)

// PlaybackSource reports the playback position and session state.
type PlaybackSource interface {
	Summary(ctx context.Context) (playback.Summary, error)
}

// CatalogRefresher re-indexes recorded bundles and reports how many it saw.
type CatalogRefresher interface {
	RefreshCatalog(ctx context.Context) (int, error)
}

// CatalogRefresherFunc adapts a function into a CatalogRefresher.
type CatalogRefresherFunc func(ctx context.Context) (int, error)

// RefreshCatalog implements CatalogRefresher.
func (f CatalogRefresherFunc) RefreshCatalog(ctx context.Context) (int, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Playback    PlaybackSource
	Storage     func() replay.StorageStats
	LiveEvents  func() int64
	Catalog     CatalogRefresher
	AdminTokens *auth.Tokens
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the daemon's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	playback    PlaybackSource
	storage     func() replay.StorageStats
	liveEvents  func() int64
	catalog     CatalogRefresher
	tokens      *auth.Tokens
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		playback:    opts.Playback,
		storage:     opts.Storage,
		liveEvents:  opts.LiveEvents,
		catalog:     opts.Catalog,
		tokens:      opts.AdminTokens,
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/catalog/refresh", h.CatalogRefreshHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports ready once the session has received its game
// header and the player is still running.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		Phase         string  `json:"phase,omitempty"`
		Matches       int     `json:"matches"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok", UptimeSeconds: h.now().Sub(h.started).Seconds()}
		if h.playback == nil {
			resp.Status, resp.Message = "error", "playback not configured"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		summary, err := h.playback.Summary(r.Context())
		if err != nil {
			resp.Status, resp.Message = "error", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Phase = summary.Session.Phase
		resp.Matches = len(summary.Session.Matches)
		if summary.Session.Phase == "awaiting_header" {
			resp.Status, resp.Message = "waiting", "no game loaded yet"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		gauge(w, "replay_uptime_seconds", "Daemon uptime in seconds.", "%.0f", h.now().Sub(h.started).Seconds())

		if h.playback != nil {
			if summary, err := h.playback.Summary(r.Context()); err == nil {
				writePlaybackMetrics(w, summary)
			} else {
				h.logger.Debug("metrics skipped playback", logging.Error(err))
			}
		}
		if h.liveEvents != nil {
			counter(w, "replay_live_events_total", "Events received from the live feed.", "%d", h.liveEvents())
		}
		if h.storage != nil {
			stats := h.storage()
			gauge(w, "replay_bundles", "Recorded bundles retained on disk.", "%d", stats.Bundles)
			gauge(w, "replay_bundles_incomplete", "Retained bundles without a game footer.", "%d", stats.Incomplete)
			gauge(w, "replay_bundle_bytes", "Disk footprint of retained bundles in bytes.", "%d", stats.Bytes)
		}
	}
}

func writePlaybackMetrics(w http.ResponseWriter, s playback.Summary) {
	gauge(w, "replay_session_matches", "Matches opened in the session.", "%d", len(s.Session.Matches))
	gauge(w, "replay_round", "Round of the viewed world state.", "%d", s.Round)
	gauge(w, "replay_target_round", "Seek target of the viewed match.", "%d", s.Target)
	gauge(w, "replay_last_round", "Last recorded round of the viewed match.", "%d", s.LastRound)
	gauge(w, "replay_bodies", "Bodies alive in the viewed world state.", "%d", s.Bodies)
	counter(w, "replay_rounds_applied_total", "Round deltas applied by the viewed timeline.", "%d", s.Timeline.Applied)
	counter(w, "replay_snapshot_restores_total", "Snapshot restores by the viewed timeline.", "%d", s.Timeline.Restores)
	gauge(w, "replay_snapshots", "Snapshots held by the viewed timeline.", "%d", s.Timeline.Snapshots)
	counter(w, "replay_frames_total", "Playback frames observed since the match was selected.", "%d", s.Frames.Samples)
	counter(w, "replay_frame_overruns_total", "Frames whose advance exceeded the budget.", "%d", s.Frames.Overruns)
	gauge(w, "replay_frame_seconds_avg", "Average advance cost per frame.", "%.6f", s.Frames.Average.Seconds())
	gauge(w, "replay_frame_seconds_max", "Worst advance cost per frame.", "%.6f", s.Frames.Max.Seconds())
}

func gauge(w http.ResponseWriter, name, help, format string, value any) {
	metric(w, "gauge", name, help, format, value)
}

func counter(w http.ResponseWriter, name, help, format string, value any) {
	metric(w, "counter", name, help, format, value)
}

func metric(w http.ResponseWriter, kind, name, help, format string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s "+format+"\n", name, value)
}

// CatalogRefreshHandler authorises and triggers a catalogue re-index.
func (h *HandlerSet) CatalogRefreshHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		Bundles int    `json:"bundles"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "catalog_refresh"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.tokens == nil {
			reqLogger.Warn("catalog refresh denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		claims, err := h.tokens.Verify(bearerToken(r), auth.AudienceAdmin)
		if err != nil {
			reqLogger.Warn("catalog refresh denied: unauthorized request", logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		reqLogger = reqLogger.With(logging.String("subject", claims.Subject))
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("catalog refresh denied: rate limit exceeded")
			if waiter, ok := h.rateLimiter.(interface{ RetryAfter() time.Duration }); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(waiter.RetryAfter().Seconds()))))
			}
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.catalog == nil {
			reqLogger.Warn("catalog refresh denied: no catalogue configured")
			http.Error(w, "catalogue is unavailable", http.StatusServiceUnavailable)
			return
		}
		bundles, err := h.catalog.RefreshCatalog(r.Context())
		if err != nil {
			reqLogger.Error("catalog refresh failed", logging.Error(err))
			http.Error(w, "failed to refresh catalogue", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("catalog refreshed", logging.Int("bundles", bundles))
		writeJSON(w, http.StatusOK, response{Status: "refreshed", Bundles: bundles})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
