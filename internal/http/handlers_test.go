package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arenareplay/engine/internal/auth"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/match"
	"arenareplay/engine/internal/playback"
	"arenareplay/engine/internal/replay"
	"arenareplay/engine/internal/timeline"
)

type stubPlayback struct {
	summary playback.Summary
	err     error
}

func (s *stubPlayback) Summary(context.Context) (playback.Summary, error) { return s.summary, s.err }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubCatalog struct {
	bundles int
	err     error
	calls   int
}

func (s *stubCatalog) RefreshCatalog(context.Context) (int, error) {
	s.calls++
	return s.bundles, s.err
}

func playingSummary() playback.Summary {
	return playback.Summary{
		Session:   match.Snapshot{Phase: "in_match", Matches: []match.MatchSummary{{Index: 0}, {Index: 1}}},
		Match:     1,
		Round:     12,
		Target:    40,
		LastRound: 55,
		Bodies:    9,
		Timeline:  timeline.Stats{Applied: 12, Restores: 1, Snapshots: 2},
		Frames:    playback.FrameStats{Samples: 30, Overruns: 2, Average: 2 * time.Millisecond, Max: 9 * time.Millisecond},
	}
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	handlers.LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadinessHandlerStates(t *testing.T) {
	cases := []struct {
		name   string
		source PlaybackSource
		code   int
		status string
	}{
		{name: "unconfigured", code: http.StatusServiceUnavailable, status: "error"},
		{name: "stopped", source: &stubPlayback{err: playback.ErrStopped}, code: http.StatusServiceUnavailable, status: "error"},
		{name: "waiting", source: &stubPlayback{summary: playback.Summary{Session: match.Snapshot{Phase: "awaiting_header"}}}, code: http.StatusServiceUnavailable, status: "waiting"},
		{name: "playing", source: &stubPlayback{summary: playingSummary()}, code: http.StatusOK, status: "ok"},
	}
	for _, tc := range cases {
		opts := Options{Logger: logging.NewTestLogger()}
		if tc.source != nil {
			opts.Playback = tc.source
		}
		rr := httptest.NewRecorder()
		NewHandlerSet(opts).ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, rr.Code)
		}
		var payload struct {
			Status  string `json:"status"`
			Matches int    `json:"matches"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
			t.Fatalf("%s: decode response: %v", tc.name, err)
		}
		if payload.Status != tc.status {
			t.Fatalf("%s: expected status %q, got %q", tc.name, tc.status, payload.Status)
		}
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := start
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Playback:   &stubPlayback{summary: playingSummary()},
		LiveEvents: func() int64 { return 77 },
		Storage: func() replay.StorageStats {
			return replay.StorageStats{Bundles: 3, Incomplete: 1, Bytes: 4096}
		},
		TimeSource: func() time.Time { return now },
	})
	now = start.Add(90 * time.Second)

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"replay_uptime_seconds 90",
		"replay_session_matches 2",
		"replay_round 12",
		"replay_target_round 40",
		"replay_rounds_applied_total 12",
		"replay_snapshot_restores_total 1",
		"replay_frame_overruns_total 2",
		"replay_frame_seconds_max 0.009000",
		"replay_live_events_total 77",
		"replay_bundles 3",
		"replay_bundle_bytes 4096",
		"# TYPE replay_frames_total counter",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestCatalogRefreshHandlerAuthAndRateLimits(t *testing.T) {
	tokens, err := auth.NewTokens("ops-secret", 0)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	admin, err := tokens.Issue("ops", auth.AudienceAdmin, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	feed, err := tokens.Issue("replayd", auth.AudienceFeed, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	catalog := &stubCatalog{bundles: 4}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Catalog:     catalog,
		AdminTokens: tokens,
		RateLimiter: &stubLimiter{remaining: 1},
	})
	serve := func(method, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/catalog/refresh", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		handlers.CatalogRefreshHandler().ServeHTTP(rr, req)
		return rr
	}

	if rr := serve(http.MethodGet, admin); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr := serve(http.MethodPost, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := serve(http.MethodPost, feed); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for feed token, got %d", rr.Code)
	}
	rr := serve(http.MethodPost, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status  string `json:"status"`
		Bundles int    `json:"bundles"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Bundles != 4 || catalog.calls != 1 {
		t.Fatalf("unexpected refresh result %+v after %d calls", payload, catalog.calls)
	}
	if rr := serve(http.MethodPost, admin); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestCatalogRefreshHandlerFailures(t *testing.T) {
	tokens, err := auth.NewTokens("ops-secret", 0)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	admin, err := tokens.Issue("ops", auth.AudienceAdmin, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	serve := func(opts Options) int {
		opts.Logger = logging.NewTestLogger()
		req := httptest.NewRequest(http.MethodPost, "/catalog/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+admin)
		rr := httptest.NewRecorder()
		NewHandlerSet(opts).CatalogRefreshHandler().ServeHTTP(rr, req)
		return rr.Code
	}
	if code := serve(Options{Catalog: &stubCatalog{}}); code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin auth, got %d", code)
	}
	if code := serve(Options{AdminTokens: tokens}); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without catalogue, got %d", code)
	}
	if code := serve(Options{AdminTokens: tokens, Catalog: &stubCatalog{err: errors.New("disk full")}}); code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on refresh failure, got %d", code)
	}
}

func TestRateLimitedRefreshSetsRetryAfter(t *testing.T) {
	tokens, err := auth.NewTokens("ops-secret", 0)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	admin, err := tokens.Issue("ops", auth.AudienceAdmin, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Catalog:     &stubCatalog{bundles: 1},
		AdminTokens: tokens,
		RateLimiter: NewSlidingWindowLimiter(time.Minute, 1, func() time.Time { return now }),
	})
	mux := http.NewServeMux()
	handlers.Register(mux)

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/catalog/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+admin)
		last = httptest.NewRecorder()
		mux.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests || last.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After 60, got %d %q", last.Code, last.Header().Get("Retry-After"))
	}
}
