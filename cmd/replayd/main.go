// Command replayd serves match playback over gRPC. It replays a recorded
// bundle or follows a live websocket feed, optionally recording it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"arenareplay/engine/internal/auth"
	"arenareplay/engine/internal/config"
	"arenareplay/engine/internal/events"
	httpapi "arenareplay/engine/internal/http"
	"arenareplay/engine/internal/live"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/match"
	"arenareplay/engine/internal/playback"
	"arenareplay/engine/internal/replay"
	"arenareplay/engine/internal/rpc"
	"arenareplay/engine/tools/replay_catalog"
)

const (
	shutdownGrace   = 5 * time.Second
	retentionSweeps = time.Hour
	feedTokenTTL    = time.Hour
	refreshWindow   = time.Minute
	refreshLimit    = 6
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("replayd stopped", logging.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := match.NewSession(
		match.WithSessionLogger(logger),
		match.WithSessionSnapshotInterval(cfg.SnapshotInterval),
	)
	player := playback.New(session,
		playback.WithFrameRate(cfg.FrameRate),
		playback.WithFrameBudget(cfg.FrameBudget),
		playback.WithRoundsPerSecond(cfg.RoundsPerSecond),
		playback.WithLogger(logger),
	)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		player.Run(ctx)
	}()

	//1.- Security options fail fast before any listener is opened.
	securityOpts, err := rpc.SecurityOptions(cfg.GRPC, logger)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	server := rpc.NewServer(rpc.NewService(player), logger, securityOpts...)
	serveErr := make(chan error, 2)
	go func() { serveErr <- server.Serve(listener) }()
	defer stopGRPC(server)
	logger.Info("timeline service listening",
		logging.String("addr", listener.Addr().String()),
		logging.String("dial", dialTarget(listener.Addr().String())),
	)

	var follow *follower
	if cfg.LiveURL != "" {
		if follow, err = newFollower(cfg, player, logger); err != nil {
			return err
		}
	}

	if cfg.HTTPAddr != "" {
		opsServer, err := newOpsServer(cfg, player, follow, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("ops server: %w", err)
			}
		}()
		defer stopHTTP(opsServer)
		logger.Info("ops endpoints listening", logging.String("url", opsURL(cfg.HTTPAddr)))
	}

	//2.- Load the configured source; live feeds run alongside the servers.
	switch {
	case cfg.BundlePath != "":
		if err := loadBundle(ctx, player, cfg.BundlePath, logger); err != nil {
			return err
		}
	case follow != nil:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := follow.Run(ctx); err != nil {
				logger.Error("live feed stopped", logging.Error(err))
			}
		}()
	default:
		logger.Warn("no bundle or live feed configured; serving an empty session")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-serveErr:
		return err
	}
}

// loadBundle replays a recorded bundle into the player.
func loadBundle(ctx context.Context, player *playback.Player, path string, logger *logging.Logger) error {
	bundle, err := replay.ReadBundle(path)
	if err != nil {
		return err
	}
	if !bundle.Manifest.Complete {
		logger.Warn("bundle is incomplete", logging.String("bundle", bundle.Dir))
	}
	err = bundle.Replay(func(env events.Envelope) error { return player.Ingest(ctx, env) })
	if err != nil {
		return fmt.Errorf("%s: %w", bundle.Dir, err)
	}
	logger.Info("bundle loaded",
		logging.String("bundle", bundle.Dir),
		logging.Int("events", bundle.Manifest.Events),
		logging.Int("matches", len(bundle.Manifest.Matches)),
	)
	return nil
}

// follower streams a live feed into the player and records it when a record
// directory is configured.
type follower struct {
	cfg     *config.Config
	log     *logging.Logger
	feed    *live.Feed
	writer  *replay.Writer
	cleaner *replay.Cleaner
}

func newFollower(cfg *config.Config, player *playback.Player, logger *logging.Logger) (*follower, error) {
	f := &follower{cfg: cfg, log: logger}
	opts := []live.Option{live.WithLogger(logger)}
	if cfg.LiveTokenSecret != "" {
		tokens, err := auth.NewTokens(cfg.LiveTokenSecret, 0)
		if err != nil {
			return nil, err
		}
		token, err := tokens.Issue("replayd", auth.AudienceFeed, feedTokenTTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, live.WithHeader(http.Header{"Authorization": []string{"Bearer " + token}}))
	}
	if cfg.RecordDir != "" {
		writer, err := replay.NewWriter(cfg.RecordDir, "live", nil)
		if err != nil {
			return nil, fmt.Errorf("open recording: %w", err)
		}
		f.writer = writer
		f.cleaner = replay.NewCleaner(cfg.RecordDir, replay.RetentionPolicy{
			MaxBundles: cfg.Retention.MaxBundles,
			MaxAge:     cfg.Retention.MaxAge,
		}, logger)
		opts = append(opts, live.WithRecorder(writer))
	}
	f.feed = live.NewFeed(cfg.LiveURL, player, opts...)
	return f, nil
}

// Run follows the feed to its end, then finalises the recording.
func (f *follower) Run(ctx context.Context) error {
	if f.cleaner != nil {
		sweepCtx, stopSweeps := context.WithCancel(ctx)
		swept := make(chan struct{})
		go func() {
			defer close(swept)
			f.cleaner.Run(sweepCtx, retentionSweeps)
		}()
		defer func() {
			stopSweeps()
			<-swept
		}()
	}

	err := f.feed.Run(ctx)
	if live.IsClosed(err) {
		err = nil
	}
	f.log.Info("live feed finished", logging.Int64("events", f.feed.Received()))

	if f.writer != nil {
		if closeErr := f.writer.Close(); closeErr != nil {
			return errors.Join(err, fmt.Errorf("close recording: %w", closeErr))
		}
		if f.cfg.CatalogDB != "" {
			if _, catErr := refreshCatalog(context.WithoutCancel(ctx), f.cfg.RecordDir, f.cfg.CatalogDB); catErr != nil {
				f.log.Warn("catalogue refresh failed", logging.Error(catErr))
			}
		}
	}
	return err
}

// refreshCatalog mirrors every bundle under dir into the SQLite index.
func refreshCatalog(ctx context.Context, dir, dbPath string) (int, error) {
	entries, err := replaycatalog.List(dir)
	if err != nil {
		return 0, err
	}
	index, err := replaycatalog.OpenIndex(dbPath)
	if err != nil {
		return 0, err
	}
	defer index.Close()
	if err := index.Sync(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func newOpsServer(cfg *config.Config, player *playback.Player, follow *follower, logger *logging.Logger) (*http.Server, error) {
	opts := httpapi.Options{
		Logger:      logger,
		Playback:    player,
		RateLimiter: httpapi.NewSlidingWindowLimiter(refreshWindow, refreshLimit, nil),
	}
	if follow != nil {
		opts.LiveEvents = follow.feed.Received
		if follow.cleaner != nil {
			opts.Storage = follow.cleaner.Stats
		}
	}
	if cfg.RecordDir != "" && cfg.CatalogDB != "" {
		opts.Catalog = httpapi.CatalogRefresherFunc(func(ctx context.Context) (int, error) {
			return refreshCatalog(ctx, cfg.RecordDir, cfg.CatalogDB)
		})
	}
	if cfg.AdminSecret != "" {
		tokens, err := auth.NewTokens(cfg.AdminSecret, 30*time.Second)
		if err != nil {
			return nil, err
		}
		opts.AdminTokens = tokens
	}
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(opts).Register(mux)
	return &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, nil
}

func stopGRPC(server *grpc.Server) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		server.Stop()
	}
}

func stopHTTP(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = server.Shutdown(ctx)
}
