package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REPLAY_CONFIG_FILE",
		"REPLAY_SNAPSHOT_INTERVAL",
		"REPLAY_FRAME_BUDGET",
		"REPLAY_FRAME_RATE",
		"REPLAY_ROUNDS_PER_SECOND",
		"REPLAY_GRPC_ADDR",
		"REPLAY_LIVE_URL",
		"REPLAY_LIVE_TOKEN_SECRET",
		"REPLAY_HTTP_ADDR",
		"REPLAY_ADMIN_SECRET",
		"REPLAY_GRPC_AUTH_MODE",
		"REPLAY_GRPC_SHARED_SECRET",
		"REPLAY_GRPC_SERVER_CERT",
		"REPLAY_GRPC_SERVER_KEY",
		"REPLAY_GRPC_CLIENT_CA",
		"REPLAY_BUNDLE_PATH",
		"REPLAY_CATALOG_DB",
		"REPLAY_RECORD_DIR",
		"REPLAY_RETAIN_BUNDLES",
		"REPLAY_RETAIN_AGE",
		"REPLAY_LOG_LEVEL",
		"REPLAY_LOG_PATH",
		"REPLAY_LOG_MAX_SIZE_MB",
		"REPLAY_LOG_MAX_BACKUPS",
		"REPLAY_LOG_MAX_AGE_DAYS",
		"REPLAY_LOG_COMPRESS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.SnapshotInterval != DefaultSnapshotInterval {
		t.Fatalf("expected default interval %d, got %d", DefaultSnapshotInterval, cfg.SnapshotInterval)
	}
	if cfg.FrameBudget != DefaultFrameBudget {
		t.Fatalf("expected default frame budget %v, got %v", DefaultFrameBudget, cfg.FrameBudget)
	}
	if cfg.GRPCAddr != DefaultGRPCAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultGRPCAddr, cfg.GRPCAddr)
	}
	if cfg.Logging.Path != DefaultLogPath || !cfg.Logging.Compress {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLAY_SNAPSHOT_INTERVAL", "32")
	t.Setenv("REPLAY_FRAME_BUDGET", "4ms")
	t.Setenv("REPLAY_FRAME_RATE", "30")
	t.Setenv("REPLAY_ROUNDS_PER_SECOND", "0")
	t.Setenv("REPLAY_GRPC_ADDR", "127.0.0.1:9000")
	t.Setenv("REPLAY_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.SnapshotInterval != 32 || cfg.FrameBudget != 4*time.Millisecond || cfg.FrameRate != 30 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RoundsPerSecond != 0 {
		t.Fatalf("expected paused auto-play, got %v", cfg.RoundsPerSecond)
	}
	if cfg.GRPCAddr != "127.0.0.1:9000" || cfg.Logging.Compress {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestLoadAggregatesProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLAY_SNAPSHOT_INTERVAL", "0")
	t.Setenv("REPLAY_FRAME_BUDGET", "soon")
	t.Setenv("REPLAY_LOG_MAX_BACKUPS", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid overrides")
	}
	for _, key := range []string{"REPLAY_SNAPSHOT_INTERVAL", "REPLAY_FRAME_BUDGET", "REPLAY_LOG_MAX_BACKUPS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "replay.yaml")
	contents := `snapshot_interval: 16
frame_budget: 2ms
grpc_addr: "0.0.0.0:7000"
record_dir: /var/replays
retention:
  max_bundles: 4
  max_age: 72h
logging:
  level: debug
  max_backups: 3
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REPLAY_CONFIG_FILE", path)
	t.Setenv("REPLAY_SNAPSHOT_INTERVAL", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.SnapshotInterval != 8 {
		t.Fatalf("environment must win over file, got %d", cfg.SnapshotInterval)
	}
	if cfg.FrameBudget != 2*time.Millisecond || cfg.GRPCAddr != "0.0.0.0:7000" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.MaxBackups != 3 {
		t.Fatalf("file logging values not applied: %+v", cfg.Logging)
	}
	if cfg.RecordDir != "/var/replays" || cfg.Retention.MaxBundles != 4 || cfg.Retention.MaxAge != 72*time.Hour {
		t.Fatalf("file retention values not applied: %+v", cfg)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("absent file keys must keep defaults, got %d", cfg.Logging.MaxSizeMB)
	}
}

func TestLoadRejectsInvalidFileValues(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "replay.yaml")
	if err := os.WriteFile(path, []byte("snapshot_interval: -4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REPLAY_CONFIG_FILE", path)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "snapshot interval") {
		t.Fatalf("expected snapshot interval problem, got %v", err)
	}

	t.Setenv("REPLAY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsBundleAndLiveTogether(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLAY_BUNDLE_PATH", "/tmp/match")
	t.Setenv("REPLAY_LIVE_URL", "ws://localhost:1/live")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected exclusivity problem, got %v", err)
	}
}

func TestLoadRetentionOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLAY_RECORD_DIR", "recordings")
	t.Setenv("REPLAY_RETAIN_BUNDLES", "0")
	t.Setenv("REPLAY_RETAIN_AGE", "36h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.RecordDir != "recordings" || cfg.Retention.MaxBundles != 0 || cfg.Retention.MaxAge != 36*time.Hour {
		t.Fatalf("unexpected retention %+v", cfg.Retention)
	}

	t.Setenv("REPLAY_RETAIN_BUNDLES", "-1")
	t.Setenv("REPLAY_RETAIN_AGE", "soon")
	_, err = Load()
	if err == nil || !strings.Contains(err.Error(), "REPLAY_RETAIN_BUNDLES") || !strings.Contains(err.Error(), "REPLAY_RETAIN_AGE") {
		t.Fatalf("expected both retention problems, got %v", err)
	}
}

func TestLoadGRPCSecurity(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GRPC.AuthMode != GRPCAuthModeNone {
		t.Fatalf("expected no auth by default, got %q", cfg.GRPC.AuthMode)
	}

	t.Setenv("REPLAY_GRPC_AUTH_MODE", "Shared_Secret")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REPLAY_GRPC_SHARED_SECRET") {
		t.Fatalf("expected missing secret problem, got %v", err)
	}
	t.Setenv("REPLAY_GRPC_SHARED_SECRET", "hunter2")
	cfg, err = Load()
	if err != nil || cfg.GRPC.AuthMode != GRPCAuthModeSharedSecret || cfg.GRPC.SharedSecret != "hunter2" {
		t.Fatalf("unexpected shared secret config %+v err %v", cfg, err)
	}

	t.Setenv("REPLAY_GRPC_AUTH_MODE", "mtls")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "mtls") {
		t.Fatalf("expected mtls path problem, got %v", err)
	}
	t.Setenv("REPLAY_GRPC_AUTH_MODE", "kerberos")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REPLAY_GRPC_AUTH_MODE") {
		t.Fatalf("expected unknown mode problem, got %v", err)
	}
}

func TestLoadOpsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLAY_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("REPLAY_ADMIN_SECRET", " admin-secret ")
	t.Setenv("REPLAY_LIVE_TOKEN_SECRET", "feed-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" || cfg.AdminSecret != "admin-secret" || cfg.LiveTokenSecret != "feed-secret" {
		t.Fatalf("unexpected ops config %+v", cfg)
	}
}
