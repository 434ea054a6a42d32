package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"arenareplay/engine/internal/config"
)

const backupStamp = "20060102T150405"

// rotatingFile appends to one log file and moves it aside once a write would
// push it past limit. Backups are named <path>.<UTC stamp>-<seq>[.gz] so a
// lexical sort lists them oldest first.
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	maxAge  time.Duration
	gzip    bool
	now     func() time.Time

	out     *os.File
	written int64
	seq     int
}

func openRotatingFile(cfg config.LoggingConfig) (*rotatingFile, error) {
	switch {
	case cfg.MaxSizeMB <= 0:
		return nil, fmt.Errorf("log max size must be positive, got %d MB", cfg.MaxSizeMB)
	case cfg.MaxBackups < 0:
		return nil, fmt.Errorf("log max backups must be non-negative, got %d", cfg.MaxBackups)
	case cfg.MaxAgeDays < 0:
		return nil, fmt.Errorf("log max age must be non-negative, got %d days", cfg.MaxAgeDays)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	r := &rotatingFile{
		path:    cfg.Path,
		limit:   int64(cfg.MaxSizeMB) << 20,
		backups: cfg.MaxBackups,
		maxAge:  time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		gzip:    cfg.Compress,
		now:     time.Now,
	}
	if err := r.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open(mode int) error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.out, r.written = file, info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return 0, os.ErrClosed
	}
	//1.- A line longer than the limit still goes to a fresh file.
	if r.written > 0 && r.written+int64(len(p)) > r.limit {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.out.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *rotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return nil
	}
	return r.out.Sync()
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return nil
	}
	err := r.out.Close()
	r.out = nil
	return err
}

func (r *rotatingFile) rotate() error {
	if err := r.out.Close(); err != nil {
		return err
	}
	r.out = nil
	r.seq++
	backup := fmt.Sprintf("%s.%s-%04d", r.path, r.now().UTC().Format(backupStamp), r.seq)
	if err := os.Rename(r.path, backup); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	if r.gzip {
		//1.- A failed compression leaves the plain backup in place.
		_ = gzipFile(backup)
	}
	r.prune()
	return r.open(os.O_TRUNC)
}

// prune drops the oldest backups beyond the count limit and any backup older
// than maxAge.
func (r *rotatingFile) prune() {
	names, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return
	}
	sort.Strings(names)
	excess := 0
	if r.backups > 0 {
		excess = len(names) - r.backups
	}
	cutoff := r.now().Add(-r.maxAge)
	for i, name := range names {
		stale := i < excess
		if !stale && r.maxAge > 0 {
			if info, err := os.Stat(name); err == nil && info.ModTime().Before(cutoff) {
				stale = true
			}
		}
		if stale {
			_ = os.Remove(name)
		}
	}
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	out, err := os.Create(path + ".gz")
	if err != nil {
		_ = in.Close()
		return err
	}
	gz := gzip.NewWriter(out)
	_, copyErr := io.Copy(gz, in)
	if err := errors.Join(copyErr, gz.Close(), out.Close(), in.Close()); err != nil {
		_ = os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}
