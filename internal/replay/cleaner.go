package replay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arenareplay/engine/internal/logging"
)

// RetentionPolicy bounds the recorded bundles kept on disk. Zero disables a
// limit.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of retained bundles.
type StorageStats struct {
	Bundles    int
	Incomplete int
	Bytes      int64
	LastSweep  time.Time
}

// Cleaner prunes bundle directories under one root according to a policy.
// Directories without a manifest are left alone.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided bundle root.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the statistics of the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type storedBundle struct {
	path     string
	created  time.Time
	size     int64
	complete bool
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	bundles, err := c.collect()
	if err != nil {
		c.log.Warn("bundle retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	now := c.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, bundle := range bundles {
		if reason := c.expired(bundle, now, kept); reason != "" {
			if err := os.RemoveAll(bundle.path); err != nil {
				c.log.Warn("bundle retention removal failed", logging.Error(err), logging.String("bundle", bundle.path))
			} else {
				c.log.Info("bundle retention removed bundle", logging.String("bundle", bundle.path), logging.String("reason", reason))
				continue
			}
		}
		kept++
		stats.Bundles++
		stats.Bytes += bundle.size
		if !bundle.complete {
			stats.Incomplete++
		}
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect lists bundle directories newest first, dated by their manifest.
func (c *Cleaner) collect() ([]storedBundle, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var bundles []storedBundle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		manifest, _, err := ReadManifest(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.log.Warn("bundle retention skipped unreadable manifest", logging.Error(err), logging.String("bundle", path))
			}
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, manifest.CreatedAt)
		if err != nil {
			c.log.Warn("bundle retention skipped bad timestamp", logging.String("bundle", path), logging.String("created_at", manifest.CreatedAt))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, storedBundle{path: path, created: created, size: size, complete: manifest.Complete})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].created.After(bundles[j].created) })
	return bundles, nil
}

func (c *Cleaner) expired(bundle storedBundle, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(bundle.created) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxBundles > 0 && kept >= c.policy.MaxBundles {
		reasons = append(reasons, fmt.Sprintf(">=%d bundles", c.policy.MaxBundles))
	}
	return strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
