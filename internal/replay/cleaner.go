package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arenaclash/server/internal/logging"
)

// RetentionPolicy defines how many match bundles are retained on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted bundles.
type StorageStats struct {
	Bundles   int       `json:"bundles"`
	Finished  int       `json:"finished"`
	Bytes     int64     `json:"bytes"`
	LastSweep time.Time `json:"last_sweep"`
}

// Cleaner periodically prunes bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the replay root.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies on startup.
	c.RunOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	name     string
	path     string
	size     int64
	modTime  time.Time
	finished bool
}

// RunOnce performs a single retention sweep. Bundles without a header are still being
// written and are never removed.
func (c *Cleaner) RunOnce() {
	if strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, b := range bundles {
		if b.finished {
			if remove, reason := c.shouldRemove(b, now, kept); remove {
				if err := os.RemoveAll(b.path); err == nil {
					c.log.Info("replay retention removed bundle", logging.String("bundle", b.name), logging.String("reason", reason))
					continue
				} else {
					c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", b.name))
				}
			}
			kept++
			stats.Finished++
		}
		stats.Bundles++
		stats.Bytes += b.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*bundle {
	bundles := make([]*bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		_, headerErr := os.Stat(filepath.Join(path, headerFile))
		bundles = append(bundles, &bundle{
			name:     entry.Name(),
			path:     path,
			size:     size,
			modTime:  info.ModTime(),
			finished: headerErr == nil,
		})
	}
	//1.- Newest first so the match limit favours recent games.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(b *bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxMatches > 0 && kept >= c.policy.MaxMatches {
		reasons = append(reasons, fmt.Sprintf(">=%d matches", c.policy.MaxMatches))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
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
