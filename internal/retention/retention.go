// Package retention enforces the local artifact directory's age and size
// budget with a periodic background sweep.
package retention

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vidfetch/vidfetch/internal/metrics"
)

// Policy is the retention budget. A zero MaxAge or MaxBytes disables the
// corresponding pass; Enabled false disables sweeping entirely.
type Policy struct {
	Enabled      bool
	Interval     time.Duration
	MaxAge       time.Duration
	MaxBytes     int64
	SafetyMargin time.Duration
}

// DefaultSafetyMargin is how much older than the sweep start a file's mtime
// must be before the sweep will consider it at all. It keeps an in-progress
// write from ever being observed as a stable, evictable artifact.
const DefaultSafetyMargin = 2 * time.Minute

// Engine runs the recurring sweep over one directory. It only reads file
// metadata and deletes; it never mutates content and holds no locks shared
// with the download path.
type Engine struct {
	dir    string
	policy Policy
	log    *slog.Logger
	now    func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an Engine for dir under the given policy.
func New(log *slog.Logger, dir string, policy Policy) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if policy.SafetyMargin <= 0 {
		policy.SafetyMargin = DefaultSafetyMargin
	}
	return &Engine{dir: dir, policy: policy, log: log, now: time.Now}
}

// Run starts the sweep loop. It returns immediately; sweeping happens on a
// dedicated goroutine until Stop is called. No-op when the policy is
// disabled.
func (e *Engine) Run() {
	if !e.policy.Enabled {
		e.log.Info("retention disabled, sweeps skipped")
		return
	}
	e.stop = make(chan struct{})
	// Tag this run with a stable operation_id for easier correlation.
	e.log = e.log.With("operation_id", uuid.NewString())
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.policy.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.Sweep()
			}
		}
	}()
}

// Stop terminates the loop, letting an in-progress sweep finish.
func (e *Engine) Stop() {
	if e.stop != nil {
		close(e.stop)
		e.wg.Wait()
	}
}

type candidate struct {
	path  string
	size  int64
	mtime time.Time
}

// Sweep runs one scan-and-evict cycle: an unconditional age pass, then an
// oldest-first size pass until the directory fits the byte budget. Per-file
// deletion failures are logged and skipped, never aborting the rest of the
// sweep.
func (e *Engine) Sweep() {
	if !e.policy.Enabled {
		return
	}
	start := e.now()
	timer := time.Now()
	defer func() {
		metrics.RetentionSweepDuration.Observe(time.Since(timer).Seconds())
	}()

	files, total, err := e.scan(start)
	if err != nil {
		e.log.Error("sweep scan", "dir", e.dir, "err", err)
		return
	}

	var removed int
	var reclaimed int64

	// Age pass: unconditional.
	if e.policy.MaxAge > 0 {
		kept := files[:0]
		for _, f := range files {
			if start.Sub(f.mtime) > e.policy.MaxAge {
				if e.remove(f, "age") {
					removed++
					reclaimed += f.size
					total -= f.size
				}
				continue
			}
			kept = append(kept, f)
		}
		files = kept
	}

	// Size pass: oldest-first until under budget. Age-priority eviction, not
	// largest-first.
	if e.policy.MaxBytes > 0 && total > e.policy.MaxBytes {
		sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
		for _, f := range files {
			if total <= e.policy.MaxBytes {
				break
			}
			if e.remove(f, "size") {
				removed++
				reclaimed += f.size
				total -= f.size
			}
		}
	}

	if removed > 0 {
		e.log.Info("sweep complete", "removed", removed, "reclaimed_bytes", reclaimed, "remaining_bytes", total)
	}
}

// scan lists evictable regular files: top level only, no dotfiles, and
// nothing modified within the safety margin of the sweep start. The returned
// total covers every regular file including the margin-protected ones, so
// recent writes still count against the byte budget even though they cannot
// be evicted yet.
func (e *Engine) scan(start time.Time) ([]candidate, int64, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, 0, err
	}
	cutoff := start.Add(-e.policy.SafetyMargin)

	var files []candidate
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between ReadDir and stat.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		total += info.Size()
		if info.ModTime().After(cutoff) {
			continue
		}
		files = append(files, candidate{
			path:  filepath.Join(e.dir, entry.Name()),
			size:  info.Size(),
			mtime: info.ModTime(),
		})
	}
	return files, total, nil
}

func (e *Engine) remove(f candidate, reason string) bool {
	if err := os.Remove(f.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Already gone; count it as reclaimed space.
			return true
		}
		e.log.Warn("evict failed", "path", f.path, "reason", reason, "err", err)
		return false
	}
	metrics.RetentionDeletes.WithLabelValues(reason).Inc()
	metrics.RetentionBytesReclaimed.Add(float64(f.size))
	e.log.Info("evicted artifact", "path", f.path, "reason", reason, "size", f.size, "age", e.now().Sub(f.mtime).Round(time.Second).String())
	return true
}
