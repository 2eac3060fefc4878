package retention

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFile creates a file of n bytes with its mtime set age in the past.
func writeFile(t *testing.T, dir, name string, n int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSweepAgePass(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.mp4", 100, 30*time.Hour)
	young := writeFile(t, dir, "young.mp4", 50, 2*time.Hour)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxAge:       24 * time.Hour,
		MaxBytes:     1_000_000_000,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if exists(old) {
		t.Fatalf("file over max age survived the sweep")
	}
	if !exists(young) {
		t.Fatalf("file within max age was evicted")
	}
}

// Size pressure evicts strictly oldest-first, regardless of individual size:
// the older 20MB file goes before the newer 40MB one even though removing
// the newer file alone would also satisfy the budget.
func TestSweepSizePassOldestFirst(t *testing.T) {
	dir := t.TempDir()
	older := writeFile(t, dir, "c.mp4", 20_000_000, 10*time.Hour)
	newer := writeFile(t, dir, "d.mp4", 40_000_000, 1*time.Hour)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxAge:       24 * time.Hour,
		MaxBytes:     50_000_000,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if exists(older) {
		t.Fatalf("oldest file not evicted under size pressure")
	}
	if !exists(newer) {
		t.Fatalf("newer file evicted while an older one existed")
	}
}

func TestSweepSizePassStopsAtBudget(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.mp4", 30, 5*time.Hour)
	b := writeFile(t, dir, "b.mp4", 30, 4*time.Hour)
	c := writeFile(t, dir, "c.mp4", 30, 3*time.Hour)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxBytes:     60,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if exists(a) {
		t.Fatalf("oldest file should have been evicted")
	}
	if !exists(b) || !exists(c) {
		t.Fatalf("sweep continued past the byte budget")
	}
}

// A file younger than the safety margin is never evicted, even under
// combined age and size pressure.
func TestSweepSafetyMargin(t *testing.T) {
	dir := t.TempDir()
	fresh := writeFile(t, dir, "fresh.mp4", 1000, 10*time.Second)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxAge:       time.Nanosecond,
		MaxBytes:     1,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if !exists(fresh) {
		t.Fatalf("file inside the safety margin was evicted")
	}
}

// Margin-protected files cannot be evicted, but their bytes still count
// against the budget: an older file is evicted when a recent write pushes
// the directory over MaxBytes.
func TestSweepCountsMarginProtectedBytes(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.mp4", 30, 5*time.Hour)
	fresh := writeFile(t, dir, "fresh.mp4", 80, 10*time.Second)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxBytes:     100,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if exists(old) {
		t.Fatalf("old file survived although recent bytes exceed the budget")
	}
	if !exists(fresh) {
		t.Fatalf("file inside the safety margin was evicted")
	}
}

func TestSweepDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.mp4", 100, 100*time.Hour)

	e := New(silentLogger(), dir, Policy{
		Enabled:  false,
		MaxAge:   time.Hour,
		MaxBytes: 1,
	})
	e.Sweep()

	if !exists(old) {
		t.Fatalf("disabled policy still evicted a file")
	}
}

// Scenario from the retention contract: A (30h old, 100MB) exceeds the age
// budget, B (2h old, 50MB) does not; the budget is only exceeded while A is
// present. After one sweep only B remains.
func TestSweepAgeThenSizeScenario(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.mp4", 100_000_000, 30*time.Hour)
	b := writeFile(t, dir, "b.mp4", 50_000_000, 2*time.Hour)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxAge:       24 * time.Hour,
		MaxBytes:     100_000_000,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if exists(a) {
		t.Fatalf("expired file survived")
	}
	if !exists(b) {
		t.Fatalf("in-budget file evicted")
	}
}

func TestSweepSkipsStagingDirsAndDotfiles(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, ".staging", "req-1")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	partial := writeFile(t, staging, "partial.mp4", 100, 0)
	// Backdate the staging file so only the top-level rule protects it.
	mtime := time.Now().Add(-100 * time.Hour)
	if err := os.Chtimes(partial, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     time.Hour,
		MaxAge:       time.Hour,
		SafetyMargin: time.Minute,
	})
	e.Sweep()

	if !exists(partial) {
		t.Fatalf("sweep descended into a staging directory")
	}
}

func TestRunStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.mp4", 10, time.Hour)

	e := New(silentLogger(), dir, Policy{
		Enabled:      true,
		Interval:     10 * time.Millisecond,
		MaxAge:       time.Minute,
		SafetyMargin: time.Millisecond,
	})
	e.Run()

	deadline := time.After(2 * time.Second)
	for exists(old) {
		select {
		case <-deadline:
			t.Fatalf("ticker sweep never evicted the expired file")
		case <-time.After(10 * time.Millisecond):
		}
	}
	e.Stop()
}
