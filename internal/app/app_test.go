package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"refwatch/internal/chain"
	"refwatch/internal/config"
	logx "refwatch/pkg/logx"
)

func TestStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	sc, err := storageConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "", sc.Driver)

	cfg.Cache.Driver = "sqlite"
	_, err = storageConfig(cfg)
	require.Error(t, err)

	cfg.Cache.Path = "./data/cache.db"
	cfg.Cache.BusyTimeout = "3s"
	sc, err = storageConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, 3*time.Second, sc.BusyTimeout)
}

func TestLoggingConfigDebugOverride(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Logging.File = config.LoggingFile{Enabled: true, Dir: "/tmp/x", Prefix: "ConfirmingRefs"}
	lc := loggingConfig(cfg, true)
	require.Equal(t, "debug", lc.Level)
	require.True(t, lc.File.Enabled)
	require.Equal(t, "ConfirmingRefs", lc.File.Prefix)
	require.Equal(t, "info", loggingConfig(cfg, false).Level)
}

func TestKVFields(t *testing.T) {
	t.Parallel()
	require.Len(t, kvFields([]any{"a", 1, "b", "two", "dangling"}), 2)
}

func TestSchedulerRunNowAndReschedule(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	done := make(chan struct{}, 4)
	s := newScheduler(cron.FuncJob(func() {
		runs.Add(1)
		done <- struct{}{}
	}), logx.Nop())
	t.Cleanup(func() { s.stop(context.Background()) })

	require.NoError(t, s.apply("@every 1h", ""))
	first := s.c
	s.runNow()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	require.Equal(t, int32(1), runs.Load())

	// same schedule is a no-op
	require.NoError(t, s.apply("@every 1h", ""))
	require.Same(t, first, s.c)

	require.Error(t, s.apply("every now and then", ""))
	require.Same(t, first, s.c)

	require.NoError(t, s.apply("0 */5 * * * *", "UTC"))
	require.NotSame(t, first, s.c)
}

func TestSchedulerStopWaitsForRunNow(t *testing.T) {
	t.Parallel()
	var finished atomic.Int32
	started := make(chan struct{})
	s := newScheduler(cron.FuncJob(func() {
		close(started)
		time.Sleep(300 * time.Millisecond)
		finished.Add(1)
	}), logx.Nop())

	require.NoError(t, s.apply("@every 1h", ""))
	s.runNow()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.stop(ctx)
	require.Equal(t, int32(1), finished.Load(), "stop returned before the pass finished")
}

func TestSchedulerPassesNeverOverlapAcrossReschedule(t *testing.T) {
	t.Parallel()
	var (
		mu           sync.Mutex
		active, peak int
		runs         atomic.Int32
	)
	started := make(chan struct{}, 8)
	s := newScheduler(cron.FuncJob(func() {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		runs.Add(1)
		started <- struct{}{}

		time.Sleep(1500 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
	}), logx.Nop())

	require.NoError(t, s.apply("@every 1h", ""))
	s.runNow()
	<-started

	// the new instance ticks every second while the first pass is still running
	require.NoError(t, s.apply("@every 1s", ""))
	time.Sleep(2500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, peak)
	require.Zero(t, active)
	require.GreaterOrEqual(t, runs.Load(), int32(1))
}

func TestOnReloadReschedules(t *testing.T) {
	t.Parallel()
	s := newScheduler(cron.FuncJob(func() {}), logx.Nop())
	t.Cleanup(func() { s.stop(context.Background()) })
	require.NoError(t, s.apply("@every 1h", ""))
	first := s.c

	old := config.Default()
	old.Schedule.Cron = "@every 1h"
	next := config.Default()
	next.Schedule.Cron = "@every 1h"
	next.Social.PostDelay = "1s"

	a := &App{}
	a.onReload(config.Reload{Old: old, New: next, Sections: []string{"social"}}, s, logx.Nop())
	require.Same(t, first, s.c)

	next2 := config.Default()
	next2.Schedule.Cron = "@every 2h"
	a.onReload(config.Reload{Old: next, New: next2, Sections: []string{"schedule"}}, s, logx.Nop())
	require.NotSame(t, first, s.c)
	require.Equal(t, "@every 2h", s.expr)
}

func TestScheduleRejectsDisabledCache(t *testing.T) {
	t.Setenv("SUBSTRATE_WSS", "ws://127.0.0.1:1")
	t.Setenv("CHAIN", "polkadot")
	p := filepath.Join(t.TempDir(), "refwatch.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"cache": {"driver": "none"}}`), 0o644))

	a, err := New(Options{ConfigPath: p, EnvFile: filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, a.Schedule(ctx), ErrNoCache)
}

func TestNewRequiresChainEnv(t *testing.T) {
	t.Setenv("SUBSTRATE_WSS", "")
	os.Unsetenv("SUBSTRATE_WSS")
	t.Setenv("CHAIN", "polkadot")

	_, err := New(Options{EnvFile: filepath.Join(t.TempDir(), "none.env")})
	require.ErrorContains(t, err, "SUBSTRATE_WSS")
}

func TestNewRejectsBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "refwatch.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"unknown": true}`), 0o644))
	_, err := New(Options{ConfigPath: p, EnvFile: filepath.Join(t.TempDir(), "none.env")})
	require.Error(t, err)
}

func TestShowUnreachableNode(t *testing.T) {
	t.Setenv("SUBSTRATE_WSS", "ws://127.0.0.1:1")
	t.Setenv("CHAIN", "polkadot")

	a, err := New(Options{EnvFile: filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Show(context.Background(), 1)
	require.True(t, errors.Is(err, chain.ErrConnect))
}

func TestRunOnceChecksCredentialsFirst(t *testing.T) {
	t.Setenv("SUBSTRATE_WSS", "ws://127.0.0.1:1")
	t.Setenv("CHAIN", "polkadot")
	t.Setenv("WEBHOOK", "")
	os.Unsetenv("WEBHOOK")

	a, err := New(Options{EnvFile: filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.RunOnce(context.Background())
	require.ErrorContains(t, err, "environment")
	require.False(t, errors.Is(err, chain.ErrConnect))
}
