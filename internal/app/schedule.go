package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"refwatch/internal/config"
	logx "refwatch/pkg/logx"
)

// cronLogger routes cron's own logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// scheduler owns the cron instance and the single registered pass. The run
// lock and the in-flight group outlive any one cron instance, so passes never
// overlap across a reschedule or a run-on-start trigger.
type scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	expr    string
	tz      string
	job     cron.Job
	log     logx.Logger
	cronLog cron.Logger

	runMu    sync.Mutex
	inflight sync.WaitGroup
}

func newScheduler(job cron.Job, log logx.Logger) *scheduler {
	return &scheduler{job: job, log: log, cronLog: cronLogger{log: log}}
}

// Run implements cron.Job. A trigger that finds a pass in flight is dropped.
func (s *scheduler) Run() {
	if !s.runMu.TryLock() {
		s.log.Info("skipping pass, previous one still running")
		return
	}
	defer s.runMu.Unlock()
	s.job.Run()
}

// retire stops c ticking and counts its running job, if any, as in flight.
// Callers hold s.mu.
func (s *scheduler) retire(c *cron.Cron) {
	done := c.Stop()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		<-done.Done()
	}()
}

// apply (re)registers the pass for expr in tz.
func (s *scheduler) apply(expr, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil && expr == s.expr && tz == s.tz {
		return nil
	}
	if _, err := config.CronParser.Parse(expr); err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}

	if s.c != nil {
		// a pass still running on the old instance keeps the run lock
		s.retire(s.c)
	}
	loc := loadLocation(tz)
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithLogger(s.cronLog),
		cron.WithChain(cron.Recover(s.cronLog)),
	)
	id, err := c.AddJob(expr, s)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}
	c.Start()
	s.c, s.entry, s.expr, s.tz = c, id, expr, tz
	s.log.Info("schedule registered",
		logx.String("cron", expr),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// runNow triggers one pass outside the cron timetable. It is tracked like a
// scheduled pass, so stop waits for it.
func (s *scheduler) runNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	job := cron.Recover(s.cronLog)(s)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		job.Run()
	}()
}

// stop halts the timetable and waits for every pass in flight, or for ctx.
func (s *scheduler) stop(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.retire(s.c)
		s.c = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stopped with a pass still running", logx.Err(ctx.Err()))
	}
}

// ErrNoCache is returned by Schedule when the cache is disabled: without it
// every pass would announce every confirming referendum again.
var ErrNoCache = errors.New(`schedule needs a cache; cache.driver "none" would repeat every announcement`)

// Schedule runs passes on the configured cron schedule until ctx is done.
// The config file is watched; a reload swaps logging and the schedule and is
// picked up by the next pass.
func (a *App) Schedule(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if cacheDisabled(cfg) {
		return ErrNoCache
	}
	log := a.log.With(logx.String("comp", "schedule"))

	sched := newScheduler(cron.FuncJob(func() { a.scheduledRun(ctx, log) }), log)
	if err := sched.apply(cfg.Schedule.CronExpr(), cfg.Schedule.Timezone); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.cfgm.Watch(ctx, func(r config.Reload) { a.onReload(r, sched, log) }); err != nil {
			log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		log.Debug("notified systemd readiness")
	}

	if cfg.Schedule.RunOnStart {
		sched.runNow()
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.stop(stopCtx)
	wg.Wait()
	log.Info("scheduler stopped")
	return nil
}

// onReload applies the parts of a reload that outlive a single pass. Every
// other section is read by the next pass through cfgm.Get.
func (a *App) onReload(r config.Reload, sched *scheduler, log logx.Logger) {
	if r.LoggingChanged() {
		a.logs.Apply(loggingConfig(r.New, a.opts.Debug))
	}
	if r.Changed("cache") && cacheDisabled(r.New) {
		log.Error("passes are skipped until the cache is re-enabled", logx.Err(ErrNoCache))
	}
	if r.ScheduleChanged() {
		if err := sched.apply(r.New.Schedule.CronExpr(), r.New.Schedule.Timezone); err != nil {
			log.Error("keeping previous schedule", logx.Err(err))
		}
	}
}

func cacheDisabled(cfg *config.Config) bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Cache.Driver), "none")
}

func (a *App) scheduledRun(ctx context.Context, log logx.Logger) {
	if ctx.Err() != nil {
		return
	}
	cfg := a.cfgm.Get()
	if cacheDisabled(cfg) {
		log.Error("skipping pass", logx.Err(ErrNoCache))
		return
	}
	timeout, err := cfg.Schedule.PassTimeout()
	if err != nil {
		log.Error("invalid run timeout", logx.Err(err))
		return
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rep, err := a.RunOnce(runCtx)
	status := fmt.Sprintf("STATUS=last run %s: %d confirming, %d announced",
		rep.Started.Format(time.RFC3339), rep.Confirming, len(rep.Announced))
	if err != nil {
		log.Error("scheduled run failed", logx.Err(err))
		status += " (failed)"
	}
	_, _ = daemon.SdNotify(false, status)
}
