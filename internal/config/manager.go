package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "refwatch/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	watchBackoffBase = 250 * time.Millisecond
	watchBackoffCap  = 5 * time.Second
)

// Reload describes one committed config change.
type Reload struct {
	Old, New *Config
	// Sections lists the top-level keys that differ, in Config field order.
	Sections []string
	// Fields summarize the change for logging.
	Fields []logx.Field
}

func (r Reload) Changed(section string) bool { return slices.Contains(r.Sections, section) }

// ScheduleChanged reports whether the cron timetable must be rebuilt.
func (r Reload) ScheduleChanged() bool {
	return r.New.Schedule.CronExpr() != r.Old.Schedule.CronExpr() ||
		strings.TrimSpace(r.New.Schedule.Timezone) != strings.TrimSpace(r.Old.Schedule.Timezone)
}

// LoggingChanged reports whether the log sinks must be re-applied.
func (r Reload) LoggingChanged() bool { return r.Changed("logging") }

// Manager holds the current config. Passes read it with Get at their start;
// in schedule mode Watch swaps it when the file changes. An empty path means
// built-in defaults and nothing to watch.
type Manager struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	hash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: strings.TrimSpace(path), log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Path() string { return m.path }

// Parse reads and validates the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	if m.path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeFile(m.path, b)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg, m.hash = cfg, configHash(cfg)
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// reload re-reads the file and commits it when it parses, validates and
// differs from the current config. ok is false when nothing was committed.
func (m *Manager) reload() (Reload, bool) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected, keeping previous", logx.String("path", m.path), logx.Err(err))
		return Reload{}, false
	}
	h := configHash(cfg)

	m.mu.Lock()
	if h != 0 && h == m.hash {
		m.mu.Unlock()
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return Reload{}, false
	}
	old := m.cfg
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()

	sections, fields := SummarizeConfigChange(old, cfg)
	if old == nil {
		old = Default()
	}
	return Reload{Old: old, New: cfg, Sections: sections, Fields: fields}, true
}

func configHash(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Watch follows the config file until ctx is done and calls onReload, on the
// Watch goroutine, after every committed change. Bursts of editor events are
// coalesced. A broken watcher is recreated with capped backoff.
func (m *Manager) Watch(ctx context.Context, onReload func(Reload)) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	backoff := watchBackoffBase
	for ctx.Err() == nil {
		w, err := m.startWatcher(dir)
		if err != nil {
			m.log.Warn("config watch unavailable", logx.String("dir", dir), logx.Err(err), logx.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, watchBackoffCap)
			continue
		}
		backoff = watchBackoffBase
		m.log.Debug("watching config", logx.String("path", m.path))

		m.follow(ctx, w, file, debounce, onReload)
		_ = w.Close()
		if ctx.Err() == nil {
			m.log.Warn("config watcher broke, restarting")
			if !sleepCtx(ctx, watchBackoffBase) {
				return nil
			}
		}
	}
	return nil
}

func (m *Manager) startWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// follow consumes watcher events until ctx is done or the watcher breaks.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher, file string, debounce *time.Timer, onReload func(Reload)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == file && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; re-read to be safe
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-debounce.C:
			if r, ok := m.reload(); ok {
				m.log.Info("config reloaded", append(r.Fields, logx.String("sections", strings.Join(r.Sections, ",")))...)
				if onReload != nil {
					onReload(r)
				}
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
