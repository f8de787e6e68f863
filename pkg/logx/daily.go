package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// dailyFile is the file sink. When the name is derived from the date it
// moves to the new day's file on the first write after midnight; a fixed
// Path never moves.
type dailyFile struct {
	cfg FileConfig
	lvl Level
	now func() time.Time

	mu   sync.Mutex
	f    *os.File
	path string
	day  string
}

func openDailyFile(cfg FileConfig, lvl Level, now func() time.Time) (*dailyFile, error) {
	d := &dailyFile{cfg: cfg, lvl: lvl, now: now}
	if err := d.openLocked(now()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dailyFile) rolls() bool { return strings.TrimSpace(d.cfg.Path) == "" }

func (d *dailyFile) openLocked(now time.Time) error {
	path := FilePathFor(d.cfg, d.lvl, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", path, err)
	}
	if d.f != nil {
		_ = d.f.Close()
	}
	d.f, d.path, d.day = f, path, now.Format(dayLayout)
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return 0, os.ErrClosed
	}
	if d.rolls() {
		if now := d.now(); now.Format(dayLayout) != d.day {
			// on failure keep writing to yesterday's file
			if err := d.openLocked(now); err != nil {
				fmt.Fprintf(os.Stderr, "logx: %v\n", err)
			}
		}
	}
	return d.f.Write(p)
}

func (d *dailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f, d.path = nil, ""
	return err
}
