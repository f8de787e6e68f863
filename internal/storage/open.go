package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	logx "refwatch/pkg/logx"
)

// DefaultPath is where the file driver keeps the cache when no path is set.
const DefaultPath = "./data/confirmations.json"

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var open func(Config, logx.Logger) (Store, error)
	switch driver {
	case "", "file", "json":
		open = openFile
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultPath
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("sqlite path is required")
		}
		open = openSQLite
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if !cfg.ReadOnly {
		return open(cfg, log)
	}

	if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
		log.Info("cache missing; read-only run starts empty", logx.String("path", cfg.Path))
		return readOnly{}, nil
	}
	st, err := open(cfg, log)
	if err != nil {
		return nil, err
	}
	return readOnly{Store: st}, nil
}

// readOnly serves Load from the wrapped store, or empty without one, and
// refuses Save.
type readOnly struct{ Store }

func (r readOnly) Load(ctx context.Context) (Snapshot, error) {
	if r.Store == nil {
		return Snapshot{}, nil
	}
	return r.Store.Load(ctx)
}

func (readOnly) Save(context.Context, Snapshot) error { return ErrReadOnly }

func (r readOnly) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}
