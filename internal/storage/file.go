package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "refwatch/pkg/logx"
)

// fileStore keeps the snapshot as one indented JSON object.
// Writes go to <path>.tmp and are renamed over the target.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("cache missing; starting empty", logx.String("path", s.path))
		snap := Snapshot{}
		if err := s.writeLocked(snap); err != nil {
			return nil, err
		}
		return snap, nil
	}
	if err != nil {
		return nil, err
	}

	snap := Snapshot{}
	if len(bytes.TrimSpace(b)) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", s.path, err)
	}
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(snap)
}

func (s *fileStore) writeLocked(snap Snapshot) error {
	if snap == nil {
		snap = Snapshot{}
	}
	b, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("cache saved", logx.String("path", s.path), logx.Int("entries", len(snap)))
	return nil
}
