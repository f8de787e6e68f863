package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrReadOnly = errors.New("storage opened read-only")
)

// Config configures storage.
//
// If Driver is empty it defaults to "file". "none" disables persistence, which
// makes every pass treat every referendum as new.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// ReadOnly never creates or writes the cache. A missing cache loads empty.
	ReadOnly bool
}

// Record is the time remaining for one referendum when it was last seen.
type Record struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Snapshot maps a referendum id (decimal string) to its record.
type Snapshot map[string]Record

// Key formats a referendum id as a snapshot key.
func Key(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

func (s Snapshot) Has(id uint32) bool {
	_, ok := s[Key(id)]
	return ok
}

// IDs returns the snapshot keys in numeric order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for k := range s {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseUint(ids[i], 10, 64)
		b, errB := strconv.ParseUint(ids[j], 10, 64)
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}

// Store is the cache persistence API.
type Store interface {
	// Load returns the last persisted snapshot, or an empty one.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the persisted snapshot with snap.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}
