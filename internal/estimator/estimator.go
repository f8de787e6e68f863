// Package estimator projects future block heights onto wall-clock time.
//
// The projection is a straight line: the average block time over the last
// SampleWindow blocks times the number of blocks left. Variable block times
// and windows that straddle a runtime upgrade make it drift; that is accepted.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"refwatch/internal/chain"
	logx "refwatch/pkg/logx"
)

// DefaultSampleWindow is the number of blocks averaged over.
const DefaultSampleWindow = 255

var ErrEmptyWindow = errors.New("estimator: sample window is empty")

// BlockSource is the slice of the chain reader the estimator needs.
type BlockSource interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	BlockHashAt(ctx context.Context, height uint64) (chain.Hash, error)
	StorageValue(ctx context.Context, module, item string, at chain.Hash) ([]byte, error)
}

// Remaining is a floor-decomposed duration. Days is negative once the target
// block is in the past.
type Remaining struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

func (r Remaining) String() string {
	return fmt.Sprintf("%dd %dhrs %dmins", r.Days, r.Hours, r.Minutes)
}

// Past reports whether the deadline has already been reached.
func (r Remaining) Past() bool { return r.Days < 0 }

// Decompose splits seconds into days, hours and minutes with floor division.
func Decompose(seconds float64) Remaining {
	days := math.Floor(seconds / 86400)
	seconds -= days * 86400
	hours := math.Floor(seconds / 3600)
	seconds -= hours * 3600
	minutes := math.Floor(seconds / 60)
	return Remaining{Days: int(days), Hours: int(hours), Minutes: int(minutes)}
}

type Estimator struct {
	src    BlockSource
	window uint64
	log    logx.Logger
}

func New(src BlockSource, window uint64, log logx.Logger) *Estimator {
	if window == 0 {
		window = DefaultSampleWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Estimator{src: src, window: window, log: log}
}

// AverageBlockTime returns seconds per block over the sample window ending at
// the current block. On chains younger than the window it averages from genesis.
func (e *Estimator) AverageBlockTime(ctx context.Context) (float64, error) {
	latest, err := e.src.CurrentBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("current block: %w", err)
	}
	window := min(e.window, latest)
	if window == 0 {
		return 0, ErrEmptyWindow
	}

	first, err := e.timestampAt(ctx, latest-window)
	if err != nil {
		return 0, err
	}
	last, err := e.timestampAt(ctx, latest)
	if err != nil {
		return 0, err
	}

	avg := (float64(last) - float64(first)) / float64(window*1000)
	e.log.Debug("sampled block time",
		logx.Uint64("latest", latest),
		logx.Uint64("window", window),
		logx.Float64("seconds_per_block", avg),
	)
	return avg, nil
}

func (e *Estimator) timestampAt(ctx context.Context, height uint64) (uint64, error) {
	hash, err := e.src.BlockHashAt(ctx, height)
	if err != nil {
		return 0, fmt.Errorf("hash of block %d: %w", height, err)
	}
	raw, err := e.src.StorageValue(ctx, "Timestamp", "Now", hash)
	if err != nil {
		return 0, fmt.Errorf("timestamp at block %d: %w", height, err)
	}
	ts, err := chain.DecodeTimestamp(raw)
	if err != nil {
		return 0, fmt.Errorf("timestamp at block %d: %w", height, err)
	}
	return ts, nil
}

// TimeUntilBlock estimates the time left until target is produced.
func (e *Estimator) TimeUntilBlock(ctx context.Context, target uint64) (Remaining, error) {
	current, err := e.src.CurrentBlockHeight(ctx)
	if err != nil {
		return Remaining{}, fmt.Errorf("current block: %w", err)
	}
	avg, err := e.AverageBlockTime(ctx)
	if err != nil {
		return Remaining{}, err
	}
	diff := float64(int64(target) - int64(current))
	return Decompose(diff * avg), nil
}
