// Package app wires configuration, logging and the pipeline components into
// the commands the binary exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"refwatch/internal/chain"
	"refwatch/internal/config"
	"refwatch/internal/estimator"
	"refwatch/internal/referenda"
	logx "refwatch/pkg/logx"
)

// Options come from the command line.
type Options struct {
	ConfigPath string
	EnvFile    string
	// EnvFileExplicit makes a missing env file an error.
	EnvFileExplicit bool
	Debug           bool
	DryRun          bool
}

type App struct {
	opts Options
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	env  config.ChainEnv

	// origin layout of the last runtime seen, keyed by spec version
	originsMu   sync.Mutex
	originsSpec uint32
	origins     *referenda.OriginTable
}

// New loads the env file, config and chain environment, and starts logging.
// Nothing touches the network yet.
func New(opts Options) (*App, error) {
	if err := config.LoadDotEnv(opts.EnvFile, opts.EnvFileExplicit); err != nil {
		return nil, err
	}

	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(loggingConfig(cfg, opts.Debug))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	env, err := config.LoadChainEnv()
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("environment: %w", err)
	}

	a := &App{opts: opts, cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app")), env: env}
	a.log.Info("starting",
		logx.String("cmdline", strings.Join(os.Args, " ")),
		logx.String("network", env.Network()),
		logx.String("config", cfgm.Path()),
		logx.Bool("dry_run", opts.DryRun),
	)
	return a, nil
}

func loggingConfig(cfg *config.Config, debug bool) logx.Config {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
			Dir:     cfg.Logging.File.Dir,
			Prefix:  cfg.Logging.File.Prefix,
		},
	}
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Close() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

func (a *App) dial(ctx context.Context, cfg *config.Config) (*chain.Client, error) {
	dialTimeout, callTimeout, err := cfg.Chain.Timeouts()
	if err != nil {
		return nil, err
	}
	return chain.Dial(ctx, a.env.SubstrateWSS, chain.Options{
		DialTimeout: dialTimeout,
		CallTimeout: callTimeout,
		PageSize:    cfg.Chain.PageSize,
		Log:         a.log.With(logx.String("comp", "chain")),
	})
}

// decoder builds the ReferendumInfo decoder for the node's runtime. When the
// metadata cannot be read or lacks OriginCaller, the fixed layout with the
// configured or per-network Origins index is used.
func (a *App) decoder(ctx context.Context, cfg *config.Config, node *chain.Client) referenda.Decoder {
	fixed := referenda.NewDecoder(cfg.Chain.OriginsPalletFor(a.env.Network()))
	fallback := func(err error) referenda.Decoder {
		a.log.Warn("runtime metadata unusable, using fixed origin layout",
			logx.Int("origins_pallet", int(fixed.OriginsPallet)), logx.Err(err))
		return fixed
	}

	rv, err := node.RuntimeVersion(ctx)
	if err != nil {
		return fallback(err)
	}
	a.originsMu.Lock()
	defer a.originsMu.Unlock()
	if a.origins != nil && a.originsSpec == rv.SpecVersion {
		return referenda.NewRuntimeDecoder(a.origins)
	}

	meta, err := node.Metadata(ctx)
	if err != nil {
		return fallback(err)
	}
	tbl, err := referenda.OriginTableFromMetadata(meta)
	if err != nil {
		return fallback(err)
	}
	a.origins, a.originsSpec = tbl, rv.SpecVersion
	d := referenda.NewRuntimeDecoder(tbl)
	a.log.Info("origin layout loaded from runtime metadata",
		logx.String("spec", rv.SpecName),
		logx.Uint64("spec_version", uint64(rv.SpecVersion)),
		logx.Int("origins_pallet", int(d.OriginsPallet)),
	)
	return d
}

// EstimateResult is the answer of the estimate command.
type EstimateResult struct {
	Target       uint64              `json:"target"`
	Current      uint64              `json:"current"`
	AvgBlockTime float64             `json:"avg_block_time_seconds"`
	Remaining    estimator.Remaining `json:"remaining"`
}

// Estimate projects block target onto wall-clock time.
func (a *App) Estimate(ctx context.Context, target uint64) (EstimateResult, error) {
	cfg := a.cfgm.Get()
	node, err := a.dial(ctx, cfg)
	if err != nil {
		return EstimateResult{}, err
	}
	defer node.Close()

	est := estimator.New(node, cfg.Chain.SampleWindow, a.log.With(logx.String("comp", "estimator")))
	current, err := node.CurrentBlockHeight(ctx)
	if err != nil {
		return EstimateResult{}, err
	}
	avg, err := est.AverageBlockTime(ctx)
	if err != nil {
		return EstimateResult{}, err
	}
	rem, err := est.TimeUntilBlock(ctx, target)
	if err != nil {
		return EstimateResult{}, err
	}
	return EstimateResult{Target: target, Current: current, AvgBlockTime: avg, Remaining: rem}, nil
}

// ShowResult is the answer of the show command.
type ShowResult struct {
	Referendum referenda.Referendum `json:"referendum"`
	TrackName  string               `json:"track_name"`
	// Remaining is set while the referendum is confirming.
	Remaining *estimator.Remaining `json:"remaining,omitempty"`
}

// ErrNotOngoing is returned by Show for referenda that are no longer ongoing.
var ErrNotOngoing = errors.New("referendum is not ongoing")

// Show decodes a single referendum straight from chain state.
func (a *App) Show(ctx context.Context, id uint32) (ShowResult, error) {
	cfg := a.cfgm.Get()
	node, err := a.dial(ctx, cfg)
	if err != nil {
		return ShowResult{}, err
	}
	defer node.Close()

	raw, err := node.StorageMapEntry(ctx, referenda.Pallet, referenda.StorageItem, referenda.EncodeID(id), chain.Hash{})
	if err != nil {
		return ShowResult{}, err
	}
	if raw == nil {
		return ShowResult{}, fmt.Errorf("referendum %d: %w", id, chain.ErrNotFound)
	}
	ref, ok, err := a.decoder(ctx, cfg, node).Decode(id, raw)
	if err != nil {
		return ShowResult{}, fmt.Errorf("decode referendum %d: %w", id, err)
	}
	if !ok {
		return ShowResult{}, fmt.Errorf("referendum %d: %w", id, ErrNotOngoing)
	}

	out := ShowResult{Referendum: ref, TrackName: referenda.TrackName(ref.Track)}
	if p, confirming := ref.Confirming(); confirming {
		est := estimator.New(node, cfg.Chain.SampleWindow, a.log.With(logx.String("comp", "estimator")))
		rem, err := est.TimeUntilBlock(ctx, uint64(p.DeadlineBlock))
		if err != nil {
			return ShowResult{}, err
		}
		out.Remaining = &rem
	}
	return out, nil
}
