// Package metrics records per-run gauges and pushes them to a Prometheus
// Pushgateway. A run is a batch job, so nothing is scraped.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"refwatch/internal/notifier"
	logx "refwatch/pkg/logx"
)

const DefaultJob = "refwatch"

type Config struct {
	PushURL string
	Job     string
	// Network is added as a grouping label.
	Network string
	Timeout time.Duration
}

// Recorder implements notifier.Recorder.
type Recorder struct {
	cfg Config
	reg *prometheus.Registry
	log logx.Logger

	mu sync.Mutex

	lastRun     prometheus.Gauge
	lastSuccess prometheus.Gauge
	duration    prometheus.Gauge
	confirming  prometheus.Gauge
	announced   prometheus.Gauge
	skipped     prometheus.Gauge
	chatErrors  prometheus.Gauge
	runs        *prometheus.CounterVec
	posts       prometheus.Counter
}

func New(cfg Config, log logx.Logger) *Recorder {
	if cfg.Job == "" {
		cfg.Job = DefaultJob
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		cfg: cfg,
		reg: reg,
		log: log,
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_last_run_timestamp_seconds",
			Help: "Unix time the last run started",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_last_run_success",
			Help: "1 if the last run completed without error",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_last_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		confirming: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_confirming_referenda",
			Help: "Referenda in their confirmation period at the last run",
		}),
		announced: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_announced_referenda",
			Help: "Referenda announced by the last run",
		}),
		skipped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_skipped_referenda",
			Help: "Confirming referenda the last run did not announce",
		}),
		chatErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refwatch_chat_publish_errors",
			Help: "Chat channel publish failures in the last run",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refwatch_runs_total",
			Help: "Runs by outcome since process start",
		}, []string{"outcome"}),
		posts: factory.NewCounter(prometheus.CounterOpts{
			Name: "refwatch_announcements_total",
			Help: "Announcements posted since process start",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) ObserveRun(rep notifier.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastRun.Set(float64(rep.Started.Unix()))
	r.duration.Set(rep.Duration.Seconds())
	r.confirming.Set(float64(rep.Confirming))
	r.announced.Set(float64(len(rep.Announced)))
	r.skipped.Set(float64(rep.Skipped))
	r.chatErrors.Set(float64(rep.ChatErrors))

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		r.lastSuccess.Set(0)
	case rep.DryRun:
		outcome = "dry_run"
		r.lastSuccess.Set(1)
	default:
		r.lastSuccess.Set(1)
	}
	r.runs.WithLabelValues(outcome).Inc()
	if !rep.DryRun {
		r.posts.Add(float64(len(rep.Announced)))
	}
}

// Push sends the current values to the gateway. Without a PushURL it is a
// no-op.
func (r *Recorder) Push(ctx context.Context) error {
	if r.cfg.PushURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	p := push.New(r.cfg.PushURL, r.cfg.Job).
		Gatherer(r.reg).
		Client(&http.Client{Timeout: r.cfg.Timeout})
	if r.cfg.Network != "" {
		p = p.Grouping("network", r.cfg.Network)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	r.log.Debug("metrics pushed", logx.String("gateway", r.cfg.PushURL))
	return nil
}
