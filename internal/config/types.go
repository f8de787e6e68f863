package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the tunables read from the optional config file. Secrets and
// the node endpoint come from the environment (see env.go).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Chain    ChainConfig    `json:"chain"`
	Cache    CacheConfig    `json:"cache"`
	Social   SocialConfig   `json:"social"`
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Metadata MetadataConfig `json:"metadata"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Schedule ScheduleConfig `json:"schedule"`
}

// ChainConfig tunes the node connection and block-time sampling.
//
// Defaults (when fields are omitted/zero):
//   - sample_window: 255
//   - origins_pallet: 22 on polkadot, 43 on kusama; only used when the
//     runtime metadata cannot be read, since origins are otherwise decoded
//     from the node's own type registry
//   - dial_timeout: "15s"
//   - call_timeout: "30s"
//   - page_size: 256
type ChainConfig struct {
	SampleWindow  uint64 `json:"sample_window,omitempty"`
	OriginsPallet *int   `json:"origins_pallet,omitempty"`
	DialTimeout   string `json:"dial_timeout,omitempty"`
	CallTimeout   string `json:"call_timeout,omitempty"`
	PageSize      int    `json:"page_size,omitempty"`
}

// CacheConfig selects the announcement cache. driver is "file" (default),
// "sqlite" or "none". With "none" nothing is remembered between passes, so
// every pass announces every confirming referendum again; the schedule
// command refuses it.
//
// Example:
//
//	"cache": { "driver": "file", "path": "./data/confirmations.json" }
type CacheConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SocialConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	PostDelay string `json:"post_delay,omitempty"` // default "5s"
	Timeout   string `json:"timeout,omitempty"`
}

type DiscordConfig struct {
	APIBase    string `json:"api_base,omitempty"`
	Username   string `json:"username,omitempty"`
	EmbedTitle string `json:"embed_title,omitempty"`
	EmbedColor int    `json:"embed_color,omitempty"`
	// PlainText sends message content instead of an embed.
	PlainText  bool    `json:"plain_text,omitempty"`
	FetchLimit int     `json:"fetch_limit,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

// TelegramConfig enables the optional Telegram mirror. The bot token is read
// from TELEGRAM_TOKEN.
type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	ChatID         string `json:"chat_id,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

type MetadataConfig struct {
	// Mirrors are URL templates with {id} and {network} placeholders, tried in order.
	Mirrors []string `json:"mirrors,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	Dir     string `json:"dir,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
}

// MetricsConfig pushes per-run metrics to a Prometheus Pushgateway when
// push_url is set.
type MetricsConfig struct {
	PushURL string `json:"push_url,omitempty"`
	Job     string `json:"job,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	// Cron is a five-field (or seconds-first six-field) expression or a
	// descriptor like "@every 10m".
	Cron       string `json:"cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
	// RunTimeout bounds a single pass; "0s" disables it.
	RunTimeout string `json:"run_timeout,omitempty"`
}

const DefaultCron = "*/10 * * * *"

// CronParser accepts five- or six-field expressions and descriptors.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Default returns the config used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Validate checks the fields that can be wrong independently of the
// environment.
func (c *Config) Validate() error {
	var errs []error
	if p := c.Chain.OriginsPallet; p != nil && (*p < 0 || *p > 255) {
		errs = append(errs, fmt.Errorf("chain.origins_pallet: %d out of range", *p))
	}
	errs = append(errs, c.checkDurations()...)
	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "none":
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.ChatID) == "" {
		errs = append(errs, errors.New("telegram.chat_id: required when telegram is enabled"))
	}
	if expr := strings.TrimSpace(c.Schedule.Cron); expr != "" {
		if _, err := CronParser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
		}
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OriginsPalletFor resolves the runtime index of the governance Origins
// pallet for network.
func (c ChainConfig) OriginsPalletFor(network string) uint8 {
	if c.OriginsPallet != nil {
		return uint8(*c.OriginsPallet)
	}
	if strings.EqualFold(strings.TrimSpace(network), "kusama") {
		return 43
	}
	return 22
}

// CronExpr returns the configured expression or DefaultCron.
func (s ScheduleConfig) CronExpr() string {
	if expr := strings.TrimSpace(s.Cron); expr != "" {
		return expr
	}
	return DefaultCron
}
