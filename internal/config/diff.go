package config

import (
	"reflect"

	logx "refwatch/pkg/logx"
)

// SummarizeConfigChange returns the names of the top-level sections that
// differ plus safe structured fields for logging. No secret lives in the
// file, but the fields stay coarse anyway.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if !reflect.DeepEqual(oldCfg.Chain, newCfg.Chain) {
		changed = append(changed, "chain")
		attrs = append(attrs, logx.Uint64("chain.sample_window", newCfg.Chain.SampleWindow))
	}
	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		changed = append(changed, "cache")
		attrs = append(attrs, logx.String("cache.driver", newCfg.Cache.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Social, newCfg.Social) {
		changed = append(changed, "social")
		attrs = append(attrs, logx.String("social.post_delay", newCfg.Social.PostDelay))
	}
	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) {
		changed = append(changed, "discord")
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.enabled", newCfg.Telegram.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Metadata, newCfg.Metadata) {
		changed = append(changed, "metadata")
		attrs = append(attrs, logx.Int("metadata.mirrors", len(newCfg.Metadata.Mirrors)))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.push", newCfg.Metrics.PushURL != ""))
	}
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule.cron", newCfg.Schedule.CronExpr()))
	}
	return changed, attrs
}
