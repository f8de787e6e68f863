package config

import (
	"fmt"
	"strings"
	"time"
)

// Fallbacks for omitted durations. Chain timeouts fall back inside the chain
// client instead, so they report zero here.
const (
	DefaultPostDelay   = 5 * time.Second
	DefaultHTTPTimeout = 15 * time.Second
	DefaultPushTimeout = 10 * time.Second
	DefaultBusyTimeout = time.Second
)

// duration parses a config duration string. Empty or zero yields def;
// negative values are rejected.
func duration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration", key, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// Timeouts returns the dial and per-call timeouts; zero leaves the chain
// client defaults in place.
func (c ChainConfig) Timeouts() (dial, call time.Duration, err error) {
	if dial, err = duration("chain.dial_timeout", c.DialTimeout, 0); err != nil {
		return 0, 0, err
	}
	if call, err = duration("chain.call_timeout", c.CallTimeout, 0); err != nil {
		return 0, 0, err
	}
	return dial, call, nil
}

// BusyWait is the sqlite busy timeout.
func (c CacheConfig) BusyWait() (time.Duration, error) {
	return duration("cache.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// Delay is the pause after each successful social post.
func (c SocialConfig) Delay() (time.Duration, error) {
	return duration("social.post_delay", c.PostDelay, DefaultPostDelay)
}

func (c SocialConfig) HTTPTimeout() (time.Duration, error) {
	return duration("social.timeout", c.Timeout, DefaultHTTPTimeout)
}

func (c DiscordConfig) HTTPTimeout() (time.Duration, error) {
	return duration("discord.timeout", c.Timeout, DefaultHTTPTimeout)
}

func (c MetadataConfig) HTTPTimeout() (time.Duration, error) {
	return duration("metadata.timeout", c.Timeout, DefaultHTTPTimeout)
}

func (c MetricsConfig) PushTimeout() (time.Duration, error) {
	return duration("metrics.timeout", c.Timeout, DefaultPushTimeout)
}

// PassTimeout bounds one scheduled pass. Zero means unbounded.
func (s ScheduleConfig) PassTimeout() (time.Duration, error) {
	return duration("schedule.run_timeout", s.RunTimeout, 0)
}

// checkDurations collects the error of every duration accessor.
func (c *Config) checkDurations() []error {
	var errs []error
	keep := func(_ time.Duration, err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if _, _, err := c.Chain.Timeouts(); err != nil {
		errs = append(errs, err)
	}
	keep(c.Cache.BusyWait())
	keep(c.Social.Delay())
	keep(c.Social.HTTPTimeout())
	keep(c.Discord.HTTPTimeout())
	keep(c.Metadata.HTTPTimeout())
	keep(c.Metrics.PushTimeout())
	keep(c.Schedule.PassTimeout())
	return errs
}
