package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"refwatch/internal/chain"
	"refwatch/internal/config"
	"refwatch/internal/estimator"
	"refwatch/internal/govmeta"
	"refwatch/internal/metrics"
	"refwatch/internal/notifier"
	"refwatch/internal/referenda"
	"refwatch/internal/storage"
	"refwatch/internal/transport"
	"refwatch/internal/transport/discord"
	"refwatch/internal/transport/telegram"
	"refwatch/internal/transport/twitter"
	logx "refwatch/pkg/logx"
)

// confirmingSource adapts the chain reader and decoder to notifier.ProposalSource.
type confirmingSource struct {
	node *chain.Client
	dec  referenda.Decoder
	log  logx.Logger
}

func (s confirmingSource) Confirming(ctx context.Context) ([]referenda.ConfirmingProposal, error) {
	return s.dec.Confirming(ctx, s.node, s.log)
}

// RunOnce performs one full announcement pass with the current config.
func (a *App) RunOnce(ctx context.Context) (notifier.Report, error) {
	cfg := a.cfgm.Get()
	network := a.env.Network()

	// Credentials are checked before any network work.
	var pub config.PublishEnv
	if !a.opts.DryRun {
		var err error
		if pub, err = config.LoadPublishEnv(); err != nil {
			return notifier.Report{}, fmt.Errorf("environment: %w", err)
		}
	}

	storeCfg, err := storageConfig(cfg)
	if err != nil {
		return notifier.Report{}, err
	}
	// a dry run must leave the cache exactly as it found it
	storeCfg.ReadOnly = a.opts.DryRun
	store, err := storage.Open(storeCfg, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return notifier.Report{}, fmt.Errorf("open cache: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	node, err := a.dial(ctx, cfg)
	if err != nil {
		return notifier.Report{}, err
	}
	defer node.Close()

	metaTimeout, err := cfg.Metadata.HTTPTimeout()
	if err != nil {
		return notifier.Report{}, err
	}
	meta := govmeta.New(govmeta.Config{
		Network: network,
		Mirrors: cfg.Metadata.Mirrors,
		Timeout: metaTimeout,
	}, nil, a.log.With(logx.String("comp", "govmeta")))

	postDelay, err := cfg.Social.Delay()
	if err != nil {
		return notifier.Report{}, err
	}

	deps := notifier.Deps{
		Proposals: confirmingSource{
			node: node,
			dec:  a.decoder(ctx, cfg, node),
			log:  a.log.With(logx.String("comp", "referenda")),
		},
		Estimator: estimator.New(node, cfg.Chain.SampleWindow, a.log.With(logx.String("comp", "estimator"))),
		Titles:    meta,
		Store:     store,
		Log:       a.log.With(logx.String("comp", "notifier")),
	}
	if !a.opts.DryRun {
		if err := a.wireChannels(ctx, cfg, pub, &deps); err != nil {
			return notifier.Report{}, err
		}
	}

	rec, err := a.metricsRecorder(cfg, network)
	if err != nil {
		return notifier.Report{}, err
	}
	if rec != nil {
		deps.Metrics = rec
	}

	svc, err := notifier.New(notifier.Config{
		Network:    network,
		PostDelay:  postDelay,
		AlertTitle: cfg.Discord.EmbedTitle,
		Username:   cfg.Discord.Username,
		DryRun:     a.opts.DryRun,
	}, deps)
	if err != nil {
		return notifier.Report{}, err
	}

	rep, runErr := svc.Run(ctx)
	if rec != nil {
		if err := rec.Push(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("metrics push failed", logx.Err(err))
		}
	}
	return rep, runErr
}

func (a *App) wireChannels(ctx context.Context, cfg *config.Config, pub config.PublishEnv, deps *notifier.Deps) error {
	socialTimeout, err := cfg.Social.HTTPTimeout()
	if err != nil {
		return err
	}
	creds := twitter.Credentials{
		ConsumerKey:       pub.ConsumerKey,
		ConsumerSecret:    pub.ConsumerSecret,
		AccessToken:       pub.AccessToken,
		AccessTokenSecret: pub.AccessTokenSecret,
	}
	if !creds.Complete() {
		return fmt.Errorf("environment: twitter credentials are empty")
	}
	signed := twitter.SignedClient(ctx, creds, &http.Client{Timeout: socialTimeout})
	deps.Social = twitter.New(signed, cfg.Social.Endpoint, a.log.With(logx.String("comp", "twitter")))

	discordTimeout, err := cfg.Discord.HTTPTimeout()
	if err != nil {
		return err
	}
	username := cfg.Discord.Username
	if username == "" {
		username = notifier.DefaultUsername
	}
	dc := discord.New(discord.Config{
		WebhookURL: pub.Webhook,
		BotToken:   pub.PublishingBotToken,
		ChannelID:  pub.AnnouncementChannel,
		Username:   username,
		EmbedTitle: cfg.Discord.EmbedTitle,
		EmbedColor: cfg.Discord.EmbedColor,
		AsEmbed:    !cfg.Discord.PlainText,
		APIBase:    cfg.Discord.APIBase,
		FetchLimit: cfg.Discord.FetchLimit,
		RatePerSec: cfg.Discord.RatePerSec,
	}, &http.Client{Timeout: discordTimeout}, a.log.With(logx.String("comp", "discord")))
	deps.Chat = []transport.Publisher{dc}
	deps.Pending = dc

	if cfg.Telegram.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:          pub.TelegramToken,
			ChatID:         cfg.Telegram.ChatID,
			APIURL:         cfg.Telegram.APIURL,
			DisablePreview: cfg.Telegram.DisablePreview,
		}, nil, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		deps.Chat = append(deps.Chat, tg)
	}
	return nil
}

func (a *App) metricsRecorder(cfg *config.Config, network string) (*metrics.Recorder, error) {
	if strings.TrimSpace(cfg.Metrics.PushURL) == "" {
		return nil, nil
	}
	timeout, err := cfg.Metrics.PushTimeout()
	if err != nil {
		return nil, err
	}
	return metrics.New(metrics.Config{
		PushURL: cfg.Metrics.PushURL,
		Job:     cfg.Metrics.Job,
		Network: network,
		Timeout: timeout,
	}, a.log.With(logx.String("comp", "metrics"))), nil
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Cache.Driver))
	path := strings.TrimSpace(cfg.Cache.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("cache.path is required when cache.driver=sqlite")
		}
		busy, err := cfg.Cache.BusyWait()
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{Driver: driver, Path: path}, nil
	}
}
