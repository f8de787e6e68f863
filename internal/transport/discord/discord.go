// Package discord posts announcements through a Discord webhook and
// crossposts pending messages in an announcement channel.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"refwatch/internal/transport"
	logx "refwatch/pkg/logx"
)

const (
	DefaultAPIBase    = "https://discord.com/api/v10"
	DefaultEmbedColor = 15073402

	// Discord marks a crossposted message with flag bit 0; zero means unpublished.
	flagsUnpublished = 0

	maxErrBody = 4 << 10
)

type Config struct {
	WebhookURL string
	BotToken   string
	ChannelID  string
	Username   string
	EmbedTitle string
	EmbedColor int
	// AsEmbed sends the post as a rich embed instead of plain content.
	AsEmbed bool
	APIBase string
	// FetchLimit bounds how many recent channel messages are checked.
	FetchLimit int
	// RatePerSec paces bot API calls.
	RatePerSec float64
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.EmbedColor == 0 {
		cfg.EmbedColor = DefaultEmbedColor
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 50
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:     log,
	}
}

func (c *Client) Name() string { return "discord" }

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

type webhookPayload struct {
	Content  string  `json:"content,omitempty"`
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds,omitempty"`
}

func (c *Client) payload(p transport.Post) webhookPayload {
	out := webhookPayload{Username: p.Username}
	if out.Username == "" {
		out.Username = c.cfg.Username
	}
	if p.Text == "" {
		return out
	}
	if !c.cfg.AsEmbed {
		out.Content = p.Text
		return out
	}
	title := p.Title
	if title == "" {
		title = c.cfg.EmbedTitle
	}
	out.Embeds = []embed{{
		Title:       ":rotating_light: " + title,
		Description: p.Text,
		Color:       c.cfg.EmbedColor,
	}}
	return out
}

// Publish sends p through the webhook. Anything but 204 No Content is an error.
func (c *Client) Publish(ctx context.Context, p transport.Post) error {
	body, err := json.Marshal(c.payload(p))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w: %w", transport.ErrPublish, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	c.log.Info("webhook message sent")
	return nil
}

// Message is the subset of a channel message the crosspost step reads.
type Message struct {
	ID    string `json:"id"`
	Flags int    `json:"flags"`
}

func (c *Client) botRequest(ctx context.Context, method, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.cfg.BotToken)
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// RecentMessages lists the latest messages of the announcement channel.
func (c *Client) RecentMessages(ctx context.Context) ([]Message, error) {
	url := fmt.Sprintf("%s/channels/%s/messages?limit=%d", c.cfg.APIBase, c.cfg.ChannelID, c.cfg.FetchLimit)
	resp, err := c.botRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// Crosspost publishes one announcement-channel message to followers.
func (c *Client) Crosspost(ctx context.Context, messageID string) error {
	url := fmt.Sprintf("%s/channels/%s/messages/%s/crosspost", c.cfg.APIBase, c.cfg.ChannelID, messageID)
	resp, err := c.botRequest(ctx, http.MethodPost, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// PublishPending crossposts every recent unpublished message. Failures are
// logged per message; only the listing error is returned.
func (c *Client) PublishPending(ctx context.Context) (int, error) {
	msgs, err := c.RecentMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch recent messages: %w", err)
	}
	if len(msgs) == 0 {
		c.log.Info("no messages found")
		return 0, nil
	}

	published := 0
	for _, m := range msgs {
		if m.Flags != flagsUnpublished {
			continue
		}
		c.log.Info("publishing unpublished message", logx.String("message_id", m.ID))
		if err := c.Crosspost(ctx, m.ID); err != nil {
			c.log.Error("crosspost failed", logx.String("message_id", m.ID), logx.Err(err))
			continue
		}
		published++
	}
	return published, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return &transport.StatusError{Channel: "discord", Status: resp.StatusCode, Body: string(b)}
}
