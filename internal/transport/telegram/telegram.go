// Package telegram mirrors announcements to a Telegram chat or channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"refwatch/internal/transport"
	logx "refwatch/pkg/logx"
)

// telegramTextLimit is the Bot API cap for one message body.
const telegramTextLimit = 4096

type Config struct {
	Token string
	// ChatID is a numeric chat id or an @channel username.
	ChatID string
	// APIURL overrides the Bot API endpoint.
	APIURL         string
	DisablePreview bool
}

type Channel struct {
	cfg Config
	bot *tele.Bot
	to  tele.Recipient
	log logx.Logger
}

// channelName addresses a public channel by its @username.
type channelName string

func (c channelName) Recipient() string { return string(c) }

func recipient(chatID string) (tele.Recipient, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if strings.HasPrefix(chatID, "@") {
		return channelName(chatID), nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	return tele.ChatID(id), nil
}

// New builds an offline bot: no getMe round trip and no poller, since the
// channel only sends.
func New(cfg Config, hc *http.Client, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	to, err := recipient(cfg.ChatID)
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = &http.Client{Timeout: 8 * time.Second}
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  hc,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, bot: b, to: to, log: log}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Publish(ctx context.Context, p transport.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := p.Text
	if len(text) > telegramTextLimit {
		text = truncate(text, telegramTextLimit)
	}
	msg, err := c.bot.Send(c.to, text, &tele.SendOptions{DisableWebPagePreview: c.cfg.DisablePreview})
	if err != nil {
		return fmt.Errorf("telegram send: %w: %w", transport.ErrPublish, err)
	}
	c.log.Debug("telegram message sent", logx.Int("message_id", msg.ID))
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	for n > 0 && n < len(s) && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
