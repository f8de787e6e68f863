package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ChainEnv is what every command needs: the node endpoint and network name.
type ChainEnv struct {
	SubstrateWSS string `envconfig:"SUBSTRATE_WSS" required:"true"`
	Chain        string `envconfig:"CHAIN" required:"true"`
}

// Network returns the lower-cased chain name used in URLs.
func (e ChainEnv) Network() string {
	return strings.ToLower(strings.TrimSpace(e.Chain))
}

// PublishEnv holds the channel credentials needed to announce.
type PublishEnv struct {
	ConsumerKey         string `envconfig:"CONSUMER_KEY" required:"true"`
	ConsumerSecret      string `envconfig:"CONSUMER_SECRET" required:"true"`
	AccessToken         string `envconfig:"ACCESS_TOKEN" required:"true"`
	AccessTokenSecret   string `envconfig:"ACCESS_TOKEN_SECRET" required:"true"`
	Webhook             string `envconfig:"WEBHOOK" required:"true"`
	PublishingBotToken  string `envconfig:"PUBLISHING_BOT_TOKEN" required:"true"`
	AnnouncementChannel string `envconfig:"ANNOUNCEMENT_CHANNEL" required:"true"`

	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
}

// LoadDotEnv loads path into the process environment without overriding
// variables already set. A missing file is only an error when explicit.
func LoadDotEnv(path string, explicit bool) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func LoadChainEnv() (ChainEnv, error) {
	var e ChainEnv
	if err := envconfig.Process("", &e); err != nil {
		return ChainEnv{}, err
	}
	if strings.TrimSpace(e.SubstrateWSS) == "" {
		return ChainEnv{}, errors.New("required key SUBSTRATE_WSS is empty")
	}
	return e, nil
}

func LoadPublishEnv() (PublishEnv, error) {
	var e PublishEnv
	if err := envconfig.Process("", &e); err != nil {
		return PublishEnv{}, err
	}
	return e, nil
}
