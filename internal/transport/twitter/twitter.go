// Package twitter posts announcements as tweets through the v2 API with
// OAuth 1.0a user-context signing.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"

	"refwatch/internal/transport"
	logx "refwatch/pkg/logx"
)

const (
	DefaultEndpoint = "https://api.twitter.com/2/tweets"

	maxErrBody = 4 << 10
)

// Credentials are the four OAuth 1.0a secrets of the posting account.
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

func (c Credentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessTokenSecret != ""
}

// SignedClient returns an http.Client that signs every request with creds.
// base supplies the underlying transport and timeout; nil uses defaults.
func SignedClient(ctx context.Context, creds Credentials, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: 15 * time.Second}
	}
	cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	hc := cfg.Client(context.WithValue(ctx, oauth1.HTTPClient, base), token)
	hc.Timeout = base.Timeout
	return hc
}

type Client struct {
	http     *http.Client
	endpoint string
	log      logx.Logger
}

// New wraps an already-signed client. An empty endpoint uses DefaultEndpoint.
func New(signed *http.Client, endpoint string, log logx.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{http: signed, endpoint: endpoint, log: log}
}

func (c *Client) Name() string { return "twitter" }

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Publish creates one tweet from p.Text. Any non-2xx status is an error.
func (c *Client) Publish(ctx context.Context, p transport.Post) error {
	body, err := json.Marshal(tweetRequest{Text: p.Text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twitter post: %w: %w", transport.ErrPublish, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &transport.StatusError{Channel: "twitter", Status: resp.StatusCode, Body: string(b)}
	}

	var out tweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Warn("tweet posted but response was unreadable", logx.Err(err))
		return nil
	}
	c.log.Info("tweet posted", logx.String("tweet_id", out.Data.ID))
	return nil
}
