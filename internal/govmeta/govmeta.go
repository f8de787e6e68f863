// Package govmeta looks up human-readable referendum details from public
// governance platforms.
package govmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	logx "refwatch/pkg/logx"
)

// Default mirrors. {id} and {network} are substituted per lookup.
var DefaultMirrors = []string{
	"https://api.polkassembly.io/api/v1/posts/on-chain-post?postId={id}&proposalType=referendums_v2",
	"https://{network}.subsquare.io/api/gov2/referendums/{id}",
}

const (
	PlaceholderTitle   = "None"
	PlaceholderContent = "Unable to retrieve details from both sources"

	maxBodyBytes = 8 << 20
)

// Details is a mirror response. Fields keeps the full decoded body.
type Details struct {
	Title   string
	Content string
	// SuccessfulURL is the mirror URL that answered; empty for the placeholder.
	SuccessfulURL string
	Fields        map[string]any
}

// Placeholder is returned when no mirror has a usable title.
func Placeholder() Details {
	return Details{
		Title:   PlaceholderTitle,
		Content: PlaceholderContent,
		Fields: map[string]any{
			"title":          PlaceholderTitle,
			"content":        PlaceholderContent,
			"successful_url": nil,
		},
	}
}

type Config struct {
	Network string
	Mirrors []string
	Timeout time.Duration
}

type Client struct {
	http    *http.Client
	network string
	mirrors []string
	log     logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	mirrors := cfg.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{http: hc, network: strings.ToLower(cfg.Network), mirrors: mirrors, log: log}
}

// URLs expands the mirror templates for id.
func (c *Client) URLs(id uint32) []string {
	r := strings.NewReplacer("{id}", strconv.FormatUint(uint64(id), 10), "{network}", c.network)
	out := make([]string, 0, len(c.mirrors))
	for _, m := range c.mirrors {
		out = append(out, r.Replace(m))
	}
	return out
}

// Lookup returns the first mirror response carrying a real title, else the
// placeholder. It never fails: mirror errors are logged and skipped.
func (c *Client) Lookup(ctx context.Context, id uint32) Details {
	for _, u := range c.URLs(id) {
		d, err := c.fetch(ctx, u)
		if err != nil {
			c.log.Error("metadata lookup failed", logx.String("url", u), logx.Err(err))
			continue
		}
		if usableTitle(d.Title) {
			d.SuccessfulURL = u
			d.Fields["successful_url"] = u
			return d
		}
		c.log.Debug("metadata mirror has no title", logx.String("url", u))
	}
	return Placeholder()
}

func (c *Client) fetch(ctx context.Context, u string) (Details, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return Details{}, err
	}
	req.Header.Set("x-network", c.network)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Details{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Details{}, fmt.Errorf("http status %d", resp.StatusCode)
	}

	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&fields); err != nil {
		return Details{}, fmt.Errorf("decode body: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	if _, ok := fields["title"]; !ok {
		fields["title"] = PlaceholderTitle
	}

	d := Details{Fields: fields}
	d.Title, _ = fields["title"].(string)
	d.Content, _ = fields["content"].(string)
	return d, nil
}

func usableTitle(t string) bool {
	return t != "" && t != PlaceholderTitle
}
