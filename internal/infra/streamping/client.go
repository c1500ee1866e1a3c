// Package streamping reports stream starts to the podcast's play
// counter endpoint.
package streamping

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultCooldown suppresses repeat pings for the same episode, so a
// retry loop or a seek back to the start is not counted twice.
const DefaultCooldown = 5 * time.Minute

// Client is a play counter client.
type Client struct {
	endpoint   string
	cooldown   time.Duration
	httpClient *http.Client

	// Last ping time per episode id
	mu       sync.Mutex
	lastPing map[string]time.Time
	now      func() time.Time
}

// Config represents play counter client configuration.
type Config struct {
	Endpoint string
	Cooldown time.Duration
}

// New creates a new play counter client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("stream ping endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, errors.Wrap(err, "invalid stream ping endpoint")
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		cooldown:   cooldown,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		lastPing:   make(map[string]time.Time),
		now:        time.Now,
	}, nil
}

// Notify reports that the episode began streaming. Pings within the
// cooldown window for the same episode are dropped silently.
func (c *Client) Notify(ctx context.Context, episodeID string) error {
	if episodeID == "" {
		return errors.New("episode id is required")
	}

	c.mu.Lock()
	if last, ok := c.lastPing[episodeID]; ok && c.now().Sub(last) < c.cooldown {
		c.mu.Unlock()
		zlog.Debug().Str("episode_id", episodeID).Msg("stream ping suppressed by cooldown")
		return nil
	}
	c.lastPing[episodeID] = c.now()
	c.mu.Unlock()

	params := url.Values{}
	params.Set("episode", episodeID)
	reqURL := c.endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.forget(episodeID)
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.forget(episodeID)
		return errors.Newf("stream ping returned status %d", resp.StatusCode)
	}

	zlog.Debug().Str("episode_id", episodeID).Msg("stream ping sent")
	return nil
}

// forget clears the cooldown entry so a failed ping can be retried.
func (c *Client) forget(episodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastPing, episodeID)
}
