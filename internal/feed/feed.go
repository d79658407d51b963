package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pulse-alerts/internal/storage"
)

const postsPath = "/posts"

// Source retrieves social posts published after a given instant.
type Source interface {
	FetchSince(ctx context.Context, since time.Time) ([]storage.Post, error)
}

// ClientOptions parameterise the feed aggregator client.
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	Platform  string
	PageLimit int
	Timeout   time.Duration
	UserAgent string
}

// Client fetches posts from the feed aggregator API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a feed client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "feed_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSince 拉取 since 之后发布的帖子, 按发布时间升序返回.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]storage.Post, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("feed base url not configured")
	}

	limit := c.opts.PageLimit
	if limit <= 0 {
		limit = 100
	}

	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))
	if c.opts.Platform != "" {
		query.Set("platform", c.opts.Platform)
	}

	endpoint := c.baseURL + postsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pulsewatcher/1.0")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var body postsResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	posts := make([]storage.Post, 0, len(body.Posts))
	for _, p := range body.Posts {
		postedAt, err := time.Parse(time.RFC3339, p.PostedAt)
		if err != nil {
			c.logger.Warn().Str("source_id", p.ID).Str("posted_at", p.PostedAt).Msg("跳过时间戳无法解析的帖子")
			continue
		}
		posts = append(posts, storage.Post{
			Platform:  p.Platform,
			SourceID:  p.ID,
			Author:    p.Author,
			Body:      p.Text,
			URL:       p.URL,
			PostedAt:  postedAt.UTC(),
			FetchedAt: now,
		})
	}

	return posts, nil
}

type postsResponse struct {
	Posts []postPayload `json:"posts"`
}

type postPayload struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Author   string `json:"author"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	PostedAt string `json:"posted_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed api error (%d)", status)
}

var _ Source = (*Client)(nil)
