// Package scraper reads posts from the Reddit JSON API.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/models"
)

// ErrRateLimited is returned when Reddit answers 429.
var ErrRateLimited = fmt.Errorf("reddit rate limit: %w", models.ErrSourceUnavailable)

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	subreddit  string
}

// New builds a client. With credentials it talks to the OAuth host, otherwise to the public JSON endpoints.
func New(ctx context.Context, cfg config.RedditConfig) *Client {
	base := http.RoundTripper(&userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport})
	c := &Client{
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		subreddit: cfg.Subreddit,
	}

	if cfg.Authenticated() {
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base, Timeout: 30 * time.Second})
		base = &oauth2.Transport{Source: tokenSource(tokenCtx, cfg), Base: base}
		c.baseURL = strings.TrimRight(cfg.OAuthBaseURL, "/")
		slog.Info("Using authenticated Reddit access", "user", cfg.Username != "")
	} else {
		slog.Info("Using anonymous Reddit access")
	}

	c.httpClient = &http.Client{Transport: base, Timeout: 30 * time.Second}
	return c
}

func tokenSource(ctx context.Context, cfg config.RedditConfig) oauth2.TokenSource {
	if cfg.Username != "" && cfg.Password != "" {
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		}
		return oauth2.ReuseTokenSource(nil, &passwordSource{ctx: ctx, conf: conf, user: cfg.Username, pass: cfg.Password})
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return cc.TokenSource(ctx)
}

// passwordSource fetches script-app tokens with the resource owner password grant.
type passwordSource struct {
	ctx  context.Context
	conf *oauth2.Config
	user string
	pass string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	return p.conf.PasswordCredentialsToken(p.ctx, p.user, p.pass)
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// ListNewest returns up to limit of the newest posts in the subreddit.
func (c *Client) ListNewest(ctx context.Context, limit int) ([]models.PostSnapshot, error) {
	if limit <= 0 || limit > maxListingSize {
		limit = maxListingSize
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")

	var l listing
	if err := c.getJSON(ctx, "/r/"+url.PathEscape(c.subreddit)+"/new.json", q, &l); err != nil {
		return nil, fmt.Errorf("list newest in r/%s: %w", c.subreddit, err)
	}
	snapshots := collect(l)
	slog.Info("Fetched newest posts", "subreddit", c.subreddit, "count", len(snapshots))
	return snapshots, nil
}

// CheckExistence returns snapshots for the ids Reddit still resolves, querying in batches of 100.
func (c *Client) CheckExistence(ctx context.Context, ids []string) ([]models.PostSnapshot, error) {
	var out []models.PostSnapshot
	for start := 0; start < len(ids); start += maxInfoBatch {
		end := min(start+maxInfoBatch, len(ids))
		names := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			names = append(names, linkPrefix+strings.TrimPrefix(id, linkPrefix))
		}

		q := url.Values{}
		q.Set("id", strings.Join(names, ","))
		q.Set("raw_json", "1")

		var l listing
		if err := c.getJSON(ctx, "/api/info.json", q, &l); err != nil {
			return nil, fmt.Errorf("check existence of %d posts: %w", len(names), err)
		}
		out = append(out, collect(l)...)
	}
	return out, nil
}

func collect(l listing) []models.PostSnapshot {
	out := make([]models.PostSnapshot, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		out = append(out, child.Data.snapshot())
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", u, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return fmt.Errorf("reddit token request rejected: %w", err)
		}
		return fmt.Errorf("failed to fetch %s: %w: %w", path, models.ErrSourceUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		slog.Warn("Reddit rate limit hit", "path", path, "reset", res.Header.Get("X-Ratelimit-Reset"))
		return ErrRateLimited
	case res.StatusCode >= 500:
		return fmt.Errorf("fetch %s: status code %d: %w", path, res.StatusCode, models.ErrSourceUnavailable)
	case res.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("fetch %s: status code %d: %s", path, res.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		// Reddit serves HTML error pages with 200 during outages.
		return fmt.Errorf("decode %s: %w: %w", path, models.ErrSourceUnavailable, err)
	}
	return nil
}
