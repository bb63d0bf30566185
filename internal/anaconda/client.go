// Package anaconda looks up the versions a package publishes on
// anaconda.org channels, and the plugin index that labels related packages.
// Responses are memoized in an injected TTL cache; transient HTTP failures
// are retried with exponential backoff inside this client, so the engine
// above it never retries.
package anaconda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/blackwell-systems/appenv/internal/versions"
)

const (
	// DefaultBaseURL is the anaconda.org package API.
	DefaultBaseURL = "https://api.anaconda.org"
	// DefaultTimeout bounds one registry request.
	DefaultTimeout = 60 * time.Second
	// DefaultTTL is how long registry responses stay cached.
	DefaultTTL = 10 * time.Minute

	defaultUserAgent = "appenv"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Cache memoizes registry responses. One is created with DefaultTTL
	// when nil.
	Cache *cache.Cache
	// RetryDeadline caps the total time spent retrying one request.
	RetryDeadline time.Duration
}

// Client queries the package registry.
type Client struct {
	base     string
	http     *http.Client
	cache    *cache.Cache
	ua       string
	deadline time.Duration
	log      *log.Entry
}

// New builds a registry client.
func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := opts.Cache
	if c == nil {
		c = cache.New(DefaultTTL, DefaultTTL)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	deadline := opts.RetryDeadline
	if deadline == 0 {
		deadline = 15 * time.Second
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		cache:    c,
		ua:       ua,
		deadline: deadline,
		log:      log.WithField("component", "anaconda"),
	}
}

// InvalidateCache drops every memoized registry response.
func (c *Client) InvalidateCache() { c.cache.Flush() }

type packageFile struct {
	Version string `json:"version"`
	Attrs   struct {
		Build string `json:"build"`
	} `json:"attrs"`
}

type packageInfo struct {
	Versions []string      `json:"versions"`
	Files    []packageFile `json:"files"`
}

// AvailableVersions returns the union of versions the package publishes on
// the given channels, newest first. When buildTag is set, only versions with
// at least one build artifact matching the pattern ("*" wildcards) survive.
// Pre-releases are dropped unless includeUnstable.
func (c *Client) AvailableVersions(ctx context.Context, pkg, buildTag string, channels []string, includeUnstable bool) ([]string, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to query for %s", pkg)
	}

	seen := make(map[string]struct{})
	var merged []string
	for _, channel := range channels {
		info, err := c.channelPackage(ctx, channel, pkg)
		if err != nil {
			return nil, err
		}
		for _, v := range info.Versions {
			if buildTag != "" && !hasMatchingBuild(info, v, buildTag) {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}

	if !includeUnstable {
		merged = versions.StableOnly(merged)
	}

	keep := make([]string, 0, len(merged))
	for _, v := range merged {
		if _, err := versions.Parse(v); err != nil {
			c.log.WithField("version", v).Warn("skipping unparseable registry version")
			continue
		}
		keep = append(keep, v)
	}
	return versions.SortDescending(keep)
}

func (c *Client) channelPackage(ctx context.Context, channel, pkg string) (*packageInfo, error) {
	key := "pkg/" + channel + "/" + pkg
	if v, ok := c.cache.Get(key); ok {
		return v.(*packageInfo), nil
	}

	u := fmt.Sprintf("%s/package/%s/%s", c.base, url.PathEscape(channel), url.PathEscape(pkg))
	var info packageInfo
	if err := c.getJSON(ctx, u, &info); err != nil {
		return nil, fmt.Errorf("query %s on channel %s: %w", pkg, channel, err)
	}
	c.cache.Set(key, &info, cache.DefaultExpiration)
	return &info, nil
}

func hasMatchingBuild(info *packageInfo, version, pattern string) bool {
	for _, f := range info.Files {
		if f.Version != version {
			continue
		}
		if ok, err := path.Match(pattern, f.Attrs.Build); err == nil && ok {
			return true
		}
	}
	return false
}

// Plugins fetches the related-package index. The endpoint publishes either a
// JSON object keyed by package name or a plain array of names; both are
// accepted. An empty URL yields no plugins.
func (c *Client) Plugins(ctx context.Context, pluginsURL string) ([]string, error) {
	if pluginsURL == "" {
		return nil, nil
	}
	key := "plugins/" + pluginsURL
	if v, ok := c.cache.Get(key); ok {
		return v.([]string), nil
	}

	var payload any
	if err := c.getJSON(ctx, pluginsURL, &payload); err != nil {
		return nil, fmt.Errorf("query plugin index: %w", err)
	}

	var names []string
	switch t := payload.(type) {
	case map[string]any:
		for name := range t {
			names = append(names, name)
		}
	case []any:
		for _, entry := range t {
			if name, ok := entry.(string); ok {
				names = append(names, name)
			}
		}
	default:
		return nil, fmt.Errorf("plugin index at %s has unexpected shape", pluginsURL)
	}
	sort.Strings(names)

	c.cache.Set(key, names, cache.DefaultExpiration)
	return names, nil
}

// getJSON performs a GET with retry. Server-side and transport failures are
// retried; malformed payloads and client errors are not.
func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", c.ua)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %s", resp.Status)
			if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return backoff.Permanent(err)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, dst); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.deadline
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
