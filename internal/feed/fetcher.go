package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"snowballrss/internal/domain"
)

const (
	DefaultBaseURL     = "https://rsshub.app"
	DefaultTitleSuffix = " 的雪球全部动态"
	DefaultTimeout     = 30 * time.Second

	userAgent   = "Mozilla/5.0 (compatible; snowballrss/1.0)"
	maxBodySize = 10 << 20
)

// Kind discriminates fetch failures.
type Kind string

const (
	// KindParse means the payload could not be validated. It is not retried.
	KindParse Kind = "parse"
	// KindNetwork means the transport failed. The next cycle retries.
	KindNetwork Kind = "network"
)

// FetchError is returned by Fetch for every failure.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseCause returns the cause of a parse-level FetchError in err's chain,
// or nil when there is none.
func ParseCause(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindParse {
		return fe.Err
	}
	return nil
}

// Fetcher returns the current snapshot of a user's feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedID string) (domain.Feed, error)
}

// Options configures an RSSHubFetcher.
type Options struct {
	// BaseURL of the RSSHub instance.
	BaseURL string
	// TitleSuffix is stripped from the feed title to get the author. When
	// empty the whole title is the author and no check is made.
	TitleSuffix string
	Timeout     time.Duration
	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// RSSHubFetcher reads Snowball user timelines through RSSHub.
type RSSHubFetcher struct {
	baseURL string
	suffix  string
	client  *http.Client
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewRSSHubFetcher creates a fetcher with the given options.
func NewRSSHubFetcher(opts Options, logger logrus.FieldLogger) *RSSHubFetcher {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: &uaTransport{base: http.DefaultTransport},
		}
	}
	return &RSSHubFetcher{
		baseURL: strings.TrimRight(base, "/"),
		suffix:  opts.TitleSuffix,
		client:  client,
		log:     logger.WithField("component", "feed"),
		now:     time.Now,
	}
}

// URL returns the feed address for a Snowball user id.
func (f *RSSHubFetcher) URL(feedID string) string {
	return fmt.Sprintf("%s/xueqiu/user/%s", f.baseURL, url.PathEscape(feedID))
}

// Fetch downloads and validates the feed. Every error is a *FetchError.
func (f *RSSHubFetcher) Fetch(ctx context.Context, feedID string) (domain.Feed, error) {
	feedURL := f.URL(feedID)
	log := f.log.WithField("url", feedURL)
	log.Debug("Start fetching feed")

	body, err := f.download(ctx, feedURL)
	if err != nil {
		log.WithError(err).Error("Fetch failed")
		return domain.Feed{}, &FetchError{Kind: KindNetwork, Err: err}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Error("Parsing error")
		return domain.Feed{}, &FetchError{Kind: KindParse, Err: fmt.Errorf("parse feed %s: %w", feedURL, err)}
	}

	result, err := toFeed(parsed, f.suffix, f.now)
	if err != nil {
		log.WithError(err).Error("Parsing error")
		return domain.Feed{}, &FetchError{Kind: KindParse, Err: err}
	}
	return result, nil
}

func (f *RSSHubFetcher) download(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %d", feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", feedURL, err)
	}
	return body, nil
}

// toFeed validates a parsed feed. Every invalid item is reported.
func toFeed(parsed *gofeed.Feed, suffix string, now func() time.Time) (domain.Feed, error) {
	author, err := authorFromTitle(parsed.Title, suffix)
	if err != nil {
		return domain.Feed{}, err
	}

	var problems []error
	posts := make([]domain.Post, 0, len(parsed.Items))
	for idx, item := range parsed.Items {
		if item.Link == "" {
			problems = append(problems, fmt.Errorf("item %d: link is missing", idx))
			continue
		}
		published := itemPublishedTime(item)
		if published.IsZero() {
			problems = append(problems, fmt.Errorf("item %d (%s): published time is missing or invalid", idx, item.Link))
			continue
		}
		raw := item.Description
		if raw == "" {
			raw = item.Content
		}
		posts = append(posts, domain.Post{
			Title:         strings.TrimSpace(item.Title),
			Content:       Sanitize(raw),
			PublishedTime: published,
			Link:          item.Link,
			Author:        author,
		})
	}
	if len(problems) > 0 {
		return domain.Feed{}, fmt.Errorf("invalid feed items: %w", errors.Join(problems...))
	}

	updated := now()
	if parsed.UpdatedParsed != nil {
		updated = *parsed.UpdatedParsed
	} else if parsed.PublishedParsed != nil {
		updated = *parsed.PublishedParsed
	}

	return domain.Feed{UpdateTime: updated, Author: author, Posts: posts}, nil
}

func authorFromTitle(title, suffix string) (string, error) {
	if suffix == "" {
		return strings.TrimSpace(title), nil
	}
	if !strings.HasSuffix(title, suffix) {
		return "", fmt.Errorf("invalid title, expected %q, got %q", "<author>"+suffix, title)
	}
	return strings.TrimSuffix(title, suffix), nil
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}
