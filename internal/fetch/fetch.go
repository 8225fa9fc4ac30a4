// Package fetch retrieves raw listing pages for registered targets,
// honoring per-target politeness delays and retrying transient failures.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/mkalnins/sswatch/internal/task"
	"github.com/mkalnins/sswatch/internal/version"
)

const maxPageBytes = 2 << 20 // 2 MiB per page

// Page is one fetched listing page.
type Page struct {
	Number int
	URL    string
	Body   []byte
}

// TransientError marks a failure worth retrying: network errors, 5xx,
// and 429 responses.
type TransientError struct {
	URL   string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error for %s: %v", e.URL, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that retrying will not fix: non-429 4xx
// responses, or a transient failure that exhausted the retry budget.
type PermanentError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent fetch error for %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("permanent fetch error for %s: %v", e.URL, e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// Options configures retry behavior. Zero values take defaults.
type Options struct {
	MaxRetries   int           // retries per page after the first attempt
	RetryBackoff time.Duration // initial backoff, doubles per attempt
	Timeout      time.Duration // per-request timeout
	UserAgent    string
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = fmt.Sprintf("sswatch/%s", version.Version)
	}
	return o
}

// Fetcher downloads listing pages. One rate limiter per task name
// enforces the politeness interval across runs.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher.
func New(opts Options, logger *slog.Logger) *Fetcher {
	opts = opts.withDefaults()
	return &Fetcher{
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		logger:   logger.With(slog.String("component", "fetcher")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// NewWithHTTPClient creates a Fetcher with a custom HTTP client (for testing).
func NewWithHTTPClient(opts Options, client *http.Client, logger *slog.Logger) *Fetcher {
	f := New(opts, logger)
	f.client = client
	return f
}

// Fetch downloads all pages for a target, stopping at the page cap, a
// terminal 404 past the first page, or a page identical to the previous
// one (the source serves the last page for out-of-range numbers).
func (f *Fetcher) Fetch(ctx context.Context, target task.Target) ([]Page, error) {
	pageCap := target.PageCap
	if !target.Paginated() {
		pageCap = 1
	}

	var pages []Page
	for n := 1; n <= pageCap; n++ {
		pageURL := target.PageURL(n)

		body, err := f.fetchPage(ctx, target, pageURL)
		if err != nil {
			var perm *PermanentError
			if n > 1 && errors.As(err, &perm) && perm.StatusCode == http.StatusNotFound {
				// Past the last page.
				break
			}
			return nil, err
		}

		if n > 1 && bytes.Equal(body, pages[len(pages)-1].Body) {
			break
		}
		pages = append(pages, Page{Number: n, URL: pageURL, Body: body})
	}

	f.logger.Debug("fetched target",
		slog.String("task", target.Name),
		slog.Int("pages", len(pages)),
	)
	return pages, nil
}

// fetchPage downloads one page with rate limiting and bounded retries.
func (f *Fetcher) fetchPage(ctx context.Context, target task.Target, pageURL string) ([]byte, error) {
	backoff := retry.WithMaxRetries(uint64(f.opts.MaxRetries), retry.NewExponential(f.opts.RetryBackoff))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.limiterFor(target).Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		b, err := f.doRequest(ctx, pageURL)
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				f.logger.Warn("transient fetch failure, will retry",
					slog.String("task", target.Name),
					slog.String("url", pageURL),
					slog.Any("error", transient.Cause),
				)
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		var transient *TransientError
		if errors.As(err, &transient) {
			// Retry budget exhausted.
			return nil, &PermanentError{URL: pageURL, Cause: err}
		}
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) doRequest(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransientError{URL: pageURL, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return nil, &TransientError{URL: pageURL, Cause: err}
		}
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &TransientError{URL: pageURL, Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}

	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &PermanentError{URL: pageURL, StatusCode: resp.StatusCode}
	}
}

// limiterFor returns the politeness limiter for a task, creating it on
// first use.
func (f *Fetcher) limiterFor(target task.Target) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[target.Name]
	if !ok {
		l = rate.NewLimiter(rate.Every(target.PolitenessInterval()), 1)
		f.limiters[target.Name] = l
	}
	return l
}
