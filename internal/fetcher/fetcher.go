package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"carscout/internal/config"
)

// Loader retrieves one page of raw HTML. Implementations encapsulate the
// anti-blocking strategy (plain HTTP with rotated headers, headless browser)
// so policy stays swappable and testable apart from parsing and matching.
type Loader interface {
	Load(ctx context.Context, pageURL string, id Identity) ([]byte, error)
}

// Client fetches search pages under the shared per-host rate limit, with
// identity rotation, bounded retries and a distinct 429 cool-down.
type Client struct {
	loader Loader
	limits *hostLimits
	ids    *identityRotor
	cfg    config.FetchConfig
}

// New returns a Client backed by a plain HTTP loader.
func New(cfg config.FetchConfig) *Client {
	return NewWithLoader(newHTTPLoader(cfg.RequestTimeout), cfg)
}

// NewWithLoader returns a Client with a caller-supplied page loader.
func NewWithLoader(loader Loader, cfg config.FetchConfig) *Client {
	return &Client{
		loader: loader,
		limits: newHostLimits(cfg.HostMinInterval, cfg.RateLimitCooldown),
		ids:    newIdentityRotor(),
		cfg:    cfg,
	}
}

// FetchPage retrieves one page of raw HTML. Transient failures are retried
// with exponential backoff and jitter up to the configured budget. An
// upstream 429 arms the host cool-down and restarts the attempt with a fresh
// budget once the window elapses; the caller's context deadline bounds the
// total time spent. Permanent failures surface immediately.
func (c *Client) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	host := hostOf(pageURL)
	for {
		body, err := c.fetchWithRetry(ctx, pageURL, host)
		if err == nil {
			return body, nil
		}
		if IsRateLimited(err) {
			// Cool-down was armed by the failing attempt. Wait it out
			// and go again rather than burning the retry budget.
			if waitErr := c.limits.wait(ctx, host); waitErr != nil {
				return nil, &Error{Kind: Transient, URL: pageURL, Err: waitErr}
			}
			continue
		}
		return nil, err
	}
}

func (c *Client) fetchWithRetry(ctx context.Context, pageURL, host string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			if err := c.limits.wait(ctx, host); err != nil {
				return retry.Unrecoverable(&Error{Kind: Transient, URL: pageURL, Err: err})
			}
			b, err := c.loader.Load(ctx, pageURL, c.ids.next())
			if err != nil {
				var fe *Error
				if errors.As(err, &fe) {
					switch fe.Kind {
					case Permanent:
						return retry.Unrecoverable(err)
					case RateLimited:
						c.limits.startCooldown(host)
						return retry.Unrecoverable(err)
					}
				}
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(c.cfg.MaxRetries+1),
		retry.Delay(c.cfg.RetryBaseDelay),
		retry.MaxDelay(c.cfg.RetryMaxDelay),
		retry.MaxJitter(c.cfg.RetryBaseDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retrying page fetch after error", "url", pageURL, "attempt", n, "error", err)
		}),
	)
	if err == nil {
		return body, nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return nil, fe
	}
	return nil, &Error{Kind: Transient, URL: pageURL, Err: err}
}

// httpLoader is the default Loader: a plain GET with rotated headers.
type httpLoader struct {
	client *http.Client
}

func newHTTPLoader(timeout time.Duration) *httpLoader {
	return &httpLoader{client: &http.Client{Timeout: timeout}}
}

func (l *httpLoader) Load(ctx context.Context, pageURL string, id Identity) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, &Error{Kind: Permanent, URL: pageURL, Err: err}
	}

	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", id.AcceptLanguage)
	req.Header.Set("Sec-Ch-Ua-Platform", id.Platform)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: Transient, URL: pageURL, Err: err}
		}
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: RateLimited, URL: pageURL, Status: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: Transient, URL: pageURL, Status: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		// 404s and other 4xx responses are structural, not transient.
		return nil, &Error{Kind: Permanent, URL: pageURL, Status: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
}
