package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackscraper/hackscraper/internal/config"
	"github.com/hackscraper/hackscraper/internal/resilience"
	"github.com/hackscraper/hackscraper/internal/scrape"
)

const defaultMaxBodyBytes = 4 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	RatePerHost  rate.Limit
	BurstPerHost int
	MaxBodyBytes int64
	Retry        resilience.RetryConfig
	Circuit      resilience.CircuitBreakerConfig
}

// OptionsFromConfig maps the fetch config section onto HTTPOptions.
func OptionsFromConfig(cfg config.FetchConfig) HTTPOptions {
	return HTTPOptions{
		UserAgent:    cfg.UserAgent,
		Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
		RatePerHost:  rate.Limit(cfg.RatePerHost),
		BurstPerHost: cfg.BurstPerHost,
		Retry:        resilience.FromFetchConfig(cfg),
		Circuit:      resilience.CircuitFromFetchConfig(cfg),
	}
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with per-host rate
// limiting, retries, bot-wall detection and a per-host circuit breaker.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	breakers *resilience.HostBreakers

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Hackscraper/0.1"
	}
	if opts.RatePerHost <= 0 {
		opts.RatePerHost = 1
	}
	if opts.BurstPerHost <= 0 {
		opts.BurstPerHost = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		breakers: resilience.NewHostBreakers(opts.Circuit),
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// Breakers exposes the per-host circuit state.
func (f *HTTPFetcher) Breakers() *resilience.HostBreakers {
	return f.breakers
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.RatePerHost, f.opts.BurstPerHost)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch downloads rawURL. Any non-2xx response, bot wall, network error or
// open circuit comes back as a *resilience.TransientError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &resilience.TransientError{Err: eris.Errorf("invalid url %q", rawURL), URL: rawURL}
	}
	host := u.Host

	retry := f.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("fetcher", rawURL)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*Page, error) {
		if err := f.breakers.Allow(host); err != nil {
			return nil, err
		}
		lim := f.limiterFor(host)
		if err := lim.Wait(ctx); err != nil {
			return nil, &resilience.TransientError{Err: eris.Wrap(err, "rate limiter wait"), URL: rawURL}
		}

		page, err := f.do(ctx, rawURL)
		if ctx.Err() == nil {
			f.breakers.Record(host, err)
		}

		var te *resilience.TransientError
		switch {
		case err == nil:
			lim.OnSuccess()
		case errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests:
			lim.OnRateLimit()
		}
		return page, err
	})
}

func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "create request"), URL: rawURL}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &resilience.TransientError{Err: err, URL: rawURL}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "read body"), URL: rawURL}
	}

	if blocked, kind := scrape.DetectBlock(resp, body); blocked {
		zap.L().Warn("fetcher: blocked page",
			zap.String("url", rawURL),
			zap.String("block_type", string(kind)),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &resilience.TransientError{
			Err:        fmt.Errorf("%w (%s)", resilience.ErrBlocked, kind),
			StatusCode: resp.StatusCode,
			URL:        rawURL,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.TransientError{
			Err:        eris.Errorf("unexpected status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			URL:        rawURL,
		}
	}

	return &Page{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
	}, nil
}
