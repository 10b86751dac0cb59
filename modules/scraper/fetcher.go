package scraper

import (
	"context"
	"flag"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/pkg/breaker"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

var (
	// ErrProtectionDetected marks a response that is a bot-defense
	// interstitial rather than page content. It does not count toward
	// the origin's breaker failure budget.
	ErrProtectionDetected  = errors.New("protection detected")
	ErrEmptyBody           = errors.New("body below useful minimum")
	ErrSoft404             = errors.New("soft 404 body")
	ErrAllStrategiesFailed = errors.New("all strategies failed")
)

// Browser-mimicking header set. WAFs reject bare Go user agents long
// before any challenge page is served.
var defaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

type FetcherConfig struct {
	ProxyURLs    []string       `yaml:"proxy_urls"`
	UserAgents   []string       `yaml:"user_agents"`
	MaxBodyBytes int64          `yaml:"max_body_bytes"`
	Breaker      breaker.Config `yaml:"breaker"`
}

func (cfg *FetcherConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Int64Var(&cfg.MaxBodyBytes, prefix+".max-body-bytes", 2<<20, "Per-page body read limit.")
	cfg.Breaker.RegisterFlagsAndApplyDefaults(prefix+".breaker", f)
}

// FetchResult is a successfully fetched page.
type FetchResult struct {
	Body         string
	Status       int
	FinalURL     string
	StrategyUsed Strategy
}

// Fetcher executes fetch strategies against origins, guarded by a
// per-origin circuit breaker. The proxy pool is optional; proxy-using
// strategies degrade to direct fetches when the pool is empty.
type Fetcher struct {
	cfg      FetcherConfig
	breakers *breaker.Registry
	direct   *http.Client
	proxied  []*http.Client

	uaIndex    atomic.Uint64
	proxyIndex atomic.Uint64
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	f := &Fetcher{
		cfg:      cfg,
		breakers: breaker.NewRegistry(cfg.Breaker),
		direct:   &http.Client{},
	}
	for _, raw := range cfg.ProxyURLs {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "bad proxy url %q", raw)
		}
		f.proxied = append(f.proxied, &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		})
	}
	return f, nil
}

// Origin returns the scheme://host part used as the breaker key.
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

// Fetch executes one strategy against the URL. Protection pages, soft
// 404s and sub-minimum bodies are reported as typed errors so the
// cascade can escalate.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, strategy Strategy) (*FetchResult, error) {
	params, ok := strategyTable[strategy]
	if !ok {
		return nil, errors.Errorf("unknown strategy %q", strategy)
	}
	origin := Origin(rawURL)
	if err := f.breakers.Allow(origin); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, params.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", f.userAgent(params.rotateUA))

	start := time.Now()
	resp, err := f.client(params).Do(req)
	if err != nil {
		f.breakers.RecordFailure(origin)
		metricFetches.WithLabelValues(string(strategy), "transport_error").Inc()
		return nil, errors.Wrapf(err, "fetch %s", rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		f.breakers.RecordFailure(origin)
		metricFetches.WithLabelValues(string(strategy), "read_error").Inc()
		return nil, errors.Wrapf(err, "reading %s", rawURL)
	}
	metricFetchDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 400 {
		f.breakers.RecordFailure(origin)
		metricFetches.WithLabelValues(string(strategy), "http_error").Inc()
		return nil, errors.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	text := string(body)
	if kind := DetectProtection(text); kind != ProtectionNone {
		// Neither success nor failure for the breaker: the origin is
		// reachable, just defended.
		metricFetches.WithLabelValues(string(strategy), "protection").Inc()
		return nil, errors.Wrapf(ErrProtectionDetected, "%s: %s", rawURL, kind)
	}
	// Insufficient content counts against the origin: only non-trivial
	// bodies reset the failure streak.
	if len(text) < minUsefulBodyBytes {
		f.breakers.RecordFailure(origin)
		metricFetches.WithLabelValues(string(strategy), "empty").Inc()
		return nil, errors.Wrapf(ErrEmptyBody, "%s: %d bytes", rawURL, len(text))
	}
	if isSoft404(text) {
		f.breakers.RecordFailure(origin)
		metricFetches.WithLabelValues(string(strategy), "soft_404").Inc()
		return nil, errors.Wrap(ErrSoft404, rawURL)
	}

	f.breakers.RecordSuccess(origin)
	metricFetches.WithLabelValues(string(strategy), "ok").Inc()
	return &FetchResult{
		Body:         text,
		Status:       resp.StatusCode,
		FinalURL:     resp.Request.URL.String(),
		StrategyUsed: strategy,
	}, nil
}

// FetchCascade tries the ordered strategies until one yields content.
func (f *Fetcher) FetchCascade(ctx context.Context, rawURL string, strategies []Strategy) (*FetchResult, error) {
	var lastErr error
	for _, s := range strategies {
		res, err := f.Fetch(ctx, rawURL, s)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, breaker.ErrOpen) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		level.Debug(log.Logger).Log("msg", "strategy failed, escalating", "url", rawURL, "strategy", s, "err", err)
	}
	return nil, errors.Wrapf(ErrAllStrategiesFailed, "%s: last: %s", rawURL, lastErr)
}

func (f *Fetcher) client(params strategyParams) *http.Client {
	if !params.useProxy || len(f.proxied) == 0 {
		return f.direct
	}
	if params.rotateProxy {
		return f.proxied[f.proxyIndex.Add(1)%uint64(len(f.proxied))]
	}
	return f.proxied[0]
}

func (f *Fetcher) userAgent(rotate bool) string {
	if !rotate {
		return f.cfg.UserAgents[0]
	}
	return f.cfg.UserAgents[f.uaIndex.Add(1)%uint64(len(f.cfg.UserAgents))]
}
