// Package searchclient talks to the web-search vendor. Calls are paced
// through the shared rate gate, retried with backoff on transient
// failures, and cut off by a circuit breaker when the vendor keeps
// failing, so the facade can answer 503 instead of hammering it.
package searchclient

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/buscafornecedor/perfilador/pkg/ratelimit"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnavailable covers the breaker being open and the vendor staying
// unreachable through retries. The facade maps it to 503.
var ErrUnavailable = errors.New("search vendor unavailable")

type Config struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Country    string        `yaml:"country"`
	Language   string        `yaml:"language"`
	NumResults int           `yaml:"num_results"`
	Timeout    time.Duration `yaml:"timeout"`

	Retry           backoff.Config `yaml:"retry"`
	BreakerCooldown time.Duration  `yaml:"breaker_cooldown"`
	BreakerTrips    uint32         `yaml:"breaker_trips"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, prefix+".endpoint", "https://google.serper.dev/search", "Search vendor endpoint.")
	f.StringVar(&cfg.APIKey, prefix+".api-key", "", "Search vendor API key.")
	cfg.Country = "br"
	cfg.Language = "pt-br"
	cfg.NumResults = 10
	cfg.Timeout = 15 * time.Second
	cfg.Retry = backoff.Config{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		MaxRetries: 3,
	}
	cfg.BreakerCooldown = 60 * time.Second
	cfg.BreakerTrips = 5
}

// Hit is one organic search result.
type Hit struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

type Client struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	gate    *ratelimit.Gate
}

func New(cfg Config, gate *ratelimit.Gate) *Client {
	trips := cfg.BreakerTrips
	if trips == 0 {
		trips = 5
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "search",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trips },
			OnStateChange: func(name string, from, to gobreaker.State) {
				level.Warn(log.Logger).Log("msg", "search breaker state change", "from", from.String(), "to", to.String())
			},
		}),
		gate: gate,
	}
}

type searchRequest struct {
	Query    string `json:"q"`
	Country  string `json:"gl"`
	Language string `json:"hl"`
	Num      int    `json:"num"`
}

type searchResponse struct {
	Organic []Hit `json:"organic"`
}

// Search runs one query, retrying transient failures. A non-retryable
// vendor rejection (auth, bad request) is returned as-is.
func (c *Client) Search(ctx context.Context, query string) ([]Hit, error) {
	if c.gate != nil {
		if err := c.gate.Acquire(ctx, "serper", "search", 1, 0); err != nil {
			return nil, err
		}
	}

	bo := backoff.New(ctx, c.cfg.Retry)
	var lastErr error
	for bo.Ongoing() {
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, query)
		})
		switch {
		case err == nil:
			metricSearches.WithLabelValues("success").Inc()
			return out.([]Hit), nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metricSearches.WithLabelValues("breaker_open").Inc()
			return nil, errors.Wrap(ErrUnavailable, "circuit open")
		case !retryable(err):
			metricSearches.WithLabelValues("rejected").Inc()
			return nil, err
		}
		lastErr = err
		level.Warn(log.Logger).Log("msg", "search attempt failed", "attempt", bo.NumRetries()+1, "err", err)
		bo.Wait()
	}
	metricSearches.WithLabelValues("unreachable").Inc()
	return nil, errors.Wrapf(ErrUnavailable, "retries exhausted: %v", lastErr)
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return http.StatusText(e.status)
}

func retryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	// transport errors
	return true
}

func (c *Client) do(ctx context.Context, query string) ([]Hit, error) {
	body, err := json.Marshal(searchRequest{
		Query:    query,
		Country:  c.cfg.Country,
		Language: c.cfg.Language,
		Num:      c.cfg.NumResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "decoding search response")
	}
	return parsed.Organic, nil
}
