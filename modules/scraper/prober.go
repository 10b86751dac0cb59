package scraper

import (
	"context"
	"flag"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

// ErrUnreachable means no URL variant of an origin answered the probe.
var ErrUnreachable = errors.New("no URL variant reachable")

// SiteProfile is the prober's verdict on an origin, driving strategy
// selection for the subsequent fetches.
type SiteProfile struct {
	BestURL           string
	Status            int
	LatencyMs         int64
	SiteType          SiteType
	Protection        Protection
	KnownGoodStrategy Strategy
}

// Knowledge persists what worked for an origin across scrape runs.
type Knowledge interface {
	BestStrategy(ctx context.Context, origin string) (Strategy, bool, error)
	RecordOutcome(ctx context.Context, origin string, strategy Strategy, siteType SiteType, protection Protection, ok bool) error
}

type ProberConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	HedgeDelay    time.Duration `yaml:"hedge_delay"`
	HedgeRequests int           `yaml:"hedge_requests"`
}

func (cfg *ProberConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.Timeout, prefix+".timeout", 10*time.Second, "Total budget for probing one origin.")
	f.DurationVar(&cfg.HedgeDelay, prefix+".hedge-delay", 300*time.Millisecond, "Delay before a hedged probe request fires.")
	f.IntVar(&cfg.HedgeRequests, prefix+".hedge-requests", 2, "Maximum hedged requests per probe.")
}

// Prober finds the best reachable variant of a base URL and classifies
// the site behind it.
type Prober struct {
	cfg       ProberConfig
	client    *http.Client
	knowledge Knowledge
}

func NewProber(cfg ProberConfig, knowledge Knowledge) (*Prober, error) {
	transport, err := hedgedhttp.NewRoundTripper(cfg.HedgeDelay, cfg.HedgeRequests, http.DefaultTransport)
	if err != nil {
		return nil, errors.Wrap(err, "building hedged transport")
	}
	return &Prober{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		knowledge: knowledge,
	}, nil
}

type probeOutcome struct {
	url       string
	status    int
	latencyMs int64
	body      string
}

// Probe tests the {http,https} x {apex,www} variants in parallel and
// returns the profile of the fastest successful one, 2xx sorted ahead
// of 3xx.
func (p *Prober) Probe(ctx context.Context, baseURL string) (*SiteProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	variants := Variants(baseURL)
	outcomes := make([]*probeOutcome, len(variants))
	var wg sync.WaitGroup
	for i, v := range variants {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			outcomes[i] = p.probeOne(ctx, v)
		}(i, v)
	}
	wg.Wait()

	reachable := outcomes[:0]
	for _, o := range outcomes {
		if o != nil {
			reachable = append(reachable, o)
		}
	}
	if len(reachable) == 0 {
		metricProbes.WithLabelValues("unreachable").Inc()
		return nil, errors.Wrap(ErrUnreachable, baseURL)
	}
	sort.SliceStable(reachable, func(i, j int) bool {
		ri, rj := reachable[i], reachable[j]
		if (ri.status >= 300) != (rj.status >= 300) {
			return ri.status < 300
		}
		return ri.latencyMs < rj.latencyMs
	})
	best := reachable[0]

	profile := &SiteProfile{
		BestURL:    best.url,
		Status:     best.status,
		LatencyMs:  best.latencyMs,
		SiteType:   ClassifySiteType(best.body),
		Protection: DetectProtection(best.body),
	}
	if p.knowledge != nil {
		if s, ok, err := p.knowledge.BestStrategy(ctx, Origin(best.url)); err != nil {
			level.Warn(log.Logger).Log("msg", "site knowledge lookup failed", "origin", Origin(best.url), "err", err)
		} else if ok {
			profile.KnownGoodStrategy = s
		}
	}
	metricProbes.WithLabelValues("ok").Inc()
	return profile, nil
}

func (p *Prober) probeOne(ctx context.Context, rawURL string) *probeOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", defaultUserAgents[0])

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	return &probeOutcome{
		url:       rawURL,
		status:    resp.StatusCode,
		latencyMs: time.Since(start).Milliseconds(),
		body:      string(body),
	}
}

// Variants expands a base URL into its {http,https} x {apex,www}
// combinations, https and www first.
func Variants(baseURL string) []string {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return []string{baseURL}
	}
	apex := strings.TrimPrefix(parsed.Host, "www.")
	path := strings.TrimSuffix(parsed.Path, "/")

	seen := make(map[string]struct{}, 4)
	var out []string
	for _, scheme := range []string{"https", "http"} {
		for _, host := range []string{"www." + apex, apex} {
			v := scheme + "://" + host + path
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// SPA markers: a framework mount point plus bundle scripts and little
// visible text means the HTML payload is an empty shell.
var spaMarkers = []string{
	`id="root"`, `id="__next"`, `id="app"`, "data-reactroot",
	"ng-version", "ng-app", "__nuxt", "window.__initial_state__",
}

// ClassifySiteType inspects the main-page body for rendering style.
func ClassifySiteType(body string) SiteType {
	if body == "" {
		return SiteUnknown
	}
	lower := strings.ToLower(body)

	markers := 0
	for _, m := range spaMarkers {
		if strings.Contains(lower, m) {
			markers++
		}
	}
	scripts := strings.Count(lower, "<script")
	textDensity := visibleTextRatio(lower)

	switch {
	case markers > 0 && textDensity < 0.05:
		return SiteSPA
	case markers > 0 || (scripts > 20 && textDensity < 0.15):
		return SiteHybrid
	case scripts <= 20:
		return SiteStatic
	default:
		return SiteUnknown
	}
}

// visibleTextRatio approximates the share of the body that is content
// rather than markup: bytes outside angle brackets over total bytes.
func visibleTextRatio(body string) float64 {
	if len(body) == 0 {
		return 0
	}
	inTag := false
	visible := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag && body[i] != ' ' && body[i] != '\n' && body[i] != '\t' {
				visible++
			}
		}
	}
	return float64(visible) / float64(len(body))
}
