// Package scraper turns a discovered site URL into deduplicated,
// token-bounded text chunks. It probes URL variants, escalates fetch
// strategies against bot defenses, selects which subpages matter, and
// remembers per-origin what worked.
package scraper

import (
	"context"
	"flag"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/pkg/chunker"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

// ErrNoContent means no page of the site yielded usable text.
var ErrNoContent = errors.New("no page yielded content")

type Config struct {
	Prober             ProberConfig       `yaml:"prober"`
	Fetcher            FetcherConfig      `yaml:"fetcher"`
	Links              LinkSelectorConfig `yaml:"links"`
	Chunker            chunker.Config     `yaml:"chunker"`
	SubpageConcurrency int                `yaml:"subpage_concurrency"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Prober.RegisterFlagsAndApplyDefaults(prefix+".prober", f)
	cfg.Fetcher.RegisterFlagsAndApplyDefaults(prefix+".fetcher", f)
	cfg.Links.RegisterFlagsAndApplyDefaults(prefix+".links", f)
	cfg.Chunker.RegisterFlagsAndApplyDefaults(prefix+".chunker", f)
	f.IntVar(&cfg.SubpageConcurrency, prefix+".subpage-concurrency", 4, "Concurrent subpage fetches per site.")
}

// Result summarizes one scrape run.
type Result struct {
	BaseURL      string
	StrategyUsed Strategy
	SiteType     SiteType
	Protection   Protection
	PagesFetched int
	PagesFailed  int
	Chunks       []chunker.Chunk
	Stats        chunker.Stats
}

type Scraper struct {
	cfg       Config
	prober    *Prober
	fetcher   *Fetcher
	links     *LinkSelector
	chunker   *chunker.Chunker
	knowledge Knowledge
}

// New wires the scrape pipeline. caller may be nil, disabling model link
// ranking; knowledge may be nil, disabling strategy memory.
func New(cfg Config, caller Caller, knowledge Knowledge) (*Scraper, error) {
	prober, err := NewProber(cfg.Prober, knowledge)
	if err != nil {
		return nil, err
	}
	fetcher, err := NewFetcher(cfg.Fetcher)
	if err != nil {
		return nil, err
	}
	return &Scraper{
		cfg:       cfg,
		prober:    prober,
		fetcher:   fetcher,
		links:     NewLinkSelector(cfg.Links, caller),
		chunker:   chunker.New(cfg.Chunker),
		knowledge: knowledge,
	}, nil
}

// Scrape runs the full pipeline for one site. Subpage failures are
// tolerated: the run succeeds if any page yielded content.
func (s *Scraper) Scrape(ctx context.Context, siteURL string) (*Result, error) {
	profile, err := s.prober.Probe(ctx, siteURL)
	if err != nil {
		return nil, err
	}
	strategies := SelectStrategies(*profile)

	main, err := s.fetcher.FetchCascade(ctx, profile.BestURL, strategies)
	if err != nil {
		s.rememberOutcome(ctx, profile, "", false)
		return nil, err
	}
	s.rememberOutcome(ctx, profile, main.StrategyUsed, true)

	// The winning strategy leads for every subpage.
	strategies = promote(strategies, main.StrategyUsed)

	subURLs, err := s.links.Select(ctx, main.FinalURL, main.Body)
	if err != nil {
		level.Warn(log.Logger).Log("msg", "link selection failed, scraping main page only", "url", profile.BestURL, "err", err)
		subURLs = nil
	}

	pages := []chunker.Page{{URL: main.FinalURL, Content: htmlToText(main.Body)}}
	subPages, failed := s.fetchSubpages(ctx, subURLs, strategies)
	pages = append(pages, subPages...)

	usable := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p.Content) != "" {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, errors.Wrap(ErrNoContent, siteURL)
	}

	chunks, stats, err := s.chunker.Process(usable)
	if err != nil {
		return nil, err
	}

	metricScrapes.WithLabelValues("ok").Inc()
	return &Result{
		BaseURL:      profile.BestURL,
		StrategyUsed: main.StrategyUsed,
		SiteType:     profile.SiteType,
		Protection:   profile.Protection,
		PagesFetched: len(usable),
		PagesFailed:  failed,
		Chunks:       chunks,
		Stats:        stats,
	}, nil
}

func (s *Scraper) fetchSubpages(ctx context.Context, urls []string, strategies []Strategy) ([]chunker.Page, int) {
	if len(urls) == 0 {
		return nil, 0
	}
	concurrency := s.cfg.SubpageConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	type slot struct {
		page chunker.Page
		ok   bool
	}
	results := make([]slot, len(urls))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.fetcher.FetchCascade(ctx, u, strategies)
			if err != nil {
				level.Debug(log.Logger).Log("msg", "subpage fetch failed", "url", u, "err", err)
				return
			}
			results[i] = slot{page: chunker.Page{URL: res.FinalURL, Content: htmlToText(res.Body)}, ok: true}
		}(i, u)
	}
	wg.Wait()

	var pages []chunker.Page
	failed := 0
	for _, r := range results {
		if r.ok {
			pages = append(pages, r.page)
		} else {
			failed++
		}
	}
	return pages, failed
}

func (s *Scraper) rememberOutcome(ctx context.Context, profile *SiteProfile, used Strategy, ok bool) {
	if s.knowledge == nil {
		return
	}
	origin := Origin(profile.BestURL)
	if err := s.knowledge.RecordOutcome(ctx, origin, used, profile.SiteType, profile.Protection, ok); err != nil {
		level.Warn(log.Logger).Log("msg", "recording site knowledge failed", "origin", origin, "err", err)
	}
}

// htmlToText strips markup down to readable text lines. Script, style
// and template blocks are removed before extraction so bundle code never
// reaches the chunker.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template, iframe, svg").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	raw := b.String()
	if raw == "" {
		raw = doc.Text()
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
