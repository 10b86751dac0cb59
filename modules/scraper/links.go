package scraper

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/buscafornecedor/perfilador/pkg/llm"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

// Caller is the slice of the model manager the link ranking needs.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// High-signal path keywords: institutional pages worth scraping.
var highPriorityKeywords = []string{
	"quem-somos", "sobre", "institucional",
	"portfolio", "produto", "servico", "solucoes", "atuacao", "tecnologia",
	"catalogo", "produtos", "servicos",
	"clientes", "cases", "projetos", "obras", "certificacoes", "premios", "parceiros",
	"equipe", "time", "lideranca", "contato", "fale-conosco", "unidades",
}

// Low-value paths that rarely carry profile signal.
var lowPriorityKeywords = []string{
	"login", "signin", "cart", "policy", "blog", "news",
	"politica-privacidade", "termos",
}

var excludedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".ppt": {}, ".pptx": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".bmp": {}, ".tiff": {},
	".zip": {}, ".rar": {}, ".tar": {}, ".gz": {},
	".xls": {}, ".xlsx": {}, ".csv": {}, ".txt": {}, ".xml": {}, ".json": {},
	".js": {}, ".css": {},
	".mp4": {}, ".mp3": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".webm": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
}

var assetDirectories = []string{
	"/wp-content/uploads/", "/assets/", "/images/", "/img/", "/static/", "/media/",
}

type LinkSelectorConfig struct {
	Budget int `yaml:"budget"`
}

func (cfg *LinkSelectorConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Budget, prefix+".budget", 30, "Maximum subpage links per site.")
}

// LinkSelector picks which in-site links are worth fetching. The
// heuristic pass always runs; the model is consulted only when the
// candidates exceed the budget, and its ranking is advisory: anything
// unparseable falls back to the heuristic order.
type LinkSelector struct {
	cfg    LinkSelectorConfig
	caller Caller
	schema *llm.Schema
}

func NewLinkSelector(cfg LinkSelectorConfig, caller Caller) *LinkSelector {
	return &LinkSelector{cfg: cfg, caller: caller, schema: rankingSchema()}
}

type scoredLink struct {
	url   string
	score int
	order int
}

// Select extracts same-site links from the main page HTML and returns
// the top candidates in ranked order.
func (s *LinkSelector) Select(ctx context.Context, baseURL, html string) ([]string, error) {
	candidates, err := extractLinks(baseURL, html)
	if err != nil {
		return nil, err
	}
	if len(candidates) <= s.cfg.Budget {
		return linkURLs(candidates), nil
	}

	if s.caller != nil {
		if ranked, err := s.rankWithModel(ctx, candidates); err == nil {
			return ranked, nil
		} else {
			level.Warn(log.Logger).Log("msg", "model link ranking failed, using heuristic order", "err", err)
		}
	}
	return linkURLs(candidates)[:s.cfg.Budget], nil
}

func linkURLs(links []scoredLink) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.url
	}
	return out
}

// extractLinks parses the page and returns same-host candidates in
// heuristic order: keyword score descending, document order as the tie
// break.
func extractLinks(baseURL, html string) ([]scoredLink, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing base URL")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "parsing page HTML")
	}

	var links []scoredLink
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, ok := resolveCandidate(base, href)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, scoredLink{url: resolved, score: scorePath(resolved), order: len(links)})
	})

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].score != links[j].score {
			return links[i].score > links[j].score
		}
		return links[i].order < links[j].order
	})
	return links, nil
}

func resolveCandidate(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Hostname() != base.Hostname() {
		return "", false
	}
	resolved.Fragment = ""

	path := strings.ToLower(resolved.Path)
	if path == "" || path == "/" {
		return "", false
	}
	if ext := pathExtension(path); ext != "" {
		if _, excluded := excludedExtensions[ext]; excluded {
			return "", false
		}
	}
	for _, dir := range assetDirectories {
		if strings.Contains(path, dir) {
			return "", false
		}
	}
	return resolved.String(), true
}

func pathExtension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[i:]
	}
	return ""
}

func scorePath(link string) int {
	lower := strings.ToLower(link)
	score := 0
	for _, kw := range highPriorityKeywords {
		if strings.Contains(lower, kw) {
			score += 10
		}
	}
	for _, kw := range lowPriorityKeywords {
		if strings.Contains(lower, kw) {
			score -= 20
		}
	}
	return score
}

type linkRanking struct {
	SelectedURLs []string `json:"selected_urls"`
}

const rankingPrompt = `Você seleciona páginas de sites institucionais brasileiros para extração de perfil B2B.

Receberá uma lista numerada de URLs de um mesmo site. Escolha as mais úteis para montar o perfil da empresa: quem somos, produtos, serviços, clientes, certificações, contato. Evite blog, notícias, login, carrinho e páginas legais.

Responda apenas o objeto JSON do schema configurado, com as URLs escolhidas em ordem de prioridade.`

func rankingSchema() *llm.Schema {
	return &llm.Schema{
		Name: "link_ranking",
		Definition: llm.Obj([]string{"selected_urls"}, map[string]*openai.ResponseFormatJSONSchemaProperty{
			"selected_urls": llm.Arr("URLs escolhidas em ordem de prioridade", llm.Str("")),
		}),
		NewTarget: func() any { return &linkRanking{} },
	}
}

func (s *LinkSelector) rankWithModel(ctx context.Context, candidates []scoredLink) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Escolha até %d URLs:\n", s.cfg.Budget)
	for i, l := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l.url)
	}

	out, err := s.caller.Call(ctx, llm.Request{
		Schema:   s.schema,
		System:   rankingPrompt,
		User:     b.String(),
		Resource: "link_ranking",
	})
	if err != nil {
		return nil, err
	}
	ranking := out.Target.(*linkRanking)

	// Only URLs we actually offered count, in the model's order.
	valid := make(map[string]struct{}, len(candidates))
	for _, l := range candidates {
		valid[l.url] = struct{}{}
	}
	var ranked []string
	seen := map[string]struct{}{}
	for _, u := range ranking.SelectedURLs {
		u = strings.TrimSpace(u)
		if _, ok := valid[u]; !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		ranked = append(ranked, u)
		if len(ranked) >= s.cfg.Budget {
			break
		}
	}
	if len(ranked) == 0 {
		return nil, errors.New("ranking returned no usable URLs")
	}
	return ranked, nil
}
