// Package discovery decides which search hit, if any, is a company's
// official website. The agent never fetches candidate sites; it ranks
// from titles, URLs and snippets alone.
package discovery

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/buscafornecedor/perfilador/pkg/llm"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

const (
	StatusFound    = "found"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Hit is one search result as returned by the search vendor.
type Hit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Input identifies the company and carries the ordered search hits.
type Input struct {
	CompanyKey string
	LegalName  string
	TradeName  string
	City       string
	Hits       []Hit
}

// Decision is the agent's verdict.
type Decision struct {
	ChosenURL  string  `json:"chosen_url"`
	Status     string  `json:"status" validate:"oneof=found not_found error"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reasoning  string  `json:"reasoning"`
}

type Config struct {
	Timeout time.Duration `yaml:"timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.Timeout, prefix+".timeout", time.Minute, "Deadline for one discovery decision.")
}

// Caller is the slice of the model manager the agent needs.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (*llm.Result, error)
}

type Agent struct {
	cfg    Config
	caller Caller
	schema *llm.Schema
}

func NewAgent(cfg Config, caller Caller) *Agent {
	return &Agent{cfg: cfg, caller: caller, schema: decisionSchema()}
}

// Choose filters the hits against the domain blacklist and asks the
// model to pick the official site. When filtering leaves nothing, the
// answer is not_found without a model call.
func (a *Agent) Choose(ctx context.Context, in Input) (*Decision, error) {
	hits := filterHits(in.Hits)
	if len(hits) == 0 {
		metricDecisions.WithLabelValues(StatusNotFound).Inc()
		return &Decision{Status: StatusNotFound, Reasoning: "todos os resultados eram agregadores, redes sociais ou marketplaces"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	out, err := a.caller.Call(ctx, llm.Request{
		Schema:   a.schema,
		System:   discoveryPrompt,
		User:     renderHits(in, hits),
		Resource: "discovery",
	})
	if err != nil {
		metricDecisions.WithLabelValues(StatusError).Inc()
		return nil, err
	}

	decision := out.Target.(*Decision)
	if decision.Status == StatusFound && decision.ChosenURL == "" {
		// Contradictory answer; treat as not found rather than storing
		// an empty URL.
		level.Warn(log.Logger).Log("msg", "model reported found without a URL", "company", in.CompanyKey)
		decision.Status = StatusNotFound
	}
	metricDecisions.WithLabelValues(decision.Status).Inc()
	return decision, nil
}

const discoveryPrompt = `Você identifica o site oficial de empresas brasileiras a partir de resultados de busca.

Receberá os dados da empresa e uma lista numerada de resultados (título, URL, trecho). Escolha a URL que é o SITE OFICIAL da própria empresa.

Critérios:
- Prefira domínios próprios (.com.br com o nome da empresa) a qualquer página de terceiros.
- Diretórios de empresas, notícias, vagas de emprego e páginas de revenda NÃO são o site oficial.
- Cidade e razão social devem ser consistentes com o trecho quando disponíveis.
- Se nenhum resultado for claramente o site oficial, responda status "not_found" e chosen_url null.

Responda apenas o objeto JSON do schema configurado.`

func renderHits(in Input, hits []Hit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Empresa: %s", in.LegalName)
	if in.TradeName != "" && !strings.EqualFold(in.TradeName, in.LegalName) {
		fmt.Fprintf(&b, " (nome fantasia: %s)", in.TradeName)
	}
	if in.City != "" {
		fmt.Fprintf(&b, "\nCidade: %s", in.City)
	}
	b.WriteString("\n\nResultados da busca:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, h.Title, h.Link, h.Snippet)
	}
	return b.String()
}

func decisionSchema() *llm.Schema {
	return &llm.Schema{
		Name: "site_discovery",
		Definition: llm.Obj(
			[]string{"status", "confidence"},
			map[string]*openai.ResponseFormatJSONSchemaProperty{
				"chosen_url": llm.Str("URL do site oficial, ou null se não encontrado"),
				"status":     llm.Enum("Resultado da análise", "found", "not_found", "error"),
				"confidence": llm.Num("Confiança na escolha, de 0 a 1"),
				"reasoning":  llm.Str("Justificativa curta da escolha"),
			}),
		NewTarget: func() any { return &Decision{} },
	}
}

// filterHits removes blacklisted domains and duplicate links, keeping
// order.
func filterHits(hits []Hit) []Hit {
	out := make([]Hit, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if h.Link == "" {
			continue
		}
		if _, dup := seen[h.Link]; dup {
			continue
		}
		seen[h.Link] = struct{}{}
		if IsBlacklisted(h.Link) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// IsBlacklisted reports whether the URL belongs to a domain that can
// never be a company's official site: company-data aggregators, social
// networks, marketplaces, and Google cache/translate hosts.
func IsBlacklisted(raw string) bool {
	if raw == "" {
		return false
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	domain := strings.ToLower(parsed.Hostname())
	for _, prefix := range []string{"www.", "m.", "mobile."} {
		domain = strings.TrimPrefix(domain, prefix)
	}
	for _, blocked := range blacklistDomains {
		if domain == blocked || strings.HasSuffix(domain, "."+blocked) {
			return true
		}
	}
	return false
}

var blacklistDomains = []string{
	// Company-data aggregators.
	"econodata.com.br", "cnpj.biz", "cnpja.com", "cnpj.info", "cnpjs.rocks",
	"casadosdados.com.br", "empresascnpj.com", "consultacnpj.com",
	"informecadastral.com.br", "cadastroempresa.com.br", "transparencia.cc",
	"listamais.com.br", "solutudo.com.br", "telelistas.net", "apontador.com.br",
	"guiamais.com.br", "construtora.net.br", "b2bleads.com.br",
	"empresas.serasaexperian.com.br", "jusbrasil.com.br", "jusdados.com",
	// Social networks.
	"facebook.com", "instagram.com", "linkedin.com", "youtube.com",
	"twitter.com", "x.com", "tiktok.com", "pinterest.com", "threads.net",
	// Marketplaces.
	"mercadolivre.com.br", "shopee.com.br", "olx.com.br", "amazon.com.br",
	"magazineluiza.com.br", "americanas.com.br",
	// Proxies and caches.
	"translate.google.com", "webcache.googleusercontent.com",
}
