package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/perfilador/pkg/tokens"
)

func testConfig() Config {
	return Config{MaxChunkTokens: 20000, SafetyMargin: 0.85, MinLineLength: 5}
}

func TestEffectiveMaxTokens(t *testing.T) {
	cfg := testConfig()
	// (20000 - 2500 - 200) * 0.85
	assert.Equal(t, 14705, cfg.EffectiveMaxTokens())
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	c := New(testConfig())
	doc := "Navigation menu here\nUnique content line one\nNavigation menu here\nUnique content line two"
	out, stats := c.dedupe(doc)

	assert.Equal(t, "Navigation menu here\nUnique content line one\nUnique content line two", out)
	assert.Equal(t, 1, stats.RemovedLines)
}

func TestDedupeKeepsShortLines(t *testing.T) {
	c := New(testConfig())
	doc := "--\nlong enough line\n--\nlong enough line\n--"
	out, stats := c.dedupe(doc)

	assert.Equal(t, "--\nlong enough line\n--\n--", out)
	assert.Equal(t, 1, stats.RemovedLines)
}

func TestProcessUnionEqualsDedupedInput(t *testing.T) {
	c := New(Config{MaxChunkTokens: 3100, SafetyMargin: 1.0, MinLineLength: 5})

	pages := []Page{
		{URL: "https://a.com.br/", Content: strings.Repeat("primeira pagina conteudo\n", 40) + "rodape comum"},
		{URL: "https://a.com.br/sobre", Content: strings.Repeat("segunda pagina conteudo\n", 40) + "rodape comum"},
		{URL: "https://a.com.br/produtos", Content: strings.Repeat("catalogo de produtos linha\n", 40)},
	}

	chunks, _, err := c.Process(pages)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	deduped, _ := c.dedupe(Aggregate(pages))
	var rebuilt strings.Builder
	for _, ch := range chunks {
		rebuilt.WriteString(ch.Content)
	}
	assert.Equal(t, deduped, rebuilt.String())
}

func TestProcessRespectsTokenBudget(t *testing.T) {
	cfg := Config{MaxChunkTokens: 3100, SafetyMargin: 1.0, MinLineLength: 5}
	c := New(cfg)
	max := cfg.EffectiveMaxTokens()

	var pages []Page
	for i := 0; i < 6; i++ {
		pages = append(pages, Page{
			URL:     "https://a.com.br/p" + string(rune('0'+i)),
			Content: strings.Repeat("linha de conteudo numero "+string(rune('0'+i))+"\n", 100),
		})
	}

	chunks, _, err := c.Process(pages)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.Tokens, max)
		assert.Equal(t, tokens.Estimate(ch.Content), ch.Tokens)
		assert.Equal(t, len(chunks), ch.Total)
	}
}

func TestProcessIndexesAndSources(t *testing.T) {
	c := New(testConfig())
	pages := []Page{
		{URL: "https://a.com.br/", Content: "pagina principal da empresa"},
		{URL: "https://a.com.br/contato", Content: "fale conosco pelo telefone"},
	}

	chunks, _, err := c.Process(pages)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, []string{"https://a.com.br/", "https://a.com.br/contato"}, chunks[0].SourceURLs)
}

func TestProcessContinuationChunksInheritPageURL(t *testing.T) {
	// A single page far over the budget is cut into many segments; only
	// the first carries the page marker, the rest inherit its URL.
	c := New(Config{MaxChunkTokens: 3100, SafetyMargin: 1.0, MinLineLength: 5})

	var b strings.Builder
	for i := 0; i < 800; i++ {
		fmt.Fprintf(&b, "linha unica de conteudo institucional numero %d\n", i)
	}
	pages := []Page{{URL: "https://a.com.br/", Content: b.String()}}

	chunks, _, err := c.Process(pages)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, []string{"https://a.com.br/"}, ch.SourceURLs, "chunk %d", ch.Index)
	}
}

func TestProcessRejectsMonsterLine(t *testing.T) {
	c := New(Config{MaxChunkTokens: 3100, SafetyMargin: 1.0, MinLineLength: 5})
	pages := []Page{{URL: "https://a.com.br/", Content: strings.Repeat("x", 100000)}}

	_, _, err := c.Process(pages)
	require.Error(t, err)
}

func TestProcessEmptyInput(t *testing.T) {
	c := New(testConfig())
	chunks, _, err := c.Process(nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
