package frontend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/perfilador/modules/frontend/searchclient"
	"github.com/buscafornecedor/perfilador/modules/queue"
	"github.com/buscafornecedor/perfilador/modules/scraper"
	"github.com/buscafornecedor/perfilador/modules/store"
	"github.com/buscafornecedor/perfilador/pkg/chunker"
)

type fakeStore struct {
	searchSaved *store.SearchResult
	searchErr   error
	discovery   *store.Discovery
	chunks      []store.Chunk
	chunksErr   error
	replaced    []store.Chunk
}

func (s *fakeStore) SaveSearchResult(_ context.Context, r *store.SearchResult) (int64, error) {
	s.searchSaved = r
	return 42, nil
}

func (s *fakeStore) LatestSearchResult(_ context.Context, _ string) (*store.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return &store.SearchResult{ID: 42}, nil
}

func (s *fakeStore) GetDiscovery(_ context.Context, _ string) (*store.Discovery, error) {
	if s.discovery == nil {
		return nil, store.ErrNotFound
	}
	return s.discovery, nil
}

func (s *fakeStore) ReplaceChunks(_ context.Context, _ string, chunks []store.Chunk) error {
	s.replaced = chunks
	return nil
}

func (s *fakeStore) GetChunks(_ context.Context, _ string) ([]store.Chunk, error) {
	return s.chunks, s.chunksErr
}

type fakeSearcher struct {
	byQuery map[string][]searchclient.Hit
	err     error
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, q string) ([]searchclient.Hit, error) {
	s.queries = append(s.queries, q)
	return s.byQuery[q], s.err
}

type fakeScraper struct {
	url string
	res *scraper.Result
	err error
}

func (s *fakeScraper) Scrape(_ context.Context, siteURL string) (*scraper.Result, error) {
	s.url = siteURL
	return s.res, s.err
}

type fakeStageQueue struct {
	outcome queue.Outcome
	batch   queue.BatchResult
	metrics queue.Metrics
	keys    []string
}

func (q *fakeStageQueue) Enqueue(_ context.Context, key string) (queue.Outcome, error) {
	q.keys = append(q.keys, key)
	return q.outcome, nil
}

func (q *fakeStageQueue) EnqueueBatch(_ context.Context, keys []string) (queue.BatchResult, error) {
	q.keys = append(q.keys, keys...)
	return q.batch, nil
}

func (q *fakeStageQueue) Metrics(_ context.Context) (queue.Metrics, error) {
	return q.metrics, nil
}

type env struct {
	store    *fakeStore
	searcher *fakeSearcher
	scraper  *fakeScraper
	dq, pq   *fakeStageQueue
	handler  http.Handler
}

func newEnv() *env {
	e := &env{
		store:    &fakeStore{},
		searcher: &fakeSearcher{byQuery: map[string][]searchclient.Hit{}},
		scraper:  &fakeScraper{},
		dq:       &fakeStageQueue{outcome: queue.OutcomeEnqueued},
		pq:       &fakeStageQueue{outcome: queue.OutcomeEnqueued},
	}
	cfg := Config{APIToken: "segredo", SearchTimeout: 5 * time.Second, ScrapeTimeout: 5 * time.Second}
	e.handler = New(cfg, e.store, e.searcher, e.scraper, e.dq, e.pq).Handler()
	return e
}

func (e *env) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if auth {
		req.Header.Set("X-API-Key", "segredo")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthGuardsAPIButNotHealthz(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/v2/serper", `{}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestWrongKeyIsRejected(t *testing.T) {
	e := newEnv()
	req := httptest.NewRequest(http.MethodPost, "/v2/serper", bytes.NewBufferString(`{}`))
	req.Header.Set("X-API-Key", "errado")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSearchFallsBackToLegalNameQuery(t *testing.T) {
	e := newEnv()
	// The trade-name query finds nothing; the legal-name fallback hits.
	e.searcher.byQuery["Acme Industria Sorocaba site oficial"] = []searchclient.Hit{
		{Title: "Acme", Link: "https://acme.com.br"},
	}

	rec := e.do(t, http.MethodPost, "/v2/serper",
		`{"key":"12345678","company_name":"Acme Industria LTDA","trade_name":"Acme","city":"Sorocaba"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{
		"Acme Sorocaba site oficial",
		"Acme Industria Sorocaba site oficial",
	}, e.searcher.queries)

	require.NotNil(t, e.store.searchSaved)
	assert.Equal(t, 1, e.store.searchSaved.ResultsCount)
	assert.Equal(t, "Acme Industria Sorocaba site oficial", e.store.searchSaved.QueryUsed)
	assert.Contains(t, rec.Body.String(), `"search_id":42`)
}

func TestSearchRejectsBadCompanyKey(t *testing.T) {
	e := newEnv()
	rec := e.do(t, http.MethodPost, "/v2/serper", `{"key":"12ab","company_name":"Acme"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchVendorDownIs503(t *testing.T) {
	e := newEnv()
	e.searcher.err = searchclient.ErrUnavailable
	rec := e.do(t, http.MethodPost, "/v2/serper", `{"key":"12345678","company_name":"Acme"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDiscoveryEnqueueNeedsSearchRow(t *testing.T) {
	e := newEnv()
	e.store.searchErr = store.ErrNotFound
	rec := e.do(t, http.MethodPost, "/v2/encontrar_site", `{"key":"12345678"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, e.dq.keys)
}

func TestDiscoveryEnqueueAcksWith202(t *testing.T) {
	e := newEnv()
	rec := e.do(t, http.MethodPost, "/v2/encontrar_site", `{"key":"12345678"}`, true)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"12345678"}, e.dq.keys)
	assert.Contains(t, rec.Body.String(), `"enqueued":"enqueued"`)
}

func TestProfileEnqueueNeedsChunks(t *testing.T) {
	e := newEnv()
	e.store.chunksErr = store.ErrNotFound
	rec := e.do(t, http.MethodPost, "/v2/montagem_perfil", `{"key":"12345678"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.store.chunksErr = nil
	e.store.chunks = []store.Chunk{{Content: "algo"}}
	rec = e.do(t, http.MethodPost, "/v2/montagem_perfil", `{"key":"12345678"}`, true)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"12345678"}, e.pq.keys)
}

func TestScrapeSavesChunksAndSummarizes(t *testing.T) {
	e := newEnv()
	e.scraper.res = &scraper.Result{
		BaseURL:      "https://acme.com.br",
		PagesFetched: 3,
		Chunks: []chunker.Chunk{
			{Index: 0, Total: 2, Content: "primeiro", Tokens: 100, SourceURLs: []string{"https://acme.com.br"}},
			{Index: 1, Total: 2, Content: "segundo", Tokens: 50, SourceURLs: []string{"https://acme.com.br/sobre"}},
		},
	}

	rec := e.do(t, http.MethodPost, "/v2/scrape", `{"key":"12345678","url":"https://acme.com.br"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "https://acme.com.br", e.scraper.url)
	require.Len(t, e.store.replaced, 2)
	assert.Equal(t, "12345678", e.store.replaced[0].CompanyKey)
	assert.Contains(t, rec.Body.String(), `"chunks_saved":2`)
	assert.Contains(t, rec.Body.String(), `"tokens":150`)
	assert.Contains(t, rec.Body.String(), `"pages":3`)
}

func TestScrapeWithoutURLUsesDiscoveryRow(t *testing.T) {
	e := newEnv()
	e.store.discovery = &store.Discovery{ID: 9, Status: "found", WebsiteURL: "https://acme.com.br"}
	e.scraper.res = &scraper.Result{BaseURL: "https://acme.com.br", Chunks: []chunker.Chunk{{Content: "x", Total: 1}}}

	rec := e.do(t, http.MethodPost, "/v2/scrape", `{"key":"12345678"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://acme.com.br", e.scraper.url)
	require.Len(t, e.store.replaced, 1)
	assert.Equal(t, int64(9), e.store.replaced[0].DiscoveryID.Int64)
}

func TestScrapeWithoutURLNorDiscoveryIs404(t *testing.T) {
	e := newEnv()
	rec := e.do(t, http.MethodPost, "/v2/scrape", `{"key":"12345678"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScrapeDeadSiteIs502(t *testing.T) {
	e := newEnv()
	e.scraper.err = scraper.ErrUnreachable
	rec := e.do(t, http.MethodPost, "/v2/scrape", `{"key":"12345678","url":"https://acme.com.br"}`, true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestQueueEndpointsPerStage(t *testing.T) {
	e := newEnv()
	e.pq.outcome = queue.OutcomeAlreadyActive

	rec := e.do(t, http.MethodPost, "/v2/queue_profile/enqueue", `{"key":"12345678"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enqueued":"already_active"`)
	assert.Equal(t, []string{"12345678"}, e.pq.keys)

	e.dq.batch = queue.BatchResult{Enqueued: []string{"11111111"}, Skipped: []string{"22222222"}}
	rec = e.do(t, http.MethodPost, "/v2/queue_discovery/enqueue_batch", `{"keys":["11111111","22222222"]}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enqueued":["11111111"]`)
	assert.Contains(t, rec.Body.String(), `"skipped":["22222222"]`)

	e.dq.metrics = queue.Metrics{Queued: 3, Processing: 1, Done: 10, Failed: 2, OldestQueuedAge: 4.5}
	rec = e.do(t, http.MethodGet, "/v2/queue_discovery/metrics", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":3`)
	assert.Contains(t, rec.Body.String(), `"oldest_queued_age_seconds":4.5`)
}

func TestBatchRejectsMalformedKeys(t *testing.T) {
	e := newEnv()
	rec := e.do(t, http.MethodPost, "/v2/queue_discovery/enqueue_batch", `{"keys":["12345678","nope"]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.dq.keys)
}
