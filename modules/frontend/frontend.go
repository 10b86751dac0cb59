// Package frontend is the HTTP facade over the pipeline stages. Search
// and scrape run inline and answer with a summary; discovery and profile
// assembly only enqueue and answer 202 — clients poll the stage rows for
// progress.
package frontend

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/modules/frontend/searchclient"
	"github.com/buscafornecedor/perfilador/modules/queue"
	"github.com/buscafornecedor/perfilador/modules/scraper"
	"github.com/buscafornecedor/perfilador/modules/store"
	"github.com/buscafornecedor/perfilador/pkg/companykey"
	"github.com/buscafornecedor/perfilador/pkg/llm"
	"github.com/buscafornecedor/perfilador/pkg/ratelimit"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type stageStore interface {
	SaveSearchResult(ctx context.Context, r *store.SearchResult) (int64, error)
	LatestSearchResult(ctx context.Context, companyKey string) (*store.SearchResult, error)
	GetDiscovery(ctx context.Context, companyKey string) (*store.Discovery, error)
	ReplaceChunks(ctx context.Context, companyKey string, chunks []store.Chunk) error
	GetChunks(ctx context.Context, companyKey string) ([]store.Chunk, error)
}

type searcher interface {
	Search(ctx context.Context, query string) ([]searchclient.Hit, error)
}

type scrapeRunner interface {
	Scrape(ctx context.Context, siteURL string) (*scraper.Result, error)
}

type stageQueue interface {
	Enqueue(ctx context.Context, companyKey string) (queue.Outcome, error)
	EnqueueBatch(ctx context.Context, companyKeys []string) (queue.BatchResult, error)
	Metrics(ctx context.Context) (queue.Metrics, error)
}

type Frontend struct {
	cfg     Config
	store   stageStore
	search  searcher
	scraper scrapeRunner
	queues  map[string]stageQueue
}

func New(cfg Config, st stageStore, search searcher, sc scrapeRunner, discoveryQueue, profileQueue stageQueue) *Frontend {
	return &Frontend{
		cfg:     cfg,
		store:   st,
		search:  search,
		scraper: sc,
		queues: map[string]stageQueue{
			"discovery": discoveryQueue,
			"profile":   profileQueue,
		},
	}
}

func (f *Frontend) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", f.handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/v2").Subrouter()
	api.Use(f.auth)
	api.HandleFunc("/serper", f.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/encontrar_site", f.handleDiscoveryEnqueue).Methods(http.MethodPost)
	api.HandleFunc("/scrape", f.handleScrape).Methods(http.MethodPost)
	api.HandleFunc("/montagem_perfil", f.handleProfileEnqueue).Methods(http.MethodPost)
	api.HandleFunc("/queue_{stage:discovery|profile}/enqueue", f.handleQueueEnqueue).Methods(http.MethodPost)
	api.HandleFunc("/queue_{stage:discovery|profile}/enqueue_batch", f.handleQueueEnqueueBatch).Methods(http.MethodPost)
	api.HandleFunc("/queue_{stage:discovery|profile}/metrics", f.handleQueueMetrics).Methods(http.MethodGet)
	return r
}

func (f *Frontend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.cfg.AllowUnauthenticated {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(f.cfg.APIToken)) != 1 {
			metricRequests.WithLabelValues(r.URL.Path, "401").Inc()
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *Frontend) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type searchStageRequest struct {
	Key         string `json:"key"`
	CompanyName string `json:"company_name"`
	TradeName   string `json:"trade_name"`
	City        string `json:"city"`
}

func (f *Frontend) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchStageRequest
	if !f.decode(w, r, &req, func() error { return req.validate() }) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.cfg.SearchTimeout)
	defer cancel()

	queries := searchclient.Queries(req.CompanyName, req.TradeName, req.City)
	var (
		hits []searchclient.Hit
		used string
	)
	for _, q := range queries {
		var err error
		hits, err = f.search.Search(ctx, q)
		used = q
		if err != nil {
			f.fail(w, r, err)
			return
		}
		if len(hits) > 0 {
			break
		}
	}

	raw, err := json.Marshal(hits)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	id, err := f.store.SaveSearchResult(ctx, &store.SearchResult{
		CompanyKey:   req.Key,
		CompanyName:  req.CompanyName,
		LegalName:    req.CompanyName,
		TradeName:    req.TradeName,
		City:         req.City,
		Results:      types.JSONText(raw),
		ResultsCount: len(hits),
		QueryUsed:    used,
	})
	if err != nil {
		f.fail(w, r, err)
		return
	}

	metricRequests.WithLabelValues(r.URL.Path, "200").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"search_id":    id,
		"result_count": len(hits),
		"query_used":   used,
	})
}

func (r searchStageRequest) validate() error {
	if err := companykey.Validate(r.Key); err != nil {
		return err
	}
	if r.CompanyName == "" && r.TradeName == "" {
		return errors.New("company_name or trade_name is required")
	}
	return nil
}

type keyRequest struct {
	Key string `json:"key"`
}

func (r keyRequest) validate() error { return companykey.Validate(r.Key) }

func (f *Frontend) handleDiscoveryEnqueue(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !f.decode(w, r, &req, func() error { return req.validate() }) {
		return
	}
	// A discovery entry without a search row would only burn attempts.
	if _, err := f.store.LatestSearchResult(r.Context(), req.Key); err != nil {
		f.fail(w, r, err)
		return
	}
	f.enqueueOne(w, r, f.queues["discovery"], req.Key)
}

func (f *Frontend) handleProfileEnqueue(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !f.decode(w, r, &req, func() error { return req.validate() }) {
		return
	}
	if _, err := f.store.GetChunks(r.Context(), req.Key); err != nil {
		f.fail(w, r, err)
		return
	}
	f.enqueueOne(w, r, f.queues["profile"], req.Key)
}

func (f *Frontend) enqueueOne(w http.ResponseWriter, r *http.Request, q stageQueue, key string) {
	out, err := q.Enqueue(r.Context(), key)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	metricRequests.WithLabelValues(r.URL.Path, "202").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"enqueued": string(out)})
}

type scrapeStageRequest struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (r scrapeStageRequest) validate() error { return companykey.Validate(r.Key) }

func (f *Frontend) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeStageRequest
	if !f.decode(w, r, &req, func() error { return req.validate() }) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.cfg.ScrapeTimeout)
	defer cancel()

	var discoveryID int64
	if req.URL == "" {
		d, err := f.store.GetDiscovery(ctx, req.Key)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		if d.Status != "found" || d.WebsiteURL == "" {
			f.fail(w, r, errors.Wrap(store.ErrNotFound, "no website for company"))
			return
		}
		req.URL = d.WebsiteURL
		discoveryID = d.ID
	}

	start := time.Now()
	res, err := f.scraper.Scrape(ctx, req.URL)
	if err != nil {
		f.fail(w, r, err)
		return
	}

	chunks := make([]store.Chunk, 0, len(res.Chunks))
	tokens := 0
	for _, c := range res.Chunks {
		sources, err := json.Marshal(c.SourceURLs)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		row := store.Chunk{
			CompanyKey: req.Key,
			WebsiteURL: res.BaseURL,
			Index:      c.Index,
			Total:      c.Total,
			Content:    c.Content,
			TokenCount: c.Tokens,
			SourceURLs: types.JSONText(sources),
		}
		if discoveryID != 0 {
			row.DiscoveryID.Int64, row.DiscoveryID.Valid = discoveryID, true
		}
		chunks = append(chunks, row)
		tokens += c.Tokens
	}
	if err := f.store.ReplaceChunks(ctx, req.Key, chunks); err != nil {
		f.fail(w, r, err)
		return
	}

	metricRequests.WithLabelValues(r.URL.Path, "200").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"chunks_saved": len(chunks),
		"tokens":       tokens,
		"pages":        res.PagesFetched,
		"ms":           time.Since(start).Milliseconds(),
	})
}

func (f *Frontend) handleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !f.decode(w, r, &req, func() error { return req.validate() }) {
		return
	}
	q := f.queues[mux.Vars(r)["stage"]]
	out, err := q.Enqueue(r.Context(), req.Key)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	metricRequests.WithLabelValues(r.URL.Path, "200").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"enqueued": string(out)})
}

type batchRequest struct {
	Keys []string `json:"keys"`
}

func (r batchRequest) validate() error {
	if len(r.Keys) == 0 {
		return errors.New("keys is empty")
	}
	for _, k := range r.Keys {
		if err := companykey.Validate(k); err != nil {
			return errors.Wrapf(err, "key %q", k)
		}
	}
	return nil
}

func (f *Frontend) handleQueueEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !f.decode(w, r, &req, func() error { return req.validate() }) {
		return
	}
	q := f.queues[mux.Vars(r)["stage"]]
	res, err := q.EnqueueBatch(r.Context(), req.Keys)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	metricRequests.WithLabelValues(r.URL.Path, "200").Inc()
	writeJSON(w, http.StatusOK, res)
}

func (f *Frontend) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	q := f.queues[mux.Vars(r)["stage"]]
	m, err := q.Metrics(r.Context())
	if err != nil {
		f.fail(w, r, err)
		return
	}
	metricRequests.WithLabelValues(r.URL.Path, "200").Inc()
	writeJSON(w, http.StatusOK, m)
}

func (f *Frontend) decode(w http.ResponseWriter, r *http.Request, into interface{}, validate func() error) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		metricRequests.WithLabelValues(r.URL.Path, "400").Inc()
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decoding request").Error())
		return false
	}
	if err := validate(); err != nil {
		metricRequests.WithLabelValues(r.URL.Path, "400").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (f *Frontend) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	metricRequests.WithLabelValues(r.URL.Path, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		level.Error(log.Logger).Log("msg", "request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, searchclient.ErrUnavailable), errors.Is(err, ratelimit.ErrBudgetTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrExhausted),
		errors.Is(err, scraper.ErrUnreachable),
		errors.Is(err, scraper.ErrAllStrategiesFailed),
		errors.Is(err, scraper.ErrNoContent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
