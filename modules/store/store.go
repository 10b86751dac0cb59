package store

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by lookups when no row exists for the company key.
var ErrNotFound = errors.New("not found")

// SearchResult is one raw search-vendor response for a company, kept
// verbatim so discovery can be re-run without spending vendor quota.
type SearchResult struct {
	ID           int64          `db:"id"`
	CompanyKey   string         `db:"cnpj_basico"`
	CompanyName  string         `db:"company_name"`
	LegalName    string         `db:"razao_social"`
	TradeName    string         `db:"nome_fantasia"`
	City         string         `db:"municipio"`
	Results      types.JSONText `db:"results_json"`
	ResultsCount int            `db:"results_count"`
	QueryUsed    string         `db:"query_used"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Discovery is the model's verdict on a company's official website.
// One row per company key; re-running discovery overwrites it.
type Discovery struct {
	ID             int64         `db:"id"`
	CompanyKey     string        `db:"cnpj_basico"`
	SearchResultID sql.NullInt64 `db:"serper_id"`
	WebsiteURL     string        `db:"website_url"`
	Status         string        `db:"discovery_status"`
	Confidence     float64       `db:"confidence_score"`
	Reasoning      string        `db:"llm_reasoning"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// Chunk is one token-bounded slice of a company's scraped site text.
type Chunk struct {
	ID          int64          `db:"id"`
	CompanyKey  string         `db:"cnpj_basico"`
	DiscoveryID sql.NullInt64  `db:"discovery_id"`
	WebsiteURL  string         `db:"website_url"`
	Index       int            `db:"chunk_index"`
	Total       int            `db:"total_chunks"`
	Content     string         `db:"chunk_content"`
	TokenCount  int            `db:"token_count"`
	SourceURLs  types.JSONText `db:"source_urls"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Profile is the assembled company profile document plus the assembly
// bookkeeping a caller needs without unpacking the document.
type Profile struct {
	ID          int64          `db:"id"`
	CompanyKey  string         `db:"cnpj_basico"`
	WebsiteURL  string         `db:"website_url"`
	Status      string         `db:"profile_status"`
	Document    types.JSONText `db:"profile_json"`
	ChunksTotal int            `db:"chunks_total"`
	ChunksOK    int            `db:"chunks_ok"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

type Store struct {
	db *sqlx.DB
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests and by the queue,
// which shares the store's pool.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return errors.Wrap(err, "running migrations")
	}
	return nil
}

const insertSearchResultSQL = `
INSERT INTO serper_results (cnpj_basico, company_name, razao_social, nome_fantasia, municipio, results_json, results_count, query_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

func (s *Store) SaveSearchResult(ctx context.Context, r *SearchResult) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, insertSearchResultSQL,
		r.CompanyKey, r.CompanyName, r.LegalName, r.TradeName, r.City,
		r.Results, r.ResultsCount, r.QueryUsed,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "inserting search result")
	}
	return id, nil
}

const latestSearchResultSQL = `
SELECT id, cnpj_basico, company_name, razao_social, nome_fantasia, municipio, results_json, results_count, query_used, created_at
FROM serper_results
WHERE cnpj_basico = $1
ORDER BY id DESC
LIMIT 1`

func (s *Store) LatestSearchResult(ctx context.Context, companyKey string) (*SearchResult, error) {
	var r SearchResult
	err := s.db.GetContext(ctx, &r, latestSearchResultSQL, companyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading search result")
	}
	return &r, nil
}

const upsertDiscoverySQL = `
INSERT INTO website_discovery (cnpj_basico, serper_id, website_url, discovery_status, confidence_score, llm_reasoning, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (cnpj_basico) DO UPDATE SET
	serper_id        = EXCLUDED.serper_id,
	website_url      = EXCLUDED.website_url,
	discovery_status = EXCLUDED.discovery_status,
	confidence_score = EXCLUDED.confidence_score,
	llm_reasoning    = EXCLUDED.llm_reasoning,
	updated_at       = now()
RETURNING id`

func (s *Store) SaveDiscovery(ctx context.Context, d *Discovery) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, upsertDiscoverySQL,
		d.CompanyKey, d.SearchResultID, d.WebsiteURL, d.Status, d.Confidence, d.Reasoning,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "upserting discovery")
	}
	return id, nil
}

const getDiscoverySQL = `
SELECT id, cnpj_basico, serper_id, website_url, discovery_status, confidence_score, llm_reasoning, updated_at
FROM website_discovery
WHERE cnpj_basico = $1`

func (s *Store) GetDiscovery(ctx context.Context, companyKey string) (*Discovery, error) {
	var d Discovery
	err := s.db.GetContext(ctx, &d, getDiscoverySQL, companyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading discovery")
	}
	return &d, nil
}

const insertChunkSQL = `
INSERT INTO scraped_chunks (cnpj_basico, discovery_id, website_url, chunk_index, total_chunks, chunk_content, token_count, source_urls)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// ReplaceChunks swaps a company's chunk set atomically: a re-scrape never
// leaves a mix of old and new chunks behind.
func (s *Store) ReplaceChunks(ctx context.Context, companyKey string, chunks []Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning chunk transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scraped_chunks WHERE cnpj_basico = $1`, companyKey); err != nil {
		return errors.Wrap(err, "deleting old chunks")
	}
	for i := range chunks {
		c := &chunks[i]
		_, err := tx.ExecContext(ctx, insertChunkSQL,
			companyKey, c.DiscoveryID, c.WebsiteURL, c.Index, c.Total, c.Content, c.TokenCount, c.SourceURLs)
		if err != nil {
			return errors.Wrapf(err, "inserting chunk %d", c.Index)
		}
	}
	return errors.Wrap(tx.Commit(), "committing chunks")
}

const getChunksSQL = `
SELECT id, cnpj_basico, discovery_id, website_url, chunk_index, total_chunks, chunk_content, token_count, source_urls, created_at
FROM scraped_chunks
WHERE cnpj_basico = $1
ORDER BY chunk_index`

func (s *Store) GetChunks(ctx context.Context, companyKey string) ([]Chunk, error) {
	var chunks []Chunk
	if err := s.db.SelectContext(ctx, &chunks, getChunksSQL, companyKey); err != nil {
		return nil, errors.Wrap(err, "loading chunks")
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}
	return chunks, nil
}

const upsertProfileSQL = `
INSERT INTO company_profile (cnpj_basico, website_url, profile_status, profile_json, chunks_total, chunks_ok, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (cnpj_basico) DO UPDATE SET
	website_url    = EXCLUDED.website_url,
	profile_status = EXCLUDED.profile_status,
	profile_json   = EXCLUDED.profile_json,
	chunks_total   = EXCLUDED.chunks_total,
	chunks_ok      = EXCLUDED.chunks_ok,
	updated_at     = now()
RETURNING id`

func (s *Store) SaveProfile(ctx context.Context, p *Profile) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, upsertProfileSQL,
		p.CompanyKey, p.WebsiteURL, p.Status, p.Document, p.ChunksTotal, p.ChunksOK,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "upserting profile")
	}
	return id, nil
}

const getProfileSQL = `
SELECT id, cnpj_basico, website_url, profile_status, profile_json, chunks_total, chunks_ok, updated_at
FROM company_profile
WHERE cnpj_basico = $1`

func (s *Store) GetProfile(ctx context.Context, companyKey string) (*Profile, error) {
	var p Profile
	err := s.db.GetContext(ctx, &p, getProfileSQL, companyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading profile")
	}
	return &p, nil
}
