package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/modules/scraper"
)

// SiteKnowledge aggregates fetch outcomes per origin so the next scrape
// of the same site starts from the strategy that last worked. Advisory
// only: a stale or missing row never blocks a scrape.
type SiteKnowledge struct {
	Origin       string       `db:"origin"`
	BestStrategy string       `db:"best_strategy"`
	SiteType     string       `db:"site_type"`
	Protection   string       `db:"protection"`
	SuccessCount int          `db:"success_count"`
	FailureCount int          `db:"failure_count"`
	LastSuccess  sql.NullTime `db:"last_success"`
}

const siteKnowledgeSQL = `
SELECT origin, best_strategy, site_type, protection, success_count, failure_count, last_success
FROM site_knowledge
WHERE origin = $1`

// SiteKnowledgeFor returns the full knowledge row, for operators
// inspecting why a site keeps failing.
func (s *Store) SiteKnowledgeFor(ctx context.Context, origin string) (*SiteKnowledge, error) {
	var k SiteKnowledge
	err := s.db.GetContext(ctx, &k, siteKnowledgeSQL, origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading site knowledge")
	}
	return &k, nil
}

const bestStrategySQL = `
SELECT best_strategy
FROM site_knowledge
WHERE origin = $1 AND success_count > 0 AND best_strategy <> ''`

// BestStrategy implements scraper.Knowledge.
func (s *Store) BestStrategy(ctx context.Context, origin string) (scraper.Strategy, bool, error) {
	var best string
	err := s.db.GetContext(ctx, &best, bestStrategySQL, origin)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "loading site knowledge")
	}
	return scraper.Strategy(best), true, nil
}

const recordSuccessSQL = `
INSERT INTO site_knowledge (origin, best_strategy, site_type, protection, success_count, failure_count, last_success, updated_at)
VALUES ($1, $2, $3, $4, 1, 0, now(), now())
ON CONFLICT (origin) DO UPDATE SET
	best_strategy = EXCLUDED.best_strategy,
	site_type     = EXCLUDED.site_type,
	protection    = EXCLUDED.protection,
	success_count = site_knowledge.success_count + 1,
	last_success  = now(),
	updated_at    = now()`

const recordFailureSQL = `
INSERT INTO site_knowledge (origin, best_strategy, site_type, protection, success_count, failure_count, updated_at)
VALUES ($1, '', $2, $3, 0, 1, now())
ON CONFLICT (origin) DO UPDATE SET
	site_type     = EXCLUDED.site_type,
	protection    = EXCLUDED.protection,
	failure_count = site_knowledge.failure_count + 1,
	updated_at    = now()`

// RecordOutcome implements scraper.Knowledge. A failed scrape keeps the
// previously known best strategy; only the failure count and the
// observed protection move.
func (s *Store) RecordOutcome(ctx context.Context, origin string, strategy scraper.Strategy, siteType scraper.SiteType, protection scraper.Protection, ok bool) error {
	var err error
	if ok {
		_, err = s.db.ExecContext(ctx, recordSuccessSQL, origin, string(strategy), string(siteType), string(protection))
	} else {
		_, err = s.db.ExecContext(ctx, recordFailureSQL, origin, string(siteType), string(protection))
	}
	return errors.Wrap(err, "recording site outcome")
}
