package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/perfilador/modules/scraper"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSaveDiscoveryUpserts(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`INSERT INTO website_discovery .+ ON CONFLICT \(cnpj_basico\) DO UPDATE`).
		WithArgs("12345678", sql.NullInt64{Int64: 7, Valid: true}, "https://acme.com.br", "found", 0.9, "matches trade name").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	id, err := s.SaveDiscovery(context.Background(), &Discovery{
		CompanyKey:     "12345678",
		SearchResultID: sql.NullInt64{Int64: 7, Valid: true},
		WebsiteURL:     "https://acme.com.br",
		Status:         "found",
		Confidence:     0.9,
		Reasoning:      "matches trade name",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDiscoveryNotFound(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM website_discovery`).
		WithArgs("99999999").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetDiscovery(context.Background(), "99999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceChunksDeletesThenInsertsInOneTx(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM scraped_chunks WHERE cnpj_basico`).
		WithArgs("12345678").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO scraped_chunks`).
		WithArgs("12345678", sql.NullInt64{}, "https://acme.com.br", 0, 2, "primeiro", 10, types.JSONText(`["https://acme.com.br"]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO scraped_chunks`).
		WithArgs("12345678", sql.NullInt64{}, "https://acme.com.br", 1, 2, "segundo", 10, types.JSONText(`["https://acme.com.br/sobre"]`)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.ReplaceChunks(context.Background(), "12345678", []Chunk{
		{WebsiteURL: "https://acme.com.br", Index: 0, Total: 2, Content: "primeiro", TokenCount: 10, SourceURLs: types.JSONText(`["https://acme.com.br"]`)},
		{WebsiteURL: "https://acme.com.br", Index: 1, Total: 2, Content: "segundo", TokenCount: 10, SourceURLs: types.JSONText(`["https://acme.com.br/sobre"]`)},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChunksRollsBackOnInsertError(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM scraped_chunks`).
		WithArgs("12345678").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO scraped_chunks`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := s.ReplaceChunks(context.Background(), "12345678", []Chunk{{Content: "x"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBestStrategyMissIsNotAnError(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`SELECT best_strategy FROM site_knowledge`).
		WithArgs("https://acme.com.br").
		WillReturnError(sql.ErrNoRows)

	strategy, found, err := s.BestStrategy(context.Background(), "https://acme.com.br")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, strategy)
}

func TestRecordOutcomeSuccessBumpsCountAndStrategy(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO site_knowledge .+ success_count = site_knowledge\.success_count \+ 1`).
		WithArgs("https://acme.com.br", "robust", "spa", "waf").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordOutcome(context.Background(), "https://acme.com.br",
		scraper.StrategyRobust, scraper.SiteSPA, scraper.ProtectionWAF, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSiteKnowledgeForLoadsFullRow(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`SELECT origin, best_strategy, .+ FROM site_knowledge`).
		WithArgs("https://acme.com.br").
		WillReturnRows(sqlmock.NewRows([]string{"origin", "best_strategy", "site_type", "protection", "success_count", "failure_count", "last_success"}).
			AddRow("https://acme.com.br", "robust", "spa", "waf", 4, 1, nil))

	k, err := s.SiteKnowledgeFor(context.Background(), "https://acme.com.br")
	require.NoError(t, err)
	assert.Equal(t, "robust", k.BestStrategy)
	assert.Equal(t, 4, k.SuccessCount)
	assert.False(t, k.LastSuccess.Valid)
}

func TestRecordOutcomeFailureKeepsBestStrategy(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO site_knowledge .+ failure_count = site_knowledge\.failure_count \+ 1`).
		WithArgs("https://acme.com.br", "static", "rate-limit").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordOutcome(context.Background(), "https://acme.com.br",
		"", scraper.SiteStatic, scraper.ProtectionRateLimit, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
