package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/perfilador/pkg/breaker"
)

func testFetcher(t *testing.T) *Fetcher {
	f, err := NewFetcher(FetcherConfig{
		Breaker: breaker.Config{Threshold: 3, CoolDown: time.Minute, CoolDownCap: 10 * time.Minute},
	})
	require.NoError(t, err)
	return f
}

func contentPage(extra string) string {
	return "<html><body>" + strings.Repeat("Conteúdo institucional da empresa. ", 30) + extra + "</body></html>"
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, contentPage(""))
	}))
	defer srv.Close()

	res, err := testFetcher(t).Fetch(context.Background(), srv.URL, StrategyFast)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, StrategyFast, res.StrategyUsed)
	assert.Contains(t, res.Body, "Conteúdo institucional")
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotLang = r.Header.Get("Accept-Language")
		fmt.Fprint(w, contentPage(""))
	}))
	defer srv.Close()

	_, err := testFetcher(t).Fetch(context.Background(), srv.URL, StrategyFast)
	require.NoError(t, err)
	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.Contains(t, gotLang, "pt-BR")
}

func TestFetchProtectionDetectedNotABreakerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><title>Just a moment...</title>cf-browser-verification</html>")
	}))
	defer srv.Close()

	f := testFetcher(t)
	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, StrategyFast)
		assert.ErrorIs(t, err, ErrProtectionDetected)
	}
	// The origin's circuit never opened despite repeated protections.
	assert.NoError(t, f.breakers.Allow(Origin(srv.URL)))
}

func TestFetchHTTPErrorsOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := testFetcher(t)
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, StrategyFast)
		require.Error(t, err)
	}
	_, err := f.Fetch(context.Background(), srv.URL, StrategyFast)
	assert.ErrorIs(t, err, breaker.ErrOpen)
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	f := testFetcher(t)
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, StrategyFast)
		assert.ErrorIs(t, err, ErrEmptyBody)
	}
	// Empty bodies count as failures, so the origin's circuit is now open.
	_, err := f.Fetch(context.Background(), srv.URL, StrategyFast)
	assert.ErrorIs(t, err, breaker.ErrOpen)
}

func TestFetchSoft404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>", strings.Repeat("x ", 300), "Página não encontrada</body></html>")
	}))
	defer srv.Close()

	_, err := testFetcher(t).Fetch(context.Background(), srv.URL, StrategyFast)
	assert.ErrorIs(t, err, ErrSoft404)
}

func TestFetchCascadeEscalates(t *testing.T) {
	// First strategy sees a challenge page, the cascade escalates and
	// the second request is served content.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, "<html>checking your browser</html>")
			return
		}
		fmt.Fprint(w, contentPage(""))
	}))
	defer srv.Close()

	res, err := testFetcher(t).FetchCascade(context.Background(), srv.URL, []Strategy{StrategyFast, StrategyStandard})
	require.NoError(t, err)
	assert.Equal(t, StrategyStandard, res.StrategyUsed)
}

func TestFetchCascadeAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testFetcher(t).FetchCascade(context.Background(), srv.URL, []Strategy{StrategyFast, StrategyStandard})
	assert.ErrorIs(t, err, ErrAllStrategiesFailed)
}
