package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariants(t *testing.T) {
	got := Variants("aurora.com.br")
	assert.Equal(t, []string{
		"https://www.aurora.com.br",
		"https://aurora.com.br",
		"http://www.aurora.com.br",
		"http://aurora.com.br",
	}, got)
}

func TestVariantsStripsWWWAndKeepsPath(t *testing.T) {
	got := Variants("http://www.aurora.com.br/inicio/")
	assert.Contains(t, got, "https://aurora.com.br/inicio")
	assert.Contains(t, got, "http://www.aurora.com.br/inicio")
	assert.Len(t, got, 4)
}

type fakeKnowledge struct {
	strategy Strategy
	found    bool
	recorded []string
}

func (k *fakeKnowledge) BestStrategy(_ context.Context, _ string) (Strategy, bool, error) {
	return k.strategy, k.found, nil
}

func (k *fakeKnowledge) RecordOutcome(_ context.Context, origin string, _ Strategy, _ SiteType, _ Protection, _ bool) error {
	k.recorded = append(k.recorded, origin)
	return nil
}

func testProber(t *testing.T, knowledge Knowledge) *Prober {
	p, err := NewProber(ProberConfig{
		Timeout:       5 * time.Second,
		HedgeDelay:    300 * time.Millisecond,
		HedgeRequests: 2,
	}, knowledge)
	require.NoError(t, err)
	return p
}

func TestProbeFindsReachableVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, contentPage(""))
	}))
	defer srv.Close()

	// Only the exact host variant is reachable; the www/https ones fail
	// to resolve and are discarded.
	profile, err := testProber(t, nil).Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, profile.BestURL)
	assert.Equal(t, http.StatusOK, profile.Status)
	assert.Equal(t, ProtectionNone, profile.Protection)
}

func TestProbeDetectsProtection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>checking your browser cf_chl_opt</html>")
	}))
	defer srv.Close()

	profile, err := testProber(t, nil).Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, ProtectionBrowserChallenge, profile.Protection)
}

func TestProbeConsultsKnowledge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, contentPage(""))
	}))
	defer srv.Close()

	k := &fakeKnowledge{strategy: StrategyRobust, found: true}
	profile, err := testProber(t, k).Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, StrategyRobust, profile.KnownGoodStrategy)
}

func TestProbeUnreachable(t *testing.T) {
	_, err := testProber(t, nil).Probe(context.Background(), "http://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrUnreachable)
}
