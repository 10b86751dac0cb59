package profile

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/perfilador/pkg/llm"
)

type fakeCaller struct {
	answers []any
	errs    []error
	calls   int
}

func (f *fakeCaller) Call(_ context.Context, _ llm.Request) (*llm.Result, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &llm.Result{Target: f.answers[i], Vendor: "fake", Attempts: 1}, nil
}

func testExtractor(c Caller) *Extractor {
	return NewExtractor(Config{PerChunkTimeout: time.Second}, c)
}

func chunkProfile(company string, clients ...string) *CompanyProfile {
	p := &CompanyProfile{}
	p.Identity.CompanyName = company
	p.Reputation.ClientList = clients
	return p
}

func TestExtractMergesAllChunks(t *testing.T) {
	caller := &fakeCaller{answers: []any{
		chunkProfile("Aurora Ltda", "Petrobras"),
		chunkProfile("", "Vale"),
	}}
	res, err := testExtractor(caller).Extract(context.Background(), "12345678", []string{"pagina inicial", "pagina clientes"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.ChunksOK)
	assert.Equal(t, "Aurora Ltda", res.Profile.Identity.CompanyName)
	assert.ElementsMatch(t, []string{"Petrobras", "Vale"}, res.Profile.Reputation.ClientList)
}

func TestExtractPartialWhenChunkFails(t *testing.T) {
	caller := &fakeCaller{
		answers: []any{chunkProfile("Aurora Ltda", "Petrobras"), nil},
		errs:    []error{nil, errors.New("vendor down")},
	}
	res, err := testExtractor(caller).Extract(context.Background(), "12345678", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, res.ChunksOK)
	assert.Equal(t, 2, res.ChunksTotal)
}

func TestExtractErrorWhenAllChunksFail(t *testing.T) {
	caller := &fakeCaller{
		answers: []any{nil, nil},
		errs:    []error{errors.New("down"), errors.New("down")},
	}
	res, err := testExtractor(caller).Extract(context.Background(), "12345678", []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, StatusError, res.Status)
}

func TestExtractNoChunks(t *testing.T) {
	res, err := testExtractor(&fakeCaller{}).Extract(context.Background(), "12345678", nil)
	assert.ErrorIs(t, err, ErrNoChunks)
	assert.Equal(t, StatusError, res.Status)
}

func TestExtractStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caller := &fakeCaller{
		answers: []any{nil, nil},
		errs:    []error{context.Canceled, context.Canceled},
	}
	_, err := testExtractor(caller).Extract(ctx, "12345678", []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, caller.calls)
}
