package worker

import (
	"context"
	"database/sql"

	jsoniter "github.com/json-iterator/go"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/modules/discovery"
	"github.com/buscafornecedor/perfilador/modules/profile"
	"github.com/buscafornecedor/perfilador/modules/queue"
	"github.com/buscafornecedor/perfilador/modules/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type discoveryStore interface {
	LatestSearchResult(ctx context.Context, companyKey string) (*store.SearchResult, error)
	SaveDiscovery(ctx context.Context, d *store.Discovery) (int64, error)
}

type chooser interface {
	Choose(ctx context.Context, in discovery.Input) (*discovery.Decision, error)
}

// DiscoveryHandler turns a stored search result into a website verdict.
func DiscoveryHandler(st discoveryStore, agent chooser) Handler {
	return func(ctx context.Context, e queue.Entry) error {
		res, err := st.LatestSearchResult(ctx, e.CompanyKey)
		if err != nil {
			return errors.Wrap(err, "loading search result")
		}

		var hits []discovery.Hit
		if len(res.Results) > 0 {
			if err := json.Unmarshal(res.Results, &hits); err != nil {
				return errors.Wrap(err, "decoding stored search hits")
			}
		}

		decision, err := agent.Choose(ctx, discovery.Input{
			CompanyKey: e.CompanyKey,
			LegalName:  res.LegalName,
			TradeName:  res.TradeName,
			City:       res.City,
			Hits:       hits,
		})
		if err != nil {
			return errors.Wrap(err, "choosing website")
		}

		_, err = st.SaveDiscovery(ctx, &store.Discovery{
			CompanyKey:     e.CompanyKey,
			SearchResultID: sql.NullInt64{Int64: res.ID, Valid: true},
			WebsiteURL:     decision.ChosenURL,
			Status:         decision.Status,
			Confidence:     decision.Confidence,
			Reasoning:      decision.Reasoning,
		})
		return errors.Wrap(err, "saving discovery")
	}
}

type profileStore interface {
	GetChunks(ctx context.Context, companyKey string) ([]store.Chunk, error)
	SaveProfile(ctx context.Context, p *store.Profile) (int64, error)
}

type extractor interface {
	Extract(ctx context.Context, companyKey string, chunks []string) (*profile.Result, error)
}

// ProfileHandler assembles a company profile from its stored chunks.
func ProfileHandler(st profileStore, ex extractor) Handler {
	return func(ctx context.Context, e queue.Entry) error {
		chunks, err := st.GetChunks(ctx, e.CompanyKey)
		if err != nil {
			return errors.Wrap(err, "loading chunks")
		}

		contents := make([]string, 0, len(chunks))
		for _, c := range chunks {
			contents = append(contents, c.Content)
		}

		res, err := ex.Extract(ctx, e.CompanyKey, contents)
		if err != nil {
			return errors.Wrap(err, "extracting profile")
		}

		doc, err := json.Marshal(res.Profile)
		if err != nil {
			return errors.Wrap(err, "encoding profile")
		}
		_, err = st.SaveProfile(ctx, &store.Profile{
			CompanyKey:  e.CompanyKey,
			WebsiteURL:  chunks[0].WebsiteURL,
			Status:      string(res.Status),
			Document:    types.JSONText(doc),
			ChunksTotal: res.ChunksTotal,
			ChunksOK:    res.ChunksOK,
		})
		return errors.Wrap(err, "saving profile")
	}
}
