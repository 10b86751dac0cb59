package profile

import (
	"context"
	"flag"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/pkg/llm"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

// Status of one extraction stage run, decided by the fraction of chunks
// that contributed to the merge.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// ErrNoChunks means there was nothing to extract from; the stage fails
// without a model call.
var ErrNoChunks = errors.New("no scraped chunks to extract from")

// Caller is the slice of the model manager the extractor needs.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (*llm.Result, error)
}

type Config struct {
	PerChunkTimeout time.Duration `yaml:"per_chunk_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.PerChunkTimeout, prefix+".per-chunk-timeout", 2*time.Minute, "Deadline for one chunk extraction call.")
}

// Result is the merged profile plus the stage accounting.
type Result struct {
	Profile     *CompanyProfile
	Status      Status
	ChunksTotal int
	ChunksOK    int
}

// Extractor runs the per-chunk extraction calls and merges the partial
// profiles. Chunks are processed sequentially so the merge outcome is
// deterministic for a given chunk order.
type Extractor struct {
	cfg    Config
	caller Caller
	schema *llm.Schema
}

func NewExtractor(cfg Config, caller Caller) *Extractor {
	return &Extractor{
		cfg:    cfg,
		caller: caller,
		schema: Schema(),
	}
}

// Extract builds the consolidated profile for one company from its
// scraped chunks. A chunk whose call fails terminally is skipped and the
// merge proceeds; only a run where no chunk contributed is an error.
func (e *Extractor) Extract(ctx context.Context, companyKey string, chunks []string) (*Result, error) {
	if len(chunks) == 0 {
		return &Result{Status: StatusError}, ErrNoChunks
	}

	parts := make([]*CompanyProfile, 0, len(chunks))
	for i, chunk := range chunks {
		part, err := e.extractChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return &Result{Status: StatusError, ChunksTotal: len(chunks), ChunksOK: len(parts)}, ctx.Err()
			}
			level.Warn(log.Logger).Log("msg", "chunk extraction failed, skipping", "company", companyKey, "chunk", i, "err", err)
			metricChunkFailures.Inc()
			continue
		}
		parts = append(parts, part)
	}

	res := &Result{ChunksTotal: len(chunks), ChunksOK: len(parts)}
	switch {
	case len(parts) == 0:
		res.Status = StatusError
		return res, errors.New("all chunk extractions failed")
	case len(parts) < len(chunks):
		res.Status = StatusPartial
	default:
		res.Status = StatusSuccess
	}

	res.Profile = Merge(parts)
	if res.Profile.IsEmpty() {
		level.Warn(log.Logger).Log("msg", "merged profile is empty", "company", companyKey, "chunks", len(chunks))
	}
	return res, nil
}

func (e *Extractor) extractChunk(ctx context.Context, chunk string) (*CompanyProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PerChunkTimeout)
	defer cancel()

	out, err := e.caller.Call(ctx, llm.Request{
		Schema:   e.schema,
		System:   systemPrompt,
		User:     chunk,
		Resource: "profile",
	})
	if err != nil {
		return nil, err
	}
	part := out.Target.(*CompanyProfile)
	Normalize(part)
	return part, nil
}
