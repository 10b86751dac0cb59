package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/buscafornecedor/perfilador/pkg/ratelimit"
)

// Error kinds for callers. These classify, they do not carry vendor
// detail; wrap with %w and keep the vendor message in the chain.
var (
	ErrTransport       = errors.New("transport")
	ErrRateLimited     = errors.New("rate_limited")
	ErrSchemaViolation = errors.New("schema_violation")
	ErrDegeneration    = errors.New("degeneration")
	ErrEmptyResponse   = errors.New("empty_response")
	ErrExhausted       = errors.New("exhausted")
	ErrNoVendors       = errors.New("no vendors configured")
)

// classify maps a raw vendor client error onto the retry taxonomy.
// Vendor SDKs surface 429s and timeouts as opaque error strings, so this
// leans on substrings the OpenAI-compatible hosts actually emit.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTransport
	case errors.Is(err, ratelimit.ErrBudgetTimeout):
		return ErrRateLimited
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") {
		return ErrRateLimited
	}
	return ErrTransport
}
