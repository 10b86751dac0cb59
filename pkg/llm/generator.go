package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// generator is the minimal surface the caller needs from a model client.
// Tests swap in a scripted implementation.
type generator interface {
	generate(ctx context.Context, system, user string, opts genOpts) (string, error)
}

type genOpts struct {
	maxTokens    int
	sampling     sampling
	withSampling bool
}

// openaiGenerator wraps a langchaingo client for one (vendor, schema)
// pair. The response format is bound at client construction time, which
// is why clients are cached per schema rather than per vendor.
type openaiGenerator struct {
	client *openai.LLM
}

func newOpenAIGenerator(v VendorConfig, s *Schema) (generator, error) {
	opts := []openai.Option{
		openai.WithToken(v.APIKey),
		openai.WithModel(v.Model),
		openai.WithBaseURL(v.BaseURL),
	}
	if v.SchemaDirective && s != nil {
		opts = append(opts, openai.WithResponseFormat(s.responseFormat()))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "building client for vendor %s", v.Name)
	}
	return &openaiGenerator{client: client}, nil
}

func (g *openaiGenerator) generate(ctx context.Context, system, user string, opts genOpts) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	callOpts := []llms.CallOption{
		llms.WithMaxTokens(opts.maxTokens),
	}
	if opts.withSampling {
		callOpts = append(callOpts,
			llms.WithTemperature(opts.sampling.temperature),
			llms.WithPresencePenalty(opts.sampling.presencePenalty),
			llms.WithFrequencyPenalty(opts.sampling.frequencyPenalty),
		)
	}
	resp, err := g.client.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// renderSchemaDirective produces the fallback instruction block appended
// to the system message for vendors without structured-output support.
func renderSchemaDirective(s *Schema) string {
	def, err := json.MarshalToString(s.Definition)
	if err != nil {
		def = "{}"
	}
	var b strings.Builder
	b.WriteString("\n\nResponda somente com um objeto JSON valido, sem markdown e sem texto adicional. O objeto deve seguir exatamente este JSON Schema:\n")
	b.WriteString(def)
	return b.String()
}
