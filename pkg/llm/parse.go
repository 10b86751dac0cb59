package llm

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// extractJSON pulls the first balanced JSON object out of raw model
// output. Models that ignore the response-format directive tend to wrap
// the object in markdown fences or chat preamble, so we strip fences and
// then scan for brace balance rather than trusting the whole string.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyResponse
	}

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.Wrap(ErrSchemaViolation, "no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.Wrap(ErrSchemaViolation, "unbalanced JSON object in response")
}

// decodeInto parses raw model output into target. Decode problems are
// schema violations: the transport worked, the model produced the wrong
// shape.
func decodeInto(raw string, target any) error {
	doc, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.UnmarshalFromString(doc, target); err != nil {
		return errors.Wrapf(ErrSchemaViolation, "decode: %s", err)
	}
	return nil
}
