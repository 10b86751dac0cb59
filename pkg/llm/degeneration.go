package llm

import "strings"

// Degeneration detection. Small-model structured output occasionally
// collapses into repetition loops ("RCA", "RCA 1", "RCA 2", ...) or stops
// emitting before the closing brace. Three independent detectors run over
// the raw emitted string; any match classifies the output as degenerate
// and the caller retries immediately with adjusted sampling.
const (
	ngramSize        = 4
	ngramRepeatLimit = 8

	substringLen         = 30
	substringRepeatLimit = 5

	unterminatedMinLen = 3000
)

// DetectDegeneration reports whether raw shows a repetition loop or an
// unterminated object, and which detector fired.
func DetectDegeneration(raw string) (bool, string) {
	if hasRepeatedNGram(raw) {
		return true, "ngram_repeat"
	}
	if hasRepeatedSubstring(raw) {
		return true, "substring_repeat"
	}
	if isUnterminated(raw) {
		return true, "unterminated"
	}
	return false, ""
}

// hasRepeatedNGram checks for any whitespace-tokenized 4-gram occurring
// more than 8 times.
func hasRepeatedNGram(raw string) bool {
	words := strings.Fields(raw)
	if len(words) < ngramSize {
		return false
	}
	counts := make(map[string]int, len(words))
	for i := 0; i+ngramSize <= len(words); i++ {
		gram := strings.Join(words[i:i+ngramSize], " ")
		counts[gram]++
		if counts[gram] > ngramRepeatLimit {
			return true
		}
	}
	return false
}

// hasRepeatedSubstring checks for any 30-character substring occurring
// more than 5 times. Sampling every substring is quadratic; stepping the
// window start by a fraction of its length keeps this linear while still
// catching loops, which by nature repeat many times over.
func hasRepeatedSubstring(raw string) bool {
	if len(raw) < substringLen*2 {
		return false
	}
	const step = substringLen / 3
	for i := 0; i+substringLen <= len(raw); i += step {
		window := raw[i : i+substringLen]
		if strings.Count(raw, window) > substringRepeatLimit {
			return true
		}
	}
	return false
}

// isUnterminated checks for a long output that ends without closing the
// outermost brace, the signature of a generation cut off mid-loop.
func isUnterminated(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= unterminatedMinLen {
		return false
	}
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	open := strings.Index(trimmed, "{")
	if open < 0 {
		return false
	}
	depth := 0
	for _, c := range trimmed[open:] {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth != 0
}
