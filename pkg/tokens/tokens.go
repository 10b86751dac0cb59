// Package tokens estimates token counts for model inputs. The pipeline
// budgets chunk sizes in tokens but never tokenizes for real: a
// chars-per-token heuristic is within a few percent on the Portuguese
// corporate text this system processes, and is free.
package tokens

const (
	// CharsPerToken is the heuristic divisor. 3 chars/token is
	// conservative for pt-BR prose.
	CharsPerToken = 3

	// SystemPromptOverhead reserves space for the extraction system prompt.
	SystemPromptOverhead = 2500

	// MessageOverhead covers chat message framing (two messages).
	MessageOverhead = 200
)

// Estimate returns the approximate token count of s.
func Estimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

// EstimateWithOverhead returns the approximate total input token count of
// an extraction call: both messages plus framing overhead.
func EstimateWithOverhead(system, user string) int {
	return Estimate(system) + Estimate(user) + SystemPromptOverhead + MessageOverhead
}
