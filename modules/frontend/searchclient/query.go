package searchclient

import "strings"

// Corporate form suffixes that pollute search queries. Matched as
// trailing tokens of the legal name, longest run first.
var legalNameSuffixes = []string{
	"ltda", "ltda.", "limitada", "s.a.", "s.a", "s/a", "sa",
	"eireli", "me", "epp", "s.s.", "ss",
}

// CleanLegalName strips trailing corporate-form tokens so the query
// carries only the distinctive part of the name.
func CleanLegalName(name string) string {
	tokens := strings.Fields(name)
	for len(tokens) > 0 {
		last := strings.ToLower(strings.Trim(tokens[len(tokens)-1], "-–"))
		stripped := false
		for _, s := range legalNameSuffixes {
			if last == s {
				tokens = tokens[:len(tokens)-1]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(tokens, " ")
}

// Queries builds the search queries for a company, preferring the trade
// name and falling back to the cleaned legal name. A fallback identical
// to the primary is dropped.
func Queries(legalName, tradeName, city string) []string {
	var queries []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		parts := []string{name}
		if city = strings.TrimSpace(city); city != "" {
			parts = append(parts, city)
		}
		parts = append(parts, "site oficial")
		q := strings.Join(parts, " ")
		for _, existing := range queries {
			if strings.EqualFold(existing, q) {
				return
			}
		}
		queries = append(queries, q)
	}

	add(tradeName)
	add(CleanLegalName(legalName))
	return queries
}
