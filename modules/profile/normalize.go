package profile

import "strings"

// Catch-all category names the model produces when it cannot group
// products. They carry no signal and pollute the merge, so they are
// dropped outright.
var invalidCategoryNames = map[string]struct{}{
	"outras categorias": {},
	"outras":            {},
	"marcas":            {},
	"marca":             {},
	"geral":             {},
	"diversos":          {},
	"outros":            {},
	"categorias":        {},
	"categoria":         {},
	"produtos":          {},
	"produto":           {},
}

const antiTemplatePrefixWords = 3
const antiTemplatePrefixLimit = 5

// Normalize cleans a freshly decoded profile in place. It never trusts
// the model: blanks are stripped, every list is deduplicated on a
// case-folded whitespace-normalized key, template-generated runs in
// category items are cut, and caps are enforced.
func Normalize(p *CompanyProfile) {
	p.Team.KeyRoles = dedupeList(p.Team.KeyRoles, 0)
	p.Team.TeamCertifications = dedupeList(p.Team.TeamCertifications, 0)

	p.Offerings.Products = dedupeList(p.Offerings.Products, 0)
	p.Offerings.Services = dedupeList(p.Offerings.Services, maxServices)
	p.Offerings.EngagementModels = dedupeList(p.Offerings.EngagementModels, 0)
	p.Offerings.KeyDifferentiators = dedupeList(p.Offerings.KeyDifferentiators, 0)
	p.Offerings.ProductCategories = normalizeCategories(p.Offerings.ProductCategories)
	p.Offerings.ServiceDetails = normalizeServiceDetails(p.Offerings.ServiceDetails)

	p.Reputation.Certifications = dedupeList(p.Reputation.Certifications, maxCertifications)
	p.Reputation.Awards = dedupeList(p.Reputation.Awards, 0)
	p.Reputation.Partnerships = dedupeList(p.Reputation.Partnerships, maxPartnerships)
	p.Reputation.ClientList = dedupeList(p.Reputation.ClientList, maxClients)
	p.Reputation.CaseStudies = normalizeCaseStudies(p.Reputation.CaseStudies)

	p.Contact.Emails = dedupeList(p.Contact.Emails, 0)
	p.Contact.Phones = dedupeList(p.Contact.Phones, 0)
	p.Contact.Locations = dedupeList(p.Contact.Locations, 0)

	p.Sources = dedupeList(p.Sources, 0)
}

// dedupeKey folds case and collapses internal whitespace so "Cabo  RCA"
// and "cabo rca" match.
func dedupeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// dedupeList trims, drops blanks, keeps the first occurrence of each key
// and truncates to limit (0 means uncapped).
func dedupeList(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := dedupeKey(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// templatePrefix is the first N words of an item, case-folded. Items
// admitted past the per-prefix limit are template noise ("Cabo RCA 1",
// "Cabo RCA 2", ...) and get dropped.
func templatePrefix(item string) string {
	words := strings.Fields(strings.ToLower(item))
	if len(words) < antiTemplatePrefixWords {
		return ""
	}
	return strings.Join(words[:antiTemplatePrefixWords], " ")
}

func normalizeCategoryItems(items []string) []string {
	deduped := dedupeList(items, 0)
	out := make([]string, 0, len(deduped))
	prefixCounts := make(map[string]int)
	for _, item := range deduped {
		if prefix := templatePrefix(item); prefix != "" {
			if prefixCounts[prefix] >= antiTemplatePrefixLimit {
				continue
			}
			prefixCounts[prefix]++
		}
		out = append(out, item)
		if len(out) >= maxItemsPerCategory {
			break
		}
	}
	return out
}

func normalizeCategories(cats []ProductCategory) []ProductCategory {
	out := make([]ProductCategory, 0, len(cats))
	seen := make(map[string]struct{}, len(cats))
	for _, cat := range cats {
		name := strings.TrimSpace(cat.CategoryName)
		if name == "" {
			continue
		}
		if _, invalid := invalidCategoryNames[strings.ToLower(name)]; invalid {
			continue
		}
		key := dedupeKey(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ProductCategory{
			CategoryName: name,
			Items:        normalizeCategoryItems(cat.Items),
		})
		if len(out) >= maxCategories {
			break
		}
	}
	return out
}

func normalizeServiceDetails(details []ServiceDetail) []ServiceDetail {
	out := make([]ServiceDetail, 0, len(details))
	seen := make(map[string]struct{}, len(details))
	for _, d := range details {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		key := dedupeKey(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		d.Name = name
		d.Deliverables = dedupeList(d.Deliverables, 0)
		out = append(out, d)
	}
	return out
}

func normalizeCaseStudies(cases []CaseStudy) []CaseStudy {
	out := make([]CaseStudy, 0, len(cases))
	seen := make(map[string]struct{}, len(cases))
	for _, cs := range cases {
		cs.Title = strings.TrimSpace(cs.Title)
		if cs.Title == "" {
			// A case without a title still counts if it identifies a
			// client; synthesize one so the merge has a key.
			if strings.TrimSpace(cs.ClientName) == "" {
				continue
			}
			cs.Title = "Caso: " + strings.TrimSpace(cs.ClientName)
		}
		key := dedupeKey(cs.Title) + "\x00" + dedupeKey(cs.ClientName)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cs)
		if len(out) >= maxCaseStudies {
			break
		}
	}
	return out
}
