package profile

// Merge consolidates partial profiles from sequential chunk extractions
// into one document. Scalars take the first non-empty value, with a
// longest-wins second pass for the description fields; lists union with
// the normalization dedup key; case studies key on title plus client
// name with longer-non-null field resolution. The result is normalized
// again so caps hold after the union.
func Merge(parts []*CompanyProfile) *CompanyProfile {
	merged := &CompanyProfile{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		mergeIdentity(&merged.Identity, &p.Identity)
		mergeClassification(&merged.Classification, &p.Classification)
		mergeTeam(&merged.Team, &p.Team)
		mergeOfferings(&merged.Offerings, &p.Offerings)
		mergeReputation(&merged.Reputation, &p.Reputation)
		mergeContact(&merged.Contact, &p.Contact)
		merged.Sources = append(merged.Sources, p.Sources...)
	}
	Normalize(merged)
	return merged
}

// firstNonEmpty keeps dst unless it is blank.
func firstNonEmpty(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}

// longestWins replaces dst whenever src is strictly longer. Used for the
// free-text fields where a later chunk often carries the fuller version.
func longestWins(dst *string, src string) {
	if len(src) > len(*dst) {
		*dst = src
	}
}

func mergeIdentity(dst, src *Identity) {
	firstNonEmpty(&dst.CompanyName, src.CompanyName)
	firstNonEmpty(&dst.CNPJ, src.CNPJ)
	firstNonEmpty(&dst.Tagline, src.Tagline)
	longestWins(&dst.Description, src.Description)
	firstNonEmpty(&dst.FoundingYear, src.FoundingYear)
	firstNonEmpty(&dst.EmployeeCountRange, src.EmployeeCountRange)
}

func mergeClassification(dst, src *Classification) {
	firstNonEmpty(&dst.Industry, src.Industry)
	firstNonEmpty(&dst.BusinessModel, src.BusinessModel)
	firstNonEmpty(&dst.TargetAudience, src.TargetAudience)
	firstNonEmpty(&dst.GeographicCoverage, src.GeographicCoverage)
}

func mergeTeam(dst, src *TeamProfile) {
	firstNonEmpty(&dst.SizeRange, src.SizeRange)
	dst.KeyRoles = append(dst.KeyRoles, src.KeyRoles...)
	dst.TeamCertifications = append(dst.TeamCertifications, src.TeamCertifications...)
}

func mergeOfferings(dst, src *Offerings) {
	dst.Products = append(dst.Products, src.Products...)
	dst.Services = append(dst.Services, src.Services...)
	dst.EngagementModels = append(dst.EngagementModels, src.EngagementModels...)
	dst.KeyDifferentiators = append(dst.KeyDifferentiators, src.KeyDifferentiators...)

	// Categories with the same name pool their items.
	for _, cat := range src.ProductCategories {
		if i := findCategory(dst.ProductCategories, cat.CategoryName); i >= 0 {
			dst.ProductCategories[i].Items = append(dst.ProductCategories[i].Items, cat.Items...)
		} else {
			dst.ProductCategories = append(dst.ProductCategories, cat)
		}
	}

	for _, sd := range src.ServiceDetails {
		if i := findServiceDetail(dst.ServiceDetails, sd.Name); i >= 0 {
			existing := &dst.ServiceDetails[i]
			longestWins(&existing.Description, sd.Description)
			longestWins(&existing.Methodology, sd.Methodology)
			longestWins(&existing.IdealClientProfile, sd.IdealClientProfile)
			existing.Deliverables = append(existing.Deliverables, sd.Deliverables...)
		} else {
			dst.ServiceDetails = append(dst.ServiceDetails, sd)
		}
	}
}

func findCategory(cats []ProductCategory, name string) int {
	key := dedupeKey(name)
	for i := range cats {
		if dedupeKey(cats[i].CategoryName) == key {
			return i
		}
	}
	return -1
}

func findServiceDetail(details []ServiceDetail, name string) int {
	key := dedupeKey(name)
	for i := range details {
		if dedupeKey(details[i].Name) == key {
			return i
		}
	}
	return -1
}

func mergeReputation(dst, src *Reputation) {
	dst.Certifications = append(dst.Certifications, src.Certifications...)
	dst.Awards = append(dst.Awards, src.Awards...)
	dst.Partnerships = append(dst.Partnerships, src.Partnerships...)
	dst.ClientList = append(dst.ClientList, src.ClientList...)

	for _, cs := range src.CaseStudies {
		if i := findCaseStudy(dst.CaseStudies, cs); i >= 0 {
			existing := &dst.CaseStudies[i]
			longestWins(&existing.Industry, cs.Industry)
			longestWins(&existing.Challenge, cs.Challenge)
			longestWins(&existing.Solution, cs.Solution)
			longestWins(&existing.Outcome, cs.Outcome)
			firstNonEmpty(&existing.ClientName, cs.ClientName)
		} else {
			dst.CaseStudies = append(dst.CaseStudies, cs)
		}
	}
}

func findCaseStudy(cases []CaseStudy, cs CaseStudy) int {
	key := caseStudyKey(cs)
	for i := range cases {
		if caseStudyKey(cases[i]) == key {
			return i
		}
	}
	return -1
}

func caseStudyKey(cs CaseStudy) string {
	return dedupeKey(cs.Title) + "\x00" + dedupeKey(cs.ClientName)
}

func mergeContact(dst, src *Contact) {
	dst.Emails = append(dst.Emails, src.Emails...)
	dst.Phones = append(dst.Phones, src.Phones...)
	firstNonEmpty(&dst.LinkedinURL, src.LinkedinURL)
	firstNonEmpty(&dst.WebsiteURL, src.WebsiteURL)
	longestWins(&dst.HeadquartersAddress, src.HeadquartersAddress)
	dst.Locations = append(dst.Locations, src.Locations...)
}
