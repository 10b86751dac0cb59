// Package profile extracts structured company profiles from scraped site
// content, one model call per chunk, and merges the partial results into
// a single document.
package profile

// CompanyProfile is the consolidated extraction result for one company.
// All fields are optional on the wire; normalization guarantees lists are
// non-nil after decode.
type CompanyProfile struct {
	Identity       Identity       `json:"identity"`
	Classification Classification `json:"classification"`
	Team           TeamProfile    `json:"team"`
	Offerings      Offerings      `json:"offerings"`
	Reputation     Reputation     `json:"reputation"`
	Contact        Contact        `json:"contact"`
	Sources        []string       `json:"sources"`
}

type Identity struct {
	CompanyName        string `json:"company_name"`
	CNPJ               string `json:"cnpj"`
	Tagline            string `json:"tagline"`
	Description        string `json:"description"`
	FoundingYear       string `json:"founding_year"`
	EmployeeCountRange string `json:"employee_count_range"`
}

type Classification struct {
	Industry           string `json:"industry"`
	BusinessModel      string `json:"business_model"`
	TargetAudience     string `json:"target_audience"`
	GeographicCoverage string `json:"geographic_coverage"`
}

type TeamProfile struct {
	SizeRange          string   `json:"size_range"`
	KeyRoles           []string `json:"key_roles"`
	TeamCertifications []string `json:"team_certifications"`
}

type ProductCategory struct {
	CategoryName string   `json:"category_name"`
	Items        []string `json:"items"`
}

type ServiceDetail struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Methodology        string   `json:"methodology"`
	Deliverables       []string `json:"deliverables"`
	IdealClientProfile string   `json:"ideal_client_profile"`
}

type Offerings struct {
	Products           []string          `json:"products"`
	ProductCategories  []ProductCategory `json:"product_categories"`
	Services           []string          `json:"services"`
	ServiceDetails     []ServiceDetail   `json:"service_details"`
	EngagementModels   []string          `json:"engagement_models"`
	KeyDifferentiators []string          `json:"key_differentiators"`
}

type CaseStudy struct {
	Title      string `json:"title"`
	ClientName string `json:"client_name"`
	Industry   string `json:"industry"`
	Challenge  string `json:"challenge"`
	Solution   string `json:"solution"`
	Outcome    string `json:"outcome"`
}

type Reputation struct {
	Certifications []string    `json:"certifications"`
	Awards         []string    `json:"awards"`
	Partnerships   []string    `json:"partnerships"`
	ClientList     []string    `json:"client_list"`
	CaseStudies    []CaseStudy `json:"case_studies"`
}

type Contact struct {
	Emails              []string `json:"emails"`
	Phones              []string `json:"phones"`
	LinkedinURL         string   `json:"linkedin_url"`
	WebsiteURL          string   `json:"website_url"`
	HeadquartersAddress string   `json:"headquarters_address"`
	Locations           []string `json:"locations"`
}

// IsEmpty reports whether nothing usable was extracted. A profile counts
// as empty when the identity, classification, offerings and contact
// sections all came back blank.
func (p *CompanyProfile) IsEmpty() bool {
	identityEmpty := p.Identity.CompanyName == "" && p.Identity.CNPJ == "" &&
		p.Identity.Tagline == "" && p.Identity.Description == ""
	classificationEmpty := p.Classification.Industry == "" &&
		p.Classification.BusinessModel == "" && p.Classification.TargetAudience == ""
	offeringsEmpty := len(p.Offerings.Products) == 0 && len(p.Offerings.Services) == 0 &&
		len(p.Offerings.ProductCategories) == 0
	contactEmpty := p.Contact.WebsiteURL == "" && len(p.Contact.Emails) == 0 &&
		len(p.Contact.Phones) == 0
	return identityEmpty && classificationEmpty && offeringsEmpty && contactEmpty
}

// List caps applied after normalization and again after merge.
const (
	maxItemsPerCategory = 60
	maxCategories       = 40
	maxServices         = 50
	maxClients          = 80
	maxPartnerships     = 50
	maxCertifications   = 50
	maxCaseStudies      = 30
)
