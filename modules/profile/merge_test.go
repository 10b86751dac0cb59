package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeScalarsFirstNonEmptyWins(t *testing.T) {
	a := &CompanyProfile{}
	a.Identity.CompanyName = "Metalurgica Aurora Ltda"
	b := &CompanyProfile{}
	b.Identity.CompanyName = "Aurora"
	b.Identity.CNPJ = "12.345.678/0001-90"

	merged := Merge([]*CompanyProfile{a, b})
	assert.Equal(t, "Metalurgica Aurora Ltda", merged.Identity.CompanyName)
	assert.Equal(t, "12.345.678/0001-90", merged.Identity.CNPJ)
}

func TestMergeDescriptionLongestWins(t *testing.T) {
	a := &CompanyProfile{}
	a.Identity.Description = "Fabrica peças."
	b := &CompanyProfile{}
	b.Identity.Description = "Fabrica peças metálicas sob medida para o setor automotivo desde 1987."

	merged := Merge([]*CompanyProfile{a, b})
	assert.Equal(t, b.Identity.Description, merged.Identity.Description)
}

func TestMergeListsUnionDeduped(t *testing.T) {
	a := &CompanyProfile{}
	a.Reputation.ClientList = []string{"Petrobras", "Vale"}
	b := &CompanyProfile{}
	b.Reputation.ClientList = []string{"vale", "Gerdau"}

	merged := Merge([]*CompanyProfile{a, b})
	assert.Equal(t, []string{"Petrobras", "Vale", "Gerdau"}, merged.Reputation.ClientList)
}

func TestMergeCategoriesPoolItems(t *testing.T) {
	a := &CompanyProfile{}
	a.Offerings.ProductCategories = []ProductCategory{{CategoryName: "Cabos", Items: []string{"Cabo 1KV"}}}
	b := &CompanyProfile{}
	b.Offerings.ProductCategories = []ProductCategory{
		{CategoryName: "cabos", Items: []string{"Cabo Flex 750V", "cabo 1kv"}},
		{CategoryName: "Conectores", Items: []string{"P10"}},
	}

	merged := Merge([]*CompanyProfile{a, b})
	require.Len(t, merged.Offerings.ProductCategories, 2)
	assert.Equal(t, []string{"Cabo 1KV", "Cabo Flex 750V"}, merged.Offerings.ProductCategories[0].Items)
}

func TestMergeCaseStudiesKeyedByTitleAndClient(t *testing.T) {
	a := &CompanyProfile{}
	a.Reputation.CaseStudies = []CaseStudy{{Title: "Automação da linha 3", ClientName: "Vale", Challenge: "paradas"}}
	b := &CompanyProfile{}
	b.Reputation.CaseStudies = []CaseStudy{
		{Title: "Automação da linha 3", ClientName: "Vale", Challenge: "paradas frequentes na linha", Outcome: "30% menos downtime"},
		{Title: "Automação da linha 3", ClientName: "Gerdau"},
	}

	merged := Merge([]*CompanyProfile{a, b})
	require.Len(t, merged.Reputation.CaseStudies, 2)
	first := merged.Reputation.CaseStudies[0]
	assert.Equal(t, "paradas frequentes na linha", first.Challenge)
	assert.Equal(t, "30% menos downtime", first.Outcome)
}

func TestMergeServiceDetails(t *testing.T) {
	a := &CompanyProfile{}
	a.Offerings.ServiceDetails = []ServiceDetail{{Name: "Manutenção", Description: "Preventiva.", Deliverables: []string{"laudo"}}}
	b := &CompanyProfile{}
	b.Offerings.ServiceDetails = []ServiceDetail{{Name: "manutenção", Description: "Manutenção preventiva e corretiva em campo.", Deliverables: []string{"relatório", "laudo"}}}

	merged := Merge([]*CompanyProfile{a, b})
	require.Len(t, merged.Offerings.ServiceDetails, 1)
	sd := merged.Offerings.ServiceDetails[0]
	assert.Equal(t, "Manutenção preventiva e corretiva em campo.", sd.Description)
	assert.Equal(t, []string{"laudo", "relatório"}, sd.Deliverables)
}

func TestMergeSkipsNilParts(t *testing.T) {
	a := &CompanyProfile{}
	a.Contact.WebsiteURL = "https://aurora.com.br"
	merged := Merge([]*CompanyProfile{nil, a, nil})
	assert.Equal(t, "https://aurora.com.br", merged.Contact.WebsiteURL)
}
