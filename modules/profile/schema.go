package profile

import (
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/buscafornecedor/perfilador/pkg/llm"
)

// systemPrompt is the single source of the extraction prompt. The caps
// and the anti-template rule appear here as model guidance; normalization
// enforces them regardless of what the model does.
const systemPrompt = `Você é um extrator de dados B2B. Extraia do texto fornecido e retorne UM ÚNICO objeto JSON válido seguindo o schema configurado.

PRODUTOS vs SERVIÇOS:
- PRODUTO = item tangível, de catálogo, com modelo ou SKU (cabo, disjuntor, luminária, equipamento). Vai em offerings.product_categories, agrupado por categoria. NUNCA crie uma categoria chamada "Serviços".
- SERVIÇO = atividade intangível que a empresa realiza (consultoria, manutenção, instalação, suporte, treinamento). Vai em offerings.services e, quando houver detalhe, em offerings.service_details.
- Regra rápida: item de catálogo físico → product_categories; algo que a empresa FAZ → services.

CLIENTES E PROVA SOCIAL (PRIORIDADE MÁXIMA):
Se existir trecho com "CLIENTES", "Nossos clientes", "Obras executadas", "Quem confia", "Projetos realizados", "Cases" ou similar, extraia TODOS os nomes e preencha reputation.client_list.

ESTUDOS DE CASO:
Preencha reputation.case_studies SOMENTE quando o mesmo case tiver cliente identificado, solução descrita e resultado descrito. Caso contrário use [].

REGRAS:
1. IDIOMA: Português (Brasil). Termos técnicos globais podem ficar em inglês.
2. DEDUPLICAÇÃO: cada produto ou serviço aparece NO MÁXIMO UMA VEZ em todo o JSON. Entre variações ("RCA" e "Conector RCA"), inclua só a mais completa.
3. Limites: máx. 60 produtos por categoria, 40 categorias, 50 serviços, 80 clientes, 50 parcerias, 50 certificações, 30 estudos de caso. PARE ao atingir qualquer limite.
4. ANTI-REPETIÇÃO: se 5 itens consecutivos de uma lista compartilham o mesmo prefixo ("Cabo RCA 1", "Cabo RCA 2"...), encerre a lista.
5. Não invente dados. Use null ou [] quando não encontrar.
6. Seja conciso em descrições longas.

Saída: APENAS o objeto JSON, sem markdown, sem texto antes ou depois.`

func strList(desc string) *openai.ResponseFormatJSONSchemaProperty {
	return llm.Arr(desc, llm.Str(""))
}

// Schema returns the structured-output binding for one extraction call.
func Schema() *llm.Schema {
	return &llm.Schema{
		Name: "company_profile",
		Definition: llm.Obj(
			[]string{"identity", "classification", "team", "offerings", "reputation", "contact", "sources"},
			map[string]*openai.ResponseFormatJSONSchemaProperty{
				"identity": llm.Obj(nil, map[string]*openai.ResponseFormatJSONSchemaProperty{
					"company_name":         llm.Str("Nome oficial da empresa"),
					"cnpj":                 llm.Str("CNPJ brasileiro se disponível"),
					"tagline":              llm.Str("Slogan da empresa"),
					"description":          llm.Str("Descrição resumida do que a empresa faz"),
					"founding_year":        llm.Str("Ano de fundação"),
					"employee_count_range": llm.Str("Faixa de funcionários, ex: 10-50"),
				}),
				"classification": llm.Obj(nil, map[string]*openai.ResponseFormatJSONSchemaProperty{
					"industry":            llm.Str("Setor de atuação"),
					"business_model":      llm.Str("B2B, B2C, Distribuidor, Fabricante, etc."),
					"target_audience":     llm.Str("Público-alvo ou segmento atendido"),
					"geographic_coverage": llm.Str("Abrangência: Nacional, Regional, cidade, etc."),
				}),
				"team": llm.Obj(nil, map[string]*openai.ResponseFormatJSONSchemaProperty{
					"size_range":          llm.Str("Tamanho da equipe"),
					"key_roles":           strList("Principais funções na equipe"),
					"team_certifications": strList("Certificações da equipe"),
				}),
				"offerings": llm.Obj(nil, map[string]*openai.ResponseFormatJSONSchemaProperty{
					"products": strList("Lista geral de produtos"),
					"product_categories": llm.Arr("Categorias de produtos com itens específicos",
						llm.Obj([]string{"category_name"}, map[string]*openai.ResponseFormatJSONSchemaProperty{
							"category_name": llm.Str("Nome da categoria"),
							"items":         strList("Produtos específicos: nomes, modelos, SKUs. Não coloque categorias ou marcas isoladas"),
						})),
					"services": strList("Lista geral de serviços"),
					"service_details": llm.Arr("Detalhes dos principais serviços",
						llm.Obj([]string{"name"}, map[string]*openai.ResponseFormatJSONSchemaProperty{
							"name":                 llm.Str("Nome do serviço"),
							"description":          llm.Str("Descrição do serviço"),
							"methodology":          llm.Str("Metodologia utilizada"),
							"deliverables":         strList("Entregáveis do serviço"),
							"ideal_client_profile": llm.Str("Perfil ideal de cliente"),
						})),
					"engagement_models":   strList("Modelos de contratação: Por Projeto, Mensalidade, etc."),
					"key_differentiators": strList("Diferenciais competitivos"),
				}),
				"reputation": llm.Obj(nil, map[string]*openai.ResponseFormatJSONSchemaProperty{
					"certifications": strList("Certificações da empresa (ISO, ANVISA, etc.)"),
					"awards":         strList("Prêmios e reconhecimentos"),
					"partnerships":   strList("Parcerias tecnológicas ou comerciais"),
					"client_list":    strList("Clientes de referência mencionados"),
					"case_studies": llm.Arr("Casos de sucesso detalhados",
						llm.Obj([]string{"title"}, map[string]*openai.ResponseFormatJSONSchemaProperty{
							"title":       llm.Str("Título do caso"),
							"client_name": llm.Str("Nome do cliente"),
							"industry":    llm.Str("Setor do cliente"),
							"challenge":   llm.Str("Desafio enfrentado"),
							"solution":    llm.Str("Solução implementada"),
							"outcome":     llm.Str("Resultado obtido"),
						})),
				}),
				"contact": llm.Obj(nil, map[string]*openai.ResponseFormatJSONSchemaProperty{
					"emails":               strList("Emails de contato"),
					"phones":               strList("Telefones"),
					"linkedin_url":         llm.Str("URL do LinkedIn"),
					"website_url":          llm.Str("URL do site"),
					"headquarters_address": llm.Str("Endereço da sede"),
					"locations":            strList("Filiais e outras localizações"),
				}),
				"sources": strList("URLs das páginas analisadas"),
			}),
		NewTarget: func() any { return &CompanyProfile{} },
	}
}
