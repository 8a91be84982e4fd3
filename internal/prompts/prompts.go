// Package prompts holds the prompt templates for the model
// collaborator. Query generation, briefings and the final report all
// share these; phase workers fill in the company context.
package prompts

import (
	"fmt"
	"strings"

	"github.com/timmy/prospect/internal/domain"
)

// categoryFocus describes what each research category should dig into.
var categoryFocus = map[domain.Category]string{
	domain.CategoryCompany:   "company fundamentals: products, services, leadership, business model, headcount, history",
	domain.CategoryIndustry:  "industry landscape: market size, competitors, positioning, regulation, trends",
	domain.CategoryFinancial: "financials: revenue, funding rounds, valuation, profitability, investors",
	domain.CategoryNews:      "recent news: announcements, partnerships, launches, controversies, leadership changes",
}

// QueryGenerationSystem is the system prompt for search query generation.
const QueryGenerationSystem = `You are a research assistant generating web search queries about a company.
Output one query per line, nothing else. No numbering, no quotes, no commentary.
Queries must be specific enough to return documents about this exact company.`

// QueryGenerationUser builds the user prompt for one category.
func QueryGenerationUser(input domain.JobInput, category domain.Category, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d search queries about %q", count, input.Company)
	if input.HQLocation != "" {
		fmt.Fprintf(&b, " (headquartered in %s)", input.HQLocation)
	}
	if input.Industry != "" {
		fmt.Fprintf(&b, " in the %s industry", input.Industry)
	}
	fmt.Fprintf(&b, ".\nFocus: %s.", categoryFocus[category])
	if input.CompanyURL != "" {
		fmt.Fprintf(&b, "\nOfficial site: %s", input.CompanyURL)
	}
	return b.String()
}

// BriefingSystem is the system prompt for per-category briefings.
const BriefingSystem = `You are an analyst writing a dense research briefing from raw documents.
Write clear markdown bullet points grounded only in the provided documents.
No preamble, no conclusions section, no invented facts.`

// BriefingUser builds the briefing prompt for one category.
func BriefingUser(company string, category domain.Category, docs string) string {
	return fmt.Sprintf("Company: %s\nCategory focus: %s\n\nDocuments:\n%s",
		company, categoryFocus[category], docs)
}

// ReportSystem is the system prompt for final report composition.
const ReportSystem = `You are an editor compiling a company research report from category briefings.
Produce a single coherent markdown report with sections for company, industry,
financials and news. Merge duplicate facts, keep every figure, cite nothing
that is not in the briefings.`

// ReportUser builds the final composition prompt.
func ReportUser(company string, briefings map[domain.Category]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research briefings for %s\n", company)
	for _, cat := range domain.Categories {
		if text, ok := briefings[cat]; ok && text != "" {
			fmt.Fprintf(&b, "\n## %s briefing\n%s\n", cat, text)
		}
	}
	return b.String()
}
