package chunking

import (
	"regexp"
	"strings"

	"github.com/cloo-solutions/tenderwise/internal/domain"
)

type categoryRule struct {
	category domain.Category
	keywords []string
}

// Order matters: "scope of work" is technical before "scope" is overview.
var categoryRules = []categoryRule{
	{domain.CategoryEligibility, []string{"eligibility", "eligible", "qualification", "pre-qualification", "prequalification"}},
	{domain.CategoryTechnical, []string{"technical", "specification", "scope of work", "requirement", "deliverable", "bill of quantities"}},
	{domain.CategoryFinancial, []string{"financial", "price", "pricing", "cost", "payment", "emd", "earnest money", "bid security", "budget", "commercial"}},
	{domain.CategoryEvaluation, []string{"evaluation", "scoring", "selection", "award", "assessment"}},
	{domain.CategoryTerms, []string{"terms", "conditions", "contract", "legal", "clause", "penalty", "warranty", "liability"}},
	{domain.CategoryOverview, []string{"overview", "introduction", "background", "scope", "summary", "about", "notice inviting"}},
}

// InferCategory matches the titles, in order, against the category keyword
// table and returns the first hit. No hit means GENERAL.
func InferCategory(titles ...string) domain.Category {
	for _, title := range titles {
		t := strings.ToLower(strings.TrimSpace(title))
		if t == "" {
			continue
		}
		for _, rule := range categoryRules {
			for _, kw := range rule.keywords {
				if strings.Contains(t, kw) {
					return rule.category
				}
			}
		}
	}
	return domain.CategoryGeneral
}

type keyTerm struct {
	name    string
	pattern *regexp.Regexp
}

var keyTerms = []keyTerm{
	{"experience", regexp.MustCompile(`(?i)experience|track record`)},
	{"certification", regexp.MustCompile(`(?i)certif|accredit|\biso\s?\d+`)},
	{"financial", regexp.MustCompile(`(?i)turnover|net worth|financial|solvency`)},
	{"emd", regexp.MustCompile(`(?i)\bemd\b|earnest money|bid security`)},
	{"penalty", regexp.MustCompile(`(?i)penalt|liquidated damages`)},
	{"warranty", regexp.MustCompile(`(?i)warrant|guarantee`)},
	{"payment", regexp.MustCompile(`(?i)payment|invoice|milestone`)},
	{"deadline", regexp.MustCompile(`(?i)deadline|due date|last date|closing date|submission date`)},
	{"technical", regexp.MustCompile(`(?i)technical|specification`)},
	{"evaluation", regexp.MustCompile(`(?i)evaluat|scoring|marks`)},
}

var (
	obligationPattern = regexp.MustCompile(`(?i)\b(must|shall|mandatory)\b`)
	currencyPattern   = regexp.MustCompile(`(?i)(₹|\$|€|£|\brs\.?|\binr\b|\busd\b)\s?\d`)
	durationPattern   = regexp.MustCompile(`(?i)\b\d+\s*(days?|months?|years?)\b`)
)

// DetectKeyTerms returns the key-term categories present in text, in
// table order.
func DetectKeyTerms(text string) []string {
	var found []string
	for _, kt := range keyTerms {
		if kt.pattern.MatchString(text) {
			found = append(found, kt.name)
		}
	}
	return found
}

// Importance scores a chunk from 1 to 10.
func Importance(text string, mandatory bool, terms []string) int {
	score := domain.BaseImportance
	if mandatory {
		score += 2
	}
	score += len(terms)
	if obligationPattern.MatchString(text) {
		score++
	}
	if currencyPattern.MatchString(text) {
		score++
	}
	if durationPattern.MatchString(text) {
		score++
	}
	if score > domain.MaxImportance {
		score = domain.MaxImportance
	}
	return score
}
