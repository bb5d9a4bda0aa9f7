package service

import (
	"context"
	"log"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/tenderwise/internal/telemetry"
)

// Confidence is the hallucination-check verdict on a formatted output.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IssueKind names the pattern family that produced an issue.
type IssueKind string

const (
	IssueAmount IssueKind = "amount"
	IssueDate   IssueKind = "date"
)

// HallucinationIssue is one value found in the presentation but not in
// the extracted facts.
type HallucinationIssue struct {
	Kind  IssueKind `json:"kind"`
	Value string    `json:"value"`
}

// ValidationReport is advisory metadata attached to a generation result.
type ValidationReport struct {
	Issues     []HallucinationIssue `json:"issues"`
	Confidence Confidence           `json:"confidence"`
}

const (
	amountUnits = `(?:lakhs?|crores?|million|billion|thousand|k|mn|bn)`
	monthNames  = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`
)

var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:₹|\$|€|£|\brs\.?|\binr\b|\busd\b|\beur\b|\bgbp\b)\s*\d[\d,]*(?:\.\d+)?(?:\s*` + amountUnits + `\b)?`),
		regexp.MustCompile(`(?i)\b\d[\d,]*(?:\.\d+)?\s*(?:` + amountUnits + `)?\s*(?:rupees|dollars|euros|inr|usd)\b`),
		regexp.MustCompile(`(?i)\b\d[\d,]*(?:\.\d+)?\s*(?:lakhs?|crores?)\b`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}\b`),
		regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+` + monthNames + `\.?,?\s+\d{4}\b`),
		regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
	}

	currencyMarker = regexp.MustCompile(`(?i)₹|\$|€|£|\brs\b\.?|\binr\b|\busd\b|\beur\b|\bgbp\b|\brupees\b|\bdollars\b|\beuros\b`)
	amountNoise    = regexp.MustCompile(`[,\s]`)
	ordinalSuffix  = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)
	dateNoise      = regexp.MustCompile(`[\s,.]+`)
)

// currencyCodes maps every currency marker onto one code.
var currencyCodes = map[string]string{
	"₹": "inr", "rs": "inr", "inr": "inr", "rupees": "inr",
	"$": "usd", "usd": "usd", "dollars": "usd",
	"€": "eur", "eur": "eur", "euros": "eur",
	"£": "gbp", "gbp": "gbp",
}

// CheckHallucinations scans both texts for amounts and dates and flags
// every value the presentation carries that the facts do not. Values are
// compared after normalization so "Rs. 5,00,000" matches "INR 500000",
// while "$5,00,000" does not.
func CheckHallucinations(facts, presentation string) ValidationReport {
	var issues []HallucinationIssue
	issues = append(issues, novelAmounts(facts, presentation)...)
	issues = append(issues, novelValues(IssueDate, datePatterns, normalizeDate, facts, presentation)...)
	return ValidationReport{Issues: issues, Confidence: confidenceFor(len(issues))}
}

func confidenceFor(issues int) Confidence {
	switch {
	case issues == 0:
		return ConfidenceHigh
	case issues <= 2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func novelValues(kind IssueKind, patterns []*regexp.Regexp, normalize func(string) string, facts, presentation string) []HallucinationIssue {
	known := make(map[string]struct{})
	for _, m := range findAll(patterns, facts) {
		known[normalize(m)] = struct{}{}
	}
	var issues []HallucinationIssue
	seen := make(map[string]struct{})
	for _, m := range findAll(patterns, presentation) {
		key := normalize(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := known[key]; ok {
			continue
		}
		if containsToken(facts, m) {
			continue
		}
		issues = append(issues, HallucinationIssue{Kind: kind, Value: m})
	}
	return issues
}

type amountKey struct {
	currency string
	value    string
}

// novelAmounts compares amounts by value and currency. An amount without a
// currency marker on either side matches on value alone.
func novelAmounts(facts, presentation string) []HallucinationIssue {
	known := make(map[string]map[string]struct{})
	for _, m := range findAll(amountPatterns, facts) {
		k := parseAmount(m)
		if known[k.value] == nil {
			known[k.value] = make(map[string]struct{})
		}
		known[k.value][k.currency] = struct{}{}
	}
	// A bare match is usually the tail of a marked one ("5 lakh" inside
	// "Rs. 5 lakh") and must not vouch for other currencies.
	for _, currencies := range known {
		if len(currencies) > 1 {
			delete(currencies, "")
		}
	}

	var issues []HallucinationIssue
	seen := make(map[amountKey]struct{})
	for _, m := range findAll(amountPatterns, presentation) {
		k := parseAmount(m)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if amountKnown(known, k) || containsToken(facts, m) {
			continue
		}
		issues = append(issues, HallucinationIssue{Kind: IssueAmount, Value: m})
	}
	return issues
}

func amountKnown(known map[string]map[string]struct{}, k amountKey) bool {
	currencies, ok := known[k.value]
	if !ok {
		return false
	}
	if k.currency == "" {
		return true
	}
	_, same := currencies[k.currency]
	_, bare := currencies[""]
	return same || bare
}

func parseAmount(s string) amountKey {
	lower := strings.ToLower(s)
	var currency string
	if m := currencyMarker.FindString(lower); m != "" {
		currency = currencyCodes[strings.TrimSuffix(m, ".")]
	}
	value := amountNoise.ReplaceAllString(currencyMarker.ReplaceAllString(lower, ""), "")
	return amountKey{currency: currency, value: value}
}

// containsToken reports whether value occurs in text as a whole token, so
// "$500" is not found inside "$5000" or "$500,000".
func containsToken(text, value string) bool {
	lower, v := strings.ToLower(text), strings.ToLower(value)
	if v == "" {
		return false
	}
	for i := 0; i < len(lower); {
		j := strings.Index(lower[i:], v)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(v)
		if !tokenRuneBefore(lower[:start]) && !tokenRuneAfter(lower[end:]) {
			return true
		}
		_, size := utf8.DecodeRuneInString(lower[start:])
		i = start + size
	}
	return false
}

func tokenRuneBefore(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func tokenRuneAfter(s string) bool {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	// "5,00" continues in "5,00,000" but not in "5,00, payable".
	if r == ',' || r == '.' {
		next, _ := utf8.DecodeRuneInString(s[size:])
		return unicode.IsDigit(next)
	}
	return false
}

func findAll(patterns []*regexp.Regexp, text string) []string {
	var out []string
	for _, p := range patterns {
		for _, m := range p.FindAllString(text, -1) {
			out = append(out, strings.TrimRight(strings.TrimSpace(m), ","))
		}
	}
	return out
}

func normalizeDate(s string) string {
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = dateNoise.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(s)
}

// reportHallucinations logs the issues and records a Sentry breadcrumb.
// It never fails the caller.
func reportHallucinations(ctx context.Context, documentID string, report ValidationReport) {
	if len(report.Issues) == 0 {
		return
	}
	values := make([]string, len(report.Issues))
	for i, issue := range report.Issues {
		values[i] = string(issue.Kind) + ":" + issue.Value
	}
	log.Printf("generation: possible hallucination document=%s confidence=%s values=%s",
		documentID, report.Confidence, strings.Join(values, ", "))
	telemetry.AddBreadcrumbWithData(ctx, "generation", "possible hallucination", sentry.LevelWarning, map[string]interface{}{
		"document_id": documentID,
		"confidence":  string(report.Confidence),
		"values":      values,
	})
}
