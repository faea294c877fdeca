package memory

import (
	"regexp"
	"sort"
	"strings"

	"github.com/harun/mnemo/internal/logger"
)

// Categories accepted by the store.
const (
	CategoryWork      = "work"
	CategoryPersonal  = "personal"
	CategoryTechnical = "technical"
	CategoryContacts  = "contacts"
	CategoryFinance   = "finance"
	CategoryOther     = "other"
)

// ValidCategories lists every known category.
var ValidCategories = []string{
	CategoryWork, CategoryPersonal, CategoryTechnical, CategoryContacts, CategoryFinance, CategoryOther,
}

// DefaultMaxKeywords bounds ExtractKeywords when callers pass zero.
const DefaultMaxKeywords = 8

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the is are am to of and or for with in on at from by
		your my our their his her it this that these those
		be as was were will would can could should do does did`) {
		stopWords[w] = struct{}{}
	}
}

// ExtractKeywords returns up to max unigrams and bigrams ordered by frequency,
// then length, both descending. Ties keep first-occurrence order.
func ExtractKeywords(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxKeywords
	}

	var toks []string
	for _, t := range Tokens(text) {
		if _, stop := stopWords[t]; !stop {
			toks = append(toks, t)
		}
	}

	counts := make(map[string]int)
	var order []string
	for _, g := range shingles(toks) {
		if counts[g] == 0 {
			order = append(order, g)
		}
		counts[g]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		ci, cj := counts[order[i]], counts[order[j]]
		if ci != cj {
			return ci > cj
		}
		return len(order[i]) > len(order[j])
	})

	if len(order) > max {
		order = order[:max]
	}
	if order == nil {
		return []string{}
	}
	return order
}

type categoryRule struct {
	name    string
	pattern *regexp.Regexp
}

var categoryRules = []categoryRule{
	{CategoryTechnical, regexp.MustCompile(`\b(github|repo|api|sdk|server|endpoint|docker|node|react|typescript|python)\b`)},
	{CategoryContacts, regexp.MustCompile(`\b(email|phone|contact|linkedin|@)\b`)},
	{CategoryFinance, regexp.MustCompile(`\b(bank|invoice|payment|usd|\$|card|account number)\b`)},
	{CategoryWork, regexp.MustCompile(`\b(meeting|deadline|jira|ticket|client|deliverable|sprint)\b`)},
}

// Categorize returns the first matching rule-based category, or personal.
func Categorize(text string, keywords []string) string {
	blob := strings.ToLower(text) + " " + strings.ToLower(strings.Join(keywords, " "))
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(blob) {
			return rule.name
		}
	}
	return CategoryPersonal
}

// IsValidCategory reports whether c is a known category.
func IsValidCategory(c string) bool {
	for _, v := range ValidCategories {
		if v == c {
			return true
		}
	}
	return false
}

var sensitiveDetector = newSensitiveDetector()

func newSensitiveDetector() *logger.Redactor {
	r := logger.NewRedactor()
	_ = r.AddPattern(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	_ = r.AddPattern(`\b(?:\d[ -]?){13,16}\b`)
	return r
}

// DetectSensitive reports whether text looks like it carries credentials or personal data.
func DetectSensitive(text string) bool {
	return sensitiveDetector.Matches(text)
}
