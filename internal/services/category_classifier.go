package services

import (
	"strings"

	domain "github.com/threadcraft/api/internal/domain"
)

// ProductField selects the text a keyword group is matched against.
type ProductField string

const (
	FieldName        ProductField = "name"
	FieldDescription ProductField = "description"
)

// KeywordGroup matches when any keyword occurs in the field (case-insensitive substring).
type KeywordGroup struct {
	Field    ProductField
	Keywords []string
}

// CategoryRule assigns Category when all of AllOf match, or when AnyOf has a match.
// A rule with both set requires AllOf and one AnyOf group.
type CategoryRule struct {
	Category domain.ProductCategory
	AllOf    []KeywordGroup
	AnyOf    []KeywordGroup
}

// DefaultCategoryRules is the priority-ordered rule list; the first match wins.
var DefaultCategoryRules = []CategoryRule{
	{
		Category: domain.CategoryAOPPremium,
		AnyOf:    []KeywordGroup{{Field: FieldName, Keywords: []string{"windbreaker", "track pants"}}},
	},
	{
		Category: domain.CategoryAOPHeavy,
		AllOf: []KeywordGroup{
			{Field: FieldName, Keywords: []string{"all-over", "aop"}},
			{Field: FieldName, Keywords: []string{"hoodie", "sweatshirt", "jacket", "pants", "jogger"}},
		},
	},
	{
		Category: domain.CategoryAOPLight,
		AnyOf:    []KeywordGroup{{Field: FieldName, Keywords: []string{"all-over", "aop"}}},
	},
	{
		Category: domain.CategoryHeavyOuterwear,
		AnyOf:    []KeywordGroup{{Field: FieldName, Keywords: []string{"hoodie", "sweatshirt", "jacket", "jogger", "pants"}}},
	},
	{
		Category: domain.CategoryHeadwear,
		AnyOf:    []KeywordGroup{{Field: FieldName, Keywords: []string{"hat", "cap", "beanie", "visor"}}},
	},
	{
		Category: domain.CategoryBasicShirt,
		AnyOf: []KeywordGroup{
			{Field: FieldName, Keywords: []string{"shirt", "tee", "tank", "polo"}},
			{Field: FieldDescription, Keywords: []string{"t-shirt"}},
		},
	},
}

// CategoryClassifier evaluates an ordered rule list.
type CategoryClassifier struct {
	rules []CategoryRule
}

// NewCategoryClassifier copies rules; nil uses DefaultCategoryRules.
func NewCategoryClassifier(rules []CategoryRule) *CategoryClassifier {
	if rules == nil {
		rules = DefaultCategoryRules
	}
	return &CategoryClassifier{rules: append([]CategoryRule(nil), rules...)}
}

// Classify returns the first matching rule's category, else DEFAULT.
func (c *CategoryClassifier) Classify(name, description string) domain.ProductCategory {
	text := map[ProductField]string{
		FieldName:        strings.ToLower(name),
		FieldDescription: strings.ToLower(description),
	}
	for _, rule := range c.rules {
		if rule.matches(text) {
			return rule.Category
		}
	}
	return domain.CategoryDefault
}

func (r CategoryRule) matches(text map[ProductField]string) bool {
	if len(r.AllOf) == 0 && len(r.AnyOf) == 0 {
		return false
	}
	for _, group := range r.AllOf {
		if !group.matches(text) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, group := range r.AnyOf {
		if group.matches(text) {
			return true
		}
	}
	return false
}

func (g KeywordGroup) matches(text map[ProductField]string) bool {
	haystack := text[g.Field]
	for _, kw := range g.Keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
