// Package semantic implements the semantic analyzer (§4.6): classifying
// each observed header into a naming convention, word tokens, and pattern
// type, consuming the vendor analyzer's injected catalog.
package semantic

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/classify"
	"github.com/jordigilh/crawlstats/pkg/analyzers/vendor"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// NamingConvention is the lexical shape of a header name.
type NamingConvention string

const (
	NamingKebab      NamingConvention = "kebab"
	NamingSnake      NamingConvention = "snake"
	NamingCamel      NamingConvention = "camel"
	NamingUpper      NamingConvention = "upper"
	NamingMixed      NamingConvention = "mixed"
	NamingNonStandard NamingConvention = "non-standard"
)

// PatternType describes how specialized a header is.
type PatternType string

const (
	PatternStandard        PatternType = "standard"
	PatternVendorSpecific   PatternType = "vendor-specific"
	PatternPlatformSpecific PatternType = "platform-specific"
	PatternCustom           PatternType = "custom"
)

// HeaderSemanticAnalysis is the per-header payload (§4.6).
type HeaderSemanticAnalysis struct {
	HeaderName       string
	Category         classify.Category
	NamingConvention NamingConvention
	SemanticWords    []string
	PatternType      PatternType
	HierarchyLevel   int
}

// Insights carries the corpus-wide histograms (§4.6).
type Insights struct {
	CategoryDistribution map[string]int
	VendorDistribution   map[string]int
	NamingConventions    map[string]int
	PatternTypes         map[string]int
	TopVendors           []string
	TopCategories        []string
}

// Result is the semantic analyzer's payload.
type Result struct {
	Headers  map[string]HeaderSemanticAnalysis
	Insights Insights
}

// Analyzer runs the semantic analyzer.
type Analyzer struct {
	logger *logrus.Entry
}

// New returns a semantic Analyzer. logger may be nil.
func New(logger *logrus.Entry) *Analyzer {
	return &Analyzer{logger: logger}
}

var platformPrefixes = []string{"x-wp-", "x-drupal-", "x-shopify-", "x-magento-", "x-joomla-"}

var (
	kebabRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	snakeRe = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)
	camelRe = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	upperRe = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)
)

func namingConvention(name string) NamingConvention {
	switch {
	case upperRe.MatchString(name) && strings.ToUpper(name) == name && strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"):
		return NamingUpper
	case kebabRe.MatchString(name):
		return NamingKebab
	case snakeRe.MatchString(name):
		return NamingSnake
	case camelRe.MatchString(name) && name == strings.ToLower(name[:1])+name[1:] && strings.ToLower(name) != name:
		return NamingCamel
	case strings.ContainsAny(name, "-_") && strings.ToLower(name) != name:
		return NamingMixed
	default:
		return NamingNonStandard
	}
}

func semanticWords(name string) []string {
	var words []string
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' }) {
		if part != "" {
			words = append(words, strings.ToLower(part))
		}
	}
	return words
}

func patternType(name string, cls classify.HeaderClassification) PatternType {
	lower := strings.ToLower(name)
	for _, prefix := range platformPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return PatternPlatformSpecific
		}
	}
	if cls.Vendor != "" {
		return PatternVendorSpecific
	}
	if cls.Category == classify.CategoryCustom {
		return PatternCustom
	}
	return PatternStandard
}

// Analyze classifies every header pattern in headersRes, consuming the
// vendor analyzer's catalog for distribution stats.
func (a *Analyzer) Analyze(headersRes *types.AnalysisResult, vendorData *vendor.Result, totalSites int) *types.AnalysisResult {
	start := time.Now()
	headerAnalyses := make(map[string]HeaderSemanticAnalysis)
	categoryDist := make(map[string]int)
	vendorDist := make(map[string]int)
	namingDist := make(map[string]int)
	patternDist := make(map[string]int)

	if headersRes != nil {
		for name := range headersRes.Patterns {
			cls := classify.Classify(name)
			vendorName := cls.Vendor
			if vendorName == "" && vendorData != nil {
				vendorName = vendorData.VendorsByPattern[name]
			}
			analysis := HeaderSemanticAnalysis{
				HeaderName:       name,
				Category:         cls.Category,
				NamingConvention: namingConvention(name),
				SemanticWords:    semanticWords(name),
				PatternType:      patternType(name, cls),
				HierarchyLevel:   len(semanticWords(name)),
			}
			headerAnalyses[name] = analysis
			categoryDist[string(analysis.Category)]++
			namingDist[string(analysis.NamingConvention)]++
			patternDist[string(analysis.PatternType)]++
			if vendorName != "" {
				vendorDist[vendorName]++
			}
		}
	}

	insights := Insights{
		CategoryDistribution: categoryDist,
		VendorDistribution:   vendorDist,
		NamingConventions:    namingDist,
		PatternTypes:         patternDist,
		TopVendors:           topKeys(vendorDist, 5),
		TopCategories:        topKeys(categoryDist, 5),
	}

	result := types.NewAnalysisResult("semantic", totalSites)
	result.AnalyzerSpecific = Result{Headers: headerAnalyses, Insights: insights}
	result.Metadata.RanAt = start
	result.Metadata.Duration = time.Since(start)
	result.Metadata.PatternsAfter = len(headerAnalyses)

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"stage":       "semantic",
			"duration_ms": result.Metadata.Duration.Milliseconds(),
			"headers":     len(headerAnalyses),
		}).Info("stage complete")
	}
	return result
}

func topKeys(counts map[string]int, k int) []string {
	type kv struct {
		key   string
		count int
	}
	items := make([]kv, 0, len(counts))
	for key, c := range counts {
		items = append(items, kv{key, c})
	}
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && (items[j-1].count < items[j].count || (items[j-1].count == items[j].count && items[j-1].key > items[j].key)) {
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
	if len(items) > k {
		items = items[:k]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}
