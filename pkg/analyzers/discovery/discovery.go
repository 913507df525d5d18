// Package discovery implements pattern discovery (§4.7): header-name
// families the basic header analyzer misses (prefix/suffix/contains/regex
// groupings), emerging-vendor clustering, and semantic anomalies.
package discovery

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/analyzers/semantic"
	"github.com/jordigilh/crawlstats/pkg/analyzers/vendor"
	"github.com/jordigilh/crawlstats/pkg/classify"
	sharedmath "github.com/jordigilh/crawlstats/pkg/shared/math"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// FamilyType distinguishes how a header-name family was discovered.
type FamilyType string

const (
	FamilyPrefix   FamilyType = "prefix"
	FamilySuffix   FamilyType = "suffix"
	FamilyContains FamilyType = "contains"
	FamilyRegex    FamilyType = "regex"
)

// Config exposes §9's open-question constants as tunable parameters
// rather than invariants (SPEC_FULL §5 Open Question Decision 2).
type Config struct {
	FrequencyWeight    float64
	VendorVarietyBoost float64
	MaxFamilyPatterns  int
	MinFamilyMembers   int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FrequencyWeight:    0.5,
		VendorVarietyBoost: 1.2,
		MaxFamilyPatterns:  50,
		MinFamilyMembers:   3,
	}
}

// FamilyInfo is per-family metadata PatternData has no field for.
type FamilyInfo struct {
	Type            FamilyType
	Confidence      float64
	PotentialVendor string
	CMSCorrelation  map[string]float64
}

// EmergingVendor is a cluster of related headers sharing a prefix that
// matches no known vendor (§4.7).
type EmergingVendor struct {
	CommonPrefix     string
	NamingConvention string
	Patterns         []string
	SiteCount        int
}

// SemanticAnomaly flags a header whose word tokens imply a category
// different from its classifier category (§4.7).
type SemanticAnomaly struct {
	HeaderName       string
	ExpectedCategory string
	ActualCategory   string
	Confidence       float64
	Reason           string
}

// Result is the discovery analyzer's analyzer-specific payload.
type Result struct {
	Families        map[string]FamilyInfo
	EmergingVendors  []EmergingVendor
	Anomalies        []SemanticAnomaly
}

// Analyzer runs pattern discovery.
type Analyzer struct {
	logger *logrus.Entry
	cfg    Config
}

// New returns a discovery Analyzer with the given config. logger may be
// nil.
func New(logger *logrus.Entry, cfg Config) *Analyzer {
	return &Analyzer{logger: logger, cfg: cfg}
}

var wordLexicon = map[string]classify.Category{
	"cache":     classify.CategoryCaching,
	"cdn":       classify.CategoryCaching,
	"analytics": classify.CategoryAnalytics,
	"tracking":  classify.CategoryAnalytics,
	"powered":   classify.CategoryFramework,
	"framework": classify.CategoryFramework,
	"security":  classify.CategorySecurity,
	"csp":       classify.CategorySecurity,
	"shop":      classify.CategoryEcommerce,
	"cart":      classify.CategoryEcommerce,
	"checkout":  classify.CategoryEcommerce,
	"wp":        classify.CategoryCMS,
	"wordpress": classify.CategoryCMS,
	"drupal":    classify.CategoryCMS,
	"joomla":    classify.CategoryCMS,
	"shopify":   classify.CategoryCMS,
	"magento":   classify.CategoryCMS,
}

var regexTemplates = []struct {
	name string
	re   *regexp.Regexp
}{
	{"x-<word>-id", regexp.MustCompile(`^x-[a-z0-9]+-id$`)},
	{"x-<word>-version", regexp.MustCompile(`^x-[a-z0-9]+-version$`)},
	{"x-<word>-cache", regexp.MustCompile(`^x-[a-z0-9]+-cache$`)},
}

// Analyze discovers header families, emerging vendors, and semantic
// anomalies. data is used only for per-site CMS lookups (cmsCorrelation);
// headersRes supplies the member patterns; vendorData and semanticData are
// the injected payloads from earlier stages. A family is only emitted when
// it satisfies both of §4.7's independent thresholds: at least
// cfg.MinFamilyMembers distinct member headers AND at least
// opts.MinOccurrences distinct sites (§8 Invariant 3).
func (a *Analyzer) Analyze(data *types.PreprocessedData, headersRes *types.AnalysisResult, vendorData *vendor.Result, semanticData *semantic.Result, opts types.Options) *types.AnalysisResult {
	start := time.Now()
	cfg := a.cfg
	if cfg.MinFamilyMembers == 0 {
		cfg = DefaultConfig()
	}
	minOccurrences := opts.MinOccurrences

	members := make(map[string]*types.PatternData)
	if headersRes != nil {
		members = headersRes.Patterns
	}

	families := make(map[string]*types.PatternData)
	infos := make(map[string]FamilyInfo)

	discoverBySegment(members, families, infos, data, vendorData, cfg, minOccurrences, FamilyPrefix, segmentPrefixKey)
	discoverBySegment(members, families, infos, data, vendorData, cfg, minOccurrences, FamilySuffix, segmentSuffixKey)
	discoverContains(members, families, infos, data, vendorData, cfg, minOccurrences)
	discoverByRegex(members, families, infos, data, vendorData, cfg, minOccurrences)

	totalSites := 0
	if headersRes != nil {
		totalSites = headersRes.TotalSites
	} else if data != nil {
		totalSites = data.TotalSites
	}
	for _, p := range families {
		p.Finalize(totalSites)
	}

	capped := capFamilies(families, infos, cfg.MaxFamilyPatterns)

	result := types.NewAnalysisResult("discovery", totalSites)
	result.Patterns = capped
	emerging := discoverEmergingVendors(members, vendorData)
	anomalies := discoverAnomalies(semanticData)
	result.AnalyzerSpecific = Result{Families: infos, EmergingVendors: emerging, Anomalies: anomalies}
	result.Metadata.RanAt = start
	result.Metadata.Duration = time.Since(start)
	result.Metadata.PatternsAfter = len(capped)

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"stage":       "discovery",
			"duration_ms": result.Metadata.Duration.Milliseconds(),
			"families":    len(capped),
			"emerging":    len(emerging),
			"anomalies":   len(anomalies),
		}).Info("stage complete")
	}
	return result
}

func segments(name string) []string {
	return strings.Split(strings.ToLower(name), "-")
}

// segmentPrefixKey returns the family key for headers sharing their first
// two hyphen segments (the working approximation of "longest common prefix
// of >=2 segments", §4.7).
func segmentPrefixKey(segs []string) (string, string, bool) {
	if len(segs) < 3 {
		return "", "", false
	}
	prefix := strings.Join(segs[:2], "-")
	return prefix, prefix + "-*", true
}

func segmentSuffixKey(segs []string) (string, string, bool) {
	if len(segs) < 2 {
		return "", "", false
	}
	suffix := segs[len(segs)-1]
	return suffix, "*-" + suffix, true
}

// segmentContainsKeys returns every internal (non-first, non-last) segment
// as a candidate "contains" grouping key.
func segmentContainsKeys(segs []string) []string {
	if len(segs) < 3 {
		return nil
	}
	return segs[1 : len(segs)-1]
}

type segmentKeyFn func([]string) (string, string, bool)

func discoverBySegment(members map[string]*types.PatternData, families map[string]*types.PatternData, infos map[string]FamilyInfo, data *types.PreprocessedData, vendorData *vendor.Result, cfg Config, minOccurrences int, ftype FamilyType, keyFn segmentKeyFn) {
	groups := make(map[string][]string) // groupKey -> member header names
	patternKeys := make(map[string]string)
	for name := range members {
		groupKey, patternKey, ok := keyFn(segments(name))
		if !ok {
			continue
		}
		groups[groupKey] = append(groups[groupKey], name)
		patternKeys[groupKey] = patternKey
	}
	for groupKey, names := range groups {
		emitFamily(families, infos, members, data, vendorData, cfg, minOccurrences, ftype, patternKeys[groupKey], names)
	}
}

func discoverContains(members map[string]*types.PatternData, families map[string]*types.PatternData, infos map[string]FamilyInfo, data *types.PreprocessedData, vendorData *vendor.Result, cfg Config, minOccurrences int) {
	groups := make(map[string][]string)
	for name := range members {
		for _, token := range segmentContainsKeys(segments(name)) {
			if token == "" {
				continue
			}
			groups[token] = append(groups[token], name)
		}
	}
	for token, names := range groups {
		emitFamily(families, infos, members, data, vendorData, cfg, minOccurrences, FamilyContains, "*"+token+"*", dedupe(names))
	}
}

func discoverByRegex(members map[string]*types.PatternData, families map[string]*types.PatternData, infos map[string]FamilyInfo, data *types.PreprocessedData, vendorData *vendor.Result, cfg Config, minOccurrences int) {
	for _, tmpl := range regexTemplates {
		var names []string
		for name := range members {
			if tmpl.re.MatchString(strings.ToLower(name)) {
				names = append(names, name)
			}
		}
		emitFamily(families, infos, members, data, vendorData, cfg, minOccurrences, FamilyRegex, "regex:"+tmpl.name, names)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func emitFamily(families map[string]*types.PatternData, infos map[string]FamilyInfo, members map[string]*types.PatternData, data *types.PreprocessedData, vendorData *vendor.Result, cfg Config, minOccurrences int, ftype FamilyType, patternKey string, names []string) {
	names = dedupe(names)
	if len(names) < cfg.MinFamilyMembers {
		return
	}
	union := make(map[string]struct{})
	var freqSum float64
	var potentialVendor string
	for _, name := range names {
		p, ok := members[name]
		if !ok {
			continue
		}
		for s := range p.Sites {
			union[s] = struct{}{}
		}
		freqSum += p.Frequency
		if potentialVendor == "" && vendorData != nil {
			potentialVendor = vendorData.VendorsByPattern[name]
		}
	}
	if len(union) < minOccurrences {
		return
	}

	pattern := types.NewPatternData(patternKey)
	pattern.Sites = union
	pattern.SiteCount = len(union)
	pattern.Examples = topExamples(names, members, 5)

	avgFreq := freqSum / float64(len(names))
	sizeScore := sharedmath.Clamp01(float64(len(names)) / 10.0)
	confidence := sharedmath.Clamp01(cfg.FrequencyWeight*avgFreq + (1-cfg.FrequencyWeight)*sizeScore)
	if potentialVendor != "" {
		confidence = sharedmath.Clamp01(confidence * cfg.VendorVarietyBoost)
	}

	families[patternKey] = pattern
	infos[patternKey] = FamilyInfo{
		Type:            ftype,
		Confidence:      confidence,
		PotentialVendor: potentialVendor,
		CMSCorrelation:  cmsCorrelation(union, data),
	}
}

func topExamples(names []string, members map[string]*types.PatternData, k int) []string {
	type item struct {
		name  string
		count int
	}
	items := make([]item, 0, len(names))
	seen := make(map[string]struct{})
	for _, n := range names {
		lower := strings.ToLower(n)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		count := 0
		if p, ok := members[n]; ok {
			count = p.SiteCount
		}
		items = append(items, item{n, count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].name < items[j].name
	})
	if len(items) > k {
		items = items[:k]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

func cmsCorrelation(sites map[string]struct{}, data *types.PreprocessedData) map[string]float64 {
	if data == nil || len(sites) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for s := range sites {
		sd, ok := data.Sites[s]
		if !ok {
			continue
		}
		counts[sd.CMS]++
	}
	out := make(map[string]float64, len(counts))
	for cms, c := range counts {
		out[cms] = float64(c) / float64(len(sites))
	}
	return out
}

func capFamilies(families map[string]*types.PatternData, infos map[string]FamilyInfo, max int) map[string]*types.PatternData {
	type item struct {
		key  string
		data *types.PatternData
	}
	items := make([]item, 0, len(families))
	for k, p := range families {
		items = append(items, item{k, p})
	}
	sort.Slice(items, func(i, j int) bool {
		ci, cj := infos[items[i].key].Confidence, infos[items[j].key].Confidence
		if ci != cj {
			return ci > cj
		}
		return items[i].data.Frequency > items[j].data.Frequency
	})
	if len(items) > max {
		items = items[:max]
	}
	out := make(map[string]*types.PatternData, len(items))
	for _, it := range items {
		out[it.key] = it.data
	}
	return out
}

func discoverEmergingVendors(members map[string]*types.PatternData, vendorData *vendor.Result) []EmergingVendor {
	groups := make(map[string][]string)
	for name := range members {
		segs := segments(name)
		if len(segs) < 2 {
			continue
		}
		if classify.Classify(name).Vendor != "" {
			continue
		}
		if vendorData != nil && vendorData.VendorsByPattern[name] != "" {
			continue
		}
		prefix := strings.Join(segs[:2], "-")
		groups[prefix] = append(groups[prefix], name)
	}
	var out []EmergingVendor
	for prefix, names := range groups {
		names = dedupe(names)
		if len(names) < 2 {
			continue
		}
		union := make(map[string]struct{})
		for _, n := range names {
			if p, ok := members[n]; ok {
				for s := range p.Sites {
					union[s] = struct{}{}
				}
			}
		}
		if len(union) < 2 {
			continue
		}
		sort.Strings(names)
		out = append(out, EmergingVendor{
			CommonPrefix:     prefix,
			NamingConvention: namingConventionOf(names[0]),
			Patterns:         names,
			SiteCount:        len(union),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommonPrefix < out[j].CommonPrefix })
	return out
}

// namingConventionOf gives a coarse naming-convention label for an
// emerging-vendor cluster's lead header, independent of the semantic
// analyzer's own (richer) classification, since a cluster may surface
// before the semantic stage has seen it.
func namingConventionOf(name string) string {
	switch {
	case strings.Contains(name, "-"):
		return "kebab"
	case strings.Contains(name, "_"):
		return "snake"
	default:
		return "non-standard"
	}
}

func discoverAnomalies(semanticData *semantic.Result) []SemanticAnomaly {
	if semanticData == nil {
		return nil
	}
	var anomalies []SemanticAnomaly
	names := make([]string, 0, len(semanticData.Headers))
	for name := range semanticData.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		analysis := semanticData.Headers[name]
		for _, word := range analysis.SemanticWords {
			expected, ok := wordLexicon[word]
			if !ok {
				continue
			}
			if string(expected) == string(analysis.Category) {
				break
			}
			anomalies = append(anomalies, SemanticAnomaly{
				HeaderName:       name,
				ExpectedCategory: string(expected),
				ActualCategory:   string(analysis.Category),
				Confidence:       0.6,
				Reason:           "word \"" + word + "\" implies " + string(expected) + " but header classified as " + string(analysis.Category),
			})
			break
		}
	}
	return anomalies
}
