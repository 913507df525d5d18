// Package types holds the shared data model every analyzer stage reads and
// writes: the raw CaptureRecord ingested by the preprocessor, the
// site-indexed PreprocessedData it produces, and the pattern-keyed results
// each analyzer contributes to the final AggregatedResults.
package types

import "time"

// DetectionResult is one CMS label a detector attached to a capture.
type DetectionResult struct {
	CMS        string
	Confidence float64
	Version    string
}

// MetaTagKind distinguishes the three HTML meta-tag forms a capture records.
type MetaTagKind string

const (
	MetaKindName       MetaTagKind = "name"
	MetaKindProperty   MetaTagKind = "property"
	MetaKindHTTPEquiv  MetaTagKind = "httpEquiv"
)

// MetaTag is one observed <meta> element.
type MetaTag struct {
	Kind    MetaTagKind
	Key     string
	Content string
}

// Script is one observed <script> element; exactly one of Src/InlineContent
// is populated.
type Script struct {
	Src           string
	InlineContent string
}

// RobotsTxt carries the subset of a site's robots.txt response worth mining
// for headers (§4.9 unions mainpage and robots.txt headers per site).
type RobotsTxt struct {
	HTTPHeaders map[string][]string
}

// CaptureRecord is one crawl hit, produced externally and consumed exactly
// once by the preprocessor. Never mutated after construction.
type CaptureRecord struct {
	URL              string
	Timestamp        time.Time
	HTTPHeaders      map[string][]string
	MetaTags         []MetaTag
	Scripts          []Script
	DetectionResults []DetectionResult
	RobotsTxt        *RobotsTxt
}

// SiteData is the per-unique-normalized-site aggregate the preprocessor
// builds by merging every CaptureRecord that normalizes to the same URL.
type SiteData struct {
	URL            string
	NormalizedURL  string
	CMS            string
	Confidence     float64
	Headers        map[string]map[string]struct{}
	RobotsHeaders  map[string]map[string]struct{}
	MetaTags       map[string]map[string]struct{} // key = "kind:key"
	Scripts        map[string]struct{}
	Technologies   map[string]struct{}
	CapturedAt     time.Time
}

// NewSiteData returns an empty SiteData ready for merge.
func NewSiteData(normalizedURL string) *SiteData {
	return &SiteData{
		NormalizedURL: normalizedURL,
		CMS:           "Unknown",
		Headers:       make(map[string]map[string]struct{}),
		RobotsHeaders: make(map[string]map[string]struct{}),
		MetaTags:      make(map[string]map[string]struct{}),
		Scripts:       make(map[string]struct{}),
		Technologies:  make(map[string]struct{}),
	}
}

// FilteringStats counts records dropped by the preprocessor, per reason.
type FilteringStats struct {
	DateFilter int
	Duplicate  int
	Malformed  int
}

// PreprocessedData is the immutable, site-indexed dataset every analyzer
// stage shares for the duration of one analyze() call.
type PreprocessedData struct {
	Sites          map[string]*SiteData
	TotalSites     int
	FilteringStats FilteringStats
	Metadata       PreprocessedMetadata
}

// PreprocessedMetadata carries versioning plus the growable context area
// later stages inject their payloads into (validation, vendor, semantic...).
type PreprocessedMetadata struct {
	Version  string
	LoadedAt time.Time
	Context  map[string]any
}

// PlatformDiscrimination is attached to a PatternData when the caller asked
// for platform-discrimination scoring (§3, §4.10).
type PlatformDiscrimination struct {
	DiscriminativeScore    float64
	PlatformSpecificity    map[string]float64
	CrossPlatformFrequency map[string]float64
	DiscriminationMetrics  DiscriminationMetrics
}

// DiscriminationMetrics is the sub-object of PlatformDiscrimination.
type DiscriminationMetrics struct {
	Entropy           float64
	MaxSpecificity    float64
	TargetPlatform    string
	IsInfrastructureNoise bool
}

// PatternData is one observed pattern (a header, a meta key, a script
// family, or a discovered header-name family) with its per-site coverage.
type PatternData struct {
	Pattern                string
	SiteCount              int
	Frequency              float64
	Sites                  map[string]struct{}
	Examples               []string
	PlatformDiscrimination *PlatformDiscrimination
}

// NewPatternData starts an empty PatternData for the given canonical key.
func NewPatternData(pattern string) *PatternData {
	return &PatternData{Pattern: pattern, Sites: make(map[string]struct{})}
}

// AddSite records one more site carrying this pattern, with an optional
// example value sampled up to maxExamples.
func (p *PatternData) AddSite(site, example string, maxExamples int) {
	if _, ok := p.Sites[site]; ok {
		return
	}
	p.Sites[site] = struct{}{}
	p.SiteCount = len(p.Sites)
	if example != "" && len(p.Examples) < maxExamples {
		p.Examples = append(p.Examples, example)
	}
}

// Finalize sets Frequency from SiteCount/totalSites. Must be called after
// every AddSite call and before the pattern is handed to a later stage.
func (p *PatternData) Finalize(totalSites int) {
	if totalSites <= 0 {
		p.Frequency = 0
		return
	}
	p.Frequency = float64(p.SiteCount) / float64(totalSites)
}

// AnalyzerMetadata describes one analyzer's run: name, timing, and the
// before/after counts its minOccurrences filter produced.
type AnalyzerMetadata struct {
	AnalyzerName     string
	RanAt            time.Time
	Duration         time.Duration
	PatternsBefore   int
	PatternsAfter    int
	MinOccurrences   int
}

// AnalysisResult is the generic per-stage output: a pattern map plus
// metadata plus an optional analyzer-specific payload (validation metrics,
// vendor catalog, co-occurrence tables, bias tables...).
type AnalysisResult struct {
	Patterns       map[string]*PatternData
	TotalSites     int
	Metadata       AnalyzerMetadata
	AnalyzerSpecific any
}

// NewAnalysisResult returns an empty result ready for a single analyzer to
// populate.
func NewAnalysisResult(name string, totalSites int) *AnalysisResult {
	return &AnalysisResult{
		Patterns:   make(map[string]*PatternData),
		TotalSites: totalSites,
		Metadata: AnalyzerMetadata{
			AnalyzerName: name,
		},
	}
}

// ApplyMinOccurrences filters the result's pattern map in place exactly
// once. Calling it a second time with the same or a smaller threshold is a
// guaranteed no-op (§4.3, §8 invariant 6).
func (r *AnalysisResult) ApplyMinOccurrences(minOccurrences int) {
	before := len(r.Patterns)
	for key, p := range r.Patterns {
		if p.SiteCount < minOccurrences {
			delete(r.Patterns, key)
		}
	}
	r.Metadata.PatternsBefore = before
	r.Metadata.PatternsAfter = len(r.Patterns)
	r.Metadata.MinOccurrences = minOccurrences
}

// CMSFrequency is P(header|cms) with the raw counts behind it.
type CMSFrequency struct {
	Frequency   float64
	Occurrences int
	Total       int
}

// CMSGivenHeader is P(cms|header) with the raw counts behind it.
type CMSGivenHeader struct {
	Probability float64
	Count       int
}

// RecommendationConfidence is the bias analyzer's verdict on how safely a
// correlation can be used to write a CMS-detection rule.
type RecommendationConfidence string

const (
	ConfidenceHigh   RecommendationConfidence = "high"
	ConfidenceMedium RecommendationConfidence = "medium"
	ConfidenceLow    RecommendationConfidence = "low"
)

// HeaderCMSCorrelation is the bias stage's per-header diagnostic (§3, §4.9).
type HeaderCMSCorrelation struct {
	HeaderName             string
	OverallFrequency       float64
	OverallOccurrences     int
	PerCMSFrequency        map[string]CMSFrequency
	CMSGivenHeader         map[string]CMSGivenHeader
	PlatformSpecificity    float64
	BiasAdjustedFrequency  float64
	RecommendationConfidence RecommendationConfidence
	BiasWarning            string
}

// CMSShare is one CMS's count/percentage/site list in the distribution.
type CMSShare struct {
	Count      int
	Percentage float64
	Sites      []string
}

// DatasetBiasAnalysis is the bias analyzer's top-level payload.
type DatasetBiasAnalysis struct {
	CMSDistribution     map[string]CMSShare
	TotalSites          int
	ConcentrationScore  float64
	BiasWarnings        []string
	HeaderCorrelations  map[string]HeaderCMSCorrelation
}

// PlatformDiscriminationSummary is assembled by the aggregator across every
// pattern carrying a PlatformDiscrimination payload (§4.10).
type PlatformDiscriminationSummary struct {
	TotalPatternsAnalyzed        int
	DiscriminatoryPatterns       int
	InfrastructureNoiseFiltered  int
	AverageDiscriminationScore   float64
	NoiseReductionPercentage     float64
	TopDiscriminatoryPatterns    []string
	PlatformSpecificityDistribution map[string]int
	QualityMetrics                QualityMetrics
}

// QualityMetrics is PlatformDiscriminationSummary's sub-object.
type QualityMetrics struct {
	SignalToNoiseRatio       float64
	PlatformCoverageScore    float64
	DetectionConfidenceBoost float64
}

// Summary carries the aggregator's totals and top-10 lists per dimension.
type Summary struct {
	TotalSites           int
	TopHeaders           []string
	TopMetaTags          []string
	TopScripts           []string
	Truncated            TruncatedCounts
	PlatformDiscrimination *PlatformDiscriminationSummary
}

// TruncatedCounts records how many additional patterns existed beyond each
// top-10 list (SPEC_FULL §4 supplemented feature).
type TruncatedCounts struct {
	Headers  int
	MetaTags int
	Scripts  int
}

// RunMetadata is AggregatedResults.metadata (distinct from
// PreprocessedData.metadata): per-run bookkeeping (SPEC_FULL §4).
type RunMetadata struct {
	RunID         string
	AnalysisDate  time.Time
	ComputeTimeMs int64
	FromCache     bool
}

// AggregatedResults is the pipeline's single output object.
type AggregatedResults struct {
	Headers      *AnalysisResult
	MetaTags     *AnalysisResult
	Scripts      *AnalysisResult
	Validation   *AnalysisResult
	Vendor       *AnalysisResult
	Semantic     *AnalysisResult
	Discovery    *AnalysisResult
	Cooccurrence *AnalysisResult
	Bias         *AnalysisResult
	Summary      Summary
	Metadata     RunMetadata
}

// DateRange optionally bounds which CaptureRecords the preprocessor loads.
// Both bounds are inclusive when set.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls within the range (inclusive bounds),
// treating an unset bound as open.
func (d DateRange) Contains(t time.Time) bool {
	if d.Start != nil && t.Before(*d.Start) {
		return false
	}
	if d.End != nil && t.After(*d.End) {
		return false
	}
	return true
}

// Options configures one pipeline run (§6).
type Options struct {
	MinOccurrences             int       `yaml:"minOccurrences" validate:"min=1"`
	IncludeExamples            bool      `yaml:"includeExamples"`
	MaxExamples                int       `yaml:"maxExamples" validate:"min=1"`
	SemanticFiltering          bool      `yaml:"semanticFiltering"`
	FocusPlatformDiscrimination bool     `yaml:"focusPlatformDiscrimination"`
	DateRange                  DateRange `yaml:"-"`
	ForceReload                bool      `yaml:"forceReload"`
}

// DefaultOptions returns §6's documented defaults.
func DefaultOptions() Options {
	return Options{
		MinOccurrences:   10,
		IncludeExamples:  true,
		MaxExamples:      5,
		SemanticFiltering: true,
	}
}
