// Package bias implements the bias analyzer (§4.9): CMS distribution and
// concentration, dataset bias warnings, and per-header CMS correlations
// used to judge how safely a header can drive CMS detection.
package bias

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/classify"
	sharedmath "github.com/jordigilh/crawlstats/pkg/shared/math"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Thresholds collects the weight/scoring constants §4.9 spells out as
// magic numbers, so they can be tuned and unit-tested independently of the
// scoring logic (mirrors discovery.Config, SPEC_FULL §5 Open Question
// Decision 2).
type Thresholds struct {
	ConcentrationWarning     float64 // step 3: emit warning if concentration exceeds this
	DominantShareWarning     float64 // step 3: emit warning if any single CMS share exceeds this
	MaxCMSTypesWarning       int     // step 3: emit warning at or below this many distinct CMS types
	UnknownShareWarning      float64 // step 3: emit warning if Unknown share exceeds this
	HighOccurrenceFloor      int     // step 4: overallOccurrences threshold for the full specificity formula
	TopCMSProbabilityFloor   float64 // step 4: below this, specificity is forced to 0
	SpecificityWarningFloor  float64 // step 4: "platform-specific" warning floor
	HighCorrelationFloor     float64 // step 4: P(header|cms) floor for "high correlation" warning
	HighCorrelationShare     float64 // step 4: CMS corpus-share floor for "high correlation" warning
	LowFrequencyFloor        float64 // step 4: overallFrequency ceiling for "low frequency" warning
	LowFrequencySpecificity  float64 // step 4: specificity floor for "low frequency" warning
	BiasAdjustedShareFloor   float64 // step 4: per-CMS percentage floor to enter the bias-adjusted average
	ConcentrationWeight      float64 // step 4: weight of the concentration sub-score
	SampleSizeWeight         float64 // step 4: weight of the sampleSize sub-score
	BackgroundContrastWeight float64 // step 4: weight of the backgroundContrast sub-score
}

// DefaultThresholds returns §4.9's documented constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConcentrationWarning:     0.6,
		DominantShareWarning:     0.6,
		MaxCMSTypesWarning:       2,
		UnknownShareWarning:      0.3,
		HighOccurrenceFloor:      30,
		TopCMSProbabilityFloor:   0.4,
		SpecificityWarningFloor:  0.7,
		HighCorrelationFloor:     0.8,
		HighCorrelationShare:     0.5,
		LowFrequencyFloor:        0.1,
		LowFrequencySpecificity:  0.5,
		BiasAdjustedShareFloor:   0.05,
		ConcentrationWeight:      0.5,
		SampleSizeWeight:         0.3,
		BackgroundContrastWeight: 0.2,
	}
}

// Result wraps the payload type so the analyzer's AnalysisResult.Patterns
// map can stay nil (bias has no pattern-keyed output of its own; everything
// lives in the analyzer-specific DatasetBiasAnalysis).
type Result struct {
	Analysis types.DatasetBiasAnalysis
}

// Analyzer runs the bias analyzer.
type Analyzer struct {
	logger *logrus.Entry
	th     Thresholds
}

// New returns a bias Analyzer with the given thresholds. logger may be nil.
func New(logger *logrus.Entry, th Thresholds) *Analyzer {
	return &Analyzer{logger: logger, th: th}
}

// Analyze computes the CMS distribution, concentration score, bias
// warnings, and per-header correlations over data, consuming headersRes
// for the candidate header names; per-header occurrence counts are the
// union of each site's mainpage headers and its robots.txt headers
// (SiteData.RobotsHeaders).
// minOccurrences is applied to the correlation map exactly once, per step 5.
func (a *Analyzer) Analyze(data *types.PreprocessedData, headersRes *types.AnalysisResult, minOccurrences int) *types.AnalysisResult {
	start := time.Now()
	th := a.th
	if th.MaxCMSTypesWarning == 0 && th.ConcentrationWarning == 0 {
		th = DefaultThresholds()
	}

	distribution, siteCMS := cmsDistribution(data)
	totalSites := 0
	if data != nil {
		totalSites = data.TotalSites
	}
	concentration := concentrationScore(distribution, totalSites)
	warnings := biasWarnings(distribution, totalSites, concentration, th)
	correlations := headerCorrelations(data, headersRes, siteCMS, distribution, totalSites, th)

	before := len(correlations)
	for header, corr := range correlations {
		if corr.OverallOccurrences < minOccurrences {
			delete(correlations, header)
		}
	}

	analysis := types.DatasetBiasAnalysis{
		CMSDistribution:    distribution,
		TotalSites:         totalSites,
		ConcentrationScore: concentration,
		BiasWarnings:       warnings,
		HeaderCorrelations: correlations,
	}

	result := types.NewAnalysisResult("bias", totalSites)
	result.AnalyzerSpecific = Result{Analysis: analysis}
	result.Metadata.RanAt = start
	result.Metadata.Duration = time.Since(start)
	result.Metadata.PatternsBefore = before
	result.Metadata.PatternsAfter = len(correlations)
	result.Metadata.MinOccurrences = minOccurrences

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"stage":         "bias",
			"duration_ms":   result.Metadata.Duration.Milliseconds(),
			"concentration": concentration,
			"warnings":      len(warnings),
			"correlations":  len(correlations),
		}).Info("stage complete")
	}
	return result
}

// cmsDistribution implements step 1: best-detection-per-site with CDN /
// Enterprise bucketing for undetected sites carrying >=2 matching headers.
func cmsDistribution(data *types.PreprocessedData) (map[string]types.CMSShare, map[string]string) {
	siteCMS := make(map[string]string)
	counts := make(map[string]int)
	sitesByCMS := make(map[string][]string)
	if data == nil {
		return nil, siteCMS
	}
	names := make([]string, 0, len(data.Sites))
	for name := range data.Sites {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sd := data.Sites[name]
		cms := sd.CMS
		if cms == "" || cms == "Unknown" {
			cms = bucketUndetected(sd)
		}
		siteCMS[name] = cms
		counts[cms]++
		sitesByCMS[cms] = append(sitesByCMS[cms], name)
	}

	total := len(names)
	distribution := make(map[string]types.CMSShare, len(counts))
	for cms, count := range counts {
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(count) / float64(total)
		}
		sites := sitesByCMS[cms]
		sort.Strings(sites)
		distribution[cms] = types.CMSShare{Count: count, Percentage: pct, Sites: sites}
	}
	return distribution, siteCMS
}

func bucketUndetected(sd *types.SiteData) string {
	matches := 0
	bucket := ""
	for header := range sd.Headers {
		if b, ok := classify.IsCDNOrEnterprise(header); ok {
			matches++
			if bucket == "" {
				bucket = b
			}
		}
	}
	for header := range sd.RobotsHeaders {
		if b, ok := classify.IsCDNOrEnterprise(header); ok {
			matches++
			if bucket == "" {
				bucket = b
			}
		}
	}
	if matches >= 2 {
		return bucket
	}
	return "Unknown"
}

// concentrationScore implements step 2.
func concentrationScore(distribution map[string]types.CMSShare, totalSites int) float64 {
	if totalSites == 0 || len(distribution) == 0 {
		return 0
	}
	if len(distribution) == 1 {
		return 1.0
	}
	percentages := make([]float64, 0, len(distribution))
	for _, share := range distribution {
		percentages = append(percentages, share.Percentage)
	}
	return sharedmath.HHI(percentages)
}

// biasWarnings implements step 3.
func biasWarnings(distribution map[string]types.CMSShare, totalSites int, concentration float64, th Thresholds) []string {
	var warnings []string
	if concentration > th.ConcentrationWarning {
		warnings = append(warnings, "dataset concentration is high")
	}
	for cms, share := range distribution {
		if cms == "Unknown" || cms == "CDN" || cms == "Enterprise" {
			continue
		}
		if share.Percentage/100 > th.DominantShareWarning {
			warnings = append(warnings, cms+" dominates the corpus")
		}
	}
	if len(distribution) <= th.MaxCMSTypesWarning {
		warnings = append(warnings, "too few distinct CMS types for reliable correlation")
	}
	if share, ok := distribution["Unknown"]; ok && share.Percentage/100 > th.UnknownShareWarning {
		warnings = append(warnings, "large share of sites have no CMS detection")
	}
	sort.Strings(warnings)
	return warnings
}

// headerCorrelations implements step 4.
func headerCorrelations(data *types.PreprocessedData, headersRes *types.AnalysisResult, siteCMS map[string]string, distribution map[string]types.CMSShare, totalSites int, th Thresholds) map[string]types.HeaderCMSCorrelation {
	if headersRes == nil || data == nil {
		return map[string]types.HeaderCMSCorrelation{}
	}
	out := make(map[string]types.HeaderCMSCorrelation)
	for header, pattern := range headersRes.Patterns {
		cls := classify.Classify(header)
		if cls.FilterRecommendation == classify.FilterAlways {
			continue
		}

		sites := unionOccurrenceSites(data, header)
		overallOccurrences := len(sites)
		if overallOccurrences == 0 {
			continue
		}
		_ = pattern

		cmsOccurrences := make(map[string]int)
		for site := range sites {
			cmsOccurrences[siteCMS[site]]++
		}

		perCMS := make(map[string]types.CMSFrequency, len(distribution))
		for cms, share := range distribution {
			freq := sharedmath.SafeDiv(float64(cmsOccurrences[cms]), float64(share.Count))
			perCMS[cms] = types.CMSFrequency{Frequency: freq, Occurrences: cmsOccurrences[cms], Total: share.Count}
		}

		cmsGivenHeader := make(map[string]types.CMSGivenHeader, len(cmsOccurrences))
		for cms, count := range cmsOccurrences {
			cmsGivenHeader[cms] = types.CMSGivenHeader{
				Probability: sharedmath.SafeDiv(float64(count), float64(overallOccurrences)),
				Count:       count,
			}
		}

		overallFrequency := sharedmath.SafeDiv(float64(overallOccurrences), float64(totalSites))
		specificity := platformSpecificity(cmsGivenHeader, perCMS, overallOccurrences, overallFrequency, th)
		biasAdjusted := biasAdjustedFrequency(perCMS, distribution, th)
		confidence, warning := recommendationConfidence(cmsGivenHeader, distribution, specificity, overallFrequency, th)

		out[header] = types.HeaderCMSCorrelation{
			HeaderName:               header,
			OverallFrequency:         overallFrequency,
			OverallOccurrences:       overallOccurrences,
			PerCMSFrequency:          perCMS,
			CMSGivenHeader:           cmsGivenHeader,
			PlatformSpecificity:      specificity,
			BiasAdjustedFrequency:    biasAdjusted,
			RecommendationConfidence: confidence,
			BiasWarning:              warning,
		}
	}
	return out
}

// unionOccurrenceSites returns the set of sites carrying header across
// either mainpage or robots.txt headers, each site counted at most once.
func unionOccurrenceSites(data *types.PreprocessedData, header string) map[string]struct{} {
	sites := make(map[string]struct{})
	for name, sd := range data.Sites {
		if _, ok := sd.Headers[header]; ok {
			sites[name] = struct{}{}
			continue
		}
		if _, ok := sd.RobotsHeaders[header]; ok {
			sites[name] = struct{}{}
		}
	}
	return sites
}

func platformSpecificity(cmsGivenHeader map[string]types.CMSGivenHeader, perCMS map[string]types.CMSFrequency, overallOccurrences int, overallFrequency float64, th Thresholds) float64 {
	if overallOccurrences >= th.HighOccurrenceFloor {
		topCMS, topProb := topExcludingBuckets(cmsGivenHeader)
		if topProb < th.TopCMSProbabilityFloor {
			return 0
		}
		concentration := sharedmath.Clamp01(2 * topProb)
		sampleSize := sharedmath.Log10Ratio(float64(overallOccurrences), 100)
		pHeaderGivenTop := perCMS[topCMS].Frequency
		backgroundContrast := sharedmath.Clamp01(sharedmath.SafeDiv(pHeaderGivenTop, max(overallFrequency, 1e-3)) / 2)
		return sharedmath.Clamp01(th.ConcentrationWeight*concentration + th.SampleSizeWeight*sampleSize + th.BackgroundContrastWeight*backgroundContrast)
	}
	values := make([]float64, 0, len(perCMS))
	for _, freq := range perCMS {
		values = append(values, freq.Frequency)
	}
	return sharedmath.CoefficientOfVariation(values)
}

func topExcludingBuckets(cmsGivenHeader map[string]types.CMSGivenHeader) (string, float64) {
	names := make([]string, 0, len(cmsGivenHeader))
	for cms := range cmsGivenHeader {
		names = append(names, cms)
	}
	sort.Strings(names)
	top, topProb := "", 0.0
	for _, cms := range names {
		if cms == "Unknown" || cms == "Enterprise" || cms == "CDN" {
			continue
		}
		if cmsGivenHeader[cms].Probability > topProb {
			top, topProb = cms, cmsGivenHeader[cms].Probability
		}
	}
	return top, topProb
}

func biasAdjustedFrequency(perCMS map[string]types.CMSFrequency, distribution map[string]types.CMSShare, th Thresholds) float64 {
	var sum float64
	var count int
	for cms, share := range distribution {
		if cms == "Unknown" || share.Percentage/100 <= th.BiasAdjustedShareFloor {
			continue
		}
		sum += perCMS[cms].Frequency
		count++
	}
	if count > 0 {
		return sum / float64(count)
	}
	var fallbackSum float64
	for _, freq := range perCMS {
		fallbackSum += freq.Frequency
	}
	if len(perCMS) == 0 {
		return 0
	}
	return fallbackSum / float64(len(perCMS))
}

func recommendationConfidence(cmsGivenHeader map[string]types.CMSGivenHeader, distribution map[string]types.CMSShare, specificity, overallFrequency float64, th Thresholds) (types.RecommendationConfidence, string) {
	top, topProb := topExcludingBuckets(cmsGivenHeader)

	switch {
	case specificity > th.SpecificityWarningFloor:
		return types.ConfidenceLow, "platform-specific"
	case topProb > th.HighCorrelationFloor && distribution[top].Percentage/100 > th.HighCorrelationShare:
		return types.ConfidenceLow, "high correlation with " + top
	case overallFrequency < th.LowFrequencyFloor && specificity > th.LowFrequencySpecificity:
		return types.ConfidenceMedium, "low frequency with high concentration"
	default:
		return types.ConfidenceHigh, ""
	}
}
