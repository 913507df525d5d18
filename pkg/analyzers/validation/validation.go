// Package validation implements the validation stage (§4.4): significance
// and consistency checks over the three basic analyzer results.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// QualityMetrics summarizes how many patterns passed their per-pattern
// test across every dimension.
type QualityMetrics struct {
	OverallScore float64
}

// StatisticalMetrics carries corpus-wide significance counts.
type StatisticalMetrics struct {
	SignificantPatterns int
}

// Summary is the validation stage's analyzer-specific payload
// (AnalysisResult.AnalyzerSpecific).
type Summary struct {
	OverallPassed      bool
	QualityMetrics     QualityMetrics
	ValidatedPatterns  map[string]struct{} // keyed "dimension:pattern"
	StatisticalMetrics StatisticalMetrics
}

// Analyzer runs the validation stage.
type Analyzer struct {
	logger *logrus.Entry
}

// New returns a validation Analyzer. logger may be nil.
func New(logger *logrus.Entry) *Analyzer {
	return &Analyzer{logger: logger}
}

const floatTolerance = 1e-9

// Analyze validates every pattern in headers/meta/scripts against the
// per-pattern test of §4.4 (siteCount ≥ minOccurrences, sites.size ==
// siteCount, frequency within tolerance). A pattern below minOccurrences is
// simply left out of ValidatedPatterns. A sites.size or frequency mismatch
// is escalated to errs.ErrInvariantViolation (§7 "treated as a bug,
// propagated as fatal") since those two conditions must already hold by
// construction — a failure there means an analyzer upstream built a
// PatternData wrong, not that the corpus is unusual.
func (a *Analyzer) Analyze(dims map[string]*types.AnalysisResult, totalSites, minOccurrences int) (*types.AnalysisResult, error) {
	start := time.Now()
	validated := make(map[string]struct{})
	var totalPatterns, validCount, significant int

	for dim, res := range dims {
		if res == nil {
			continue
		}
		for key, p := range res.Patterns {
			totalPatterns++
			if p.SiteCount != len(p.Sites) {
				return nil, errs.InvariantViolation(key, fmt.Sprintf("siteCount=%d but sites.size=%d", p.SiteCount, len(p.Sites)))
			}
			wantFreq := 0.0
			if totalSites > 0 {
				wantFreq = float64(p.SiteCount) / float64(totalSites)
			}
			if diff := math.Abs(p.Frequency - wantFreq); diff > 1e-10 {
				return nil, errs.InvariantViolation(key, fmt.Sprintf("frequency=%v, want %v", p.Frequency, wantFreq))
			}
			if p.SiteCount < minOccurrences {
				continue
			}
			validated[dim+":"+key] = struct{}{}
			validCount++
			if p.SiteCount >= max(minOccurrences, 5) && p.Frequency > floatTolerance && p.Frequency <= 1.0+floatTolerance {
				significant++
			}
		}
	}

	overallScore := 1.0
	if totalPatterns > 0 {
		overallScore = float64(validCount) / float64(totalPatterns)
	}

	summary := Summary{
		OverallPassed:      validCount == totalPatterns,
		QualityMetrics:     QualityMetrics{OverallScore: overallScore},
		ValidatedPatterns:  validated,
		StatisticalMetrics: StatisticalMetrics{SignificantPatterns: significant},
	}

	result := types.NewAnalysisResult("validation", totalSites)
	result.AnalyzerSpecific = summary
	result.Metadata.RanAt = start
	result.Metadata.Duration = time.Since(start)
	result.Metadata.PatternsBefore = totalPatterns
	result.Metadata.PatternsAfter = validCount

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"stage":            "validation",
			"duration_ms":      result.Metadata.Duration.Milliseconds(),
			"overall_passed":   summary.OverallPassed,
			"overall_score":    overallScore,
			"significant":      significant,
		}).Info("stage complete")
	}
	return result, nil
}
