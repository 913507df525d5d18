package validation

import (
	"errors"
	"testing"

	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func validPattern(key string, siteCount, total int) *types.PatternData {
	p := types.NewPatternData(key)
	for i := 0; i < siteCount; i++ {
		p.Sites[string(rune('a'+i))] = struct{}{}
	}
	p.SiteCount = siteCount
	p.Finalize(total)
	return p
}

func TestAnalyzePassesConsistentPatterns(t *testing.T) {
	headers := types.NewAnalysisResult("headers", 10)
	headers.Patterns["server"] = validPattern("server", 10, 10)
	dims := map[string]*types.AnalysisResult{"headers": headers}

	result, err := New(nil).Analyze(dims, 10, 1)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	summary := result.AnalyzerSpecific.(Summary)
	if !summary.OverallPassed {
		t.Error("expected OverallPassed = true")
	}
	if summary.QualityMetrics.OverallScore != 1.0 {
		t.Errorf("OverallScore = %v, want 1.0", summary.QualityMetrics.OverallScore)
	}
}

func TestAnalyzeRejectsInconsistentSiteCount(t *testing.T) {
	headers := types.NewAnalysisResult("headers", 10)
	p := validPattern("server", 10, 10)
	p.SiteCount = 9 // now inconsistent with len(p.Sites) == 10
	headers.Patterns["server"] = p
	dims := map[string]*types.AnalysisResult{"headers": headers}

	_, err := New(nil).Analyze(dims, 10, 1)
	if err == nil {
		t.Fatal("expected InvariantViolation error")
	}
	if !errors.Is(err, errs.ErrInvariantViolation) {
		t.Errorf("error = %v, want wrapping errs.ErrInvariantViolation", err)
	}
}

func TestAnalyzeBelowMinOccurrencesExcludedFromValidated(t *testing.T) {
	headers := types.NewAnalysisResult("headers", 10)
	headers.Patterns["x-rare"] = validPattern("x-rare", 1, 10)
	dims := map[string]*types.AnalysisResult{"headers": headers}

	result, err := New(nil).Analyze(dims, 10, 5)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	summary := result.AnalyzerSpecific.(Summary)
	if _, ok := summary.ValidatedPatterns["headers:x-rare"]; ok {
		t.Error("pattern below minOccurrences should not be validated")
	}
}
