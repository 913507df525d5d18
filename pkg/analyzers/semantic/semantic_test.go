package semantic

import (
	"testing"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func TestAnalyzeClassifiesPlatformSpecific(t *testing.T) {
	headers := types.NewAnalysisResult("headers", 1)
	headers.Patterns["x-wp-total"] = types.NewPatternData("x-wp-total")

	result := New(nil).Analyze(headers, nil, 1)
	payload := result.AnalyzerSpecific.(Result)
	analysis, ok := payload.Headers["x-wp-total"]
	if !ok {
		t.Fatal("missing x-wp-total analysis")
	}
	if analysis.PatternType != PatternPlatformSpecific {
		t.Errorf("PatternType = %q, want platform-specific", analysis.PatternType)
	}
	if analysis.NamingConvention != NamingKebab {
		t.Errorf("NamingConvention = %q, want kebab", analysis.NamingConvention)
	}
	wantWords := []string{"x", "wp", "total"}
	if len(analysis.SemanticWords) != len(wantWords) {
		t.Fatalf("SemanticWords = %v, want %v", analysis.SemanticWords, wantWords)
	}
}

func TestAnalyzeInsightsAggregate(t *testing.T) {
	headers := types.NewAnalysisResult("headers", 1)
	headers.Patterns["server"] = types.NewPatternData("server")
	headers.Patterns["x-pingback"] = types.NewPatternData("x-pingback")

	result := New(nil).Analyze(headers, nil, 1)
	payload := result.AnalyzerSpecific.(Result)
	if payload.Insights.CategoryDistribution["infrastructure"] != 1 {
		t.Errorf("infrastructure count = %d, want 1", payload.Insights.CategoryDistribution["infrastructure"])
	}
	if payload.Insights.VendorDistribution["WordPress"] != 1 {
		t.Errorf("WordPress vendor count = %d, want 1", payload.Insights.VendorDistribution["WordPress"])
	}
}
