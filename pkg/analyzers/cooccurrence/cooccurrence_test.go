package cooccurrence

import (
	"context"
	"testing"

	"github.com/jordigilh/crawlstats/pkg/analyzers/vendor"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func headerPattern(name string, sites ...string) *types.PatternData {
	p := types.NewPatternData(name)
	for _, s := range sites {
		p.AddSite(s, "", 5)
	}
	return p
}

// TestAnalyzeRetainsStronglyCorrelatedPair checks that two headers present
// on exactly the same sites (perfect correlation) are retained.
func TestAnalyzeRetainsStronglyCorrelatedPair(t *testing.T) {
	headersRes := types.NewAnalysisResult("headers", 6)
	headersRes.Patterns["x-wp-total"] = headerPattern("x-wp-total", "s1", "s2", "s3", "s4")
	headersRes.Patterns["x-wp-cache"] = headerPattern("x-wp-cache", "s1", "s2", "s3", "s4")
	headersRes.Patterns["server"] = headerPattern("server", "s1", "s2", "s3", "s4", "s5", "s6")
	for _, p := range headersRes.Patterns {
		p.Finalize(6)
	}

	result, err := New(nil).Analyze(context.Background(), nil, headersRes, nil)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	payload := result.AnalyzerSpecific.(Result)
	found := false
	for _, pair := range payload.Pairs {
		if (pair.HeaderA == "x-wp-cache" && pair.HeaderB == "x-wp-total") ||
			(pair.HeaderA == "x-wp-total" && pair.HeaderB == "x-wp-cache") {
			found = true
			if pair.ConditionalProbability != 1.0 {
				t.Errorf("ConditionalProbability = %v, want 1.0", pair.ConditionalProbability)
			}
		}
	}
	if !found {
		t.Fatalf("expected x-wp-total/x-wp-cache pair in %+v", payload.Pairs)
	}
}

// TestAnalyzeDropsWeakPair checks that two headers with low co-occurrence
// and low mutual information are not retained.
func TestAnalyzeDropsWeakPair(t *testing.T) {
	headersRes := types.NewAnalysisResult("headers", 20)
	a := headerPattern("a-header", "s1")
	b := headerPattern("b-header", "s2")
	for _, s := range []string{"s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10"} {
		a.AddSite(s, "", 5)
	}
	for _, s := range []string{"s11", "s12", "s13", "s14", "s15", "s16", "s17", "s18"} {
		b.AddSite(s, "", 5)
	}
	headersRes.Patterns["a-header"] = a
	headersRes.Patterns["b-header"] = b
	a.Finalize(20)
	b.Finalize(20)

	result, err := New(nil).Analyze(context.Background(), nil, headersRes, nil)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	payload := result.AnalyzerSpecific.(Result)
	for _, pair := range payload.Pairs {
		if pair.HeaderA == "a-header" && pair.HeaderB == "b-header" {
			t.Errorf("unexpected weak pair retained: %+v", pair)
		}
	}
}

// TestAnalyzeTechnologySignatureRequiresCoverage verifies a header present
// on all of a vendor's sites is classified as required, not optional.
func TestAnalyzeTechnologySignatureRequiresCoverage(t *testing.T) {
	headersRes := types.NewAnalysisResult("headers", 4)
	headersRes.Patterns["x-wp-total"] = headerPattern("x-wp-total", "s1", "s2", "s3", "s4")
	headersRes.Patterns["x-wp-total"].Finalize(4)

	vendorData := &vendor.Result{
		VendorStats: map[string]vendor.Stats{
			"WordPress": {SiteCount: 4, Sites: map[string]struct{}{"s1": {}, "s2": {}, "s3": {}, "s4": {}}},
		},
	}

	result, err := New(nil).Analyze(context.Background(), nil, headersRes, vendorData)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	payload := result.AnalyzerSpecific.(Result)
	if len(payload.TechnologySignatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(payload.TechnologySignatures))
	}
	sig := payload.TechnologySignatures[0]
	if sig.Vendor != "WordPress" {
		t.Errorf("Vendor = %q, want WordPress", sig.Vendor)
	}
	if len(sig.RequiredHeaders) != 1 || sig.RequiredHeaders[0] != "x-wp-total" {
		t.Errorf("RequiredHeaders = %v, want [x-wp-total]", sig.RequiredHeaders)
	}
}

// TestAnalyzePlatformCombinationFavorsExclusivity checks a header combo
// unique to one CMS scores higher exclusivity than one shared across CMSes.
func TestAnalyzePlatformCombinationFavorsExclusivity(t *testing.T) {
	headersRes := types.NewAnalysisResult("headers", 4)
	headersRes.Patterns["x-wp-total"] = headerPattern("x-wp-total", "s1", "s2")
	headersRes.Patterns["x-wp-cache"] = headerPattern("x-wp-cache", "s1", "s2")
	headersRes.Patterns["server"] = headerPattern("server", "s1", "s2", "s3", "s4")
	for _, p := range headersRes.Patterns {
		p.Finalize(4)
	}

	data := &types.PreprocessedData{
		TotalSites: 4,
		Sites: map[string]*types.SiteData{
			"s1": {CMS: "WordPress"},
			"s2": {CMS: "WordPress"},
			"s3": {CMS: "Drupal"},
			"s4": {CMS: "Drupal"},
		},
	}

	result, err := New(nil).Analyze(context.Background(), data, headersRes, nil)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	payload := result.AnalyzerSpecific.(Result)
	for _, combo := range payload.PlatformCombinations {
		if combo.CMS == "WordPress" && combo.Exclusivity < 1.0 {
			t.Errorf("WordPress combo %+v exclusivity < 1.0, want fully exclusive", combo)
		}
	}
}
