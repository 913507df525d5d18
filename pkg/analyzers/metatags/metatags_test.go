package metatags

import (
	"context"
	"testing"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func TestAnalyzeCountsSiteOnceDespiteMultipleValues(t *testing.T) {
	sd := types.NewSiteData("https://example.com")
	sd.MetaTags["name:generator"] = map[string]struct{}{
		"WordPress 6.2": {},
		"WordPress 6.3": {}, // two captures, same site, two distinct values
	}
	data := &types.PreprocessedData{
		Sites:      map[string]*types.SiteData{"https://example.com": sd},
		TotalSites: 1,
	}

	result, err := New(nil).Analyze(context.Background(), data, types.Options{MinOccurrences: 1, MaxExamples: 5, IncludeExamples: true})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	p, ok := result.Patterns["name:generator"]
	if !ok {
		t.Fatal("missing name:generator pattern")
	}
	if p.SiteCount != 1 {
		t.Errorf("SiteCount = %d, want 1 (set semantics per site)", p.SiteCount)
	}
	if len(p.Examples) != 1 {
		t.Errorf("len(Examples) = %d, want 1", len(p.Examples))
	}
}

func TestAnalyzeKeyIncludesKind(t *testing.T) {
	sd := types.NewSiteData("https://example.com")
	sd.MetaTags["property:og:type"] = map[string]struct{}{"website": {}}
	data := &types.PreprocessedData{
		Sites:      map[string]*types.SiteData{"https://example.com": sd},
		TotalSites: 1,
	}
	result, err := New(nil).Analyze(context.Background(), data, types.Options{MinOccurrences: 1, MaxExamples: 5})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Patterns["property:og:type"]; !ok {
		t.Error("expected pattern key \"property:og:type\"")
	}
}
