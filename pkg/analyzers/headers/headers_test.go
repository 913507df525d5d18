package headers

import (
	"context"
	"testing"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func site(headers map[string]string) *types.SiteData {
	sd := types.NewSiteData("")
	for k, v := range headers {
		sd.Headers[k] = map[string]struct{}{v: {}}
	}
	return sd
}

func TestAnalyzeEvenSplitServerAndPoweredBy(t *testing.T) {
	data := &types.PreprocessedData{Sites: map[string]*types.SiteData{}, TotalSites: 10}
	servers := []string{"Apache", "Apache", "Apache", "Apache", "Apache", "nginx", "nginx", "nginx", "nginx", "nginx"}
	poweredBy := []string{"PHP", "PHP", "PHP", "PHP", "PHP", "Express", "Express", "Express", "Express", "Express"}
	for i := 0; i < 10; i++ {
		key := "https://site" + string(rune('a'+i)) + ".example.com"
		data.Sites[key] = site(map[string]string{"server": servers[i], "x-powered-by": poweredBy[i]})
	}

	result, err := New(nil).Analyze(context.Background(), data, types.Options{MinOccurrences: 1, MaxExamples: 5})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Patterns) != 2 {
		t.Fatalf("len(Patterns) = %d, want 2", len(result.Patterns))
	}
	for _, key := range []string{"server", "x-powered-by"} {
		p, ok := result.Patterns[key]
		if !ok {
			t.Fatalf("missing pattern %q", key)
		}
		if p.SiteCount != 10 {
			t.Errorf("%s.SiteCount = %d, want 10", key, p.SiteCount)
		}
		if p.Frequency != 1.0 {
			t.Errorf("%s.Frequency = %v, want 1.0", key, p.Frequency)
		}
	}
}

func TestAnalyzeAppliesMinOccurrencesOnce(t *testing.T) {
	data := &types.PreprocessedData{Sites: map[string]*types.SiteData{}, TotalSites: 3}
	data.Sites["a"] = site(map[string]string{"server": "nginx"})
	data.Sites["b"] = site(map[string]string{"server": "nginx"})
	data.Sites["c"] = site(map[string]string{"x-rare": "1"})

	result, err := New(nil).Analyze(context.Background(), data, types.Options{MinOccurrences: 2, MaxExamples: 5})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Patterns["server"]; !ok {
		t.Error("expected server pattern to survive minOccurrences=2")
	}
	if _, ok := result.Patterns["x-rare"]; ok {
		t.Error("expected x-rare pattern to be filtered at minOccurrences=2")
	}

	before := len(result.Patterns)
	result.ApplyMinOccurrences(2)
	if len(result.Patterns) != before {
		t.Error("re-applying the same minOccurrences threshold must be a no-op (§8 invariant 6)")
	}
}

func TestAnalyzeSiteCountMatchesSitesSize(t *testing.T) {
	data := &types.PreprocessedData{Sites: map[string]*types.SiteData{}, TotalSites: 5}
	for i := 0; i < 5; i++ {
		data.Sites[string(rune('a'+i))] = site(map[string]string{"server": "nginx"})
	}
	result, err := New(nil).Analyze(context.Background(), data, types.Options{MinOccurrences: 1, MaxExamples: 5})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	p := result.Patterns["server"]
	if p.SiteCount != len(p.Sites) {
		t.Errorf("SiteCount = %d, len(Sites) = %d", p.SiteCount, len(p.Sites))
	}
	want := float64(p.SiteCount) / float64(data.TotalSites)
	if diff := p.Frequency - want; diff > 1e-10 || diff < -1e-10 {
		t.Errorf("Frequency = %v, want %v", p.Frequency, want)
	}
}
