package bias_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/crawlstats/pkg/analyzers/bias"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func wpSite(cms string, headers ...string) *types.SiteData {
	sd := types.NewSiteData("")
	sd.CMS = cms
	for _, h := range headers {
		sd.Headers[h] = map[string]struct{}{"v": {}}
	}
	return sd
}

func headerPattern(name string) *types.PatternData {
	return types.NewPatternData(name)
}

var _ = Describe("CMS distribution", func() {
	It("buckets a single-CMS corpus to concentration 1.0", func() {
		data := &types.PreprocessedData{
			TotalSites: 3,
			Sites: map[string]*types.SiteData{
				"s1": wpSite("WordPress", "x-pingback"),
				"s2": wpSite("WordPress", "x-pingback"),
				"s3": wpSite("WordPress", "x-pingback"),
			},
		}
		headersRes := types.NewAnalysisResult("headers", 3)
		headersRes.Patterns["x-pingback"] = headerPattern("x-pingback")

		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 1)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		Expect(payload.ConcentrationScore).To(Equal(1.0))
		Expect(payload.CMSDistribution).To(HaveKey("WordPress"))
		Expect(payload.CMSDistribution["WordPress"].Count).To(Equal(3))
	})

	It("buckets undetected sites with >=2 CDN headers as CDN, not Unknown", func() {
		sd := types.NewSiteData("")
		sd.CMS = "Unknown"
		sd.Headers["cf-ray"] = map[string]struct{}{"v": {}}
		sd.Headers["cf-cache-status"] = map[string]struct{}{"v": {}}
		data := &types.PreprocessedData{TotalSites: 1, Sites: map[string]*types.SiteData{"s1": sd}}
		headersRes := types.NewAnalysisResult("headers", 1)

		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 1)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		Expect(payload.CMSDistribution).To(HaveKey("CDN"))
		Expect(payload.CMSDistribution).NotTo(HaveKey("Unknown"))
	})

	It("leaves a single CDN-header site bucketed as Unknown", func() {
		sd := types.NewSiteData("")
		sd.CMS = "Unknown"
		sd.Headers["cf-ray"] = map[string]struct{}{"v": {}}
		data := &types.PreprocessedData{TotalSites: 1, Sites: map[string]*types.SiteData{"s1": sd}}
		headersRes := types.NewAnalysisResult("headers", 1)

		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 1)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		Expect(payload.CMSDistribution).To(HaveKey("Unknown"))
	})
})

var _ = Describe("bias warnings", func() {
	It("flags too few distinct CMS types", func() {
		data := &types.PreprocessedData{
			TotalSites: 2,
			Sites: map[string]*types.SiteData{
				"s1": wpSite("WordPress"),
				"s2": wpSite("WordPress"),
			},
		}
		headersRes := types.NewAnalysisResult("headers", 2)
		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 1)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		Expect(payload.BiasWarnings).To(ContainElement("too few distinct CMS types for reliable correlation"))
	})
})

var _ = Describe("header correlations", func() {
	It("excludes headers classified always-filter regardless of occurrence", func() {
		data := &types.PreprocessedData{
			TotalSites: 2,
			Sites: map[string]*types.SiteData{
				"s1": wpSite("WordPress", "server"),
				"s2": wpSite("Drupal", "server"),
			},
		}
		headersRes := types.NewAnalysisResult("headers", 2)
		headersRes.Patterns["server"] = headerPattern("server")

		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 1)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		Expect(payload.HeaderCorrelations).NotTo(HaveKey("server"))
	})

	It("assigns low confidence with a platform-specific warning above the specificity floor", func() {
		sites := map[string]*types.SiteData{}
		for i := 0; i < 35; i++ {
			sites[string(rune('a'+i))] = wpSite("WordPress", "x-wp-total")
		}
		for i := 0; i < 20; i++ {
			sites["other"+string(rune('a'+i))] = wpSite("Drupal")
		}
		data := &types.PreprocessedData{TotalSites: len(sites), Sites: sites}
		headersRes := types.NewAnalysisResult("headers", len(sites))
		headersRes.Patterns["x-wp-total"] = headerPattern("x-wp-total")

		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 1)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		corr, ok := payload.HeaderCorrelations["x-wp-total"]
		Expect(ok).To(BeTrue())
		Expect(corr.PlatformSpecificity).To(BeNumerically(">", 0.7))
		Expect(corr.RecommendationConfidence).To(Equal(types.ConfidenceLow))
	})

	It("applies minOccurrences to the correlation map exactly once", func() {
		data := &types.PreprocessedData{
			TotalSites: 2,
			Sites: map[string]*types.SiteData{
				"s1": wpSite("WordPress", "x-wp-total"),
				"s2": wpSite("Drupal"),
			},
		}
		headersRes := types.NewAnalysisResult("headers", 2)
		headersRes.Patterns["x-wp-total"] = headerPattern("x-wp-total")

		result := bias.New(nil, bias.DefaultThresholds()).Analyze(data, headersRes, 10)
		payload := result.AnalyzerSpecific.(bias.Result).Analysis
		Expect(payload.HeaderCorrelations).NotTo(HaveKey("x-wp-total"))
	})
})
