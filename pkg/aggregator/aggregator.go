// Package aggregator drives the full analyzer pipeline in order (§4.10):
// basic pattern analyzers, validation, vendor, semantic, discovery,
// co-occurrence, bias, then assembly of the final AggregatedResults and its
// summary (including an optional platform-discrimination summary).
package aggregator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/analyzers/bias"
	"github.com/jordigilh/crawlstats/pkg/analyzers/cooccurrence"
	"github.com/jordigilh/crawlstats/pkg/analyzers/discovery"
	"github.com/jordigilh/crawlstats/pkg/analyzers/headers"
	"github.com/jordigilh/crawlstats/pkg/analyzers/metatags"
	"github.com/jordigilh/crawlstats/pkg/analyzers/scripts"
	"github.com/jordigilh/crawlstats/pkg/analyzers/semantic"
	"github.com/jordigilh/crawlstats/pkg/analyzers/validation"
	"github.com/jordigilh/crawlstats/pkg/analyzers/vendor"
	"github.com/jordigilh/crawlstats/pkg/classify"
	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Aggregator owns one instance of every stage analyzer and guards
// analyze() against concurrent re-entry (§5): a call made while another
// call on the same instance is still running does not wait for it; it fails
// fast with an errs.ErrCancelled error reporting the aggregator as busy.
// Once the running call returns, the next call proceeds normally.
type Aggregator struct {
	mu sync.Mutex

	logger *logrus.Entry

	headersA      *headers.Analyzer
	metaA         *metatags.Analyzer
	scriptsA      *scripts.Analyzer
	validationA   *validation.Analyzer
	vendorA       *vendor.Analyzer
	semanticA     *semantic.Analyzer
	discoveryA    *discovery.Analyzer
	discoveryCfg  discovery.Config
	cooccurrenceA *cooccurrence.Analyzer
	biasA         *bias.Analyzer
	biasTh        bias.Thresholds
}

// New returns an Aggregator wiring every stage analyzer with logger
// (may be nil) and the tunable discovery/bias configs.
func New(logger *logrus.Entry, discoveryCfg discovery.Config, biasTh bias.Thresholds) *Aggregator {
	return &Aggregator{
		logger:        logger,
		headersA:      headers.New(logger),
		metaA:         metatags.New(logger),
		scriptsA:      scripts.New(logger),
		validationA:   validation.New(logger),
		vendorA:       vendor.New(logger),
		semanticA:     semantic.New(logger),
		discoveryA:    discovery.New(logger, discoveryCfg),
		discoveryCfg:  discoveryCfg,
		cooccurrenceA: cooccurrence.New(logger),
		biasA:         bias.New(logger, biasTh),
		biasTh:        biasTh,
	}
}

func cancelled(ctx context.Context, stage string) error {
	select {
	case <-ctx.Done():
		return errs.Cancelled(stage)
	default:
		return nil
	}
}

// Analyze runs every stage over data in pipeline order
// {Load(already done) -> Basic -> Validate -> Vendor -> Semantic ->
// Discovery -> Cooccur -> Bias -> Summarize}, checking ctx at every stage
// boundary, and returns the assembled AggregatedResults.
func (g *Aggregator) Analyze(ctx context.Context, data *types.PreprocessedData, opts types.Options) (*types.AggregatedResults, error) {
	if !g.mu.TryLock() {
		return nil, errs.Cancelled("aggregator busy: a prior analyze() call is still running")
	}
	defer g.mu.Unlock()

	start := time.Now()

	if err := cancelled(ctx, "headers"); err != nil {
		return nil, err
	}
	headersRes, err := g.headersA.Analyze(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	if err := cancelled(ctx, "metaTags"); err != nil {
		return nil, err
	}
	metaRes, err := g.metaA.Analyze(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	if err := cancelled(ctx, "scripts"); err != nil {
		return nil, err
	}
	scriptsRes, err := g.scriptsA.Analyze(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	if err := cancelled(ctx, "validation"); err != nil {
		return nil, err
	}
	validationRes, err := g.validationA.Analyze(map[string]*types.AnalysisResult{
		"headers": headersRes, "metaTags": metaRes, "scripts": scriptsRes,
	}, data.TotalSites, opts.MinOccurrences)
	if err != nil {
		return nil, err
	}

	if err := cancelled(ctx, "vendor"); err != nil {
		return nil, err
	}
	vendorRes := g.vendorA.Analyze(headersRes, metaRes, scriptsRes, data.TotalSites)
	vendorPayload := vendorRes.AnalyzerSpecific.(vendor.Result)

	if err := cancelled(ctx, "semantic"); err != nil {
		return nil, err
	}
	semanticRes := g.semanticA.Analyze(headersRes, &vendorPayload, data.TotalSites)
	semanticPayload := semanticRes.AnalyzerSpecific.(semantic.Result)

	if err := cancelled(ctx, "discovery"); err != nil {
		return nil, err
	}
	discoveryRes := g.discoveryA.Analyze(data, headersRes, &vendorPayload, &semanticPayload, opts)

	if err := cancelled(ctx, "cooccurrence"); err != nil {
		return nil, err
	}
	cooccurrenceRes, err := g.cooccurrenceA.Analyze(ctx, data, headersRes, &vendorPayload)
	if err != nil {
		return nil, err
	}

	if err := cancelled(ctx, "bias"); err != nil {
		return nil, err
	}
	biasRes := g.biasA.Analyze(data, headersRes, opts.MinOccurrences)
	biasPayload := biasRes.AnalyzerSpecific.(bias.Result)

	if err := cancelled(ctx, "summarize"); err != nil {
		return nil, err
	}

	var platformSummary *types.PlatformDiscriminationSummary
	if opts.FocusPlatformDiscrimination {
		platformSummary = attachPlatformDiscrimination(headersRes, metaRes, scriptsRes, biasPayload.Analysis)
	}

	summary := buildSummary(data.TotalSites, headersRes, metaRes, scriptsRes, platformSummary)

	results := &types.AggregatedResults{
		Headers:      headersRes,
		MetaTags:     metaRes,
		Scripts:      scriptsRes,
		Validation:   validationRes,
		Vendor:       vendorRes,
		Semantic:     semanticRes,
		Discovery:    discoveryRes,
		Cooccurrence: cooccurrenceRes,
		Bias:         biasRes,
		Summary:      summary,
		Metadata: types.RunMetadata{
			RunID:         uuid.NewString(),
			AnalysisDate:  start,
			ComputeTimeMs: time.Since(start).Milliseconds(),
		},
	}

	if g.logger != nil {
		g.logger.WithFields(logrus.Fields{
			"stage":           "aggregator",
			"run_id":          results.Metadata.RunID,
			"duration_ms":     results.Metadata.ComputeTimeMs,
			"total_sites":     data.TotalSites,
			"overall_passed":  validationRes.AnalyzerSpecific.(validation.Summary).OverallPassed,
		}).Info("analysis complete")
	}
	return results, nil
}

// attachPlatformDiscrimination populates PatternData.PlatformDiscrimination
// on every header/meta/script pattern with a bias correlation, deriving the
// fields §3/§4.10 define from that correlation (see DESIGN.md's pkg/aggregator
// decisions: platformDiscrimination is computed by the aggregator from the
// bias stage's per-header correlations rather than by a dedicated stage,
// since it is a one-shot reshaping of already-computed numbers, not new
// statistics).
func attachPlatformDiscrimination(headersRes, metaRes, scriptsRes *types.AnalysisResult, biasAnalysis types.DatasetBiasAnalysis) *types.PlatformDiscriminationSummary {
	var allPatterns []*types.PatternData
	for _, res := range []*types.AnalysisResult{headersRes, metaRes, scriptsRes} {
		if res == nil {
			continue
		}
		for key, p := range res.Patterns {
			corr, ok := biasAnalysis.HeaderCorrelations[key]
			if !ok {
				continue
			}
			p.PlatformDiscrimination = buildDiscrimination(corr)
			allPatterns = append(allPatterns, p)
		}
	}

	summary := &types.PlatformDiscriminationSummary{
		PlatformSpecificityDistribution: make(map[string]int),
	}
	summary.TotalPatternsAnalyzed = len(allPatterns)
	var scoreSum float64
	type scored struct {
		key   string
		score float64
	}
	var ranked []scored
	for _, p := range allPatterns {
		pd := p.PlatformDiscrimination
		scoreSum += pd.DiscriminativeScore
		if pd.DiscriminativeScore > 0.3 {
			summary.DiscriminatoryPatterns++
		}
		if pd.DiscriminationMetrics.IsInfrastructureNoise {
			summary.InfrastructureNoiseFiltered++
		}
		for platform, specificity := range pd.PlatformSpecificity {
			if specificity > 0.7 {
				summary.PlatformSpecificityDistribution[platform]++
			}
		}
		ranked = append(ranked, scored{p.Pattern, pd.DiscriminativeScore})
	}
	if len(allPatterns) > 0 {
		summary.AverageDiscriminationScore = scoreSum / float64(len(allPatterns))
	}
	if summary.TotalPatternsAnalyzed > 0 {
		summary.NoiseReductionPercentage = 100 * float64(summary.InfrastructureNoiseFiltered) / float64(summary.TotalPatternsAnalyzed)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].key < ranked[j].key
	})
	top := 10
	if len(ranked) < top {
		top = len(ranked)
	}
	for i := 0; i < top; i++ {
		summary.TopDiscriminatoryPatterns = append(summary.TopDiscriminatoryPatterns, ranked[i].key)
	}

	distinctHighSpecificity := len(summary.PlatformSpecificityDistribution)
	summary.QualityMetrics = types.QualityMetrics{
		SignalToNoiseRatio:       signalToNoiseRatio(summary.DiscriminatoryPatterns, summary.InfrastructureNoiseFiltered),
		PlatformCoverageScore:    math.Min(1, float64(distinctHighSpecificity)/3.0),
		DetectionConfidenceBoost: 0.5 * summary.AverageDiscriminationScore,
	}
	return summary
}

func signalToNoiseRatio(discriminatory, noise int) float64 {
	if noise == 0 {
		if discriminatory == 0 {
			return 0
		}
		return float64(discriminatory)
	}
	return float64(discriminatory) / float64(noise)
}

// buildDiscrimination reshapes one header's bias correlation into the
// PlatformDiscrimination shape (§3): the top non-bucket CMS becomes the
// target platform, its specificity is the pattern's single
// platformSpecificity entry, the per-CMS P(header|cms) map becomes
// crossPlatformFrequency, and entropy is computed over the per-CMS
// probability distribution (lower entropy => more concentrated => more
// discriminative, mirrored by the specificity score already carrying that
// signal).
func buildDiscrimination(corr types.HeaderCMSCorrelation) *types.PlatformDiscrimination {
	targetPlatform := ""
	topProb := 0.0
	for cms, p := range corr.CMSGivenHeader {
		if cms == "Unknown" || cms == "CDN" || cms == "Enterprise" {
			continue
		}
		if p.Probability > topProb {
			targetPlatform, topProb = cms, p.Probability
		}
	}

	crossPlatform := make(map[string]float64, len(corr.PerCMSFrequency))
	probs := make([]float64, 0, len(corr.PerCMSFrequency))
	for cms, freq := range corr.PerCMSFrequency {
		crossPlatform[cms] = freq.Frequency
		probs = append(probs, freq.Frequency)
	}

	platformSpecificity := map[string]float64{}
	if targetPlatform != "" {
		platformSpecificity[targetPlatform] = corr.PlatformSpecificity
	}

	_, isNoise := classify.IsCDNOrEnterprise(corr.HeaderName)
	if classify.Classify(corr.HeaderName).FilterRecommendation == classify.FilterAlways {
		isNoise = true
	}

	return &types.PlatformDiscrimination{
		DiscriminativeScore:    corr.PlatformSpecificity,
		PlatformSpecificity:    platformSpecificity,
		CrossPlatformFrequency: crossPlatform,
		DiscriminationMetrics: types.DiscriminationMetrics{
			Entropy:               shannonEntropy(probs),
			MaxSpecificity:        corr.PlatformSpecificity,
			TargetPlatform:        targetPlatform,
			IsInfrastructureNoise: isNoise,
		},
	}
}

// shannonEntropy computes the entropy, in bits, of probs normalized to sum
// to 1. Returns 0 for an empty or all-zero input.
func shannonEntropy(probs []float64) float64 {
	var total float64
	for _, p := range probs {
		total += p
	}
	if total <= 0 {
		return 0
	}
	var entropy float64
	for _, p := range probs {
		if p <= 0 {
			continue
		}
		q := p / total
		entropy -= q * math.Log2(q)
	}
	return entropy
}

// buildSummary implements §4.10's summary assembly: top-10 pattern keys per
// dimension by frequency, with the overflow recorded in Truncated (SPEC_FULL
// §4 supplemented feature), plus the optional platform-discrimination
// summary.
func buildSummary(totalSites int, headersRes, metaRes, scriptsRes *types.AnalysisResult, platformSummary *types.PlatformDiscriminationSummary) types.Summary {
	topHeaders, truncHeaders := topPatterns(headersRes, 10)
	topMeta, truncMeta := topPatterns(metaRes, 10)
	topScripts, truncScripts := topPatterns(scriptsRes, 10)

	return types.Summary{
		TotalSites:  totalSites,
		TopHeaders:  topHeaders,
		TopMetaTags: topMeta,
		TopScripts:  topScripts,
		Truncated: types.TruncatedCounts{
			Headers:  truncHeaders,
			MetaTags: truncMeta,
			Scripts:  truncScripts,
		},
		PlatformDiscrimination: platformSummary,
	}
}

func topPatterns(res *types.AnalysisResult, n int) ([]string, int) {
	if res == nil {
		return nil, 0
	}
	type item struct {
		key  string
		freq float64
	}
	items := make([]item, 0, len(res.Patterns))
	for key, p := range res.Patterns {
		items = append(items, item{key, p.Frequency})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].freq != items[j].freq {
			return items[i].freq > items[j].freq
		}
		return items[i].key < items[j].key
	})
	truncated := 0
	if len(items) > n {
		truncated = len(items) - n
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out, truncated
}
