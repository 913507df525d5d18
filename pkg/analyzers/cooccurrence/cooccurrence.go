// Package cooccurrence implements the co-occurrence analyzer (§4.8):
// header-pair co-occurrence and mutual information, per-vendor technology
// signatures, and per-CMS platform header combinations.
package cooccurrence

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/analyzers/vendor"
	"github.com/jordigilh/crawlstats/pkg/parallel"
	sharedmath "github.com/jordigilh/crawlstats/pkg/shared/math"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Pair is one retained header co-occurrence (§4.8).
type Pair struct {
	HeaderA                string
	HeaderB                string
	CooccurrenceCount      int
	CooccurrenceFrequency  float64
	ConditionalProbability float64
	MutualInformation      float64
}

// TechnologySignature is the minimal/optional header sets that
// characterize a vendor's deployments (§4.8).
type TechnologySignature struct {
	Vendor          string
	RequiredHeaders []string
	OptionalHeaders []string
}

// PlatformCombination is a high-strength header group for one CMS (§4.8).
type PlatformCombination struct {
	CMS        string
	Headers    []string
	Coverage   float64
	Exclusivity float64
	Strength   float64
}

// Result is the co-occurrence analyzer's analyzer-specific payload.
type Result struct {
	Pairs                []Pair
	TechnologySignatures []TechnologySignature
	PlatformCombinations []PlatformCombination
}

// Analyzer runs the co-occurrence analyzer.
type Analyzer struct {
	logger *logrus.Entry
}

// New returns a co-occurrence Analyzer. logger may be nil.
func New(logger *logrus.Entry) *Analyzer {
	return &Analyzer{logger: logger}
}

const (
	miThreshold   = 0.3
	condProbThreshold = 0.75
	candidatesPerCMS  = 8
	combosPerCMS      = 5
)

// Analyze computes co-occurrence over headersRes's already
// minOccurrences-filtered patterns. data supplies per-site CMS labels for
// platformCombinations; vendorData supplies per-vendor site sets for
// technologySignatures.
func (a *Analyzer) Analyze(ctx context.Context, data *types.PreprocessedData, headersRes *types.AnalysisResult, vendorData *vendor.Result) (*types.AnalysisResult, error) {
	start := time.Now()
	totalSites := 0
	if headersRes != nil {
		totalSites = headersRes.TotalSites
	}

	names := make([]string, 0)
	if headersRes != nil {
		for name := range headersRes.Patterns {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// The pairwise comparison is O(n^2) in the header count; partition the
	// outer index across workers so a corpus with a wide header vocabulary
	// doesn't serialize the whole comparison on one goroutine (§5, §9).
	indices := make([]int, len(names))
	for i := range indices {
		indices[i] = i
	}
	partial, err := parallel.Run(ctx, indices, parallel.DefaultWorkers, func(pctx context.Context, part []int) ([]Pair, error) {
		var found []Pair
		for _, i := range part {
			for j := i + 1; j < len(names); j++ {
				select {
				case <-pctx.Done():
					return nil, pctx.Err()
				default:
				}
				ha, hb := names[i], names[j]
				pa, pb := headersRes.Patterns[ha], headersRes.Patterns[hb]
				co := intersectCount(pa.Sites, pb.Sites)
				if co == 0 {
					continue
				}
				n11 := float64(co)
				n10 := float64(pa.SiteCount - co)
				n01 := float64(pb.SiteCount - co)
				n00 := float64(totalSites) - n11 - n10 - n01
				if n00 < 0 {
					n00 = 0
				}
				mi := sharedmath.MutualInformation(n00, n01, n10, n11)
				condAB := sharedmath.SafeDiv(float64(co), float64(pa.SiteCount))
				condBA := sharedmath.SafeDiv(float64(co), float64(pb.SiteCount))
				cond := condAB
				if condBA > cond {
					cond = condBA
				}
				if mi < miThreshold && cond < condProbThreshold {
					continue
				}
				found = append(found, Pair{
					HeaderA:                ha,
					HeaderB:                hb,
					CooccurrenceCount:      co,
					CooccurrenceFrequency:  sharedmath.SafeDiv(float64(co), float64(totalSites)),
					ConditionalProbability: cond,
					MutualInformation:      mi,
				})
			}
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	var pairs []Pair
	for _, p := range partial {
		pairs = append(pairs, p...)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].MutualInformation != pairs[j].MutualInformation {
			return pairs[i].MutualInformation > pairs[j].MutualInformation
		}
		return pairs[i].CooccurrenceCount > pairs[j].CooccurrenceCount
	})

	signatures := technologySignatures(headersRes, vendorData)
	combinations := platformCombinations(data, headersRes)

	result := types.NewAnalysisResult("cooccurrence", totalSites)
	for _, p := range pairs {
		key := p.HeaderA + "+" + p.HeaderB
		pd := types.NewPatternData(key)
		pd.SiteCount = p.CooccurrenceCount
		pd.Frequency = p.CooccurrenceFrequency
		result.Patterns[key] = pd
	}
	result.AnalyzerSpecific = Result{Pairs: pairs, TechnologySignatures: signatures, PlatformCombinations: combinations}
	result.Metadata.RanAt = start
	result.Metadata.Duration = time.Since(start)
	result.Metadata.PatternsAfter = len(pairs)

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"stage":       "cooccurrence",
			"duration_ms": result.Metadata.Duration.Milliseconds(),
			"pairs":       len(pairs),
		}).Info("stage complete")
	}
	return result, nil
}

func intersectCount(a, b map[string]struct{}) int {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	count := 0
	for s := range small {
		if _, ok := big[s]; ok {
			count++
		}
	}
	return count
}

func technologySignatures(headersRes *types.AnalysisResult, vendorData *vendor.Result) []TechnologySignature {
	if vendorData == nil || headersRes == nil {
		return nil
	}
	var sigs []TechnologySignature
	vendors := make([]string, 0, len(vendorData.VendorStats))
	for v := range vendorData.VendorStats {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	for _, v := range vendors {
		stats := vendorData.VendorStats[v]
		if stats.SiteCount == 0 {
			continue
		}
		var required, optional []string
		for header, p := range headersRes.Patterns {
			present := intersectCount(p.Sites, stats.Sites)
			coverage := float64(present) / float64(stats.SiteCount)
			switch {
			case coverage >= 0.9:
				required = append(required, header)
			case coverage >= 0.5:
				optional = append(optional, header)
			}
		}
		sort.Strings(required)
		sort.Strings(optional)
		if len(required) == 0 && len(optional) == 0 {
			continue
		}
		sigs = append(sigs, TechnologySignature{Vendor: v, RequiredHeaders: required, OptionalHeaders: optional})
	}
	return sigs
}

func platformCombinations(data *types.PreprocessedData, headersRes *types.AnalysisResult) []PlatformCombination {
	if data == nil || headersRes == nil {
		return nil
	}
	cmsSites := make(map[string]map[string]struct{})
	for site, sd := range data.Sites {
		if cmsSites[sd.CMS] == nil {
			cmsSites[sd.CMS] = make(map[string]struct{})
		}
		cmsSites[sd.CMS][site] = struct{}{}
	}

	var combos []PlatformCombination
	cmsNames := make([]string, 0, len(cmsSites))
	for c := range cmsSites {
		cmsNames = append(cmsNames, c)
	}
	sort.Strings(cmsNames)

	for _, cms := range cmsNames {
		sites := cmsSites[cms]
		if len(sites) == 0 {
			continue
		}
		candidates := topCandidateHeaders(headersRes, sites, candidatesPerCMS)
		var found []PlatformCombination
		for size := 2; size <= 4 && size <= len(candidates); size++ {
			combinations(candidates, size, func(combo []string) {
				coverage := comboCoverage(headersRes, combo, sites)
				if coverage == 0 {
					return
				}
				maxOther := 0.0
				for _, other := range cmsNames {
					if other == cms {
						continue
					}
					otherCov := comboCoverage(headersRes, combo, cmsSites[other])
					if otherCov > maxOther {
						maxOther = otherCov
					}
				}
				exclusivity := 1 - maxOther
				strength := coverage * exclusivity
				found = append(found, PlatformCombination{
					CMS: cms, Headers: append([]string(nil), combo...),
					Coverage: coverage, Exclusivity: exclusivity, Strength: strength,
				})
			})
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Strength > found[j].Strength })
		if len(found) > combosPerCMS {
			found = found[:combosPerCMS]
		}
		combos = append(combos, found...)
	}
	return combos
}

func topCandidateHeaders(headersRes *types.AnalysisResult, cmsSites map[string]struct{}, n int) []string {
	type item struct {
		name     string
		coverage float64
	}
	var items []item
	for name, p := range headersRes.Patterns {
		present := intersectCount(p.Sites, cmsSites)
		if present == 0 {
			continue
		}
		items = append(items, item{name, float64(present) / float64(len(cmsSites))})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].coverage != items[j].coverage {
			return items[i].coverage > items[j].coverage
		}
		return items[i].name < items[j].name
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

func comboCoverage(headersRes *types.AnalysisResult, combo []string, sites map[string]struct{}) float64 {
	if len(sites) == 0 {
		return 0
	}
	count := 0
	for s := range sites {
		all := true
		for _, h := range combo {
			p, ok := headersRes.Patterns[h]
			if !ok {
				all = false
				break
			}
			if _, present := p.Sites[s]; !present {
				all = false
				break
			}
		}
		if all {
			count++
		}
	}
	return float64(count) / float64(len(sites))
}

// combinations calls fn with every size-length combination of items, in
// lexical order of index.
func combinations(items []string, size int, fn func([]string)) {
	n := len(items)
	if size > n {
		return
	}
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := make([]string, size)
		for i, ix := range idx {
			combo[i] = items[ix]
		}
		fn(combo)

		i := size - 1
		for i >= 0 && idx[i] == i+n-size {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < size; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
