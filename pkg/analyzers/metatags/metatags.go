// Package metatags implements the MetaTags basic pattern analyzer (§4.3):
// one pattern per "{kind}:{key}" combination, e.g. name:generator.
package metatags

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Analyzer emits one PatternData per meta-tag kind:key combination.
type Analyzer struct {
	logger *logrus.Entry
}

// New returns a meta-tags Analyzer. logger may be nil.
func New(logger *logrus.Entry) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze counts each site once per kind:key it carries, regardless of how
// many distinct values it observed for that key (§4.3 "each distinct value
// is counted once against the site"); it samples up to MaxExamples
// observed values as examples.
func (a *Analyzer) Analyze(ctx context.Context, data *types.PreprocessedData, opts types.Options) (*types.AnalysisResult, error) {
	start := time.Now()
	result := types.NewAnalysisResult("metaTags", data.TotalSites)

	i := 0
	for site, sd := range data.Sites {
		i++
		if i%4096 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		for key, values := range sd.MetaTags {
			p, ok := result.Patterns[key]
			if !ok {
				p = types.NewPatternData(key)
				result.Patterns[key] = p
			}
			example := ""
			if opts.IncludeExamples {
				for v := range values {
					if v != "" {
						example = v
						break
					}
				}
			}
			p.AddSite(site, example, opts.MaxExamples)
		}
	}

	for _, p := range result.Patterns {
		p.Finalize(data.TotalSites)
	}
	result.ApplyMinOccurrences(opts.MinOccurrences)
	result.Metadata.RanAt = start
	result.Metadata.Duration = time.Since(start)

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"stage":           "metaTags",
			"duration_ms":     result.Metadata.Duration.Milliseconds(),
			"patterns_before": result.Metadata.PatternsBefore,
			"patterns_after":  result.Metadata.PatternsAfter,
		}).Info("stage complete")
	}
	return result, nil
}
