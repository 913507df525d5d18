// Package scripts implements the Scripts basic pattern analyzer (§4.3).
//
// The preprocessor (pkg/preprocess) classifies each observed <script>
// element into its canonical pattern key (path:, library:, tracking:,
// domain:, inline:, other:) at merge time via classify.ClassifyScript, and
// stores the classified key directly in SiteData.Scripts rather than the
// raw src/inline payload. This analyzer is therefore a plain per-site
// membership count over already-classified keys, identical in shape to the
// headers analyzer; re-deriving the classification here would require
// carrying raw script payloads through SiteData purely for this one stage,
// which §3's invariant ("within a site each … script value appears at most
// once") already treats as set membership on the classified key.
package scripts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Analyzer emits one PatternData per classified script pattern key.
type Analyzer struct {
	logger *logrus.Entry
}

// New returns a scripts Analyzer. logger may be nil.
func New(logger *logrus.Entry) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze counts each site once per distinct script pattern key it
// carries.
func (a *Analyzer) Analyze(ctx context.Context, data *types.PreprocessedData, opts types.Options) (*types.AnalysisResult, error) {
	start := time.Now()
	result := types.NewAnalysisResult("scripts", data.TotalSites)

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
		for key := range sd.Scripts {
			p, ok := result.Patterns[key]
			if !ok {
				p = types.NewPatternData(key)
				result.Patterns[key] = p
			}
			example := ""
			if opts.IncludeExamples {
				example = key
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
			"stage":           "scripts",
			"duration_ms":     result.Metadata.Duration.Milliseconds(),
			"patterns_before": result.Metadata.PatternsBefore,
			"patterns_after":  result.Metadata.PatternsAfter,
		}).Info("stage complete")
	}
	return result, nil
}
