// Package headers implements the Headers basic pattern analyzer (§4.3):
// one pattern per distinct header name observed across the corpus.
package headers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Analyzer emits one PatternData per header name.
type Analyzer struct {
	logger *logrus.Entry
}

// New returns a headers Analyzer. logger may be nil.
func New(logger *logrus.Entry) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze iterates every site exactly once, incrementing one pattern per
// distinct header name the site carries regardless of how many values that
// header took (§4.3: "one increment per header regardless of value
// multiplicity"), then applies the minOccurrences filter exactly once.
func (a *Analyzer) Analyze(ctx context.Context, data *types.PreprocessedData, opts types.Options) (*types.AnalysisResult, error) {
	start := time.Now()
	result := types.NewAnalysisResult("headers", data.TotalSites)

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
		for header, values := range sd.Headers {
			p, ok := result.Patterns[header]
			if !ok {
				p = types.NewPatternData(header)
				result.Patterns[header] = p
			}
			example := ""
			if opts.IncludeExamples {
				for v := range values {
					example = v
					break
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
			"stage":           "headers",
			"duration_ms":     result.Metadata.Duration.Milliseconds(),
			"patterns_before": result.Metadata.PatternsBefore,
			"patterns_after":  result.Metadata.PatternsAfter,
		}).Info("stage complete")
	}
	return result, nil
}
