package preprocess

import (
	"time"

	"github.com/itchyny/gojq"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Filter is a compiled gojq expression evaluated against one raw
// CaptureRecord before normalization, letting an operator restrict
// ingestion (e.g. `.url | test("\\.gov$")`) without a bespoke filter DSL
// (SPEC_FULL §3 domain stack).
type Filter struct {
	code *gojq.Code
}

// CompileFilter parses and compiles a jq expression for repeated use
// against every record a Source yields.
func CompileFilter(expr string) (*Filter, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}
	return &Filter{code: code}, nil
}

// Matches reports whether rec passes the filter. A nil Filter always
// matches. A query that errors, yields no value, or yields a non-boolean
// is treated as non-matching rather than propagated, since a malformed
// filter expression is a configuration error the caller validates once at
// startup, not a per-record fault.
func (f *Filter) Matches(rec types.CaptureRecord) bool {
	if f == nil {
		return true
	}
	input := recordToJQInput(rec)
	iter := f.code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if _, isErr := v.(error); isErr {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func recordToJQInput(rec types.CaptureRecord) map[string]any {
	headers := make(map[string]any, len(rec.HTTPHeaders))
	for k, v := range rec.HTTPHeaders {
		vals := make([]any, len(v))
		for i, s := range v {
			vals[i] = s
		}
		headers[k] = vals
	}
	detections := make([]any, len(rec.DetectionResults))
	for i, d := range rec.DetectionResults {
		detections[i] = map[string]any{
			"cms":        d.CMS,
			"confidence": d.Confidence,
			"version":    d.Version,
		}
	}
	return map[string]any{
		"url":              rec.URL,
		"timestamp":        rec.Timestamp.Format(time.RFC3339),
		"httpHeaders":      headers,
		"detectionResults": detections,
	}
}
