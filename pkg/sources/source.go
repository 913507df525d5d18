// Package sources defines the single Source contract the pipeline reads
// CaptureRecords through (§4.1, SPEC_FULL §3). Record filtering is not part
// of this contract: the jq pre-filter is applied by pkg/preprocess.
package sources

import (
	"context"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Source produces a stream of CaptureRecords for one pipeline run. Load
// must close the returned channel when the underlying data is exhausted or
// ctx is cancelled, and must never send on the channel after returning an
// error.
type Source interface {
	Load(ctx context.Context, dateRange types.DateRange) (<-chan types.CaptureRecord, error)
}
