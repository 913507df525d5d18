// Package cache provides the preprocessor cache described in §4.1/§5: an
// in-process, mutex-guarded default keyed by {source, dateRange,
// forceReload}, and a pluggable Redis-backed implementation for sharing a
// PreprocessedData across pipeline processes analyzing overlapping date
// ranges (SPEC_FULL §3).
package cache

import (
	"context"
	"fmt"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Key identifies one cached PreprocessedData. ContentHash is an optional
// caller-supplied content hash (typically a uuid.NewSHA1 of the source
// listing) layered on top of the source/date-range/forceReload keying
// §4.1 specifies, for callers that want cache entries to also invalidate
// when the underlying corpus content changes without the source location
// changing.
type Key struct {
	Source         string
	DateRangeStart string
	DateRangeEnd   string
	ForceReload    bool
	ContentHash    string
}

func (k Key) String() string {
	return fmt.Sprintf("crawlstats:preprocess:%s:%s:%s:%v:%s", k.Source, k.DateRangeStart, k.DateRangeEnd, k.ForceReload, k.ContentHash)
}

// Cache is the preprocessor's pluggable cache surface.
type Cache interface {
	Get(ctx context.Context, key Key) (*types.PreprocessedData, bool, error)
	Set(ctx context.Context, key Key, data *types.PreprocessedData) error
	Clear(ctx context.Context) error
}
