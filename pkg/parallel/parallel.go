// Package parallel partitions a slice of work items across worker
// goroutines. Its one caller is the co-occurrence analyzer, whose pairwise
// loop dominates runtime above ~1000 sites (§5, §9). It never mutates
// PreprocessedData.sites; every partition reads a disjoint slice and the
// caller merges partial results.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds fan-out when the caller does not pick a worker
// count explicitly.
const DefaultWorkers = 8

// Partition splits items into at most workers roughly-equal contiguous
// slices, preserving order within each slice (so callers that sample
// "first K" examples stay deterministic per partition).
func Partition[T any](items []T, workers int) [][]T {
	if workers < 1 {
		workers = 1
	}
	if len(items) == 0 {
		return nil
	}
	if workers > len(items) {
		workers = len(items)
	}
	chunks := make([][]T, 0, workers)
	base := len(items) / workers
	rem := len(items) % workers
	start := 0
	for w := 0; w < workers; w++ {
		size := base
		if w < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunks = append(chunks, items[start:start+size])
		start += size
	}
	return chunks
}

// Run executes one fn per partition of items concurrently (bounded by
// workers via an errgroup + semaphore, per SPEC_FULL §3), returning each
// partition's result in input order. The first error cancels the group and
// is returned; already-started partitions are allowed to finish since each
// stage must remain pure and restartable (§5).
func Run[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, []T) (R, error)) ([]R, error) {
	partitions := Partition(items, workers)
	results := make([]R, len(partitions))
	if len(partitions) == 0 {
		return results, nil
	}

	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range partitions {
		i, part := i, part
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			r, err := fn(gctx, part)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
