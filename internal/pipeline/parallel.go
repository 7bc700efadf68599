package pipeline

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
)

// ExpandAll expands records on up to workers goroutines. Each goroutine owns
// a contiguous chunk, and the chunks are concatenated in input order, so the
// result equals a sequential expansion.
func ExpandAll(ctx context.Context, records []domain.RawRecord, opts domain.ExpandOptions, workers int) ([]domain.FlatRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	chunks := chunkBounds(len(records), workers)
	parts := make([][]domain.FlatRecord, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, c := range chunks {
		g.Go(func() error {
			var out []domain.FlatRecord
			for _, rec := range records[c[0]:c[1]] {
				if err := ctx.Err(); err != nil {
					return err
				}
				out = slices.AppendSeq(out, domain.Expand(rec, opts))
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(parts...), nil
}

// AggregateParallel groups records by hour and summarizes the groups on up
// to workers goroutines. The result matches domain.Aggregate.
func AggregateParallel(ctx context.Context, records []domain.FlatRecord, opts domain.AggregateOptions, workers int) ([]domain.HourlySummary, error) {
	groups := domain.GroupByHour(records)
	out := make([]domain.HourlySummary, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, grp := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = domain.Summarize(grp, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunkBounds splits n items into at most parts contiguous [start, end) ranges.
func chunkBounds(n, parts int) [][2]int {
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	size := (n + parts - 1) / parts
	bounds := make([][2]int, 0, parts)
	for start := 0; start < n; start += size {
		bounds = append(bounds, [2]int{start, min(start+size, n)})
	}
	return bounds
}
