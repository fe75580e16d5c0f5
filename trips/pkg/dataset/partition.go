package dataset

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Range is a half-open row interval [Lo, Hi).
type Range struct {
	Lo, Hi int
}

func (r Range) Len() int { return r.Hi - r.Lo }

// Partitions splits n rows into at most parts contiguous ranges of near
// equal size. parts <= 0 means runtime.GOMAXPROCS(0).
func Partitions(n, parts int) []Range {
	if parts <= 0 {
		parts = runtime.GOMAXPROCS(0)
	}
	if n == 0 {
		return nil
	}
	if parts > n {
		parts = n
	}
	ranges := make([]Range, 0, parts)
	size, rem := n/parts, n%parts
	lo := 0
	for i := range parts {
		hi := lo + size
		if i < rem {
			hi++
		}
		ranges = append(ranges, Range{Lo: lo, Hi: hi})
		lo = hi
	}
	return ranges
}

// ForEachPartition runs fn concurrently over the partitions of n rows.
// The first error cancels the remaining partitions.
func ForEachPartition(ctx context.Context, n, parts int, fn func(ctx context.Context, part int, r Range) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range Partitions(n, parts) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i, r)
		})
	}
	return g.Wait()
}
