package drive

import (
	"context"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// runBatched runs fn over items in sequential batches: the members of
// one batch run concurrently, and the next batch starts only when every
// member of the previous one has resolved. This bounds Drive load
// without a full worker-pool abstraction.
//
// Per-item failures are collected into the returned slice (indexed like
// items) instead of short-circuiting: one bad file must not abort the
// rest of the pass. Between batches a cancelled context stops scheduling
// further work; the remaining items get the context error.
func runBatched[T any](ctx context.Context, items []T, batchSize int, fn func(context.Context, T) error) []error {
	if batchSize < 1 {
		batchSize = 1
	}

	itemErrs := make([]error, len(items))

	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				itemErrs[i] = err
			}
			break
		}

		end := min(start+batchSize, len(items))

		g := new(errgroup.Group)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				itemErrs[i] = fn(ctx, items[i])
				return nil
			})
		}
		// Members record their own failures and never error the group.
		_ = g.Wait()
	}

	return itemErrs
}

// transferSize renders a byte count for transfer logs.
func transferSize(content []byte) string {
	return humanize.Bytes(uint64(len(content)))
}
