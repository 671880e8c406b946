package probe

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/servcheck/prober/internal/domain"
)

// RunAll probes every spec with at most limit probes in flight. Results keep
// the order of specs.
func RunAll(ctx context.Context, p Prober, specs []domain.TestSpec, limit int) []domain.ProbeResult {
	results := make([]domain.ProbeResult, len(specs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = p.Probe(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
