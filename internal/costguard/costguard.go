// Package costguard enforces the per-episode spend cap. Cost accumulates over
// success and failed runs; once the cap is reached no further stage may run
// for that episode until the cap is raised.
package costguard

import (
	"context"
	"fmt"

	"dublaj/internal/services"
	"dublaj/internal/store"
)

// Guard checks cumulative episode cost against the configured cap.
type Guard struct {
	store  *store.Store
	capUSD float64
}

// New returns a guard with the given cap in USD.
func New(st *store.Store, capUSD float64) *Guard {
	return &Guard{store: st, capUSD: capUSD}
}

// SpentUSD returns the cumulative cost of all success and failed runs.
func (g *Guard) SpentUSD(ctx context.Context, episodeID int64) (float64, error) {
	return g.store.SumRunCost(ctx, episodeID)
}

// Check returns a cost-cap error when cumulative spend has reached the cap.
func (g *Guard) Check(ctx context.Context, episodeID int64) error {
	spent, err := g.SpentUSD(ctx, episodeID)
	if err != nil {
		return err
	}
	if spent >= g.capUSD {
		return services.Wrap(
			services.ErrCostCapExceeded,
			"",
			"cost guard",
			fmt.Sprintf("cost cap exceeded: spent %.2f USD of %.2f USD cap", spent, g.capUSD),
			nil,
		)
	}
	return nil
}

// Cap returns the configured cap in USD.
func (g *Guard) Cap() float64 {
	return g.capUSD
}
