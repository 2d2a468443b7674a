// Package budget resolves which budget entry governs a project on a given
// day. Budgets are effective-dated and append-only; the entry in force is
// the latest one whose effective date is not in the future.
package budget

import (
	"context"

	"cloud-cost/core/store"
	"cloud-cost/core/types"
)

// Ledger answers budget queries against the store
type Ledger struct {
	store store.Store
}

// NewLedger creates a budget ledger over a store
func NewLedger(store store.Store) *Ledger {
	return &Ledger{store: store}
}

// Current returns the budget entry in force for the project as of the
// given date. Inactive projects and projects with no applicable entry get
// the zero-amount sentinel, never an error.
func (l *Ledger) Current(ctx context.Context, project *types.Project, asOf types.Date) (*types.Budget, error) {
	if !project.Active(asOf) {
		return types.ZeroBudget(project.ID, asOf), nil
	}

	entries, err := l.store.Budgets(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	selected := Select(entries, asOf)
	if selected == nil {
		return types.ZeroBudget(project.ID, asOf), nil
	}
	return selected, nil
}

// Select picks the governing entry from a list ordered by effective date
// then creation time, both ascending. Entries effective after asOf are
// ignored; among the rest the latest effective date wins, and entries
// sharing that date are broken by the latest creation time.
func Select(entries []types.Budget, asOf types.Date) *types.Budget {
	var selected *types.Budget
	for i := range entries {
		entry := &entries[i]
		if entry.EffectiveAt.After(asOf) {
			continue
		}
		if selected == nil || betterMatch(entry, selected) {
			selected = entry
		}
	}
	return selected
}

func betterMatch(candidate, current *types.Budget) bool {
	if !candidate.EffectiveAt.Equal(current.EffectiveAt) {
		return candidate.EffectiveAt.After(current.EffectiveAt)
	}
	return !candidate.CreatedAt.Before(current.CreatedAt)
}
