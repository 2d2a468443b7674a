// Package store - read-through cache
package store

import (
	"context"

	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

// LogCache is the read-through layer between the batch pipeline and the
// store. If a cached entry exists and rerun is false the origin is never
// invoked; rerun always re-fetches and overwrites. Fetch callbacks may
// return rows for more keys than the one asked for (compute-group queries
// do); every returned row is persisted.
type LogCache struct {
	store Store
}

// NewLogCache creates a read-through cache over a store
func NewLogCache(store Store) *LogCache {
	return &LogCache{store: store}
}

// Store exposes the underlying store
func (c *LogCache) Store() Store {
	return c.store
}

// CostFetch produces fresh cost rows from the origin
type CostFetch func(ctx context.Context) ([]types.CostLog, error)

// GetOrFetchCost implements get_or_fetch for the cost ledger. It returns
// the row for (project, date, scope) and whether it was served from cache.
func (c *LogCache) GetOrFetchCost(ctx context.Context, projectID int64, date types.Date, scope types.Scope, rerun bool, fetch CostFetch) (*types.CostLog, bool, error) {
	if !rerun {
		cached, err := c.store.CostLog(ctx, projectID, date, scope)
		if err != nil {
			return nil, false, err
		}
		if cached != nil {
			return cached, true, nil
		}
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}

	var match *types.CostLog
	for i := range fetched {
		if err := c.store.SaveCostLog(ctx, &fetched[i]); err != nil {
			return nil, false, err
		}
		if fetched[i].Date.Equal(date) && fetched[i].Scope == scope {
			match = &fetched[i]
		}
	}
	if match == nil {
		return nil, false, errors.NotFound("cost log", date.String()+"/"+scope.String())
	}
	return match, false, nil
}

// UsageFetch produces fresh usage rows from the origin
type UsageFetch func(ctx context.Context) ([]types.UsageLog, error)

// GetOrFetchUsage implements get_or_fetch for a single usage key
func (c *LogCache) GetOrFetchUsage(ctx context.Context, projectID int64, start, end types.Date, description string, scope types.Scope, unit string, rerun bool, fetch UsageFetch) (*types.UsageLog, bool, error) {
	if !rerun {
		cached, err := c.store.UsageLog(ctx, projectID, start, end, description, scope, unit)
		if err != nil {
			return nil, false, err
		}
		if cached != nil {
			return cached, true, nil
		}
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}

	var match *types.UsageLog
	for i := range fetched {
		if err := c.store.SaveUsageLog(ctx, &fetched[i]); err != nil {
			return nil, false, err
		}
		row := &fetched[i]
		if row.StartDate.Equal(start) && row.EndDate.Equal(end) &&
			row.Description == description && row.Scope == scope && row.Unit == unit {
			match = row
		}
	}
	if match == nil {
		return nil, false, errors.NotFound("usage log", start.String()+"/"+description)
	}
	return match, false, nil
}

// GetOrFetchUsageSet implements get_or_fetch for a whole usage group, such
// as the per-instance-type hours for one day. On rerun the group's rows
// are cleared before the origin is invoked.
func (c *LogCache) GetOrFetchUsageSet(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date, rerun bool, fetch UsageFetch) ([]types.UsageLog, bool, error) {
	if rerun {
		if err := c.store.DeleteUsageLogs(ctx, projectID, scope, unit, start, end); err != nil {
			return nil, false, err
		}
	} else {
		cached, err := c.store.UsageLogs(ctx, projectID, scope, unit, start, end)
		if err != nil {
			return nil, false, err
		}
		if len(cached) > 0 {
			return cached, true, nil
		}
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range fetched {
		if err := c.store.SaveUsageLog(ctx, &fetched[i]); err != nil {
			return nil, false, err
		}
	}
	return fetched, false, nil
}

// InstanceFetch produces a fresh inventory snapshot from the origin
type InstanceFetch func(ctx context.Context) ([]types.InstanceLog, error)

// RefreshInstanceSnapshot records a day's instance snapshot. Snapshots are
// append-only per day; rerun clears the day's rows and re-fetches.
func (c *LogCache) RefreshInstanceSnapshot(ctx context.Context, projectID int64, date types.Date, rerun bool, fetch InstanceFetch) ([]types.InstanceLog, error) {
	if rerun {
		if err := c.store.DeleteInstanceLogsOn(ctx, projectID, date); err != nil {
			return nil, err
		}
	} else {
		existing, err := c.store.InstanceLogsOn(ctx, projectID, date)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveInstanceLogs(ctx, fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// ReportFetch renders a fresh weekly report
type ReportFetch func(ctx context.Context) (string, error)

// GetOrFetchWeeklyReport returns the cached report for (project, date) or
// renders, persists and returns a fresh one
func (c *LogCache) GetOrFetchWeeklyReport(ctx context.Context, projectID int64, date types.Date, rerun bool, render ReportFetch) (*types.WeeklyReportLog, bool, error) {
	if !rerun {
		cached, err := c.store.WeeklyReport(ctx, projectID, date)
		if err != nil {
			return nil, false, err
		}
		if cached != nil {
			return cached, true, nil
		}
	}

	content, err := render(ctx)
	if err != nil {
		return nil, false, err
	}
	report := &types.WeeklyReportLog{
		ProjectID: projectID,
		Date:      date,
		Content:   content,
	}
	if err := c.store.SaveWeeklyReport(ctx, report); err != nil {
		return nil, false, err
	}
	return report, false, nil
}
