// Package store provides keyed persistence for projects, budgets and the
// canonical cost/usage/instance/report logs, plus the read-through cache
// the batch pipeline works against.
package store

import (
	"context"

	"cloud-cost/core/types"
)

// Store is the persistence contract. Lookups for a single record return
// (nil, nil) on a miss; Save operations upsert by the record's natural key
// so a key can never hold two rows.
type Store interface {
	// AllProjects returns every project, active or not
	AllProjects(ctx context.Context) ([]*types.Project, error)

	// ProjectByName returns the named project, or (nil, nil) if unknown
	ProjectByName(ctx context.Context, name string) (*types.Project, error)

	// SaveProject inserts or updates a project by name
	SaveProject(ctx context.Context, project *types.Project) error

	// CostLog returns the row for (project, date, scope), or (nil, nil)
	CostLog(ctx context.Context, projectID int64, date types.Date, scope types.Scope) (*types.CostLog, error)

	// SaveCostLog upserts a cost log by (project, date, scope)
	SaveCostLog(ctx context.Context, log *types.CostLog) error

	// UsageLog returns the row for the full usage key, or (nil, nil)
	UsageLog(ctx context.Context, projectID int64, start, end types.Date, description string, scope types.Scope, unit string) (*types.UsageLog, error)

	// UsageLogs returns all rows for (project, scope, unit) within [start, end)
	UsageLogs(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date) ([]types.UsageLog, error)

	// SaveUsageLog upserts a usage log by its full key
	SaveUsageLog(ctx context.Context, log *types.UsageLog) error

	// DeleteUsageLogs removes all rows for (project, scope, unit) within [start, end)
	DeleteUsageLogs(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date) error

	// InstanceLogsOn returns the instance snapshot recorded on a day
	InstanceLogsOn(ctx context.Context, projectID int64, date types.Date) ([]types.InstanceLog, error)

	// SaveInstanceLogs appends snapshot rows
	SaveInstanceLogs(ctx context.Context, logs []types.InstanceLog) error

	// DeleteInstanceLogsOn clears a day's snapshot ahead of a rerun
	DeleteInstanceLogsOn(ctx context.Context, projectID int64, date types.Date) error

	// ComputeNamesInMonth lists distinct compute node names recorded in
	// the month containing the given date
	ComputeNamesInMonth(ctx context.Context, projectID int64, month types.Date) ([]string, error)

	// ComputeGroups lists the distinct named compute groups ever recorded
	// in a project's instance snapshots
	ComputeGroups(ctx context.Context, projectID int64) ([]string, error)

	// WeeklyReport returns the cached report for (project, date), or (nil, nil)
	WeeklyReport(ctx context.Context, projectID int64, date types.Date) (*types.WeeklyReportLog, error)

	// SaveWeeklyReport upserts a weekly report by (project, date)
	SaveWeeklyReport(ctx context.Context, report *types.WeeklyReportLog) error

	// Budgets returns a project's budgets ordered by effective date then
	// creation time, both ascending
	Budgets(ctx context.Context, projectID int64) ([]types.Budget, error)

	// AddBudget appends a budget entry
	AddBudget(ctx context.Context, budget *types.Budget) error

	// InstanceMappings returns the instance-type alias table
	InstanceMappings(ctx context.Context) (map[string]string, error)

	// SaveInstanceMapping upserts an alias by instance type
	SaveInstanceMapping(ctx context.Context, mapping *types.InstanceMapping) error

	// Close releases the backing resources
	Close() error
}
