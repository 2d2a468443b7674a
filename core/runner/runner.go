// Package runner orchestrates the reporting pipeline: resolve projects,
// drive the provider through the read-through cache, render and deliver.
// A batch run isolates projects from each other; one project's failure is
// logged and reported but never aborts the rest of the batch.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cloud-cost/core/budget"
	"cloud-cost/core/forecast"
	"cloud-cost/core/normalize"
	"cloud-cost/core/provider"
	"cloud-cost/core/report"
	"cloud-cost/core/store"
	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
	"cloud-cost/internal/logging"
	"cloud-cost/internal/notify"
)

// SelectorAll addresses every active project
const SelectorAll = "all"

// Config carries the business parameters the runner needs beyond the
// compute-unit transform
type Config struct {
	// FixedMonthlyOverhead is the flat monthly charge in compute units
	FixedMonthlyOverhead int64

	// DefaultDateLag is how many days behind today the default report
	// date sits, covering provider billing lag
	DefaultDateLag int

	// MaxAttempts bounds the provider retry loop
	MaxAttempts int
}

// Runner drives reporting runs against a store and a driver factory
type Runner struct {
	store     store.Store
	cache     *store.LogCache
	factory   *provider.Factory
	converter *normalize.Converter
	ledger    *budget.Ledger
	notifier  notify.Notifier
	cfg       Config
}

// New creates a runner
func New(st store.Store, factory *provider.Factory, converter *normalize.Converter, notifier notify.Notifier, cfg Config) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		store:     st,
		cache:     store.NewLogCache(st),
		factory:   factory,
		converter: converter,
		ledger:    budget.NewLedger(st),
		notifier:  notifier,
		cfg:       cfg,
	}
}

// DefaultDate is the most recent day the provider's billing data can be
// trusted for
func (r *Runner) DefaultDate() types.Date {
	return types.Today().AddDays(-r.cfg.DefaultDateLag)
}

// Options select per-run report behavior
type Options struct {
	Date           types.Date
	Rerun          bool
	Short          bool
	CustomerFacing bool
	Verbose        bool
}

// RunDaily produces and delivers daily snapshots for the selected projects
func (r *Runner) RunDaily(ctx context.Context, selector string, opts Options) error {
	log := runLogger("daily")
	return r.forEachProject(ctx, log, selector, func(project *types.Project) error {
		return r.dailyReport(ctx, log, project, opts)
	})
}

// RunWeekly produces and delivers weekly projections for the selected
// projects
func (r *Runner) RunWeekly(ctx context.Context, selector string, opts Options) error {
	log := runLogger("weekly")
	return r.forEachProject(ctx, log, selector, func(project *types.Project) error {
		return r.weeklyReport(ctx, log, project, opts)
	})
}

// RecordInstances records today's instance snapshot for the selected
// projects without rendering a report
func (r *Runner) RecordInstances(ctx context.Context, selector string, rerun bool) error {
	log := runLogger("instances")
	return r.forEachProject(ctx, log, selector, func(project *types.Project) error {
		driver, err := r.factory.ForProject(project)
		if err != nil {
			return err
		}
		logs, err := r.refreshSnapshot(ctx, project, driver, rerun)
		if err != nil {
			return err
		}
		log.Info("instance snapshot recorded",
			zap.String("project", project.Name),
			zap.Int("instances", len(logs)))
		return nil
	})
}

// RecordRange backfills cost and usage logs for one project over an
// inclusive date range, without rendering reports
func (r *Runner) RecordRange(ctx context.Context, name string, start, end types.Date, rerun bool) error {
	if end.Before(start) {
		return errors.Validation("end date must not be before start date")
	}
	if end.After(r.DefaultDate()) {
		return errors.Validationf("end date must not be after %s, billing data is incomplete beyond it", r.DefaultDate())
	}

	log := runLogger("record")
	return r.forEachProject(ctx, log, name, func(project *types.Project) error {
		driver, err := r.factory.ForProject(project)
		if err != nil {
			return err
		}
		for day := start; !day.After(end); day = day.AddDays(1) {
			if !project.Active(day) {
				continue
			}
			if _, err := r.recordDay(ctx, project, driver, day, rerun); err != nil {
				return err
			}
			log.Info("day recorded",
				zap.String("project", project.Name),
				zap.String("date", day.String()))
		}
		return nil
	})
}

// dayFigures is the recorded output for one (project, day)
type dayFigures struct {
	costs       map[types.Scope]*types.CostLog
	egress      *types.UsageLog
	usageHours  []types.UsageLog
	totalCached bool
}

// recordDay runs the full read-through pipeline for one day
func (r *Runner) recordDay(ctx context.Context, project *types.Project, driver provider.Driver, day types.Date, rerun bool) (*dayFigures, error) {
	rng := provider.SingleDay(day)
	now := time.Now()

	figures := &dayFigures{costs: make(map[types.Scope]*types.CostLog)}

	scopes := []types.Scope{
		types.ScopeCompute, types.ScopeCore, types.ScopeStorage,
		types.ScopeDataOut, types.ScopeTotal,
	}
	if driver.SupportsComputeGroups() {
		groups, err := r.store.ComputeGroups(ctx, project.ID)
		if err != nil {
			return nil, errors.Internal("unable to list compute groups", err)
		}
		for _, group := range groups {
			scopes = append(scopes, types.Scope(group))
		}
	}
	for _, scope := range scopes {
		scope := scope
		fetch := func(ctx context.Context) ([]types.CostLog, error) {
			var raws []provider.RawCost
			err := withRetry(ctx, fmt.Sprintf("fetch %s costs for %s", scope, project.Name),
				r.cfg.MaxAttempts, func(ctx context.Context) error {
					var ferr error
					raws, ferr = driver.FetchDailyCost(ctx, scope, rng)
					return ferr
				})
			if err != nil {
				return nil, err
			}
			return normalize.CostLogs(project.ID, raws, now), nil
		}
		costLog, cached, err := r.cache.GetOrFetchCost(ctx, project.ID, day, scope, rerun, fetch)
		if err != nil {
			return nil, err
		}
		figures.costs[scope] = costLog
		if scope == types.ScopeTotal {
			figures.totalCached = cached
		}
	}

	egressFetch := func(ctx context.Context) ([]types.UsageLog, error) {
		var raws []provider.RawCost
		err := withRetry(ctx, "fetch data egress for "+project.Name,
			r.cfg.MaxAttempts, func(ctx context.Context) error {
				var ferr error
				raws, ferr = driver.FetchDailyCost(ctx, types.ScopeDataOut, rng)
				return ferr
			})
		if err != nil {
			return nil, err
		}
		return normalize.DataOutUsage(project.ID, raws, now), nil
	}
	egress, _, err := r.cache.GetOrFetchUsage(ctx, project.ID, day, day.AddDays(1),
		types.DataOutDescription, types.ScopeProject, "GB", rerun, egressFetch)
	if err != nil {
		return nil, err
	}
	figures.egress = egress

	hoursFetch := func(ctx context.Context) ([]types.UsageLog, error) {
		var raws []provider.RawUsage
		err := withRetry(ctx, "fetch usage hours for "+project.Name,
			r.cfg.MaxAttempts, func(ctx context.Context) error {
				var ferr error
				raws, ferr = driver.FetchUsage(ctx, rng)
				return ferr
			})
		if err != nil {
			return nil, err
		}
		return normalize.UsageLogs(project.ID, raws, now), nil
	}
	figures.usageHours, _, err = r.cache.GetOrFetchUsageSet(ctx, project.ID,
		types.ScopeCompute, "hours", day, day.AddDays(1), rerun, hoursFetch)
	if err != nil {
		return nil, err
	}
	return figures, nil
}

func (r *Runner) dailyReport(ctx context.Context, log *zap.Logger, project *types.Project, opts Options) error {
	if err := validateReportDate(project, opts.Date); err != nil {
		return err
	}
	driver, err := r.factory.ForProject(project)
	if err != nil {
		return err
	}

	// the default date is recent enough that today's inventory still
	// describes it; historical dates keep whatever snapshot they have
	if opts.Date.Equal(r.DefaultDate()) {
		if _, err := r.refreshSnapshot(ctx, project, driver, opts.Rerun); err != nil {
			return err
		}
	}

	figures, err := r.recordDay(ctx, project, driver, opts.Date, opts.Rerun)
	if err != nil {
		return err
	}

	aliases, err := r.aliases(ctx)
	if err != nil {
		return err
	}
	instanceLogs, err := r.store.InstanceLogsOn(ctx, project.ID, opts.Date)
	if err != nil {
		return err
	}

	snapshot := &report.DailySnapshot{
		ProjectName:   project.Name,
		Date:          opts.Date,
		Currency:      driver.Currency(),
		Compute:       r.figure(figures.costs[types.ScopeCompute]),
		DataOut:       r.figure(figures.costs[types.ScopeDataOut]),
		Total:         r.figure(figures.costs[types.ScopeTotal]),
		DataOutAmount: figures.egress.Amount,
		Census:        normalize.InstanceCensus(instanceLogs, aliases, opts.CustomerFacing),
		UsageHours:    normalize.UsageBreakdown(figures.usageHours, aliases, opts.CustomerFacing),
		Cached:        figures.totalCached && !opts.Rerun,
		StaleWarning: report.StaleWarning(providerName(project.Provider),
			driver.DataLagDays(), opts.Date, types.Today()),
	}
	text := report.RenderDaily(snapshot, report.Options{
		Short:          opts.Short,
		CustomerFacing: opts.CustomerFacing,
	})

	log.Info("daily report rendered",
		zap.String("project", project.Name),
		zap.String("date", opts.Date.String()),
		zap.Bool("cached", snapshot.Cached))
	return r.notifier.Notify(ctx, project.SlackChannel, text)
}

func (r *Runner) weeklyReport(ctx context.Context, log *zap.Logger, project *types.Project, opts Options) error {
	if err := validateReportDate(project, opts.Date); err != nil {
		return err
	}
	driver, err := r.factory.ForProject(project)
	if err != nil {
		return err
	}
	prices := forecast.NewPriceCache(driver)

	render := func(ctx context.Context) (string, error) {
		return r.renderWeekly(ctx, project, driver, prices, opts)
	}
	rep, cached, err := r.cache.GetOrFetchWeeklyReport(ctx, project.ID, opts.Date, opts.Rerun, render)
	if err != nil {
		return err
	}

	text := rep.Content
	if cached {
		text = report.CachedPrefix + text
	}
	log.Info("weekly report rendered",
		zap.String("project", project.Name),
		zap.String("date", opts.Date.String()),
		zap.Bool("cached", cached))
	return r.notifier.Notify(ctx, project.SlackChannel, text)
}

// renderWeekly computes the month-to-date figures and the forward
// projection, then renders them. Month-to-date comes straight from the
// provider rather than the cache; summing partially-recorded days would
// silently understate the month.
func (r *Runner) renderWeekly(ctx context.Context, project *types.Project, driver provider.Driver, prices *forecast.PriceCache, opts Options) (string, error) {
	today := types.Today()
	date := opts.Date
	currency := driver.Currency()

	snapshot, err := r.refreshSnapshot(ctx, project, driver, opts.Rerun)
	if err != nil {
		return "", err
	}

	monthStart := date.FirstOfMonth()
	if project.StartDate.After(monthStart) {
		monthStart = project.StartDate
	}
	mtdRange := provider.DateRange{Start: monthStart, End: date.AddDays(1)}

	computeMTD, _, err := r.monthToDate(ctx, project, driver, types.ScopeCompute, mtdRange)
	if err != nil {
		return "", err
	}
	egressMTD, egressAmount, err := r.monthToDate(ctx, project, driver, types.ScopeDataOut, mtdRange)
	if err != nil {
		return "", err
	}
	totalMTD, _, err := r.monthToDate(ctx, project, driver, types.ScopeTotal, mtdRange)
	if err != nil {
		return "", err
	}

	dailyFuture, err := forecast.DailyBurnRate(ctx, snapshot, prices, r.converter, currency)
	if err != nil {
		return "", err
	}

	timeLag := date.DaysUntil(today)
	if timeLag < 0 {
		timeLag = 0
	}
	inBetween, err := r.inBetweenCosts(ctx, project, prices, currency, date, today)
	if err != nil {
		return "", err
	}

	budgetEntry, err := r.ledger.Current(ctx, project, date)
	if err != nil {
		return "", err
	}

	projection := forecast.Project(forecast.Input{
		Budget:               budgetEntry.Amount(),
		MonthToDate:          totalMTD,
		DailyFuture:          dailyFuture,
		FixedMonthlyOverhead: r.cfg.FixedMonthlyOverhead,
		InBetween:            inBetween,
		Today:                date,
	})

	aliases, err := r.aliases(ctx)
	if err != nil {
		return "", err
	}

	w := &report.WeeklyProjection{
		ProjectName:  project.Name,
		Date:         date,
		Budget:       budgetEntry,
		ComputeMTD:   computeMTD,
		EgressMTD:    egressMTD,
		TotalMTD:     totalMTD,
		EgressAmount: egressAmount,
		Census:       normalize.InstanceCensus(snapshot, aliases, opts.CustomerFacing),
		SnapshotTime: time.Now(),
		TimeLagDays:  timeLag,
		InBetween:    inBetween,
		Projection:   projection,
		StaleWarning: report.StaleWarning(providerName(project.Provider),
			driver.DataLagDays(), date, today),
	}
	return report.RenderWeekly(w), nil
}

// monthToDate sums a scope's cost over a range and converts it into
// risk-inflated compute units, also returning the summed usage quantity
func (r *Runner) monthToDate(ctx context.Context, project *types.Project, driver provider.Driver, scope types.Scope, rng provider.DateRange) (int64, decimal.Decimal, error) {
	var raws []provider.RawCost
	err := withRetry(ctx, fmt.Sprintf("fetch month-to-date %s costs for %s", scope, project.Name),
		r.cfg.MaxAttempts, func(ctx context.Context) error {
			var ferr error
			raws, ferr = driver.FetchDailyCost(ctx, scope, rng)
			return ferr
		})
	if err != nil {
		return 0, decimal.Zero, err
	}

	cost := decimal.Zero
	quantity := decimal.Zero
	for _, raw := range raws {
		cost = cost.Add(raw.Amount)
		quantity = quantity.Add(raw.Quantity)
	}
	return r.converter.BurnUnits(cost, driver.Currency()), quantity, nil
}

// inBetweenCosts estimates spend for the days after the report date but
// before today, from the instance snapshots recorded on those days
func (r *Runner) inBetweenCosts(ctx context.Context, project *types.Project, prices *forecast.PriceCache, currency string, date, today types.Date) (int64, error) {
	hourly := decimal.Zero
	days := int64(0)
	for day := date.AddDays(1); day.Before(today); day = day.AddDays(1) {
		days++
		logs, err := r.store.InstanceLogsOn(ctx, project.ID, day)
		if err != nil {
			return 0, err
		}
		for i := range logs {
			if !logs[i].Compute || !logs[i].Running() {
				continue
			}
			price, err := prices.HourlyPrice(ctx, logs[i].InstanceType, logs[i].Region)
			if err != nil {
				return 0, err
			}
			hourly = hourly.Add(price)
		}
	}
	if days == 0 {
		return 0, nil
	}

	spread := decimal.NewFromInt(r.cfg.FixedMonthlyOverhead).
		Div(decimal.NewFromInt(int64(date.DaysInMonth()))).Ceil().IntPart()
	burn := r.converter.BurnUnits(hourly.Mul(decimal.NewFromInt(24)), currency)
	return burn + spread*days, nil
}

func (r *Runner) refreshSnapshot(ctx context.Context, project *types.Project, driver provider.Driver, rerun bool) ([]types.InstanceLog, error) {
	now := time.Now()
	fetch := func(ctx context.Context) ([]types.InstanceLog, error) {
		var raws []provider.RawInstance
		err := withRetry(ctx, "fetch instance inventory for "+project.Name,
			r.cfg.MaxAttempts, func(ctx context.Context) error {
				var ferr error
				raws, ferr = driver.FetchInstanceInventory(ctx)
				return ferr
			})
		if err != nil {
			return nil, err
		}
		return normalize.InstanceLogs(project.ID, project.Provider, raws, now), nil
	}
	return r.cache.RefreshInstanceSnapshot(ctx, project.ID, types.DateOf(now), rerun, fetch)
}

func (r *Runner) aliases(ctx context.Context) (normalize.AliasTable, error) {
	mappings, err := r.store.InstanceMappings(ctx)
	if err != nil {
		return nil, err
	}
	return normalize.AliasTable(mappings), nil
}

func (r *Runner) figure(log *types.CostLog) report.Figure {
	return report.Figure{Cost: log.Cost, Units: r.converter.UnitsFor(log)}
}

// forEachProject resolves the selector and applies fn. A named selector
// propagates fn's error; the all-selector isolates failures per project
// and reports them in aggregate after every project has run.
func (r *Runner) forEachProject(ctx context.Context, log *zap.Logger, selector string, fn func(*types.Project) error) error {
	if selector != "" && selector != SelectorAll {
		project, err := r.store.ProjectByName(ctx, selector)
		if err != nil {
			return err
		}
		if project == nil {
			return errors.NotFound("project", selector)
		}
		return fn(project)
	}

	projects, err := r.store.AllProjects(ctx)
	if err != nil {
		return err
	}
	today := types.Today()

	var failures []string
	ran := 0
	for _, project := range projects {
		if !project.Active(today) {
			continue
		}
		ran++
		if err := fn(project); err != nil {
			log.Error("project run failed",
				zap.String("project", project.Name),
				zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", project.Name, err))
		}
	}

	if len(failures) > 0 {
		batchErr := errors.Newf(errors.TypeInternal,
			"%d of %d projects failed", len(failures), ran)
		for _, entry := range failures {
			batchErr = batchErr.WithDiagnostic(entry)
		}
		return batchErr
	}
	return nil
}

func validateReportDate(project *types.Project, date types.Date) error {
	if date.Before(project.StartDate) {
		return errors.Validationf("project %s: %s is before the project start date", project.Name, date)
	}
	if date.After(types.Today()) {
		return errors.Validationf("%s is in the future", date)
	}
	return nil
}

func providerName(p types.Provider) string {
	switch p {
	case types.ProviderAWS:
		return "AWS"
	case types.ProviderAzure:
		return "Azure"
	}
	return strings.ToUpper(p.String())
}

func runLogger(kind string) *zap.Logger {
	return logging.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("report", kind))
}
