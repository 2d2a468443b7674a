// Package cmd - shared command wiring
package cmd

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"cloud-cost/core/normalize"
	"cloud-cost/core/provider"
	"cloud-cost/core/runner"
	"cloud-cost/core/store"
	"cloud-cost/core/types"
	"cloud-cost/internal/cloud"
	"cloud-cost/internal/config"
	"cloud-cost/internal/errors"
	"cloud-cost/internal/logging"
	"cloud-cost/internal/notify"
)

// storeNameResolver backs the Azure driver's compute-name lookups with the
// recorded instance logs
type storeNameResolver struct {
	store store.Store
}

func (r storeNameResolver) ComputeNames(ctx context.Context, projectID int64, month types.Date) ([]string, error) {
	return r.store.ComputeNamesInMonth(ctx, projectID, month)
}

// buildRunner assembles the full pipeline from the global config. The
// returned closer releases the store.
func buildRunner(slack, text bool) (*runner.Runner, func(), error) {
	cfg := config.Get()

	st, err := store.OpenSQLite(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, errors.Config("failed to open database at "+cfg.Store.DatabasePath, err)
	}
	closer := func() {
		if err := st.Close(); err != nil {
			logging.Warn("failed to close store", zap.Error(err))
		}
	}

	factory := provider.NewFactory(
		cloud.NewAWSClient(),
		cloud.NewAzureClient("", ""),
		storeNameResolver{store: st},
		loadRegions(cfg.Store.RegionNamesDir, "aws_regions.yaml"),
		loadRegions(cfg.Store.RegionNamesDir, "azure_regions.yaml"),
	)

	converter := normalize.NewConverter(normalize.Params{
		CanonicalCurrency: cfg.Billing.CanonicalCurrency,
		ExchangeRates:     cfg.Billing.ExchangeRates,
		FlatMultiplier:    cfg.Billing.FlatMultiplier,
		RiskMultiplier:    cfg.Billing.RiskMultiplier,
		CreditDivisor:     cfg.Billing.CreditDivisor,
	})

	// with neither destination selected, reports go everywhere
	if !slack && !text {
		slack = true
		text = true
	}
	var destinations notify.Fanout
	if slack {
		destinations = append(destinations,
			notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.APIURL))
	}
	if text {
		destinations = append(destinations, notify.NewTextNotifier(nil))
	}

	r := runner.New(st, factory, converter, destinations, runner.Config{
		FixedMonthlyOverhead: cfg.Billing.FixedMonthlyOverhead,
		DefaultDateLag:       cfg.Billing.DataLagDays,
	})
	return r, closer, nil
}

func loadRegions(dir, file string) provider.RegionNames {
	path := filepath.Join(dir, file)
	names, err := provider.LoadRegionNames(path)
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			logging.Warn("failed to load region names", zap.String("path", path), zap.Error(err))
		}
		return provider.RegionNames{}
	}
	return names
}

// parseReportDate resolves a date argument. Both an absent argument and
// the word "latest" select the most recent reliable day.
func parseReportDate(arg string, fallback types.Date) (types.Date, error) {
	if arg == "" || arg == "latest" {
		return fallback, nil
	}
	date, err := types.ParseDate(arg)
	if err != nil {
		return types.Date{}, errors.Validationf("%q is not a valid date, expected YYYY-MM-DD", arg)
	}
	return date, nil
}

// selectorArg pulls the project selector out of the positional args,
// defaulting to every active project
func selectorArg(args []string) string {
	if len(args) == 0 {
		return runner.SelectorAll
	}
	return args[0]
}
