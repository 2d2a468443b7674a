// Package forecast projects a project's spend forward from its latest
// instance snapshot and answers whether the governing budget outlasts the
// current month. The projection itself is a pure calculation; prices are
// resolved up front through a per-run cache so a batch re-prices each
// (type, region) pair at most once.
package forecast

import (
	"context"

	"github.com/shopspring/decimal"

	"cloud-cost/core/normalize"
	"cloud-cost/core/provider"
	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

type priceKey struct {
	instanceType string
	region       string
}

// PriceCache memoizes unit price lookups for the duration of one run.
// Lookups are not persisted; prices drift and a fresh run should see
// fresh figures.
type PriceCache struct {
	driver provider.Driver
	prices map[priceKey]decimal.Decimal
}

// NewPriceCache creates a price cache over a provider driver
func NewPriceCache(driver provider.Driver) *PriceCache {
	return &PriceCache{
		driver: driver,
		prices: make(map[priceKey]decimal.Decimal),
	}
}

// HourlyPrice returns the hourly price for an instance type in a region,
// in the driver's native currency
func (c *PriceCache) HourlyPrice(ctx context.Context, instanceType, region string) (decimal.Decimal, error) {
	key := priceKey{instanceType, region}
	if price, ok := c.prices[key]; ok {
		return price, nil
	}
	price, err := c.driver.FetchUnitPrice(ctx, instanceType, region)
	if err != nil {
		return decimal.Zero, err
	}
	c.prices[key] = price
	return price, nil
}

// DailyBurnRate prices one day of the snapshot's running compute
// instances, in risk-inflated compute units. A missing price for a running
// compute instance fails the projection; a silent zero would understate
// the burn rate.
func DailyBurnRate(ctx context.Context, snapshot []types.InstanceLog, prices *PriceCache, converter *normalize.Converter, currency string) (int64, error) {
	total := decimal.Zero
	for i := range snapshot {
		log := &snapshot[i]
		if !log.Compute || !log.Running() {
			continue
		}
		price, err := prices.HourlyPrice(ctx, log.InstanceType, log.Region)
		if err != nil {
			if errors.IsType(err, errors.TypeNotFound) {
				return 0, errors.NotFound("unit price",
					log.InstanceType+" in "+log.Region)
			}
			return 0, err
		}
		total = total.Add(price.Mul(decimal.NewFromInt(24)))
	}
	return converter.BurnUnits(total, currency), nil
}

// Input is everything the projection needs, all in compute units
type Input struct {
	// Budget is the governing budget amount for the month
	Budget int64

	// MonthToDate is the recorded spend so far this month
	MonthToDate int64

	// DailyFuture is the projected daily burn from running instances
	DailyFuture int64

	// FixedMonthlyOverhead is the flat monthly charge spread over the month
	FixedMonthlyOverhead int64

	// InBetween estimates spend for days after the latest billing data but
	// before today; it narrows the remaining budget before the day count
	InBetween int64

	// Today anchors the month and the exhaustion date
	Today types.Date
}

// Projection is the result of one forward projection
type Projection struct {
	// DailyFuture echoes the instance-driven daily burn
	DailyFuture int64

	// TotalFutureDaily adds the spread fixed overhead
	TotalFutureDaily int64

	// Remaining is budget minus recorded and in-between spend; negative
	// when the budget is already exceeded
	Remaining int64

	// Exceeded is set when the budget is already spent
	Exceeded bool

	// RemainingDays is how many whole days the remaining budget covers
	RemainingDays int64

	// ExhaustionDate is the first day the budget no longer covers
	ExhaustionDate types.Date

	// Sufficient reports whether the budget lasts to the end of the month
	Sufficient bool

	// ExcessAtMonthEnd is what would be left over (negative: short) if
	// spend continues at the projected rate until the month ends
	ExcessAtMonthEnd int64
}

// Project runs the forward projection. It is a pure function of its input.
func Project(in Input) Projection {
	daysInMonth := decimal.NewFromInt(int64(in.Today.DaysInMonth()))
	spreadOverhead := decimal.NewFromInt(in.FixedMonthlyOverhead).
		Div(daysInMonth).Ceil().IntPart()

	p := Projection{
		DailyFuture:      in.DailyFuture,
		TotalFutureDaily: in.DailyFuture + spreadOverhead,
		Remaining:        in.Budget - in.MonthToDate - in.InBetween,
	}

	daysLeft := int64(in.Today.DaysUntil(in.Today.FirstOfNextMonth()))
	p.ExcessAtMonthEnd = p.Remaining - p.TotalFutureDaily*daysLeft

	if p.Remaining < 0 {
		p.Exceeded = true
		p.ExhaustionDate = in.Today
		return p
	}

	if p.TotalFutureDaily <= 0 {
		// nothing running and no overhead; the budget cannot run out
		p.RemainingDays = daysLeft
		p.ExhaustionDate = in.Today.FirstOfNextMonth()
		p.Sufficient = true
		return p
	}

	p.RemainingDays = p.Remaining / p.TotalFutureDaily
	p.ExhaustionDate = in.Today.AddDays(int(p.RemainingDays))
	p.Sufficient = !p.ExhaustionDate.Before(in.Today.FirstOfNextMonth())
	return p
}
