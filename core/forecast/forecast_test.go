package forecast

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"cloud-cost/core/normalize"
	"cloud-cost/core/provider"
	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

// TestProject tests the forward projection arithmetic
func TestProject(t *testing.T) {
	aug10 := types.NewDate(2026, 8, 10) // August has 31 days

	tests := []struct {
		name             string
		in               Input
		totalFutureDaily int64
		remaining        int64
		exceeded         bool
		remainingDays    int64
		exhaustion       types.Date
		sufficient       bool
		excess           int64
	}{
		{
			name: "budget runs out mid-month",
			in: Input{
				Budget:               1000,
				MonthToDate:          400,
				DailyFuture:          30,
				FixedMonthlyOverhead: 5000,
				Today:                aug10,
			},
			// 5000 over 31 days spreads to 162
			totalFutureDaily: 192,
			remaining:        600,
			remainingDays:    3,
			exhaustion:       types.NewDate(2026, 8, 13),
			sufficient:       false,
			excess:           600 - 192*22,
		},
		{
			name: "budget lasts the month",
			in: Input{
				Budget:               10000,
				MonthToDate:          400,
				DailyFuture:          30,
				FixedMonthlyOverhead: 5000,
				Today:                aug10,
			},
			totalFutureDaily: 192,
			remaining:        9600,
			remainingDays:    50,
			exhaustion:       types.NewDate(2026, 9, 29),
			sufficient:       true,
			excess:           9600 - 192*22,
		},
		{
			name: "in-between spend narrows the remainder",
			in: Input{
				Budget:               1000,
				MonthToDate:          400,
				DailyFuture:          30,
				FixedMonthlyOverhead: 5000,
				InBetween:            400,
				Today:                aug10,
			},
			totalFutureDaily: 192,
			remaining:        200,
			remainingDays:    1,
			exhaustion:       types.NewDate(2026, 8, 11),
			sufficient:       false,
			excess:           200 - 192*22,
		},
		{
			name: "already exceeded short-circuits",
			in: Input{
				Budget:               300,
				MonthToDate:          400,
				DailyFuture:          0,
				FixedMonthlyOverhead: 0,
				Today:                aug10,
			},
			totalFutureDaily: 0,
			remaining:        -100,
			exceeded:         true,
			exhaustion:       aug10,
			excess:           -100,
		},
		{
			name: "nothing running and no overhead cannot run out",
			in: Input{
				Budget:      500,
				MonthToDate: 100,
				Today:       aug10,
			},
			totalFutureDaily: 0,
			remaining:        400,
			remainingDays:    22,
			exhaustion:       types.NewDate(2026, 9, 1),
			sufficient:       true,
			excess:           400,
		},
		{
			name: "exhaustion on the first of next month is sufficient",
			in: Input{
				Budget:      2200,
				MonthToDate: 0,
				DailyFuture: 100,
				Today:       aug10,
			},
			totalFutureDaily: 100,
			remaining:        2200,
			remainingDays:    22,
			exhaustion:       types.NewDate(2026, 9, 1),
			sufficient:       true,
			excess:           0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Project(tt.in)
			if p.TotalFutureDaily != tt.totalFutureDaily {
				t.Errorf("TotalFutureDaily = %d, want %d", p.TotalFutureDaily, tt.totalFutureDaily)
			}
			if p.Remaining != tt.remaining {
				t.Errorf("Remaining = %d, want %d", p.Remaining, tt.remaining)
			}
			if p.Exceeded != tt.exceeded {
				t.Errorf("Exceeded = %v, want %v", p.Exceeded, tt.exceeded)
			}
			if p.RemainingDays != tt.remainingDays {
				t.Errorf("RemainingDays = %d, want %d", p.RemainingDays, tt.remainingDays)
			}
			if !p.ExhaustionDate.Equal(tt.exhaustion) {
				t.Errorf("ExhaustionDate = %s, want %s", p.ExhaustionDate, tt.exhaustion)
			}
			if p.Sufficient != tt.sufficient {
				t.Errorf("Sufficient = %v, want %v", p.Sufficient, tt.sufficient)
			}
			if p.ExcessAtMonthEnd != tt.excess {
				t.Errorf("ExcessAtMonthEnd = %d, want %d", p.ExcessAtMonthEnd, tt.excess)
			}
		})
	}
}

type priceDriver struct {
	provider.Driver
	calls  int
	prices map[string]decimal.Decimal
}

func (d *priceDriver) FetchUnitPrice(ctx context.Context, instanceType, region string) (decimal.Decimal, error) {
	d.calls++
	price, ok := d.prices[instanceType+"/"+region]
	if !ok {
		return decimal.Zero, errors.NotFound("price", instanceType)
	}
	return price, nil
}

// TestPriceCache tests per-run memoization
func TestPriceCache(t *testing.T) {
	ctx := context.Background()
	driver := &priceDriver{prices: map[string]decimal.Decimal{
		"m5.large/eu-west-2": decimal.NewFromFloat(0.111),
	}}
	cache := NewPriceCache(driver)

	for i := 0; i < 3; i++ {
		price, err := cache.HourlyPrice(ctx, "m5.large", "eu-west-2")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if !price.Equal(decimal.NewFromFloat(0.111)) {
			t.Errorf("price = %s", price)
		}
	}
	if driver.calls != 1 {
		t.Errorf("driver invoked %d times, want 1", driver.calls)
	}

	// errors are not cached
	if _, err := cache.HourlyPrice(ctx, "t3.micro", "eu-west-2"); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := cache.HourlyPrice(ctx, "t3.micro", "eu-west-2"); err == nil {
		t.Error("expected error on repeat lookup")
	}
	if driver.calls != 3 {
		t.Errorf("driver invoked %d times, want 3", driver.calls)
	}
}

// TestDailyBurnRate tests snapshot pricing
func TestDailyBurnRate(t *testing.T) {
	ctx := context.Background()
	converter := normalize.NewConverter(normalize.Params{
		CanonicalCurrency: "GBP",
		ExchangeRates:     map[string]decimal.Decimal{"USD": decimal.NewFromFloat(0.77)},
		FlatMultiplier:    decimal.NewFromInt(10),
		RiskMultiplier:    decimal.NewFromFloat(1.25),
		CreditDivisor:     decimal.NewFromInt(2300),
	})

	snapshot := []types.InstanceLog{
		{InstanceType: "m5.large", Region: "eu-west-2", Status: "running", Compute: true},
		{InstanceType: "m5.large", Region: "eu-west-2", Status: "stopped", Compute: true},
		{InstanceType: "r5.large", Region: "eu-west-2", Status: "running", Compute: false},
	}

	t.Run("only running compute instances are priced", func(t *testing.T) {
		driver := &priceDriver{prices: map[string]decimal.Decimal{
			"m5.large/eu-west-2": decimal.NewFromFloat(0.1),
		}}
		got, err := DailyBurnRate(ctx, snapshot, NewPriceCache(driver), converter, "USD")
		if err != nil {
			t.Fatalf("DailyBurnRate: %v", err)
		}
		// 0.1 x 24h = 2.4 USD; x0.77 x10 x1.25 = 23.1, rounded up
		if got != 24 {
			t.Errorf("burn rate = %d, want 24", got)
		}
	})

	t.Run("missing price for a running instance fails", func(t *testing.T) {
		driver := &priceDriver{prices: map[string]decimal.Decimal{}}
		_, err := DailyBurnRate(ctx, snapshot, NewPriceCache(driver), converter, "USD")
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.IsType(err, errors.TypeNotFound) {
			t.Errorf("error type = %v, want not found", err)
		}
	})

	t.Run("empty snapshot burns nothing", func(t *testing.T) {
		driver := &priceDriver{prices: map[string]decimal.Decimal{}}
		got, err := DailyBurnRate(ctx, nil, NewPriceCache(driver), converter, "USD")
		if err != nil {
			t.Fatalf("DailyBurnRate: %v", err)
		}
		if got != 0 {
			t.Errorf("burn rate = %d, want 0", got)
		}
	})
}
