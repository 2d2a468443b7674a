package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

type recordingAzure struct {
	usageFilter   string
	details       []UsageDetail
	vms           []VirtualMachine
	statuses      []AvailabilityStatus
	meters        []Meter
	rateCardCalls int
}

func (a *recordingAzure) UsageDetails(ctx context.Context, cfg *types.AzureConfig, filter string) ([]UsageDetail, error) {
	a.usageFilter = filter
	return a.details, nil
}

func (a *recordingAzure) VirtualMachines(ctx context.Context, cfg *types.AzureConfig) ([]VirtualMachine, error) {
	return a.vms, nil
}

func (a *recordingAzure) AvailabilityStatuses(ctx context.Context, cfg *types.AzureConfig, filter string) ([]AvailabilityStatus, error) {
	return a.statuses, nil
}

func (a *recordingAzure) RateCard(ctx context.Context, cfg *types.AzureConfig, filter string) ([]Meter, error) {
	a.rateCardCalls++
	return a.meters, nil
}

type staticNames []string

func (n staticNames) ComputeNames(ctx context.Context, projectID int64, month types.Date) ([]string, error) {
	return n, nil
}

func testAzureProject() *types.Project {
	return &types.Project{
		ID:           2,
		Name:         "hermes",
		Provider:     types.ProviderAzure,
		StartDate:    types.NewDate(2026, 1, 1),
		SlackChannel: "#hermes",
		Azure: &types.AzureConfig{
			TenantID:       "tenant",
			ClientID:       "client",
			ClientSecret:   "secret",
			SubscriptionID: "sub",
			ResourceGroups: []string{"hermes-rg"},
		},
	}
}

func ukSouthRegions() RegionNames {
	return RegionNames{"uksouth": "UK South"}
}

// TestAzureScopeClassification tests driver-side cost classification
func TestAzureScopeClassification(t *testing.T) {
	ctx := context.Background()
	rng := SingleDay(types.NewDate(2026, 8, 10))

	details := []UsageDetail{
		{ResourceName: "node1", Date: "2026-08-10", Cost: decimal.NewFromInt(5)},
		{ResourceName: "node2", Date: "2026-08-10T00:00:00Z", Cost: decimal.NewFromInt(3)},
		{ResourceName: "db", Date: "2026-08-10", Cost: decimal.NewFromInt(2)},
		{
			ResourceName:   "egress",
			Date:           "2026-08-10",
			Cost:           decimal.NewFromInt(1),
			Quantity:       decimal.NewFromFloat(2.5),
			AdditionalInfo: `{"UsageResourceKind":"DataTrOut"}`,
		},
	}

	newDriver := func(api *recordingAzure) Driver {
		return NewAzureDriver(testAzureProject(), api, staticNames{"node1", "node2"}, ukSouthRegions())
	}

	t.Run("total sums every row", func(t *testing.T) {
		api := &recordingAzure{details: details}
		costs, err := newDriver(api).FetchDailyCost(ctx, types.ScopeTotal, rng)
		if err != nil {
			t.Fatalf("FetchDailyCost: %v", err)
		}
		if len(costs) != 1 || !costs[0].Amount.Equal(decimal.NewFromInt(11)) {
			t.Errorf("total = %+v", costs)
		}
		if costs[0].Currency != "GBP" {
			t.Errorf("currency = %s", costs[0].Currency)
		}
	})

	t.Run("compute sums only recorded node names", func(t *testing.T) {
		api := &recordingAzure{details: details}
		costs, err := newDriver(api).FetchDailyCost(ctx, types.ScopeCompute, rng)
		if err != nil {
			t.Fatalf("FetchDailyCost: %v", err)
		}
		// node2's timestamped date still lands on the day
		if len(costs) != 1 || !costs[0].Amount.Equal(decimal.NewFromInt(8)) {
			t.Errorf("compute = %+v", costs)
		}
	})

	t.Run("data egress picks rows by resource kind", func(t *testing.T) {
		api := &recordingAzure{details: details}
		costs, err := newDriver(api).FetchDailyCost(ctx, types.ScopeDataOut, rng)
		if err != nil {
			t.Fatalf("FetchDailyCost: %v", err)
		}
		if len(costs) != 1 || !costs[0].Amount.Equal(decimal.NewFromInt(1)) {
			t.Errorf("egress = %+v", costs)
		}
		if !costs[0].Quantity.Equal(decimal.NewFromFloat(2.5)) || costs[0].Unit != "GB" {
			t.Errorf("quantity = %s %s", costs[0].Quantity, costs[0].Unit)
		}
	})

	t.Run("unattributable scopes report zero rows per day", func(t *testing.T) {
		api := &recordingAzure{details: details}
		costs, err := newDriver(api).FetchDailyCost(ctx, types.ScopeStorage, rng)
		if err != nil {
			t.Fatalf("FetchDailyCost: %v", err)
		}
		if len(costs) != 1 || !costs[0].Amount.IsZero() {
			t.Errorf("storage = %+v", costs)
		}
	})

	t.Run("days without rows still appear with zero cost", func(t *testing.T) {
		api := &recordingAzure{details: details}
		week := DateRange{Start: types.NewDate(2026, 8, 9), End: types.NewDate(2026, 8, 12)}
		costs, err := newDriver(api).FetchDailyCost(ctx, types.ScopeTotal, week)
		if err != nil {
			t.Fatalf("FetchDailyCost: %v", err)
		}
		if len(costs) != 3 {
			t.Fatalf("rows = %d, want 3", len(costs))
		}
		if !costs[0].Amount.IsZero() || !costs[2].Amount.IsZero() {
			t.Errorf("empty days carry cost: %+v", costs)
		}
	})

	t.Run("filter scopes dates and resource groups", func(t *testing.T) {
		api := &recordingAzure{details: details}
		if _, err := newDriver(api).FetchDailyCost(ctx, types.ScopeTotal, rng); err != nil {
			t.Fatalf("FetchDailyCost: %v", err)
		}
		for _, want := range []string{
			"properties/usageStart ge '2026-08-10'",
			"properties/usageEnd le '2026-08-10'",
			"properties/resourceGroup eq 'hermes-rg'",
		} {
			if !strings.Contains(api.usageFilter, want) {
				t.Errorf("filter %q missing %q", api.usageFilter, want)
			}
		}
	})
}

// TestAzureFetchInstanceInventory tests VM scoping and status merging
func TestAzureFetchInstanceInventory(t *testing.T) {
	api := &recordingAzure{
		vms: []VirtualMachine{
			{
				ID:       "/subscriptions/sub/resourceGroups/hermes-rg/providers/Microsoft.Compute/virtualMachines/node1",
				Name:     "node1",
				Location: "uksouth",
				VMSize:   "Standard_D4s_v3",
				Tags:     map[string]string{"type": "compute"},
			},
			{
				ID:       "/subscriptions/sub/resourceGroups/other-rg/providers/Microsoft.Compute/virtualMachines/stranger",
				Name:     "stranger",
				Location: "uksouth",
				VMSize:   "Standard_D2s_v3",
			},
		},
		statuses: []AvailabilityStatus{
			{
				ResourceID:        "/subscriptions/sub/resourceGroups/hermes-rg/providers/Microsoft.Compute/virtualMachines/node1/providers/Microsoft.ResourceHealth/availabilityStatuses/current",
				AvailabilityState: "Available",
			},
			{
				ResourceID:        "/subscriptions/sub/resourceGroups/other-rg/providers/Microsoft.Compute/virtualMachines/stranger/providers/Microsoft.ResourceHealth/availabilityStatuses/current",
				AvailabilityState: "Available",
			},
		},
	}
	driver := NewAzureDriver(testAzureProject(), api, staticNames{}, ukSouthRegions())

	inventory, err := driver.FetchInstanceInventory(context.Background())
	if err != nil {
		t.Fatalf("FetchInstanceInventory: %v", err)
	}
	if len(inventory) != 1 {
		t.Fatalf("inventory = %d rows, want only the in-group VM", len(inventory))
	}
	got := inventory[0]
	if got.Name != "node1" || got.InstanceType != "Standard_D4s_v3" || got.Status != "Available" {
		t.Errorf("inventory row = %+v", got)
	}
	if !got.Compute {
		t.Error("compute tag not carried over")
	}
}

// TestAzureFetchUnitPrice tests rate card meter selection
func TestAzureFetchUnitPrice(t *testing.T) {
	ctx := context.Background()
	meters := []Meter{
		{MeterName: "D4s v3", MeterCategory: "Virtual Machines", MeterRegion: "UK South", Rate: decimal.NewFromFloat(0.19), EffectiveDate: "2026-01-01"},
		{MeterName: "D4s v3", MeterCategory: "Virtual Machines", MeterRegion: "UK South", Rate: decimal.NewFromFloat(0.21), EffectiveDate: "2026-06-01"},
		{MeterName: "D4s v3 Low Priority", MeterCategory: "Virtual Machines", MeterRegion: "UK South", Rate: decimal.NewFromFloat(0.04), EffectiveDate: "2026-06-01"},
		{MeterName: "D4s v3", MeterCategory: "Virtual Machines", MeterRegion: "UK West", Rate: decimal.NewFromFloat(0.18), EffectiveDate: "2026-06-01"},
	}

	t.Run("latest full-price meter in the region wins", func(t *testing.T) {
		api := &recordingAzure{meters: meters}
		driver := NewAzureDriver(testAzureProject(), api, staticNames{}, ukSouthRegions())

		price, err := driver.FetchUnitPrice(ctx, "Standard_D4s_v3", "uksouth")
		if err != nil {
			t.Fatalf("FetchUnitPrice: %v", err)
		}
		if !price.Equal(decimal.NewFromFloat(0.21)) {
			t.Errorf("price = %s, want the latest effective rate", price)
		}
	})

	t.Run("unmapped region is not found", func(t *testing.T) {
		api := &recordingAzure{meters: meters}
		driver := NewAzureDriver(testAzureProject(), api, staticNames{}, ukSouthRegions())
		_, err := driver.FetchUnitPrice(ctx, "Standard_D4s_v3", "australiaeast")
		if !errors.IsType(err, errors.TypeNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
		if api.rateCardCalls != 0 {
			t.Error("rate card queried for an unmapped region")
		}
	})

	t.Run("no matching meter is not found", func(t *testing.T) {
		api := &recordingAzure{meters: meters}
		driver := NewAzureDriver(testAzureProject(), api, staticNames{}, ukSouthRegions())
		_, err := driver.FetchUnitPrice(ctx, "Standard_E8s_v3", "uksouth")
		if !errors.IsType(err, errors.TypeNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})
}
