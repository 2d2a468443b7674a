// Package provider - Azure driver
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

// UsageDetail is one Consumption usageDetails row
type UsageDetail struct {
	ResourceName   string          `json:"resourceName"`
	ResourceGroup  string          `json:"resourceGroup"`
	Date           string          `json:"date"`
	Cost           decimal.Decimal `json:"cost"`
	Quantity       decimal.Decimal `json:"quantity"`
	AdditionalInfo string          `json:"additionalInfo"`
}

// VirtualMachine is one Compute virtualMachines row
type VirtualMachine struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Location      string            `json:"location"`
	VMSize        string            `json:"vmSize"`
	ResourceGroup string            `json:"resourceGroup"`
	Tags          map[string]string `json:"tags"`
}

// AvailabilityStatus is one ResourceHealth availabilityStatuses row
type AvailabilityStatus struct {
	ResourceID        string `json:"resourceId"`
	ResourceGroup     string `json:"resourceGroup"`
	AvailabilityState string `json:"availabilityState"`
}

// Meter is one RateCard meter entry
type Meter struct {
	MeterName     string          `json:"MeterName"`
	MeterCategory string          `json:"MeterCategory"`
	MeterRegion   string          `json:"MeterRegion"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate string          `json:"EffectiveDate"`
}

// AzureAPI is the wire client the Azure driver delegates execution to.
// Implementations are responsible for bearer-token acquisition and refresh.
type AzureAPI interface {
	UsageDetails(ctx context.Context, cfg *types.AzureConfig, filter string) ([]UsageDetail, error)
	VirtualMachines(ctx context.Context, cfg *types.AzureConfig) ([]VirtualMachine, error)
	AvailabilityStatuses(ctx context.Context, cfg *types.AzureConfig, filter string) ([]AvailabilityStatus, error)
	RateCard(ctx context.Context, cfg *types.AzureConfig, filter string) ([]Meter, error)
}

// azureDriver queries the Azure management APIs for one project. Scope
// classification happens driver-side: one usageDetails query serves the
// total, compute and data-out scopes.
type azureDriver struct {
	project *types.Project
	api     AzureAPI
	names   ComputeNameResolver
	regions RegionNames
}

// NewAzureDriver creates the Azure driver variant
func NewAzureDriver(project *types.Project, api AzureAPI, names ComputeNameResolver, regions RegionNames) Driver {
	return &azureDriver{project: project, api: api, names: names, regions: regions}
}

func (d *azureDriver) Currency() string { return "GBP" }

// Azure consumption data takes roughly 72 hours to settle
func (d *azureDriver) DataLagDays() int { return 3 }

// Azure consumption rows cannot be filtered by compute-group tag
func (d *azureDriver) SupportsComputeGroups() bool { return false }

func (d *azureDriver) FetchDailyCost(ctx context.Context, scope types.Scope, rng DateRange) ([]RawCost, error) {
	details, err := d.api.UsageDetails(ctx, d.project.Azure, d.usageDetailsFilter(rng))
	if err != nil {
		return nil, wrapAPIError(err, "unable to determine %s costs for project %s", scope, d.project.Name)
	}

	switch scope {
	case types.ScopeTotal:
		return d.sumByDay(details, scope, rng, nil)
	case types.ScopeDataOut:
		return d.sumByDay(details, scope, rng, isDataOut)
	case types.ScopeCompute:
		names, err := d.names.ComputeNames(ctx, d.project.ID, rng.Start)
		if err != nil {
			return nil, errors.Internal("unable to resolve compute node names", err)
		}
		nameSet := make(map[string]bool, len(names))
		for _, name := range names {
			nameSet[name] = true
		}
		return d.sumByDay(details, scope, rng, func(row UsageDetail) bool {
			return nameSet[row.ResourceName]
		})
	case types.ScopeCore, types.ScopeStorage:
		// Azure consumption rows carry no core/storage attribution
		return d.sumByDay(details, scope, rng, func(UsageDetail) bool { return false })
	}
	return nil, errors.Validationf("project %s: unsupported scope %q for azure", d.project.Name, scope)
}

// sumByDay aggregates matching rows into one RawCost per day of the range
func (d *azureDriver) sumByDay(details []UsageDetail, scope types.Scope, rng DateRange, match func(UsageDetail) bool) ([]RawCost, error) {
	byDay := make(map[string]*RawCost)
	var costs []RawCost
	for day := rng.Start; day.Before(rng.End); day = day.AddDays(1) {
		costs = append(costs, RawCost{
			Date:     day,
			Scope:    scope,
			Amount:   decimal.Zero,
			Currency: d.Currency(),
		})
		byDay[day.String()] = &costs[len(costs)-1]
	}

	for _, row := range details {
		if match != nil && !match(row) {
			continue
		}
		date, err := types.ParseDate(row.Date)
		if err != nil {
			// consumption rows may carry full timestamps
			if len(row.Date) >= len(types.DateLayout) {
				date, err = types.ParseDate(row.Date[:len(types.DateLayout)])
			}
			if err != nil {
				continue
			}
		}
		raw, ok := byDay[date.String()]
		if !ok {
			continue
		}
		raw.Amount = raw.Amount.Add(row.Cost)
		if scope == types.ScopeDataOut {
			raw.Quantity = raw.Quantity.Add(row.Quantity)
			raw.Unit = "GB"
		}
	}
	return costs, nil
}

// FetchUsage reports nothing: the consumption API does not break compute
// hours down by instance type the way Cost Explorer does
func (d *azureDriver) FetchUsage(ctx context.Context, rng DateRange) ([]RawUsage, error) {
	return nil, nil
}

func (d *azureDriver) FetchInstanceInventory(ctx context.Context) ([]RawInstance, error) {
	vms, err := d.api.VirtualMachines(ctx, d.project.Azure)
	if err != nil {
		return nil, wrapAPIError(err, "error querying compute nodes for project %s", d.project.Name)
	}

	inScope := make(map[string]VirtualMachine)
	for _, vm := range vms {
		if d.inResourceGroups(resourceGroupOf(vm.ID)) {
			inScope[vm.Name] = vm
		}
	}

	statuses, err := d.api.AvailabilityStatuses(ctx, d.project.Azure,
		"resourceType eq 'Microsoft.Compute/virtualMachines'")
	if err != nil {
		return nil, wrapAPIError(err, "error querying node status for project %s", d.project.Name)
	}

	var inventory []RawInstance
	for _, status := range statuses {
		name := vmNameFromID(status.ResourceID)
		vm, ok := inScope[name]
		if !ok {
			continue
		}
		inventory = append(inventory, RawInstance{
			InstanceID:   vm.ID,
			Name:         name,
			InstanceType: vm.VMSize,
			Region:       vm.Location,
			Status:       status.AvailabilityState,
			Compute:      vm.Tags["type"] == "compute",
			ComputeGroup: vm.Tags["compute_group"],
		})
	}
	return inventory, nil
}

func (d *azureDriver) FetchUnitPrice(ctx context.Context, instanceType, region string) (decimal.Decimal, error) {
	meterRegion, err := d.regions.Resolve(region)
	if err != nil {
		return decimal.Zero, err
	}
	filter := "OfferDurableId eq 'MS-AZR-0003P' and Currency eq 'GBP' and Locale eq 'en-GB' and RegionInfo eq 'GB'"
	meters, err := d.api.RateCard(ctx, d.project.Azure, filter)
	if err != nil {
		return decimal.Zero, wrapAPIError(err, "error obtaining latest Azure price list")
	}

	// RateCard meter names drop the Standard_ prefix and use spaces
	meterName := strings.ReplaceAll(strings.TrimPrefix(instanceType, "Standard_"), "_", " ")

	var best *Meter
	for i, meter := range meters {
		if meter.MeterCategory != "Virtual Machines" || meter.MeterRegion != meterRegion {
			continue
		}
		if lower := strings.ToLower(meter.MeterName); strings.Contains(lower, "low priority") {
			continue
		}
		if meter.MeterName != meterName {
			continue
		}
		if best == nil || meter.EffectiveDate > best.EffectiveDate {
			best = &meters[i]
		}
	}
	if best == nil {
		return decimal.Zero, errors.NotFound("price", instanceType+" in "+region)
	}
	return best.Rate, nil
}

// usageDetailsFilter builds the $filter expression for usageDetails,
// scoping the query by date range and the project's resource groups
func (d *azureDriver) usageDetailsFilter(rng DateRange) string {
	var b strings.Builder
	// the consumption API treats the end bound as inclusive
	fmt.Fprintf(&b, "properties/usageStart ge '%s' and properties/usageEnd le '%s'",
		rng.Start, rng.End.AddDays(-1))
	for i, group := range d.project.Azure.ResourceGroups {
		if i == 0 {
			fmt.Fprintf(&b, " and properties/resourceGroup eq '%s'", group)
		} else {
			fmt.Fprintf(&b, " or properties/resourceGroup eq '%s'", group)
		}
	}
	return b.String()
}

func (d *azureDriver) inResourceGroups(group string) bool {
	for _, g := range d.project.Azure.ResourceGroups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// isDataOut reports whether a consumption row is data egress, identified
// by the UsageResourceKind in its additional info blob
func isDataOut(row UsageDetail) bool {
	if row.AdditionalInfo == "" {
		return false
	}
	var info struct {
		UsageResourceKind string `json:"UsageResourceKind"`
	}
	if err := json.Unmarshal([]byte(row.AdditionalInfo), &info); err != nil {
		return false
	}
	return strings.Contains(info.UsageResourceKind, "DataTrOut")
}

// resourceGroupOf extracts the resource group segment of a resource ID
func resourceGroupOf(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			return strings.ToLower(parts[i+1])
		}
	}
	return ""
}

// vmNameFromID extracts the VM name from an availability status resource ID
func vmNameFromID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "virtualMachines") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
