// Package provider - AWS driver
package provider

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

// Cost Explorer query shapes. These mirror the GetCostAndUsage wire format
// closely enough that a wire client can serialize them directly.

// Expression is a Cost Explorer filter expression tree
type Expression struct {
	And        []Expression `json:"And,omitempty"`
	Not        *Expression  `json:"Not,omitempty"`
	Dimensions *KeyValues   `json:"Dimensions,omitempty"`
	Tags       *KeyValues   `json:"Tags,omitempty"`
}

// KeyValues is a dimension or tag match
type KeyValues struct {
	Key    string   `json:"Key"`
	Values []string `json:"Values"`
}

// GroupDefinition asks Cost Explorer to group results by a dimension
type GroupDefinition struct {
	Type string `json:"Type"`
	Key  string `json:"Key"`
}

// CostQuery is a GetCostAndUsage request
type CostQuery struct {
	Start       string            `json:"Start"`
	End         string            `json:"End"`
	Granularity string            `json:"Granularity"`
	Metrics     []string          `json:"Metrics"`
	Filter      *Expression       `json:"Filter,omitempty"`
	GroupBy     []GroupDefinition `json:"GroupBy,omitempty"`
}

// MetricValue is one reported metric amount
type MetricValue struct {
	Amount string `json:"Amount"`
	Unit   string `json:"Unit"`
}

// CostGroup is one grouped result row
type CostGroup struct {
	Keys    []string               `json:"Keys"`
	Metrics map[string]MetricValue `json:"Metrics"`
}

// CostResult is one day's results
type CostResult struct {
	Start  string                 `json:"Start"`
	Total  map[string]MetricValue `json:"Total"`
	Groups []CostGroup            `json:"Groups,omitempty"`
}

// InstanceFilter is a DescribeInstances tag filter
type InstanceFilter struct {
	Name   string   `json:"Name"`
	Values []string `json:"Values"`
}

// Instance is one EC2 instance as reported by DescribeInstances
type Instance struct {
	InstanceID   string            `json:"InstanceId"`
	InstanceType string            `json:"InstanceType"`
	State        string            `json:"State"`
	Tags         map[string]string `json:"Tags"`
}

// ProductsQuery is a Pricing GetProducts request
type ProductsQuery struct {
	ServiceCode string          `json:"ServiceCode"`
	Filters     []ProductFilter `json:"Filters"`
}

// ProductFilter is one GetProducts term match
type ProductFilter struct {
	Field string `json:"Field"`
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// Product is one priced instance offering
type Product struct {
	InstanceType string          `json:"instance_type"`
	Location     string          `json:"location"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
}

// AWSAPI is the wire client the AWS driver delegates execution to
type AWSAPI interface {
	GetCostAndUsage(ctx context.Context, creds *types.AWSConfig, query *CostQuery) ([]CostResult, error)
	DescribeInstances(ctx context.Context, creds *types.AWSConfig, region string, filters []InstanceFilter) ([]Instance, error)
	GetProducts(ctx context.Context, creds *types.AWSConfig, query *ProductsQuery) ([]Product, error)
}

// awsDriver queries Cost Explorer, EC2 and Pricing for one project
type awsDriver struct {
	project *types.Project
	api     AWSAPI
	regions RegionNames
}

// NewAWSDriver creates the AWS driver variant
func NewAWSDriver(project *types.Project, api AWSAPI, regions RegionNames) Driver {
	return &awsDriver{project: project, api: api, regions: regions}
}

func (d *awsDriver) Currency() string { return "USD" }

// AWS billing data takes roughly 48 hours to settle
func (d *awsDriver) DataLagDays() int { return 2 }

func (d *awsDriver) SupportsComputeGroups() bool { return true }

func (d *awsDriver) FetchDailyCost(ctx context.Context, scope types.Scope, rng DateRange) ([]RawCost, error) {
	var query *CostQuery
	withQuantity := false
	switch scope {
	case types.ScopeCompute:
		query = d.computeCostQuery(rng, "")
	case types.ScopeCore:
		query = d.coreCostQuery(rng)
	case types.ScopeStorage:
		query = d.storageCostQuery(rng)
	case types.ScopeDataOut:
		query = d.dataOutQuery(rng)
		withQuantity = true
	case types.ScopeTotal:
		query = d.allCostsQuery(rng)
	default:
		// named compute group
		query = d.computeCostQuery(rng, scope.String())
	}

	results, err := d.api.GetCostAndUsage(ctx, d.project.AWS, query)
	if err != nil {
		return nil, wrapAPIError(err, "unable to determine %s costs for project %s", scope, d.project.Name)
	}

	costs := make([]RawCost, 0, len(results))
	for _, day := range results {
		date, perr := types.ParseDate(day.Start)
		if perr != nil {
			return nil, errors.Internal("unparseable period start in cost response", perr)
		}
		raw := RawCost{
			Date:     date,
			Scope:    scope,
			Amount:   parseAmount(day.Total["UnblendedCost"].Amount),
			Currency: d.Currency(),
		}
		if withQuantity {
			raw.Quantity = parseAmount(day.Total["UsageQuantity"].Amount)
			raw.Unit = "GB"
		}
		costs = append(costs, raw)
	}
	return costs, nil
}

func (d *awsDriver) FetchUsage(ctx context.Context, rng DateRange) ([]RawUsage, error) {
	results, err := d.api.GetCostAndUsage(ctx, d.project.AWS, d.instanceTypeUsageQuery(rng))
	if err != nil {
		return nil, wrapAPIError(err, "unable to determine hours by instance type for project %s", d.project.Name)
	}

	var usage []RawUsage
	for _, day := range results {
		date, perr := types.ParseDate(day.Start)
		if perr != nil {
			return nil, errors.Internal("unparseable period start in usage response", perr)
		}
		for _, group := range day.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			usage = append(usage, RawUsage{
				Date:        date,
				Description: group.Keys[0],
				Amount:      parseAmount(group.Metrics["UsageQuantity"].Amount).Round(2),
				Unit:        "hours",
			})
		}
	}
	return usage, nil
}

func (d *awsDriver) FetchInstanceInventory(ctx context.Context) ([]RawInstance, error) {
	var inventory []RawInstance
	for _, region := range d.project.AWS.Regions {
		instances, err := d.api.DescribeInstances(ctx, d.project.AWS, region, d.instanceFilters())
		if err != nil {
			return nil, wrapAPIError(err, "unable to determine AWS instances for project %s in region %s", d.project.Name, region)
		}
		for _, instance := range instances {
			inventory = append(inventory, RawInstance{
				InstanceID:   instance.InstanceID,
				Name:         instance.Tags["Name"],
				InstanceType: instance.InstanceType,
				Region:       region,
				Status:       instance.State,
				Compute:      instance.Tags["compute"] == "true",
				ComputeGroup: instance.Tags["compute_group"],
			})
		}
	}
	return inventory, nil
}

func (d *awsDriver) FetchUnitPrice(ctx context.Context, instanceType, region string) (decimal.Decimal, error) {
	location, err := d.regions.Resolve(region)
	if err != nil {
		return decimal.Zero, err
	}
	query := &ProductsQuery{
		ServiceCode: "AmazonEC2",
		Filters: []ProductFilter{
			{Field: "location", Type: "TERM_MATCH", Value: location},
			{Field: "instanceType", Type: "TERM_MATCH", Value: instanceType},
			{Field: "tenancy", Type: "TERM_MATCH", Value: "shared"},
			{Field: "operatingSystem", Type: "TERM_MATCH", Value: "linux"},
			{Field: "preInstalledSW", Type: "TERM_MATCH", Value: "NA"},
			{Field: "capacitystatus", Type: "TERM_MATCH", Value: "UnusedCapacityReservation"},
		},
	}
	products, err := d.api.GetProducts(ctx, d.project.AWS, query)
	if err != nil {
		return decimal.Zero, wrapAPIError(err, "unable to determine AWS prices in region %s", region)
	}
	for _, product := range products {
		if strings.EqualFold(product.InstanceType, instanceType) {
			return product.PricePerHour, nil
		}
	}
	return decimal.Zero, errors.NotFound("price", instanceType+" in "+region)
}

// Query construction. Credits are always excluded; everything except the
// total query also excludes Tax. The tag filter is only attached when the
// project attributes by tag rather than owning the whole account.

func (d *awsDriver) computeCostQuery(rng DateRange, group string) *CostQuery {
	filter := Expression{And: []Expression{
		notCredit(),
		{Dimensions: &KeyValues{Key: "USAGE_TYPE_GROUP", Values: []string{"EC2: Running Hours"}}},
		{Dimensions: &KeyValues{Key: "SERVICE", Values: []string{"Amazon Elastic Compute Cloud - Compute"}}},
		{Tags: &KeyValues{Key: "compute", Values: []string{"true"}}},
	}}
	d.attachProjectFilter(&filter)
	if group != "" {
		filter.And = append(filter.And, Expression{Tags: &KeyValues{Key: "compute_group", Values: []string{group}}})
	}
	return d.costQuery(rng, filter, "UnblendedCost")
}

func (d *awsDriver) coreCostQuery(rng DateRange) *CostQuery {
	filter := Expression{And: []Expression{
		{Not: dataOutFilter()},
		{Not: storageFilter()},
		notCredit(),
		{Tags: &KeyValues{Key: "core", Values: []string{"true"}}},
	}}
	d.attachProjectFilter(&filter)
	return d.costQuery(rng, filter, "UnblendedCost")
}

func (d *awsDriver) allCostsQuery(rng DateRange) *CostQuery {
	filter := Expression{And: []Expression{
		notCredit(),
		notTax(),
	}}
	d.attachProjectFilter(&filter)
	return d.costQuery(rng, filter, "UnblendedCost")
}

func (d *awsDriver) dataOutQuery(rng DateRange) *CostQuery {
	filter := Expression{And: []Expression{
		*dataOutFilter(),
		notCredit(),
		notTax(),
	}}
	d.attachProjectFilter(&filter)
	return d.costQuery(rng, filter, "UnblendedCost", "UsageQuantity")
}

func (d *awsDriver) storageCostQuery(rng DateRange) *CostQuery {
	filter := Expression{And: []Expression{
		*storageFilter(),
		notCredit(),
		notTax(),
	}}
	d.attachProjectFilter(&filter)
	return d.costQuery(rng, filter, "UnblendedCost", "UsageQuantity")
}

func (d *awsDriver) instanceTypeUsageQuery(rng DateRange) *CostQuery {
	filter := Expression{And: []Expression{
		{Dimensions: &KeyValues{Key: "SERVICE", Values: []string{"Amazon Elastic Compute Cloud - Compute"}}},
		{Dimensions: &KeyValues{Key: "USAGE_TYPE_GROUP", Values: []string{"EC2: Running Hours"}}},
		{Tags: &KeyValues{Key: "compute", Values: []string{"true"}}},
	}}
	d.attachProjectFilter(&filter)
	query := d.costQuery(rng, filter, "UsageQuantity")
	query.GroupBy = []GroupDefinition{{Type: "DIMENSION", Key: "INSTANCE_TYPE"}}
	return query
}

func (d *awsDriver) costQuery(rng DateRange, filter Expression, metrics ...string) *CostQuery {
	return &CostQuery{
		Start:       rng.Start.String(),
		End:         rng.End.String(),
		Granularity: "DAILY",
		Metrics:     metrics,
		Filter:      &filter,
	}
}

func (d *awsDriver) attachProjectFilter(filter *Expression) {
	if d.project.FilterLevel == types.FilterTag {
		filter.And = append(filter.And, Expression{
			Tags: &KeyValues{Key: "project", Values: []string{d.project.Name}},
		})
	}
}

func (d *awsDriver) instanceFilters() []InstanceFilter {
	if d.project.FilterLevel == types.FilterTag {
		return []InstanceFilter{{Name: "tag:project", Values: []string{d.project.Name}}}
	}
	return nil
}

func notCredit() Expression {
	return Expression{Not: &Expression{Dimensions: &KeyValues{Key: "RECORD_TYPE", Values: []string{"CREDIT"}}}}
}

func notTax() Expression {
	return Expression{Not: &Expression{Dimensions: &KeyValues{Key: "SERVICE", Values: []string{"Tax"}}}}
}

func dataOutFilter() *Expression {
	return &Expression{Dimensions: &KeyValues{Key: "USAGE_TYPE_GROUP", Values: []string{
		"EC2: Data Transfer - Internet (Out)",
		"EC2: Data Transfer - CloudFront (Out)",
		"EC2: Data Transfer - Region to Region (Out)",
	}}}
}

func storageFilter() *Expression {
	return &Expression{Dimensions: &KeyValues{Key: "USAGE_TYPE_GROUP", Values: []string{
		"S3: Storage - Standard",
		"EC2: EBS - I/O Requests",
		"EC2: EBS - Magnetic",
		"EC2: EBS - Provisioned IOPS",
		"EC2: EBS - SSD(gp2)",
		"EC2: EBS - SSD(io1)",
		"EC2: EBS - Snapshots",
		"EC2: EBS - Optimized",
	}}}
}

func parseAmount(s string) decimal.Decimal {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
