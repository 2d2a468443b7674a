// Package provider defines the billing provider driver contract and the
// built-in AWS and Azure implementations. Drivers build provider-native
// queries and delegate wire execution to an injected API caller, so the
// concrete cloud clients stay external collaborators.
package provider

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

// DateRange is a half-open [Start, End) range of calendar days
type DateRange struct {
	Start types.Date
	End   types.Date
}

// SingleDay returns the range covering exactly one day
func SingleDay(d types.Date) DateRange {
	return DateRange{Start: d, End: d.AddDays(1)}
}

// RawCost is one provider-native daily cost figure, already keyed by the
// scope the originating query was built for
type RawCost struct {
	Date     types.Date
	Scope    types.Scope
	Amount   decimal.Decimal
	Currency string

	// Quantity carries the usage amount for scopes that report one
	// alongside cost (data egress GB)
	Quantity decimal.Decimal
	Unit     string
}

// RawUsage is one provider-native usage figure
type RawUsage struct {
	Date        types.Date
	Description string
	Amount      decimal.Decimal
	Unit        string
}

// RawInstance is one provider-native inventory entry
type RawInstance struct {
	InstanceID   string
	Name         string
	InstanceType string
	Region       string
	Status       string
	Compute      bool
	ComputeGroup string
}

// Driver is the capability set every billing provider must expose. All
// failures are *errors.Error with TypeProviderAPI; the retryable flag is
// set for provider-reported timeout and gateway conditions.
type Driver interface {
	// FetchDailyCost returns one cost figure per day in the range for the
	// given scope. The total scope must come from an independent
	// unfiltered query, never from summing other scopes.
	FetchDailyCost(ctx context.Context, scope types.Scope, rng DateRange) ([]RawCost, error)

	// FetchUsage returns compute usage hours grouped by instance type
	FetchUsage(ctx context.Context, rng DateRange) ([]RawUsage, error)

	// FetchInstanceInventory returns the project's current compute resources
	FetchInstanceInventory(ctx context.Context) ([]RawInstance, error)

	// FetchUnitPrice returns the hourly on-demand price for an instance
	// type in a region, in the provider's native currency
	FetchUnitPrice(ctx context.Context, instanceType, region string) (decimal.Decimal, error)

	// Currency is the provider's native billing currency
	Currency() string

	// DataLagDays is how many days the provider's billing data runs behind
	DataLagDays() int

	// SupportsComputeGroups reports whether FetchDailyCost accepts named
	// compute-group scopes in addition to the fixed ones
	SupportsComputeGroups() bool
}

// APICallError is the error shape wire clients report back to drivers
type APICallError struct {
	StatusCode int
	Timeout    bool
	Message    string
}

// Error implements the error interface
func (e *APICallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api call failed with status %d: %s", e.StatusCode, e.Message)
	}
	return "api call failed: " + e.Message
}

// Transient reports whether the failure is a timeout/gateway condition
// worth retrying
func (e *APICallError) Transient() bool {
	if e.Timeout {
		return true
	}
	switch e.StatusCode {
	case 408, 429, 502, 503, 504:
		return true
	}
	return false
}

// wrapAPIError converts a wire-client failure into a typed provider error
func wrapAPIError(err error, format string, args ...interface{}) *errors.Error {
	msg := fmt.Sprintf(format, args...)
	if apiErr, ok := err.(*APICallError); ok {
		return errors.ProviderAPI(msg, apiErr.Transient(), apiErr)
	}
	return errors.ProviderAPI(msg, false, err)
}

// ComputeNameResolver looks up the names of a project's recorded compute
// nodes. The Azure driver needs it to classify consumption rows by scope.
type ComputeNameResolver interface {
	ComputeNames(ctx context.Context, projectID int64, month types.Date) ([]string, error)
}

// Factory selects a driver implementation by the project's provider tag
type Factory struct {
	awsAPI       AWSAPI
	azureAPI     AzureAPI
	names        ComputeNameResolver
	awsRegions   RegionNames
	azureRegions RegionNames
}

// NewFactory creates a driver factory over the given wire clients
func NewFactory(awsAPI AWSAPI, azureAPI AzureAPI, names ComputeNameResolver, awsRegions, azureRegions RegionNames) *Factory {
	return &Factory{
		awsAPI:       awsAPI,
		azureAPI:     azureAPI,
		names:        names,
		awsRegions:   awsRegions,
		azureRegions: azureRegions,
	}
}

// ForProject returns the driver variant matching the project's provider tag
func (f *Factory) ForProject(project *types.Project) (Driver, error) {
	switch project.Provider {
	case types.ProviderAWS:
		return NewAWSDriver(project, f.awsAPI, f.awsRegions), nil
	case types.ProviderAzure:
		return NewAzureDriver(project, f.azureAPI, f.names, f.azureRegions), nil
	}
	return nil, errors.Validationf("project %s: no driver for provider %q", project.Name, project.Provider)
}
