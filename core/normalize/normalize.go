// Package normalize converts provider-native billing records into canonical
// ledger entries and derives the internal compute-unit currency from them.
package normalize

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cloud-cost/core/provider"
	"cloud-cost/core/types"
)

// Params are the business parameters of the compute-unit transform. They
// are configuration, not constants; see the billing section of the config.
type Params struct {
	// CanonicalCurrency is the currency compute units are derived from
	CanonicalCurrency string

	// ExchangeRates converts a provider currency into the canonical one
	ExchangeRates map[string]decimal.Decimal

	// FlatMultiplier converts canonical cost into compute units
	FlatMultiplier decimal.Decimal

	// RiskMultiplier inflates compute units into risk units
	RiskMultiplier decimal.Decimal

	// CreditDivisor converts risk units into credits
	CreditDivisor decimal.Decimal
}

// Converter applies currency conversion and the compute-unit transform
type Converter struct {
	params Params
}

// NewConverter creates a converter over the given business parameters
func NewConverter(params Params) *Converter {
	return &Converter{params: params}
}

// ToCanonical converts an amount in the given currency into the canonical
// currency. Unknown currencies pass through unconverted.
func (c *Converter) ToCanonical(amount decimal.Decimal, currency string) decimal.Decimal {
	if currency == c.params.CanonicalCurrency {
		return amount
	}
	rate, ok := c.params.ExchangeRates[currency]
	if !ok {
		return amount
	}
	return amount.Mul(rate)
}

// ComputeUnits converts a native-currency cost into whole compute units,
// rounding up. Monotonic in the amount for fixed parameters.
func (c *Converter) ComputeUnits(amount decimal.Decimal, currency string) int64 {
	canonical := c.ToCanonical(amount, currency)
	return canonical.Mul(c.params.FlatMultiplier).Ceil().IntPart()
}

// RiskUnits inflates compute units by the risk multiplier, rounding up
func (c *Converter) RiskUnits(computeUnits int64) int64 {
	return decimal.NewFromInt(computeUnits).Mul(c.params.RiskMultiplier).Ceil().IntPart()
}

// Credits converts risk units into credits, rounding up
func (c *Converter) Credits(riskUnits int64) int64 {
	return decimal.NewFromInt(riskUnits).Div(c.params.CreditDivisor).Ceil().IntPart()
}

// BurnUnits converts a native-currency amount straight into risk-inflated
// compute units with a single rounding step. Used for projected future
// spend, where the flat and risk multipliers apply together.
func (c *Converter) BurnUnits(amount decimal.Decimal, currency string) int64 {
	canonical := c.ToCanonical(amount, currency)
	return canonical.Mul(c.params.FlatMultiplier).Mul(c.params.RiskMultiplier).Ceil().IntPart()
}

// CostUnits bundles the three derived figures for one cost log
type CostUnits struct {
	Compute int64
	Risk    int64
	Credits int64
}

// UnitsFor derives compute units, risk units and credits for a cost log
func (c *Converter) UnitsFor(log *types.CostLog) CostUnits {
	cu := c.ComputeUnits(log.Cost, log.Currency)
	risk := c.RiskUnits(cu)
	return CostUnits{Compute: cu, Risk: risk, Credits: c.Credits(risk)}
}

// CostLogs maps raw provider cost records into canonical cost log rows
func CostLogs(projectID int64, raws []provider.RawCost, now time.Time) []types.CostLog {
	logs := make([]types.CostLog, 0, len(raws))
	for _, raw := range raws {
		logs = append(logs, types.CostLog{
			ProjectID: projectID,
			Date:      raw.Date,
			Scope:     raw.Scope,
			Cost:      raw.Amount,
			Currency:  raw.Currency,
			Timestamp: now,
		})
	}
	return logs
}

// DataOutUsage maps the usage quantity carried by data-out cost records
// into canonical usage log rows
func DataOutUsage(projectID int64, raws []provider.RawCost, now time.Time) []types.UsageLog {
	logs := make([]types.UsageLog, 0, len(raws))
	for _, raw := range raws {
		if raw.Scope != types.ScopeDataOut {
			continue
		}
		logs = append(logs, types.UsageLog{
			ProjectID:   projectID,
			StartDate:   raw.Date,
			EndDate:     raw.Date.AddDays(1),
			Description: types.DataOutDescription,
			Scope:       types.ScopeProject,
			Unit:        raw.Unit,
			Amount:      raw.Quantity,
			Timestamp:   now,
		})
	}
	return logs
}

// UsageLogs maps raw usage records into canonical compute usage log rows
func UsageLogs(projectID int64, raws []provider.RawUsage, now time.Time) []types.UsageLog {
	logs := make([]types.UsageLog, 0, len(raws))
	for _, raw := range raws {
		logs = append(logs, types.UsageLog{
			ProjectID:   projectID,
			StartDate:   raw.Date,
			EndDate:     raw.Date.AddDays(1),
			Description: raw.Description,
			Scope:       types.ScopeCompute,
			Unit:        raw.Unit,
			Amount:      raw.Amount,
			Timestamp:   now,
		})
	}
	return logs
}

// InstanceLogs maps raw inventory records into canonical instance log rows
func InstanceLogs(projectID int64, host types.Provider, raws []provider.RawInstance, now time.Time) []types.InstanceLog {
	logs := make([]types.InstanceLog, 0, len(raws))
	for _, raw := range raws {
		logs = append(logs, types.InstanceLog{
			ProjectID:    projectID,
			InstanceID:   raw.InstanceID,
			Name:         raw.Name,
			InstanceType: raw.InstanceType,
			Region:       raw.Region,
			Status:       raw.Status,
			Compute:      raw.Compute,
			ComputeGroup: raw.ComputeGroup,
			Provider:     host,
			Timestamp:    now,
		})
	}
	return logs
}

// AliasTable resolves internal instance types to customer-facing names
type AliasTable map[string]string

// Resolve returns the customer-facing name for an instance type, falling
// back to the default bucket when unmapped
func (t AliasTable) Resolve(instanceType string) string {
	if name, ok := t[instanceType]; ok {
		return name
	}
	return types.DefaultCustomerFacingName
}

// HoursByType is one line of the usage-hours breakdown
type HoursByType struct {
	Type  string
	Hours decimal.Decimal
}

// UsageBreakdown groups compute usage hours by instance type. With
// customerFacing set, types are replaced by their aliases and all unmapped
// types collapse into the default bucket, which always sorts last.
func UsageBreakdown(logs []types.UsageLog, aliases AliasTable, customerFacing bool) []HoursByType {
	totals := make(map[string]decimal.Decimal)
	for _, log := range logs {
		if log.Scope != types.ScopeCompute || log.Unit != "hours" {
			continue
		}
		name := log.Description
		if customerFacing {
			name = aliases.Resolve(log.Description)
		}
		totals[name] = totals[name].Add(log.Amount)
	}

	breakdown := make([]HoursByType, 0, len(totals))
	for name, hours := range totals {
		breakdown = append(breakdown, HoursByType{Type: name, Hours: hours})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Type == types.DefaultCustomerFacingName {
			return false
		}
		if breakdown[j].Type == types.DefaultCustomerFacingName {
			return true
		}
		return breakdown[i].Type < breakdown[j].Type
	})
	return breakdown
}

// TypeCount summarizes one instance type in a snapshot
type TypeCount struct {
	Type    string
	Total   int
	Stopped int
}

// InstanceCensus counts compute instances by type for a snapshot, noting
// how many are stopped/unavailable
func InstanceCensus(logs []types.InstanceLog, aliases AliasTable, customerFacing bool) []TypeCount {
	counts := make(map[string]*TypeCount)
	var order []string
	for _, log := range logs {
		if !log.Compute || log.Status == "terminated" {
			continue
		}
		name := log.InstanceType
		if customerFacing {
			name = aliases.Resolve(log.InstanceType)
		}
		entry, ok := counts[name]
		if !ok {
			entry = &TypeCount{Type: name}
			counts[name] = entry
			order = append(order, name)
		}
		entry.Total++
		if !log.Running() {
			entry.Stopped++
		}
	}

	census := make([]TypeCount, 0, len(order))
	for _, name := range order {
		census = append(census, *counts[name])
	}
	return census
}
