// Package types - canonical ledger record types
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scope is a named cost/usage bucket used as part of a cache key
type Scope string

const (
	ScopeCompute Scope = "compute"
	ScopeCore    Scope = "core"
	ScopeStorage Scope = "storage"
	ScopeDataOut Scope = "data_out"

	// ScopeTotal is computed from an independent unfiltered query, not by
	// summing the other scopes; the figures may legitimately disagree.
	ScopeTotal Scope = "total"

	// ScopeProject is the usage-log scope for whole-project figures
	ScopeProject Scope = "project"
)

// String returns the string representation
func (s Scope) String() string {
	return string(s)
}

// DataOutDescription is the usage-log description for data egress amounts
const DataOutDescription = "data_out"

// CostLog is a canonical daily cost record. At most one row exists per
// (project, date, scope).
type CostLog struct {
	ID        int64           `json:"id"`
	ProjectID int64           `json:"project_id"`
	Date      Date            `json:"date"`
	Scope     Scope           `json:"scope"`
	Cost      decimal.Decimal `json:"cost"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
}

// UsageLog is a canonical usage record, keyed by
// (project, start date, end date, description, scope, unit).
type UsageLog struct {
	ID          int64           `json:"id"`
	ProjectID   int64           `json:"project_id"`
	StartDate   Date            `json:"start_date"`
	EndDate     Date            `json:"end_date"`
	Description string          `json:"description"`
	Scope       Scope           `json:"scope"`
	Unit        string          `json:"unit"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// InstanceLog is a point-in-time snapshot of one compute resource,
// recorded once per instance per day.
type InstanceLog struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	InstanceID   string    `json:"instance_id"`
	Name         string    `json:"instance_name"`
	InstanceType string    `json:"instance_type"`
	Region       string    `json:"region"`
	Status       string    `json:"status"`
	Compute      bool      `json:"compute"`
	ComputeGroup string    `json:"compute_group,omitempty"`
	Provider     Provider  `json:"host"`
	Timestamp    time.Time `json:"timestamp"`
}

// Running reports whether the instance counts toward future burn rate.
// AWS reports "running", Azure reports "Available".
func (l *InstanceLog) Running() bool {
	switch l.Status {
	case "running", "Running", "available", "Available":
		return true
	}
	return false
}

// WeeklyReportLog caches a rendered weekly projection, keyed by
// (project, date).
type WeeklyReportLog struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Date      Date      `json:"date"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InstanceMapping maps an internal instance type to a customer-facing name
type InstanceMapping struct {
	ID                 int64  `json:"id"`
	InstanceType       string `json:"instance_type"`
	CustomerFacingName string `json:"customer_facing_name"`
}

// DefaultCustomerFacingName is used when no mapping exists for a type
const DefaultCustomerFacingName = "Compute (Other)"
