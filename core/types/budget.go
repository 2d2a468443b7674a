// Package types - effective-dated budget types
package types

import (
	"time"

	"cloud-cost/internal/errors"
)

// BudgetPolicy selects how a budget's amount is interpreted
type BudgetPolicy string

const (
	// PolicyMonthly caps spend per calendar month
	PolicyMonthly BudgetPolicy = "monthly"

	// PolicyContinuous caps total spend over the project lifetime
	PolicyContinuous BudgetPolicy = "continuous"
)

// Budget is an effective-dated budget entry for a project. A budget applies
// from its EffectiveAt date until superseded by a later entry. Immutable
// once created except by explicit administrative update.
type Budget struct {
	ID        int64        `json:"id"`
	ProjectID int64        `json:"project_id"`
	Policy    BudgetPolicy `json:"policy"`

	// MonthlyLimit is the per-month cap in compute units; required under
	// the monthly policy
	MonthlyLimit int64 `json:"monthly_limit,omitempty"`

	// TotalAmount is the lifetime cap in compute units; required under the
	// continuous policy
	TotalAmount int64 `json:"total_amount,omitempty"`

	// EffectiveAt is the first day this budget applies
	EffectiveAt Date `json:"effective_at"`

	// CreatedAt breaks ties between budgets sharing an EffectiveAt
	CreatedAt time.Time `json:"timestamp"`
}

// Amount resolves the budget amount under its policy
func (b *Budget) Amount() int64 {
	if b.Policy == PolicyContinuous {
		return b.TotalAmount
	}
	return b.MonthlyLimit
}

// Validate checks policy/amount consistency
func (b *Budget) Validate() error {
	if b.EffectiveAt.IsZero() {
		return errors.Validation("budget effective date must be set")
	}
	switch b.Policy {
	case PolicyMonthly:
		if b.MonthlyLimit <= 0 {
			return errors.Validation("monthly budget requires a positive monthly limit")
		}
	case PolicyContinuous:
		if b.TotalAmount <= 0 {
			return errors.Validation("continuous budget requires a positive total amount")
		}
	default:
		return errors.Validationf("%q is not a valid budget policy, must be monthly or continuous", b.Policy)
	}
	if b.MonthlyLimit > 0 && b.TotalAmount > 0 && b.MonthlyLimit > b.TotalAmount {
		return errors.Validation("monthly limit must not exceed total amount")
	}
	return nil
}

// ZeroBudget is the sentinel returned for inactive projects or projects
// with no budget defined
func ZeroBudget(projectID int64, asOf Date) *Budget {
	return &Budget{
		ProjectID:   projectID,
		Policy:      PolicyMonthly,
		EffectiveAt: asOf,
	}
}
