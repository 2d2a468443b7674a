package types

import (
	"testing"
	"time"
)

// TestParseDate tests date parsing and validation
func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		valid bool
	}{
		{name: "canonical form", in: "2026-08-10", valid: true},
		{name: "month boundary", in: "2026-02-28", valid: true},
		{name: "invalid day", in: "2026-02-30", valid: false},
		{name: "wrong layout", in: "10/08/2026", valid: false},
		{name: "empty", in: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			if tt.valid {
				if err != nil {
					t.Fatalf("ParseDate(%q): %v", tt.in, err)
				}
				if d.String() != tt.in {
					t.Errorf("round trip = %q", d.String())
				}
				return
			}
			if err == nil {
				t.Errorf("ParseDate(%q) accepted invalid input", tt.in)
			}
		})
	}
}

// TestDateMonthHelpers tests month arithmetic
func TestDateMonthHelpers(t *testing.T) {
	tests := []struct {
		name        string
		date        Date
		firstOf     Date
		firstOfNext Date
		daysInMonth int
	}{
		{
			name:        "mid August",
			date:        NewDate(2026, 8, 10),
			firstOf:     NewDate(2026, 8, 1),
			firstOfNext: NewDate(2026, 9, 1),
			daysInMonth: 31,
		},
		{
			name:        "December wraps the year",
			date:        NewDate(2026, 12, 25),
			firstOf:     NewDate(2026, 12, 1),
			firstOfNext: NewDate(2027, 1, 1),
			daysInMonth: 31,
		},
		{
			name:        "February in a leap year",
			date:        NewDate(2028, 2, 5),
			firstOf:     NewDate(2028, 2, 1),
			firstOfNext: NewDate(2028, 3, 1),
			daysInMonth: 29,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.date.FirstOfMonth(); !got.Equal(tt.firstOf) {
				t.Errorf("FirstOfMonth = %s, want %s", got, tt.firstOf)
			}
			if got := tt.date.FirstOfNextMonth(); !got.Equal(tt.firstOfNext) {
				t.Errorf("FirstOfNextMonth = %s, want %s", got, tt.firstOfNext)
			}
			if got := tt.date.DaysInMonth(); got != tt.daysInMonth {
				t.Errorf("DaysInMonth = %d, want %d", got, tt.daysInMonth)
			}
		})
	}
}

// TestDaysUntil tests whole-day arithmetic
func TestDaysUntil(t *testing.T) {
	if got := NewDate(2026, 8, 10).DaysUntil(NewDate(2026, 9, 1)); got != 22 {
		t.Errorf("DaysUntil = %d, want 22", got)
	}
	if got := NewDate(2026, 8, 10).DaysUntil(NewDate(2026, 8, 10)); got != 0 {
		t.Errorf("DaysUntil same day = %d, want 0", got)
	}
	if got := NewDate(2026, 3, 25).DaysUntil(NewDate(2026, 4, 1)); got != 7 {
		t.Errorf("DaysUntil across months = %d, want 7", got)
	}
}

// TestBudgetValidate tests policy and amount consistency
func TestBudgetValidate(t *testing.T) {
	effective := NewDate(2026, 1, 1)

	tests := []struct {
		name   string
		budget Budget
		valid  bool
	}{
		{
			name:   "monthly with limit",
			budget: Budget{Policy: PolicyMonthly, MonthlyLimit: 500, EffectiveAt: effective},
			valid:  true,
		},
		{
			name:   "continuous with total",
			budget: Budget{Policy: PolicyContinuous, TotalAmount: 5000, EffectiveAt: effective},
			valid:  true,
		},
		{
			name:   "monthly without limit",
			budget: Budget{Policy: PolicyMonthly, EffectiveAt: effective},
			valid:  false,
		},
		{
			name:   "continuous without total",
			budget: Budget{Policy: PolicyContinuous, EffectiveAt: effective},
			valid:  false,
		},
		{
			name:   "unknown policy",
			budget: Budget{Policy: "yearly", MonthlyLimit: 500, EffectiveAt: effective},
			valid:  false,
		},
		{
			name:   "missing effective date",
			budget: Budget{Policy: PolicyMonthly, MonthlyLimit: 500},
			valid:  false,
		},
		{
			name:   "monthly limit above total",
			budget: Budget{Policy: PolicyMonthly, MonthlyLimit: 600, TotalAmount: 500, EffectiveAt: effective},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.budget.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("invalid budget accepted")
			}
		})
	}
}

// TestBudgetAmount tests policy-dependent amount resolution
func TestBudgetAmount(t *testing.T) {
	monthly := Budget{Policy: PolicyMonthly, MonthlyLimit: 500, TotalAmount: 9000}
	if got := monthly.Amount(); got != 500 {
		t.Errorf("monthly amount = %d, want 500", got)
	}
	continuous := Budget{Policy: PolicyContinuous, MonthlyLimit: 500, TotalAmount: 9000}
	if got := continuous.Amount(); got != 9000 {
		t.Errorf("continuous amount = %d, want 9000", got)
	}
	zero := ZeroBudget(1, NewDate(2026, 8, 10))
	if got := zero.Amount(); got != 0 {
		t.Errorf("zero budget amount = %d", got)
	}
}

// TestProjectActive tests the active window
func TestProjectActive(t *testing.T) {
	project := Project{
		StartDate: NewDate(2026, 2, 1),
		EndDate:   NewDate(2026, 6, 1),
	}

	tests := []struct {
		name   string
		asOf   Date
		active bool
	}{
		{name: "before start", asOf: NewDate(2026, 1, 31), active: false},
		{name: "on start date", asOf: NewDate(2026, 2, 1), active: true},
		{name: "mid window", asOf: NewDate(2026, 4, 15), active: true},
		{name: "on end date", asOf: NewDate(2026, 6, 1), active: false},
		{name: "after end", asOf: NewDate(2026, 7, 1), active: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := project.Active(tt.asOf); got != tt.active {
				t.Errorf("Active(%s) = %v, want %v", tt.asOf, got, tt.active)
			}
		})
	}
}

// TestDateOf tests timestamp truncation
func TestDateOf(t *testing.T) {
	ts := time.Date(2026, 8, 10, 23, 59, 59, 0, time.UTC)
	if got := DateOf(ts); !got.Equal(NewDate(2026, 8, 10)) {
		t.Errorf("DateOf = %s", got)
	}
}
