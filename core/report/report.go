// Package report renders the daily snapshot and weekly projection as chat
// messages. Rendering is pure string work over figures computed upstream;
// the same text is sent to Slack and, with markup stripped, to stdout.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cloud-cost/core/forecast"
	"cloud-cost/core/normalize"
	"cloud-cost/core/types"
)

// Options select report variants
type Options struct {
	// Short omits secondary cost figures from the daily snapshot
	Short bool

	// CustomerFacing substitutes instance-type aliases
	CustomerFacing bool
}

// Figure is one scoped cost with its derived units
type Figure struct {
	Cost  decimal.Decimal
	Units normalize.CostUnits
}

// DailySnapshot carries everything the daily report prints
type DailySnapshot struct {
	ProjectName string
	Date        types.Date
	Currency    string

	Compute Figure
	DataOut Figure
	Total   Figure

	// DataOutAmount is the egress volume in GB
	DataOutAmount decimal.Decimal

	// Census summarizes today's compute instances by type
	Census []normalize.TypeCount

	// UsageHours is the per-type compute hours breakdown
	UsageHours []normalize.HoursByType

	// Cached marks a report served from the log store without a fetch
	Cached bool

	// StaleWarning carries the provider data-lag warning, empty when the
	// report date is safely behind the lag window
	StaleWarning string
}

// RenderDaily renders the daily snapshot message
func RenderDaily(s *DailySnapshot, opts Options) string {
	var lines []string
	add := func(line string) { lines = append(lines, line) }

	if s.StaleWarning != "" {
		add("\n" + s.StaleWarning + "\n")
	}
	if s.Cached {
		add("*Cached report*")
	}
	add(fmt.Sprintf(":moneybag: Usage for *%s* on %s :moneybag:", s.ProjectName, s.Date))

	add(fmt.Sprintf("*Compute Costs (%s):* %s", s.Currency, money(s.Compute.Cost)))
	if !opts.Short {
		add(fmt.Sprintf("*Compute Units (Flat):* %d", s.Compute.Units.Compute))
		add(fmt.Sprintf("*Compute Units (Risk):* %d\n", s.Compute.Units.Risk))
		add(fmt.Sprintf("*Data Out (GB):* %s", s.DataOutAmount.RoundCeil(4)))
	}
	add(fmt.Sprintf("*Data Out Costs (%s):* %s", s.Currency, money(s.DataOut.Cost)))
	if !opts.Short {
		add(fmt.Sprintf("*Compute Units (Flat):* %d", s.DataOut.Units.Compute))
		add(fmt.Sprintf("*Compute Units (Risk):* %d\n", s.DataOut.Units.Risk))
	}

	add(fmt.Sprintf("*Total Costs (%s):* %s", s.Currency, money(s.Total.Cost)))
	add(fmt.Sprintf("*Total Compute Units (Flat):* %d", s.Total.Units.Compute))
	add(fmt.Sprintf("*Total Compute Units (Risk):* %d", s.Total.Units.Risk))
	if opts.Short {
		add(fmt.Sprintf("*FC Credits:* %d", s.Total.Units.Credits))
	} else {
		add(fmt.Sprintf("\n*FC Credits:* %d", s.Total.Units.Credits))
		add("*Compute Instance Usage:* " + CensusLine(s.Census))
		add("*Compute Instance Hours:* " + hoursBreakdown(s.UsageHours))
	}

	return strings.Join(lines, "\n") + "\n"
}

// WeeklyProjection carries everything the weekly report prints. Cost
// figures are compute units; the projection holds the forward-looking half.
type WeeklyProjection struct {
	ProjectName string
	Date        types.Date

	// Budget is the governing budget entry as of the report date
	Budget *types.Budget

	// ComputeMTD, EgressMTD and TotalMTD are month-to-date compute units
	ComputeMTD int64
	EgressMTD  int64
	TotalMTD   int64

	// EgressAmount is the month-to-date egress volume in GB
	EgressAmount decimal.Decimal

	// Census summarizes the latest instance snapshot
	Census []normalize.TypeCount

	// SnapshotTime is when the latest snapshot was recorded
	SnapshotTime time.Time

	// TimeLagDays is how far the billing data trails the snapshot
	TimeLagDays int

	// InBetween is the estimated spend, in compute units, for the lag days
	InBetween int64

	Projection forecast.Projection

	StaleWarning string
}

// RenderWeekly renders the weekly projection message
func RenderWeekly(w *WeeklyProjection) string {
	var lines []string
	add := func(line string) { lines = append(lines, line) }

	if w.StaleWarning != "" {
		add("\n" + w.StaleWarning + "\n")
	}
	add(fmt.Sprintf(":calendar: \t\t\t\t Weekly Report for %s \t\t\t\t :calendar:", w.ProjectName))

	budgetLabel := "Monthly Budget"
	if w.Budget.Policy == types.PolicyContinuous {
		budgetLabel = "Remaining Project Budget"
	}
	add(fmt.Sprintf("*%s:* %d compute units", budgetLabel, w.Budget.Amount()))

	rangeLabel := fmt.Sprintf("1 - %d %s", w.Date.Day(), w.Date.Month())
	add(fmt.Sprintf("*Compute Costs for %s:* %d compute units", rangeLabel, w.ComputeMTD))
	add(fmt.Sprintf("*Data Egress Costs for %s:* %d compute units (%s GB)",
		rangeLabel, w.EgressMTD, w.EgressAmount.RoundCeil(2)))
	add(fmt.Sprintf("*Total Costs for %s:* %d compute units", rangeLabel, w.TotalMTD))
	add(fmt.Sprintf("*Remaining Monthly Budget:* %d compute units\n",
		w.Budget.Amount()-w.TotalMTD))

	add(fmt.Sprintf("*Current Usage (as of %s)*", w.SnapshotTime.Format("15:04 2006-01-02")))
	add("Currently, the cluster compute nodes are:")
	add("`" + CensusLine(w.Census) + "`\n")

	p := w.Projection
	add(fmt.Sprintf("The average cost for these compute nodes, in the above state, is about *%d* compute units per day.", p.DailyFuture))
	add(fmt.Sprintf("Other, fixed cluster costs are on average *%d* compute units per day.\n",
		p.TotalFutureDaily-p.DailyFuture))
	add(fmt.Sprintf("The total estimated requirement is therefore *%d* compute units per day, from today.\n", p.TotalFutureDaily))
	add("*Predicted Usage*")

	if p.Exceeded {
		add(":awooga:The monthly budget *has been exceeded*:awooga:.")
	}
	if w.TimeLagDays > 0 {
		add(fmt.Sprintf("Estimated total combined costs for the previous %d days are *%d* compute units, based on instances running on those days.\n",
			w.TimeLagDays, w.InBetween))
	}
	if !p.Exceeded && p.Remaining > 0 {
		qualifier := ""
		if w.TimeLagDays > 0 {
			qualifier = "this and "
		}
		add(fmt.Sprintf("Based on %sthe current usage, the remaining budget will be used up in *%d* days.",
			qualifier, p.RemainingDays))
		verdict := "sufficient"
		if !p.Sufficient {
			verdict = ":awooga:insufficient:awooga:"
		}
		add(fmt.Sprintf("The budget is predicted to therefore be *%s* for the rest of the month.", verdict))
	}
	if p.Exceeded || !p.Sufficient {
		qualifier := ""
		if w.TimeLagDays > 0 && p.Exceeded {
			qualifier = "this and "
		}
		add(fmt.Sprintf("Based on %sthe current usage the budget will be exceeded by *%d* compute units at the end of the month.",
			qualifier, p.ExcessAtMonthEnd))
	}

	return strings.Join(lines, "\n") + "\n"
}

// CachedPrefix marks a weekly report served from the report log
const CachedPrefix = "\t\t\t\t\t*Cached Report*\n"

// StaleWarning formats the provider data-lag warning when the report date
// is inside the lag window, or an empty string
func StaleWarning(providerName string, lagDays int, date, today types.Date) string {
	if !date.After(today.AddDays(-lagDays)) {
		return ""
	}
	return fmt.Sprintf("Warning: %s data takes roughly %d hours to update, so these figures may be inaccurate",
		providerName, lagDays*24)
}

// CensusLine formats an instance census as a one-line summary
func CensusLine(census []normalize.TypeCount) string {
	if len(census) == 0 {
		return "None recorded"
	}
	parts := make([]string, 0, len(census))
	for _, entry := range census {
		part := fmt.Sprintf("%d x %s", entry.Total, entry.Type)
		if entry.Stopped > 0 {
			part += fmt.Sprintf(" (%d stopped)", entry.Stopped)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}

func hoursBreakdown(hours []normalize.HoursByType) string {
	if len(hours) == 0 {
		return "None recorded"
	}
	var b strings.Builder
	for _, entry := range hours {
		b.WriteString(fmt.Sprintf("\n\t%s: %s hours", entry.Type, entry.Hours.Round(2)))
	}
	return b.String()
}

func money(amount decimal.Decimal) string {
	return amount.RoundCeil(2).String()
}
