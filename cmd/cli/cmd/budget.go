// Package cmd - CLI command: cloud-cost budget
package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cloud-cost/core/budget"
	"cloud-cost/core/store"
	"cloud-cost/core/types"
	"cloud-cost/internal/config"
	"cloud-cost/internal/errors"
)

var budgetPolicy string

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage project budgets",
}

var budgetAddCmd = &cobra.Command{
	Use:   "add <project> <amount> <effective_at>",
	Short: "Add a budget entry",
	Long: `Append a budget entry for a project, effective from the given date.
Amounts are compute units. The monthly policy caps spend per calendar
month; the continuous policy caps total spend over the project lifetime.
Earlier entries are never modified; the entry with the latest effective
date not in the future governs.`,
	Args: cobra.ExactArgs(3),
	RunE: runBudgetAdd,
}

var budgetListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's budget entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetList,
}

func init() {
	budgetAddCmd.Flags().StringVar(&budgetPolicy, "policy", string(types.PolicyMonthly), "budget policy: monthly or continuous")
	budgetCmd.AddCommand(budgetAddCmd)
	budgetCmd.AddCommand(budgetListCmd)
}

func openStore() (*store.SQLiteStore, error) {
	cfg := config.Get()
	st, err := store.OpenSQLite(cfg.Store.DatabasePath)
	if err != nil {
		return nil, errors.Config("failed to open database at "+cfg.Store.DatabasePath, err)
	}
	return st, nil
}

func runBudgetAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fail(errors.Validationf("%q is not a valid amount, expected a positive whole number of compute units", args[1]))
	}
	effectiveAt, err := types.ParseDate(args[2])
	if err != nil {
		return fail(errors.Validationf("%q is not a valid date, expected YYYY-MM-DD", args[2]))
	}

	st, err := openStore()
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	project, err := st.ProjectByName(ctx, args[0])
	if err != nil {
		return fail(err)
	}
	if project == nil {
		return fail(errors.NotFound("project", args[0]))
	}

	entry := &types.Budget{
		ProjectID:   project.ID,
		Policy:      types.BudgetPolicy(budgetPolicy),
		EffectiveAt: effectiveAt,
	}
	switch entry.Policy {
	case types.PolicyMonthly:
		entry.MonthlyLimit = amount
	case types.PolicyContinuous:
		entry.TotalAmount = amount
	}

	if err := st.AddBudget(ctx, entry); err != nil {
		return fail(err)
	}
	fmt.Printf("Added %s budget of %d compute units for %s, effective %s\n",
		entry.Policy, amount, project.Name, effectiveAt)
	return nil
}

func runBudgetList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, err := openStore()
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	project, err := st.ProjectByName(ctx, args[0])
	if err != nil {
		return fail(err)
	}
	if project == nil {
		return fail(errors.NotFound("project", args[0]))
	}

	entries, err := st.Budgets(ctx, project.ID)
	if err != nil {
		return fail(err)
	}
	if len(entries) == 0 {
		fmt.Printf("No budgets recorded for %s\n", project.Name)
		return nil
	}

	current := budget.Select(entries, types.Today())
	for _, entry := range entries {
		marker := " "
		if current != nil && entry.ID == current.ID {
			marker = "*"
		}
		fmt.Printf("%s %s  %-10s  %d compute units\n",
			marker, entry.EffectiveAt, entry.Policy, entry.Amount())
	}
	return nil
}
