// Package store - SQLite backend
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"cloud-cost/core/types"
)

// SQLiteStore implements Store over a single SQLite database file. The
// batch runner is single-process, so one writer connection is enough;
// WAL mode keeps readers unblocked if a report is inspected mid-run.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary bootstraps) the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		host TEXT NOT NULL,
		filter_level TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		slack_channel TEXT NOT NULL,
		metadata TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cost_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		scope TEXT NOT NULL,
		cost TEXT NOT NULL,
		currency TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		UNIQUE(project_id, date, scope)
	);
	CREATE TABLE IF NOT EXISTS usage_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		description TEXT NOT NULL,
		scope TEXT NOT NULL,
		unit TEXT NOT NULL,
		amount TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		UNIQUE(project_id, start_date, end_date, description, scope, unit)
	);
	CREATE TABLE IF NOT EXISTS instance_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		host TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		instance_name TEXT NOT NULL,
		instance_type TEXT NOT NULL,
		region TEXT NOT NULL,
		compute INTEGER NOT NULL,
		compute_group TEXT,
		status TEXT NOT NULL,
		date TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_instance_logs_day
		ON instance_logs(project_id, date);
	CREATE TABLE IF NOT EXISTS weekly_report_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		UNIQUE(project_id, date)
	);
	CREATE TABLE IF NOT EXISTS budgets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		policy TEXT NOT NULL,
		monthly_limit INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL DEFAULT 0,
		effective_at TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS instance_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_type TEXT NOT NULL UNIQUE,
		customer_facing_name TEXT NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// projectMetadata is the serialized provider configuration column
type projectMetadata struct {
	AWS   *types.AWSConfig   `json:"aws,omitempty"`
	Azure *types.AzureConfig `json:"azure,omitempty"`
}

func (s *SQLiteStore) AllProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, host, filter_level, start_date, end_date, slack_channel, metadata
		 FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) ProjectByName(ctx context.Context, name string) (*types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, host, filter_level, start_date, end_date, slack_channel, metadata
		 FROM projects WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanProject(rows)
}

func scanProject(rows *sql.Rows) (*types.Project, error) {
	var (
		project           types.Project
		startDate, meta   string
		endDate           sql.NullString
		host, filterLevel string
	)
	if err := rows.Scan(&project.ID, &project.Name, &host, &filterLevel,
		&startDate, &endDate, &project.SlackChannel, &meta); err != nil {
		return nil, err
	}
	project.Provider = types.Provider(host)
	project.FilterLevel = types.FilterLevel(filterLevel)

	var err error
	if project.StartDate, err = types.ParseDate(startDate); err != nil {
		return nil, err
	}
	if endDate.Valid && endDate.String != "" {
		if project.EndDate, err = types.ParseDate(endDate.String); err != nil {
			return nil, err
		}
	}

	var pm projectMetadata
	if err := json.Unmarshal([]byte(meta), &pm); err != nil {
		return nil, fmt.Errorf("project %s: bad metadata: %w", project.Name, err)
	}
	project.AWS = pm.AWS
	project.Azure = pm.Azure

	// provider configuration is validated at load, not per accessor call
	if err := project.Validate(); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *SQLiteStore) SaveProject(ctx context.Context, project *types.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(projectMetadata{AWS: project.AWS, Azure: project.Azure})
	if err != nil {
		return err
	}
	endDate := ""
	if !project.EndDate.IsZero() {
		endDate = project.EndDate.String()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, host, filter_level, start_date, end_date, slack_channel, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			host = excluded.host,
			filter_level = excluded.filter_level,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			slack_channel = excluded.slack_channel,
			metadata = excluded.metadata`,
		project.Name, project.Provider.String(), string(project.FilterLevel),
		project.StartDate.String(), endDate, project.SlackChannel, string(meta))
	if err != nil {
		return err
	}
	if project.ID == 0 {
		if id, err := result.LastInsertId(); err == nil {
			project.ID = id
		}
	}
	return nil
}

func (s *SQLiteStore) CostLog(ctx context.Context, projectID int64, date types.Date, scope types.Scope) (*types.CostLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, date, scope, cost, currency, timestamp
		 FROM cost_logs WHERE project_id = ? AND date = ? AND scope = ?`,
		projectID, date.String(), scope.String())

	var (
		log             types.CostLog
		dateStr, tsStr  string
		costStr, scopeS string
	)
	err := row.Scan(&log.ID, &log.ProjectID, &dateStr, &scopeS, &costStr, &log.Currency, &tsStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := fillCostLog(&log, dateStr, scopeS, costStr, tsStr); err != nil {
		return nil, err
	}
	return &log, nil
}

func fillCostLog(log *types.CostLog, dateStr, scopeStr, costStr, tsStr string) error {
	var err error
	if log.Date, err = types.ParseDate(dateStr); err != nil {
		return err
	}
	log.Scope = types.Scope(scopeStr)
	if err := log.Cost.UnmarshalText([]byte(costStr)); err != nil {
		return err
	}
	log.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
	return nil
}

func (s *SQLiteStore) SaveCostLog(ctx context.Context, log *types.CostLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_logs (project_id, date, scope, cost, currency, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, date, scope) DO UPDATE SET
			cost = excluded.cost,
			currency = excluded.currency,
			timestamp = excluded.timestamp`,
		log.ProjectID, log.Date.String(), log.Scope.String(),
		log.Cost.String(), log.Currency, formatTime(log.Timestamp))
	return err
}

func (s *SQLiteStore) UsageLog(ctx context.Context, projectID int64, start, end types.Date, description string, scope types.Scope, unit string) (*types.UsageLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, start_date, end_date, description, scope, unit, amount, timestamp
		 FROM usage_logs
		 WHERE project_id = ? AND start_date = ? AND end_date = ? AND description = ? AND scope = ? AND unit = ?`,
		projectID, start.String(), end.String(), description, scope.String(), unit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	log, err := scanUsageLog(rows)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (s *SQLiteStore) UsageLogs(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date) ([]types.UsageLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, start_date, end_date, description, scope, unit, amount, timestamp
		 FROM usage_logs
		 WHERE project_id = ? AND scope = ? AND unit = ? AND start_date >= ? AND start_date < ?
		 ORDER BY start_date, description`,
		projectID, scope.String(), unit, start.String(), end.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []types.UsageLog
	for rows.Next() {
		log, err := scanUsageLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

func scanUsageLog(rows *sql.Rows) (*types.UsageLog, error) {
	var (
		log                        types.UsageLog
		startStr, endStr           string
		scopeStr, amountStr, tsStr string
	)
	if err := rows.Scan(&log.ID, &log.ProjectID, &startStr, &endStr,
		&log.Description, &scopeStr, &log.Unit, &amountStr, &tsStr); err != nil {
		return nil, err
	}
	var err error
	if log.StartDate, err = types.ParseDate(startStr); err != nil {
		return nil, err
	}
	if log.EndDate, err = types.ParseDate(endStr); err != nil {
		return nil, err
	}
	log.Scope = types.Scope(scopeStr)
	if err := log.Amount.UnmarshalText([]byte(amountStr)); err != nil {
		return nil, err
	}
	log.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
	return &log, nil
}

func (s *SQLiteStore) SaveUsageLog(ctx context.Context, log *types.UsageLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (project_id, start_date, end_date, description, scope, unit, amount, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, start_date, end_date, description, scope, unit) DO UPDATE SET
			amount = excluded.amount,
			timestamp = excluded.timestamp`,
		log.ProjectID, log.StartDate.String(), log.EndDate.String(), log.Description,
		log.Scope.String(), log.Unit, log.Amount.String(), formatTime(log.Timestamp))
	return err
}

func (s *SQLiteStore) DeleteUsageLogs(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_logs
		 WHERE project_id = ? AND scope = ? AND unit = ? AND start_date >= ? AND start_date < ?`,
		projectID, scope.String(), unit, start.String(), end.String())
	return err
}

func (s *SQLiteStore) InstanceLogsOn(ctx context.Context, projectID int64, date types.Date) ([]types.InstanceLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, host, instance_id, instance_name, instance_type, region, compute, compute_group, status, timestamp
		 FROM instance_logs WHERE project_id = ? AND date = ? ORDER BY instance_name`,
		projectID, date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []types.InstanceLog
	for rows.Next() {
		var (
			log          types.InstanceLog
			host, tsStr  string
			compute      int
			computeGroup sql.NullString
		)
		if err := rows.Scan(&log.ID, &log.ProjectID, &host, &log.InstanceID, &log.Name,
			&log.InstanceType, &log.Region, &compute, &computeGroup, &log.Status, &tsStr); err != nil {
			return nil, err
		}
		log.Provider = types.Provider(host)
		log.Compute = compute != 0
		log.ComputeGroup = computeGroup.String
		log.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) SaveInstanceLogs(ctx context.Context, logs []types.InstanceLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO instance_logs (project_id, host, instance_id, instance_name, instance_type, region, compute, compute_group, status, date, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, log := range logs {
		compute := 0
		if log.Compute {
			compute = 1
		}
		if _, err := stmt.ExecContext(ctx, log.ProjectID, log.Provider.String(),
			log.InstanceID, log.Name, log.InstanceType, log.Region, compute,
			log.ComputeGroup, log.Status, types.DateOf(log.Timestamp).String(),
			formatTime(log.Timestamp)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteInstanceLogsOn(ctx context.Context, projectID int64, date types.Date) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instance_logs WHERE project_id = ? AND date = ?`,
		projectID, date.String())
	return err
}

func (s *SQLiteStore) ComputeNamesInMonth(ctx context.Context, projectID int64, month types.Date) ([]string, error) {
	first := month.FirstOfMonth()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT instance_name FROM instance_logs
		 WHERE project_id = ? AND compute = 1 AND date >= ? AND date < ?`,
		projectID, first.String(), first.FirstOfNextMonth().String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) ComputeGroups(ctx context.Context, projectID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT compute_group FROM instance_logs
		 WHERE project_id = ? AND compute_group IS NOT NULL AND compute_group != ''
		 ORDER BY compute_group`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (s *SQLiteStore) WeeklyReport(ctx context.Context, projectID int64, date types.Date) (*types.WeeklyReportLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, date, content, timestamp
		 FROM weekly_report_logs WHERE project_id = ? AND date = ?`,
		projectID, date.String())

	var (
		report         types.WeeklyReportLog
		dateStr, tsStr string
	)
	err := row.Scan(&report.ID, &report.ProjectID, &dateStr, &report.Content, &tsStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if report.Date, err = types.ParseDate(dateStr); err != nil {
		return nil, err
	}
	report.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
	return &report, nil
}

func (s *SQLiteStore) SaveWeeklyReport(ctx context.Context, report *types.WeeklyReportLog) error {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weekly_report_logs (project_id, date, content, timestamp)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, date) DO UPDATE SET
			content = excluded.content,
			timestamp = excluded.timestamp`,
		report.ProjectID, report.Date.String(), report.Content, formatTime(report.Timestamp))
	return err
}

func (s *SQLiteStore) Budgets(ctx context.Context, projectID int64) ([]types.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, policy, monthly_limit, total_amount, effective_at, timestamp
		 FROM budgets WHERE project_id = ? ORDER BY effective_at ASC, timestamp ASC`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []types.Budget
	for rows.Next() {
		var (
			budget                types.Budget
			policy, effStr, tsStr string
		)
		if err := rows.Scan(&budget.ID, &budget.ProjectID, &policy,
			&budget.MonthlyLimit, &budget.TotalAmount, &effStr, &tsStr); err != nil {
			return nil, err
		}
		budget.Policy = types.BudgetPolicy(policy)
		if budget.EffectiveAt, err = types.ParseDate(effStr); err != nil {
			return nil, err
		}
		budget.CreatedAt, _ = time.Parse(time.RFC3339, tsStr)
		budgets = append(budgets, budget)
	}
	return budgets, rows.Err()
}

func (s *SQLiteStore) AddBudget(ctx context.Context, budget *types.Budget) error {
	if err := budget.Validate(); err != nil {
		return err
	}
	if budget.CreatedAt.IsZero() {
		budget.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (project_id, policy, monthly_limit, total_amount, effective_at, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		budget.ProjectID, string(budget.Policy), budget.MonthlyLimit,
		budget.TotalAmount, budget.EffectiveAt.String(), formatTime(budget.CreatedAt))
	if err != nil {
		return err
	}
	if id, err := result.LastInsertId(); err == nil {
		budget.ID = id
	}
	return nil
}

func (s *SQLiteStore) InstanceMappings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_type, customer_facing_name FROM instance_mappings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make(map[string]string)
	for rows.Next() {
		var instanceType, name string
		if err := rows.Scan(&instanceType, &name); err != nil {
			return nil, err
		}
		mappings[instanceType] = name
	}
	return mappings, rows.Err()
}

func (s *SQLiteStore) SaveInstanceMapping(ctx context.Context, mapping *types.InstanceMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_mappings (instance_type, customer_facing_name)
		 VALUES (?, ?)
		 ON CONFLICT(instance_type) DO UPDATE SET
			customer_facing_name = excluded.customer_facing_name`,
		mapping.InstanceType, mapping.CustomerFacingName)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format(time.RFC3339)
}
