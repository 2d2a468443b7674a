// Package store - in-memory backend
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud-cost/core/types"
)

// MemoryStore is an in-memory Store used by tests and dry runs. It applies
// the same natural-key upsert semantics as the SQLite backend.
type MemoryStore struct {
	mu sync.RWMutex

	nextID    int64
	projects  map[string]*types.Project
	costLogs  map[costKey]*types.CostLog
	usageLogs map[usageKey]*types.UsageLog
	instances map[int64]map[string][]types.InstanceLog
	reports   map[reportKey]*types.WeeklyReportLog
	budgets   map[int64][]types.Budget
	mappings  map[string]string
}

type costKey struct {
	projectID int64
	date      string
	scope     types.Scope
}

type usageKey struct {
	projectID   int64
	start, end  string
	description string
	scope       types.Scope
	unit        string
}

type reportKey struct {
	projectID int64
	date      string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*types.Project),
		costLogs:  make(map[costKey]*types.CostLog),
		usageLogs: make(map[usageKey]*types.UsageLog),
		instances: make(map[int64]map[string][]types.InstanceLog),
		reports:   make(map[reportKey]*types.WeeklyReportLog),
		budgets:   make(map[int64][]types.Budget),
		mappings:  make(map[string]string),
	}
}

func (s *MemoryStore) allocateID() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) AllProjects(ctx context.Context) ([]*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]*types.Project, 0, len(s.projects))
	for _, project := range s.projects {
		copied := *project
		projects = append(projects, &copied)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

func (s *MemoryStore) ProjectByName(ctx context.Context, name string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[name]
	if !ok {
		return nil, nil
	}
	copied := *project
	return &copied, nil
}

func (s *MemoryStore) SaveProject(ctx context.Context, project *types.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.projects[project.Name]; ok {
		project.ID = existing.ID
	} else if project.ID == 0 {
		project.ID = s.allocateID()
	}
	copied := *project
	s.projects[project.Name] = &copied
	return nil
}

func (s *MemoryStore) CostLog(ctx context.Context, projectID int64, date types.Date, scope types.Scope) (*types.CostLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.costLogs[costKey{projectID, date.String(), scope}]
	if !ok {
		return nil, nil
	}
	copied := *log
	return &copied, nil
}

func (s *MemoryStore) SaveCostLog(ctx context.Context, log *types.CostLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := costKey{log.ProjectID, log.Date.String(), log.Scope}
	if existing, ok := s.costLogs[key]; ok {
		log.ID = existing.ID
	} else if log.ID == 0 {
		log.ID = s.allocateID()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	copied := *log
	s.costLogs[key] = &copied
	return nil
}

func (s *MemoryStore) UsageLog(ctx context.Context, projectID int64, start, end types.Date, description string, scope types.Scope, unit string) (*types.UsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.usageLogs[usageKey{projectID, start.String(), end.String(), description, scope, unit}]
	if !ok {
		return nil, nil
	}
	copied := *log
	return &copied, nil
}

func (s *MemoryStore) UsageLogs(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date) ([]types.UsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []types.UsageLog
	for _, log := range s.usageLogs {
		if log.ProjectID != projectID || log.Scope != scope || log.Unit != unit {
			continue
		}
		if log.StartDate.Before(start) || !log.StartDate.Before(end) {
			continue
		}
		logs = append(logs, *log)
	}
	sort.Slice(logs, func(i, j int) bool {
		if !logs[i].StartDate.Equal(logs[j].StartDate) {
			return logs[i].StartDate.Before(logs[j].StartDate)
		}
		return logs[i].Description < logs[j].Description
	})
	return logs, nil
}

func (s *MemoryStore) SaveUsageLog(ctx context.Context, log *types.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{log.ProjectID, log.StartDate.String(), log.EndDate.String(),
		log.Description, log.Scope, log.Unit}
	if existing, ok := s.usageLogs[key]; ok {
		log.ID = existing.ID
	} else if log.ID == 0 {
		log.ID = s.allocateID()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	copied := *log
	s.usageLogs[key] = &copied
	return nil
}

func (s *MemoryStore) DeleteUsageLogs(ctx context.Context, projectID int64, scope types.Scope, unit string, start, end types.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, log := range s.usageLogs {
		if log.ProjectID != projectID || log.Scope != scope || log.Unit != unit {
			continue
		}
		if log.StartDate.Before(start) || !log.StartDate.Before(end) {
			continue
		}
		delete(s.usageLogs, key)
	}
	return nil
}

func (s *MemoryStore) InstanceLogsOn(ctx context.Context, projectID int64, date types.Date) ([]types.InstanceLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := append([]types.InstanceLog(nil), s.instances[projectID][date.String()]...)
	sort.Slice(logs, func(i, j int) bool { return logs[i].Name < logs[j].Name })
	return logs, nil
}

func (s *MemoryStore) SaveInstanceLogs(ctx context.Context, logs []types.InstanceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range logs {
		if logs[i].Timestamp.IsZero() {
			logs[i].Timestamp = time.Now()
		}
		if logs[i].ID == 0 {
			logs[i].ID = s.allocateID()
		}
		day := types.DateOf(logs[i].Timestamp).String()
		perDay, ok := s.instances[logs[i].ProjectID]
		if !ok {
			perDay = make(map[string][]types.InstanceLog)
			s.instances[logs[i].ProjectID] = perDay
		}
		perDay[day] = append(perDay[day], logs[i])
	}
	return nil
}

func (s *MemoryStore) DeleteInstanceLogsOn(ctx context.Context, projectID int64, date types.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if perDay, ok := s.instances[projectID]; ok {
		delete(perDay, date.String())
	}
	return nil
}

func (s *MemoryStore) ComputeNamesInMonth(ctx context.Context, projectID int64, month types.Date) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first := month.FirstOfMonth()
	next := first.FirstOfNextMonth()
	seen := make(map[string]bool)
	for dayStr, logs := range s.instances[projectID] {
		day, err := types.ParseDate(dayStr)
		if err != nil {
			continue
		}
		if day.Before(first) || !day.Before(next) {
			continue
		}
		for _, log := range logs {
			if log.Compute {
				seen[log.Name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) ComputeGroups(ctx context.Context, projectID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, logs := range s.instances[projectID] {
		for _, log := range logs {
			if log.ComputeGroup != "" {
				seen[log.ComputeGroup] = true
			}
		}
	}
	groups := make([]string, 0, len(seen))
	for group := range seen {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups, nil
}

func (s *MemoryStore) WeeklyReport(ctx context.Context, projectID int64, date types.Date) (*types.WeeklyReportLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[reportKey{projectID, date.String()}]
	if !ok {
		return nil, nil
	}
	copied := *report
	return &copied, nil
}

func (s *MemoryStore) SaveWeeklyReport(ctx context.Context, report *types.WeeklyReportLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reportKey{report.ProjectID, report.Date.String()}
	if existing, ok := s.reports[key]; ok {
		report.ID = existing.ID
	} else if report.ID == 0 {
		report.ID = s.allocateID()
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	copied := *report
	s.reports[key] = &copied
	return nil
}

func (s *MemoryStore) Budgets(ctx context.Context, projectID int64) ([]types.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	budgets := append([]types.Budget(nil), s.budgets[projectID]...)
	sort.SliceStable(budgets, func(i, j int) bool {
		if !budgets[i].EffectiveAt.Equal(budgets[j].EffectiveAt) {
			return budgets[i].EffectiveAt.Before(budgets[j].EffectiveAt)
		}
		return budgets[i].CreatedAt.Before(budgets[j].CreatedAt)
	})
	return budgets, nil
}

func (s *MemoryStore) AddBudget(ctx context.Context, budget *types.Budget) error {
	if err := budget.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if budget.ID == 0 {
		budget.ID = s.allocateID()
	}
	if budget.CreatedAt.IsZero() {
		budget.CreatedAt = time.Now()
	}
	s.budgets[budget.ProjectID] = append(s.budgets[budget.ProjectID], *budget)
	return nil
}

func (s *MemoryStore) InstanceMappings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mappings := make(map[string]string, len(s.mappings))
	for instanceType, name := range s.mappings {
		mappings[instanceType] = name
	}
	return mappings, nil
}

func (s *MemoryStore) SaveInstanceMapping(ctx context.Context, mapping *types.InstanceMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mapping.ID == 0 {
		mapping.ID = s.allocateID()
	}
	s.mappings[mapping.InstanceType] = mapping.CustomerFacingName
	return nil
}

// Close is a no-op for the in-memory backend
func (s *MemoryStore) Close() error {
	return nil
}
